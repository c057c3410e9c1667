package collections

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// CriticalSection serializes compound operations that touch several state
// keys. key identifies the collection being mutated.
type CriticalSection interface {
	Lock(key string)
	Unlock(key string)
}

// KeyedLock holds one mutex per collection, so unrelated collections do not
// wait on each other. A mutex lives only while someone holds or waits for it.
type KeyedLock struct {
	mutexes *xsync.MapOf[string, *refMutex]
}

// refMutex counts holders and waiters. refs is only touched inside
// MapOf.Compute, which serializes callers per key.
type refMutex struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedLock creates an empty keyed lock.
func NewKeyedLock() *KeyedLock {
	return &KeyedLock{mutexes: xsync.NewMapOf[string, *refMutex]()}
}

// Lock acquires the mutex for key, creating it on first use.
func (l *KeyedLock) Lock(key string) {
	m, _ := l.mutexes.Compute(key, func(m *refMutex, loaded bool) (*refMutex, bool) {
		if !loaded {
			m = &refMutex{}
		}
		m.refs++
		return m, false
	})
	m.mu.Lock()
}

// Unlock releases the mutex for key and forgets it once nobody else holds
// or waits for it.
func (l *KeyedLock) Unlock(key string) {
	l.mutexes.Compute(key, func(m *refMutex, loaded bool) (*refMutex, bool) {
		if !loaded {
			return m, true
		}
		m.mu.Unlock()
		m.refs--
		return m, m.refs == 0
	})
}

// Len returns the number of keys currently locked or waited on.
func (l *KeyedLock) Len() int {
	return l.mutexes.Size()
}

// GlobalLock ignores the key and serializes every collection operation that
// uses it.
type GlobalLock struct {
	mu sync.Mutex
}

func (l *GlobalLock) Lock(string)   { l.mu.Lock() }
func (l *GlobalLock) Unlock(string) { l.mu.Unlock() }

var (
	defaultKeyed  = NewKeyedLock()
	processGlobal = &GlobalLock{}
)

// Keyed returns the process-wide keyed lock used when no critical section is
// configured.
func Keyed() CriticalSection {
	return defaultKeyed
}

// Global returns the process-wide single lock.
func Global() CriticalSection {
	return processGlobal
}

// ByName maps a configuration value ("keyed" or "global") to a critical
// section. Unknown names fall back to Keyed.
func ByName(name string) CriticalSection {
	if name == "global" {
		return Global()
	}
	return Keyed()
}
