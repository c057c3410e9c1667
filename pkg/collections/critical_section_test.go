package collections_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/plaenen/cartflow/pkg/collections"
	"github.com/stretchr/testify/assert"
)

func TestKeyedLock_ForgetsReleasedKeys(t *testing.T) {
	l := collections.NewKeyedLock()

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("executor/cart-%d/CommandQueue", i%20)
			l.Lock(key)
			l.Unlock(key)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, l.Len())
}

func TestKeyedLock_KeepsKeyWhileWaited(t *testing.T) {
	l := collections.NewKeyedLock()
	l.Lock("q")
	assert.Equal(t, 1, l.Len())

	acquired := make(chan struct{})
	go func() {
		l.Lock("q")
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock returned while the key was held")
	case <-time.After(20 * time.Millisecond):
	}

	l.Unlock("q")
	<-acquired
	assert.Equal(t, 1, l.Len(), "waiter still holds the key")

	l.Unlock("q")
	assert.Equal(t, 0, l.Len())
}

func TestKeyedLock_UnrelatedKeysDoNotBlock(t *testing.T) {
	l := collections.NewKeyedLock()
	l.Lock("a")
	defer l.Unlock("a")

	done := make(chan struct{})
	go func() {
		l.Lock("b")
		l.Unlock("b")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b waited for a")
	}
}
