// Package idgen generates lexically sortable identifiers.
package idgen

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// NewSortableID returns a ULID for the current time. IDs generated within the
// same millisecond still sort in creation order.
func NewSortableID() (string, error) {
	return NewSortableIDAt(time.Now())
}

// NewSortableIDAt returns a ULID for t.
func NewSortableIDAt(t time.Time) (string, error) {
	mu.Lock()
	defer mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(t), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// MustGenerateSortableID is NewSortableID for callers that cannot recover
// from an entropy failure.
func MustGenerateSortableID() string {
	id, err := NewSortableID()
	if err != nil {
		panic(err)
	}
	return id
}

// Time extracts the timestamp embedded in a ULID string.
func Time(id string) (time.Time, error) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
