// Package actor hosts addressable stateful entities. Every call into an
// entity runs as a turn: calls on the same address never overlap, calls on
// different addresses run independently. Entities keep their state in a
// statestore scoped to their address and can register durable reminders
// that survive process restarts.
package actor

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidAddress is returned for addresses missing a service or id.
	ErrInvalidAddress = errors.New("invalid actor address")

	// ErrUnknownService is returned when no factory is registered for a service.
	ErrUnknownService = errors.New("unknown actor service")

	// ErrWrongType is returned by Call when the entity is not of the requested type.
	ErrWrongType = errors.New("actor has unexpected type")

	// ErrHostClosed is returned by calls on a closed host.
	ErrHostClosed = errors.New("actor host closed")
)

// Address identifies one entity: the service that hosts it and its id
// within that service.
type Address struct {
	Service string `json:"service"`
	ID      string `json:"id"`
}

// NewAddress is shorthand for Address{Service: service, ID: id}.
func NewAddress(service, id string) Address {
	return Address{Service: service, ID: id}
}

// ParseAddress parses the "service/id" form produced by String. The id may
// itself contain slashes.
func ParseAddress(s string) (Address, error) {
	service, id, ok := strings.Cut(s, "/")
	a := Address{Service: service, ID: id}
	if !ok {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	if err := a.Validate(); err != nil {
		return Address{}, err
	}
	return a, nil
}

func (a Address) String() string {
	return a.Service + "/" + a.ID
}

// IsZero reports whether a is the zero address.
func (a Address) IsZero() bool {
	return a.Service == "" && a.ID == ""
}

// Validate checks that both parts are set and the service name is usable as
// a key segment.
func (a Address) Validate() error {
	if a.Service == "" || a.ID == "" {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, a.String())
	}
	if strings.Contains(a.Service, "/") {
		return fmt.Errorf("%w: service %q contains '/'", ErrInvalidAddress, a.Service)
	}
	return nil
}
