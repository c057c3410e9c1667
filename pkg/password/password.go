// Package password hashes and checks the passwords of NATS users.
package password

import (
	"errors"
	"fmt"

	passwordvalidator "github.com/wagslane/go-password-validator"
	"golang.org/x/crypto/bcrypt"
)

const (
	MinCost     = bcrypt.MinCost
	MaxCost     = bcrypt.MaxCost
	DefaultCost = 11
	// MinEntropy is the strength in bits a password needs to pass Validate.
	MinEntropy = 60
	// MaxLength is bcrypt's input limit.
	MaxLength = 72
)

var (
	ErrEmpty    = errors.New("password cannot be empty")
	ErrTooLong  = fmt.Errorf("password longer than %d bytes", MaxLength)
	ErrTooWeak  = errors.New("password too weak")
	ErrBadCost  = fmt.Errorf("bcrypt cost must be between %d and %d", MinCost, MaxCost)
	ErrMismatch = errors.New("password does not match")
)

// Validate checks length and entropy.
func Validate(password string) error {
	if err := checkLength(password); err != nil {
		return err
	}
	if err := passwordvalidator.Validate(password, MinEntropy); err != nil {
		return fmt.Errorf("%w: %v", ErrTooWeak, err)
	}
	return nil
}

// Hash returns the bcrypt hash of password in the form the NATS server
// accepts for user passwords. cost 0 means DefaultCost.
func Hash(password string, cost int) (string, error) {
	if err := checkLength(password); err != nil {
		return "", err
	}
	if cost == 0 {
		cost = DefaultCost
	}
	if cost < MinCost || cost > MaxCost {
		return "", ErrBadCost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Compare checks password against a hash produced by Hash.
func Compare(hashed, password string) error {
	if hashed == "" || password == "" {
		return ErrEmpty
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(password)); err != nil {
		return ErrMismatch
	}
	return nil
}

func checkLength(password string) error {
	switch {
	case password == "":
		return ErrEmpty
	case len(password) > MaxLength:
		return ErrTooLong
	}
	return nil
}
