package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrPasswordMismatch reports a password that does not match its hash.
var ErrPasswordMismatch = errors.New("password does not match")

// PasswordHasher hashes and checks user passwords with bcrypt.
type PasswordHasher struct {
	cost int
}

// NewPasswordHasher clamps cost into the range bcrypt accepts.
func NewPasswordHasher(cost int) PasswordHasher {
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return PasswordHasher{cost: cost}
}

func (h PasswordHasher) Hash(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Compare returns ErrPasswordMismatch when password does not produce hash.
func (h PasswordHasher) Compare(hash, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrPasswordMismatch
	}
	return err
}
