package auth

import (
	"crypto/sha256"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"github.com/nkiryanov/homestay/internal/apperrors"
)

// BcryptHasher hashes sha256 digest of the password with bcrypt,
// so passwords longer than 72 bytes are not silently truncated.
// Zero Cost means bcrypt.DefaultCost.
type BcryptHasher struct {
	Cost int
}

func (h BcryptHasher) cost() int {
	if h.Cost == 0 {
		return bcrypt.DefaultCost
	}
	return h.Cost
}

func (h BcryptHasher) Hash(password string) (string, error) {
	sum := sha256.Sum256([]byte(password))
	hash, err := bcrypt.GenerateFromPassword(sum[:], h.cost())
	return string(hash), err
}

// Compare returns apperrors.ErrInvalidCredentials if password does not match the hash
func (h BcryptHasher) Compare(hashedPassword string, password string) error {
	sum := sha256.Sum256([]byte(password))

	err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), sum[:])
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return apperrors.ErrInvalidCredentials
	}
	return err
}
