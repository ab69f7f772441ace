package auth

import "golang.org/x/crypto/bcrypt"

// PasswordHasher is the adaptive hash primitive used for stored passwords.
type PasswordHasher interface {
	Hash(plain string) (string, error)
	Verify(plain, hash string) bool
}

// BcryptHasher hashes with bcrypt. A zero Cost means bcrypt.DefaultCost.
type BcryptHasher struct {
	Cost int
}

func (h BcryptHasher) Hash(plain string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func (h BcryptHasher) Verify(plain, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
