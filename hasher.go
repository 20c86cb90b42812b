package intake

import (
	"strings"
	"sync"
)

const (
	PasswordAlgorithmBcrypt = "bcrypt"
	PasswordAlgorithmArgon2 = "argon2id"
)

// PasswordHasher hashes and verifies passwords. Verify never errors:
// any failure, including a malformed stored hash, is a mismatch.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) bool
}

type algorithm interface {
	PasswordHasher
	owns(hash string) bool
}

// MultiHasher hashes with its primary algorithm and verifies against
// whichever known algorithm produced the stored hash, so switching the
// configured algorithm keeps existing accounts working.
type MultiHasher struct {
	primary    algorithm
	algorithms []algorithm

	dummyOnce sync.Once
	dummy     string
}

// NewPasswordHasher builds a MultiHasher for the named algorithm
func NewPasswordHasher(name string, bcryptCost int) *MultiHasher {
	bc := NewBcryptHasher(bcryptCost)
	ar := NewArgon2Hasher(DefaultArgon2Params)

	primary := algorithm(bc)
	if strings.EqualFold(name, PasswordAlgorithmArgon2) {
		primary = ar
	}

	return &MultiHasher{
		primary:    primary,
		algorithms: []algorithm{bc, ar},
	}
}

func (m *MultiHasher) Hash(password string) (string, error) {
	return m.primary.Hash(password)
}

// Verify spends roughly the same time whether or not the hash is usable
func (m *MultiHasher) Verify(password, hash string) bool {
	for _, alg := range m.algorithms {
		if alg.owns(hash) {
			return alg.Verify(password, hash)
		}
	}
	m.burn(password)
	return false
}

// Burn runs a full verification against a fixed hash. Used to keep
// lookups for unknown accounts as slow as real password checks.
func (m *MultiHasher) Burn(password string) {
	m.burn(password)
}

func (m *MultiHasher) burn(password string) {
	m.dummyOnce.Do(func() {
		h, err := m.primary.Hash("intake-timing-equalizer")
		if err == nil {
			m.dummy = h
		}
	})
	if m.dummy != "" {
		_ = m.primary.Verify(password, m.dummy)
	}
}
