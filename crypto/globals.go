package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
)

var (
	DefaultHashFunc = sha256.New

	// DefaultRandom is the secure random source used when a constructor is
	// handed a nil reader.
	DefaultRandom io.Reader = rand.Reader
)

const (
	HMACSHA256Size = 32
)

// RandomBytes reads n fresh bytes from r, falling back to DefaultRandom.
func RandomBytes(r io.Reader, n int) ([]byte, error) {
	if r == nil {
		r = DefaultRandom
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("reading %d random bytes: %w", n, err)
	}
	return b, nil
}
