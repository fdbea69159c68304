package kdf

import (
	"crypto/sha256"
	"fmt"
	"io"

	"oasis/crypto"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// Material is the output of the first derivation for a room. Key never
// leaves the process; Salt and Params are public.
type Material struct {
	Key    []byte
	Salt   []byte
	Params Params
}

// Derive draws a fresh salt from r and derives the room key from secret.
// Only the room authority calls this; everybody else uses DeriveWithSalt.
func Derive(secret string, p *Params, r io.Reader) (*Material, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	salt, err := crypto.RandomBytes(r, int(p.SaltLength))
	if err != nil {
		return nil, fmt.Errorf("error generating salt: %w", err)
	}
	key, err := DeriveWithSalt(secret, salt, p)
	if err != nil {
		return nil, err
	}
	return &Material{Key: key, Salt: salt, Params: *p}, nil
}

// DeriveWithSalt is deterministic: the same secret, salt and params always
// give the same key.
func DeriveWithSalt(secret string, salt []byte, p *Params) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if len(salt) != int(p.SaltLength) {
		return nil, fmt.Errorf("%w: salt is %d bytes, params say %d", ErrInvalidParams, len(salt), p.SaltLength)
	}
	password := []byte(secret)
	defer crypto.Wipe(password)

	switch p.Algorithm {
	case Argon2id:
		return argon2.IDKey(password, salt, p.Iterations, p.Memory, p.Threads, p.KeyLength), nil
	default:
		return pbkdf2.Key(password, salt, int(p.Iterations), int(p.KeyLength), sha256.New), nil
	}
}

// Wipe zeroes the key. The material must not be used afterwards.
func (m *Material) Wipe() {
	if m == nil {
		return
	}
	crypto.Wipe(m.Key)
}
