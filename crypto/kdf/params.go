package kdf

import (
	"errors"
	"fmt"
	"strings"
)

// Algorithm names a password-based key derivation function.
type Algorithm string

const (
	PBKDF2SHA256 Algorithm = "pbkdf2-sha256"
	Argon2id     Algorithm = "argon2id"
)

// Bounds applied to parameters. Joiners receive parameters from the room
// authority over the wire, so the upper bounds keep a hostile authority from
// pinning a joiner's CPU or memory.
const (
	MinSaltLength       = 32
	MaxSaltLength       = 64
	KeyLength           = 32
	MinPBKDF2Iterations = 10_000
	MaxPBKDF2Iterations = 10_000_000
	MaxArgon2Iterations = 16
	MaxArgon2Memory     = 1 << 20 // KiB
)

var ErrInvalidParams = errors.New("kdf: invalid parameters")

// Params is the public description of a derivation. It travels next to the
// salt so that every joiner reproduces the authority's key.
type Params struct {
	Algorithm  Algorithm `json:"algorithm"`
	Iterations uint32    `json:"iterations"`
	Memory     uint32    `json:"memory,omitempty"`
	Threads    uint8     `json:"threads,omitempty"`
	SaltLength uint32    `json:"saltLength"`
	KeyLength  uint32    `json:"keyLength"`
}

var (
	// DefaultParams follows the OWASP PBKDF2-HMAC-SHA256 work factor.
	DefaultParams = &Params{
		Algorithm:  PBKDF2SHA256,
		Iterations: 600_000,
		SaltLength: 32,
		KeyLength:  KeyLength,
	}
	Argon2idParams = &Params{
		Algorithm:  Argon2id,
		Iterations: 1,
		Memory:     64 * 1024,
		Threads:    4,
		SaltLength: 32,
		KeyLength:  KeyLength,
	}
)

// ParamsFor returns a copy of the default parameters for the named algorithm.
func ParamsFor(name string) (*Params, error) {
	var p Params
	switch Algorithm(strings.ToLower(name)) {
	case PBKDF2SHA256, "", "pbkdf2":
		p = *DefaultParams
	case Argon2id:
		p = *Argon2idParams
	default:
		return nil, fmt.Errorf("%w: unknown algorithm %q", ErrInvalidParams, name)
	}
	return &p, nil
}

func (p *Params) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: missing", ErrInvalidParams)
	}
	if p.SaltLength < MinSaltLength || p.SaltLength > MaxSaltLength {
		return fmt.Errorf("%w: salt length %d", ErrInvalidParams, p.SaltLength)
	}
	if p.KeyLength != KeyLength {
		return fmt.Errorf("%w: key length %d", ErrInvalidParams, p.KeyLength)
	}
	switch p.Algorithm {
	case PBKDF2SHA256:
		if p.Iterations < MinPBKDF2Iterations || p.Iterations > MaxPBKDF2Iterations {
			return fmt.Errorf("%w: %d pbkdf2 iterations", ErrInvalidParams, p.Iterations)
		}
	case Argon2id:
		if p.Iterations == 0 || p.Iterations > MaxArgon2Iterations {
			return fmt.Errorf("%w: %d argon2 passes", ErrInvalidParams, p.Iterations)
		}
		if p.Memory < 8*uint32(p.Threads) || p.Memory > MaxArgon2Memory {
			return fmt.Errorf("%w: %d KiB argon2 memory", ErrInvalidParams, p.Memory)
		}
		if p.Threads == 0 {
			return fmt.Errorf("%w: zero argon2 threads", ErrInvalidParams)
		}
	default:
		return fmt.Errorf("%w: unknown algorithm %q", ErrInvalidParams, p.Algorithm)
	}
	return nil
}
