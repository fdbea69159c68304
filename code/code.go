// Package code generates and parses room codes of the form xxx-xxx-xxx.
package code

import (
	"encoding/hex"
	"fmt"
	"io"

	"oasis/crypto"
	"oasis/crypto/kdf"
	"oasis/crypto/sha256"
)

const (
	Size = 11

	// HintSize is the length of a routing hint in hex characters.
	HintSize = 32

	randomSize = 9
	alphabet   = 'z' - 'a' + 1
	separator  = '-'
)

// HintSalt is the fixed public salt of the routing hint derivation.
var HintSalt = sha256.Hash([]byte("oasis/room/v1"))

// HintParams is the cost of deriving a hint. Every guess at a code costs the
// relay one such derivation, the same as a guess at the room key.
var HintParams = kdf.DefaultParams

type Code [Size]byte

func (c Code) String() string {
	return string(c.Bytes())
}

func (c Code) Bytes() []byte {
	return c[:]
}

// Hint is what the relay sees instead of the code: the first 16 bytes of
// the code stretched with HintParams under HintSalt, hex encoded. It is as
// slow as the room key derivation, so callers should compute it once.
func (c Code) Hint() string {
	sum, err := kdf.DeriveWithSalt(c.String(), HintSalt, HintParams)
	if err != nil {
		// HintSalt and HintParams are fixed and valid.
		panic(err)
	}
	defer crypto.Wipe(sum)
	return hex.EncodeToString(sum[:HintSize/2])
}

func isSeparator(i int) bool {
	return i == 3 || i == 7
}

// Generate draws exactly 9 bytes from r and maps each to a lowercase letter.
// An error means the random source is broken.
func Generate(r io.Reader) (Code, error) {
	var c Code
	b, err := crypto.RandomBytes(r, randomSize)
	if err != nil {
		return c, fmt.Errorf("error generating room code: %w", err)
	}
	for i, j := 0, 0; i < Size; i++ {
		if isSeparator(i) {
			c[i] = separator
		} else {
			c[i] = 'a' + b[j]%alphabet
			j++
		}
	}
	crypto.Wipe(b)
	return c, nil
}

// MustGenerate is Generate with the default source. It panics if the system
// random source is unavailable.
func MustGenerate() Code {
	c, err := Generate(nil)
	if err != nil {
		panic(err)
	}
	return c
}

func Parse(s string) (Code, bool) {
	var c Code
	if len(s) != Size {
		return c, false
	}
	copy(c[:], s)
	return c, IsValid(c)
}

func IsValid(c Code) bool {
	for i := 0; i < Size; i++ {
		if isSeparator(i) {
			if c[i] != separator {
				return false
			}
		} else if c[i] < 'a' || c[i] > 'z' {
			return false
		}
	}
	return true
}

// IsValidHint reports whether s has the shape produced by Code.Hint.
func IsValidHint(s string) bool {
	if len(s) != HintSize {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !('0' <= s[i] && s[i] <= '9' || 'a' <= s[i] && s[i] <= 'f') {
			return false
		}
	}
	return true
}
