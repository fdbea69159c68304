package aes256

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
	"io"

	"oasis/crypto"
)

const (
	KeySize = 32
	IVSize  = 12
	TagSize = 16
)

var (
	ErrInvalidKeyLength = errors.New("aes256: key must be 32 bytes")
	// ErrInvalidEnvelope is returned when the iv or ciphertext is not
	// well-formed. The frame should be dropped.
	ErrInvalidEnvelope = errors.New("aes256: malformed envelope")
	// ErrAuthentication is returned when the GCM tag does not verify. The
	// frame must be treated as tampered with.
	ErrAuthentication = errors.New("aes256: message authentication failed")
)

// Envelope is one sealed message. IV is never reused under the same key.
type Envelope struct {
	IV         []byte `json:"iv"`
	Ciphertext []byte `json:"data"`
}

// Cipher seals and opens envelopes with AES-256-GCM. There is no way to
// supply a nonce: every Seal draws a fresh one from the random source.
type Cipher struct {
	aead cipher.AEAD
	rand io.Reader
}

// New builds a Cipher for key. A nil r means crypto.DefaultRandom.
func New(key []byte, r io.Reader) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("error initializing AES: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("error initializing AES GCM: %w", err)
	}
	if r == nil {
		r = crypto.DefaultRandom
	}
	return &Cipher{aead: gcm, rand: r}, nil
}

// Seal encrypts plaintext under a fresh 96-bit iv.
func (c *Cipher) Seal(plaintext []byte) (*Envelope, error) {
	iv, err := crypto.RandomBytes(c.rand, IVSize)
	if err != nil {
		return nil, fmt.Errorf("error generating new nonce: %w", err)
	}
	return &Envelope{
		IV:         iv,
		Ciphertext: c.aead.Seal(nil, iv, plaintext, nil),
	}, nil
}

// Open authenticates and decrypts ciphertext. It has no side effects.
func (c *Cipher) Open(iv, ciphertext []byte) ([]byte, error) {
	if len(iv) != IVSize {
		return nil, fmt.Errorf("%w: iv is %d bytes", ErrInvalidEnvelope, len(iv))
	}
	if len(ciphertext) < TagSize {
		return nil, fmt.Errorf("%w: ciphertext shorter than tag", ErrInvalidEnvelope)
	}
	plaintext, err := c.aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}
