package hkdf

import (
	"io"

	"oasis/crypto"

	"golang.org/x/crypto/hkdf"
)

// NewKeyFromSecret derives a length-byte key from secret using HKDF-SHA256,
// bound to the given info label.
func NewKeyFromSecret(secret, info []byte, length int) ([]byte, error) {
	hkdfReader := hkdf.New(crypto.DefaultHashFunc, secret, nil, info)

	key := make([]byte, length)
	if _, err := io.ReadFull(hkdfReader, key); err != nil {
		return nil, err
	}
	return key, nil
}
