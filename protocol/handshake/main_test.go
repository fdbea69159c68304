package handshake

import (
	"os"
	"testing"

	"oasis/code"
	"oasis/crypto/kdf"
)

// Room hints are stretched at full KDF cost; these tests only need them to
// be well formed and distinct.
func TestMain(m *testing.M) {
	code.HintParams = &kdf.Params{
		Algorithm:  kdf.PBKDF2SHA256,
		Iterations: kdf.MinPBKDF2Iterations,
		SaltLength: kdf.MinSaltLength,
		KeyLength:  kdf.KeyLength,
	}
	os.Exit(m.Run())
}
