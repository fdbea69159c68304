package handshake

import (
	"oasis/crypto"
	"oasis/crypto/hkdf"
	"oasis/crypto/hmac"
)

var (
	proofKeyInfo = []byte("oasis/proof-key/v1")
	proofLabel   = []byte("oasis/proof/v1")
)

// Proof answers a challenge with
// HMAC-SHA256(HKDF(key, "oasis/proof-key/v1"), "oasis/proof/v1" || challenge).
// The room key itself is never used as a MAC key.
func Proof(key, challenge []byte) []byte {
	proofKey, err := hkdf.NewKeyFromSecret(key, proofKeyInfo, crypto.HMACSHA256Size)
	if err != nil {
		// HKDF-SHA256 only fails above 255 blocks of output.
		panic(err)
	}
	defer crypto.Wipe(proofKey)

	data := make([]byte, 0, len(proofLabel)+len(challenge))
	data = append(data, proofLabel...)
	data = append(data, challenge...)
	return hmac.Hash(crypto.DefaultHashFunc, proofKey, data)
}

// VerifyProof recomputes the proof and compares it in constant time.
func VerifyProof(key, challenge, answer []byte) bool {
	return hmac.Equal(Proof(key, challenge), answer)
}
