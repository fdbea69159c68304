package sha256

import "crypto/sha256"

func Hash(data ...[]byte) []byte {
	hash := sha256.New()
	for _, d := range data {
		hash.Write(d)
	}
	return hash.Sum(nil)
}
