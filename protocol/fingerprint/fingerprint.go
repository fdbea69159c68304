package fingerprint

import (
	"crypto/sha512"
	"encoding/binary"
	"strconv"
	"strings"

	"oasis/crypto/hkdf"
)

const (
	Digits     = 30
	iterations = 5200
)

var fingerprintInfo = []byte("oasis/fingerprint/v1")

// Fingerprint computes a 30-digit safety number for a room, the way Signal
// renders safety numbers. Peers holding the same key for the same room see
// the same digits and can compare them out of band.
func Fingerprint(key []byte, room string) (*[Digits]int, error) {
	seed, err := hkdf.NewKeyFromSecret(key, fingerprintInfo, 32)
	if err != nil {
		return nil, err
	}
	digest := append(seed, room...)
	hash := sha512.New()
	for i := 0; i < iterations; i++ {
		_, err := hash.Write(digest)
		if err != nil {
			return nil, err
		}
		digest = hash.Sum(nil)
		hash.Reset()
	}

	var result [30]byte
	copy(result[:], digest[:30])

	var finalResult [Digits]int
	for i := 0; i < 6; i++ {
		chunk := result[i*5 : (i+1)*5]
		num := binary.BigEndian.Uint64(append([]byte{0, 0, 0}, chunk...)) % 100000
		for j := 4; j >= 0; j-- {
			finalResult[i*5+j] = int(num % 10)
			num /= 10
		}
	}

	return &finalResult, nil
}

// Format renders the digits in six groups of five.
func Format(fp *[Digits]int) string {
	var sb strings.Builder
	for i, d := range fp {
		if i > 0 && i%5 == 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(strconv.Itoa(d))
	}
	return sb.String()
}
