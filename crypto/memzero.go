package crypto

import (
	"crypto/subtle"
	"runtime"
)

// Wipe zeroes b. Best effort: the runtime may already hold copies.
//
//go:noinline
func Wipe(b []byte) {
	if len(b) == 0 {
		return
	}
	zero := make([]byte, len(b))
	subtle.ConstantTimeCopy(1, b, zero)
	runtime.KeepAlive(&b)
}
