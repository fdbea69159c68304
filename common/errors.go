package common

import (
	"errors"

	"oasis/crypto/aes256"
)

var (
	// ErrDecode marks a malformed frame or base64 field. The frame is
	// dropped; the connection may continue.
	ErrDecode = errors.New("decode failure")
	// ErrAuthentication marks an envelope whose tag did not verify.
	ErrAuthentication = aes256.ErrAuthentication
	// ErrProtocolViolation marks a frame in the wrong phase or with an
	// unknown tag. The session is terminated.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrHandshakeRejected means the joiner's answer did not match.
	ErrHandshakeRejected = errors.New("handshake rejected")
	// ErrRoomLocked means the room saw too many failed handshakes.
	ErrRoomLocked = errors.New("room locked")
)
