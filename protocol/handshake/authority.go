// Package handshake implements the room-code possession proof.
//
// The room authority holds the derived key and runs one Session per joining
// peer: it issues a fresh challenge with the public salt and parameters,
// then checks the joiner's answer in constant time. The joiner derives the
// same key from the code and answers. Neither side ever sends the code or
// the key.
package handshake

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"oasis/code"
	"oasis/common"
	"oasis/crypto"
	"oasis/crypto/aes256"
	"oasis/crypto/kdf"
)

// Authority verifies joiners for one room. It is safe for concurrent use;
// sessions of different peers never interact.
type Authority struct {
	room     string
	material *kdf.Material
	rand     io.Reader

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewAuthority builds the authority for room from already derived material.
// A nil r uses the system random source.
func NewAuthority(room string, m *kdf.Material, r io.Reader) (*Authority, error) {
	if !code.IsValidHint(room) {
		return nil, fmt.Errorf("invalid room hint %q", room)
	}
	if m == nil || len(m.Key) != aes256.KeySize {
		return nil, fmt.Errorf("%w: room key must be %d bytes", kdf.ErrInvalidParams, aes256.KeySize)
	}
	if err := m.Params.Validate(); err != nil {
		return nil, err
	}
	if len(m.Salt) != int(m.Params.SaltLength) {
		return nil, fmt.Errorf("%w: salt is %d bytes", kdf.ErrInvalidParams, len(m.Salt))
	}
	if r == nil {
		r = crypto.DefaultRandom
	}
	return &Authority{
		room:     room,
		material: m,
		rand:     r,
		sessions: make(map[string]*Session),
	}, nil
}

func (a *Authority) Room() string {
	return a.room
}

// Join opens a session for peer and returns the challenge to forward to it.
// A second join for a peer that already has a session, in any phase, is a
// violation and drops the session.
func (a *Authority) Join(peer, room string) (*common.AnswerRequest, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.sessions[peer]; ok {
		delete(a.sessions, peer)
		return nil, fmt.Errorf("%w: duplicate join from %s", common.ErrProtocolViolation, peer)
	}
	if room != a.room {
		return nil, fmt.Errorf("%w: %s asked for room %q", common.ErrProtocolViolation, peer, room)
	}

	challenge, err := crypto.RandomBytes(a.rand, ChallengeSize)
	if err != nil {
		return nil, fmt.Errorf("error generating challenge: %w", err)
	}
	a.sessions[peer] = &Session{Peer: peer, Phase: PhaseAwaitingAnswer, Challenge: challenge}

	return &common.AnswerRequest{
		Challenge: bytes.Clone(challenge),
		Salt:      bytes.Clone(a.material.Salt),
		KDF:       a.material.Params,
	}, nil
}

// Confirm checks the answer peer gave to the challenge echoed by the relay.
// A wrong answer yields ok:false together with ErrHandshakeRejected; the
// caller must still send the reply.
func (a *Authority) Confirm(peer string, challenge, answer []byte) (*common.ConfirmationReply, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.sessions[peer]
	if !ok {
		return nil, fmt.Errorf("%w: no session for %s", common.ErrProtocolViolation, peer)
	}
	if s.Phase != PhaseAwaitingAnswer {
		delete(a.sessions, peer)
		return nil, fmt.Errorf("%w: answer from %s in phase %s", common.ErrProtocolViolation, peer, s.Phase)
	}
	if !bytes.Equal(s.Challenge, challenge) {
		delete(a.sessions, peer)
		return nil, fmt.Errorf("%w: challenge for %s does not match", common.ErrProtocolViolation, peer)
	}

	if !VerifyProof(a.material.Key, s.Challenge, answer) {
		delete(a.sessions, peer)
		return &common.ConfirmationReply{Peer: peer, OK: false}, common.ErrHandshakeRejected
	}
	s.Phase = PhaseConfirmed
	s.Challenge = nil
	return &common.ConfirmationReply{Peer: peer, OK: true}, nil
}

// Activate marks peer as admitted once ok:true has been sent.
func (a *Authority) Activate(peer string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.sessions[peer]
	if !ok || s.Phase != PhaseConfirmed {
		return fmt.Errorf("%w: cannot activate %s", common.ErrProtocolViolation, peer)
	}
	s.Phase = PhaseActive
	return nil
}

func (a *Authority) Leave(peer string) {
	a.mu.Lock()
	delete(a.sessions, peer)
	a.mu.Unlock()
}

// Phase reports the phase of peer's session. Peers without a session are
// reported as closed.
func (a *Authority) Phase(peer string) (Phase, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.sessions[peer]
	if !ok {
		return PhaseClosed, false
	}
	return s.Phase, true
}

func (a *Authority) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}
