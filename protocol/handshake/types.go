package handshake

import "fmt"

// ChallengeSize is the number of random bytes in a challenge.
const ChallengeSize = 32

// Phase is the position of one join attempt in the handshake.
//
// PhaseChallengeIssued is transient: issuing a challenge and moving to
// PhaseAwaitingAnswer happen in one call on either side, so neither a
// Session nor a Joiner is ever observed in it. An Authority session opens
// in PhaseAwaitingAnswer.
type Phase int

const (
	PhaseAwaitingJoin Phase = iota
	PhaseChallengeIssued
	PhaseAwaitingAnswer
	PhaseConfirmed
	PhaseActive
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingJoin:
		return "awaiting-join"
	case PhaseChallengeIssued:
		return "challenge-issued"
	case PhaseAwaitingAnswer:
		return "awaiting-answer"
	case PhaseConfirmed:
		return "confirmed"
	case PhaseActive:
		return "active"
	case PhaseClosed:
		return "closed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Session is the authority's record of one joining peer.
type Session struct {
	Peer      string
	Phase     Phase
	Challenge []byte
}
