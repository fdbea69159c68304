package handshake

import (
	"bytes"
	"fmt"

	"oasis/code"
	"oasis/common"
	"oasis/crypto/kdf"
)

// Joiner is the client side of one join attempt. It is not safe for
// concurrent use; the connection's read loop drives it.
//
// The first peer of a room gets an authority reply straight after Start and
// never sees a challenge. It then derives fresh material itself.
type Joiner struct {
	code      code.Code
	started   bool
	phase     Phase
	creator   bool
	challenge []byte
	material  *kdf.Material
}

func NewJoiner(c code.Code) *Joiner {
	return &Joiner{code: c, phase: PhaseAwaitingJoin}
}

func (j *Joiner) Start() (*common.JoinRequest, error) {
	if j.started {
		return nil, j.fail("join already sent")
	}
	j.started = true
	return &common.JoinRequest{Room: j.code.Hint()}, nil
}

// HandleAnswerRequest derives the room key from the code and the public
// salt, then answers the challenge. The parameters come from the authority
// and are bounded before any work is done.
func (j *Joiner) HandleAnswerRequest(req *common.AnswerRequest) (*common.AnswerReply, error) {
	if !j.started || j.phase != PhaseAwaitingJoin {
		return nil, j.fail("unexpected challenge")
	}
	if len(req.Challenge) != ChallengeSize {
		return nil, j.fail(fmt.Sprintf("challenge is %d bytes", len(req.Challenge)))
	}
	if err := req.KDF.Validate(); err != nil {
		j.phase = PhaseClosed
		return nil, fmt.Errorf("%w: %w", common.ErrProtocolViolation, err)
	}

	key, err := kdf.DeriveWithSalt(j.code.String(), req.Salt, &req.KDF)
	if err != nil {
		j.phase = PhaseClosed
		return nil, fmt.Errorf("%w: %w", common.ErrProtocolViolation, err)
	}
	j.material = &kdf.Material{Key: key, Salt: bytes.Clone(req.Salt), Params: req.KDF}
	j.challenge = bytes.Clone(req.Challenge)
	j.phase = PhaseAwaitingAnswer
	return &common.AnswerReply{Answer: Proof(key, req.Challenge)}, nil
}

// HandleJoinReply ends the attempt. ok:false, which the relay also sends
// for a locked room or a departed authority, wipes any derived key and
// returns ErrHandshakeRejected.
func (j *Joiner) HandleJoinReply(rep *common.JoinReply) error {
	switch {
	case !j.started:
		return j.fail("reply before join")
	case j.phase == PhaseActive || j.phase == PhaseClosed:
		return j.fail("unexpected join reply")
	case !rep.OK:
		j.material.Wipe()
		j.material = nil
		j.phase = PhaseClosed
		return common.ErrHandshakeRejected
	case j.phase == PhaseAwaitingJoin && rep.Authority:
		j.creator = true
		j.phase = PhaseActive
		return nil
	case j.phase != PhaseAwaitingAnswer:
		return j.fail("unexpected join reply")
	}
	j.phase = PhaseActive
	return nil
}

func (j *Joiner) fail(reason string) error {
	if j.material != nil {
		j.material.Wipe()
		j.material = nil
	}
	j.phase = PhaseClosed
	return fmt.Errorf("%w: %s", common.ErrProtocolViolation, reason)
}

func (j *Joiner) Phase() Phase {
	return j.phase
}

// Creator reports whether the relay made this peer the room authority.
func (j *Joiner) Creator() bool {
	return j.creator
}

// Material returns the derived key material once the peer was admitted as
// a joiner. It is nil for the creator.
func (j *Joiner) Material() *kdf.Material {
	if j.phase != PhaseActive {
		return nil
	}
	return j.material
}

// Key is Material().Key, or nil.
func (j *Joiner) Key() []byte {
	if m := j.Material(); m != nil {
		return m.Key
	}
	return nil
}
