package common

import "oasis/crypto/kdf"

// Client to relay.

// JoinRequest asks to enter the room behind a routing hint. The hint is
// derived from the room code but is not the code.
type JoinRequest struct {
	Room string `json:"room"`
}

// AnswerReply carries the joiner's possession proof.
type AnswerReply struct {
	Answer []byte `json:"answer"`
}

// ChatEnvelope is a sealed ChatMessage.
type ChatEnvelope struct {
	IV   []byte `json:"iv"`
	Data []byte `json:"data"`
}

// ChallengeIssue is sent by the room authority; the relay forwards the
// embedded AnswerRequest to Peer.
type ChallengeIssue struct {
	Peer string `json:"peer"`
	AnswerRequest
}

// ConfirmationReply is the authority's verdict on Peer.
type ConfirmationReply struct {
	Peer string `json:"peer"`
	OK   bool   `json:"ok"`
}

// LeaveRequest announces a graceful disconnect.
type LeaveRequest struct{}

// Relay to client.

// JoinReply ends the join attempt. Authority is set for the peer that
// created the room.
type JoinReply struct {
	OK        bool   `json:"ok"`
	Authority bool   `json:"authority,omitempty"`
	Peer      string `json:"peer,omitempty"`
}

// AnswerRequest carries a fresh challenge plus the public salt and KDF
// parameters the joiner needs to reproduce the room key.
type AnswerRequest struct {
	Challenge []byte     `json:"challenge"`
	Salt      []byte     `json:"salt"`
	KDF       kdf.Params `json:"kdf"`
}

// PendingNotice tells the authority that Peer wants to join Room.
type PendingNotice struct {
	Peer string `json:"peer"`
	Room string `json:"room"`
}

// ConfirmationRequest asks the authority to check Answer against the
// Challenge it issued to Peer.
type ConfirmationRequest struct {
	Peer      string `json:"peer"`
	Challenge []byte `json:"challenge"`
	Answer    []byte `json:"answer"`
}

// ChatBroadcast is a ChatEnvelope fanned out from Peer.
type ChatBroadcast struct {
	Peer string `json:"peer"`
	IV   []byte `json:"iv"`
	Data []byte `json:"data"`
}

// LeaveNotice reports that Peer disconnected.
type LeaveNotice struct {
	Peer string `json:"peer"`
}

// PromoteNotice makes the receiver the room authority.
type PromoteNotice struct{}

func (JoinRequest) MessageType() string       { return TypeJoin }
func (AnswerReply) MessageType() string       { return TypeAnswer }
func (ChatEnvelope) MessageType() string      { return TypeChat }
func (ChallengeIssue) MessageType() string    { return TypeChallenge }
func (ConfirmationReply) MessageType() string { return TypeConfirmation }
func (LeaveRequest) MessageType() string      { return TypeLeave }

func (JoinReply) MessageType() string           { return TypeJoin }
func (AnswerRequest) MessageType() string       { return TypeAnswer }
func (PendingNotice) MessageType() string       { return TypePending }
func (ConfirmationRequest) MessageType() string { return TypeConfirmation }
func (ChatBroadcast) MessageType() string       { return TypeChat }
func (LeaveNotice) MessageType() string         { return TypeLeave }
func (PromoteNotice) MessageType() string       { return TypePromote }

var clientMessages = registry{
	TypeJoin:         func() Message { return &JoinRequest{} },
	TypeAnswer:       func() Message { return &AnswerReply{} },
	TypeChat:         func() Message { return &ChatEnvelope{} },
	TypeChallenge:    func() Message { return &ChallengeIssue{} },
	TypeConfirmation: func() Message { return &ConfirmationReply{} },
	TypeLeave:        func() Message { return &LeaveRequest{} },
}

var serverMessages = registry{
	TypeJoin:         func() Message { return &JoinReply{} },
	TypeAnswer:       func() Message { return &AnswerRequest{} },
	TypePending:      func() Message { return &PendingNotice{} },
	TypeConfirmation: func() Message { return &ConfirmationRequest{} },
	TypeChat:         func() Message { return &ChatBroadcast{} },
	TypeLeave:        func() Message { return &LeaveNotice{} },
	TypePromote:      func() Message { return &PromoteNotice{} },
}

// DecodeClientMessage decodes a frame sent by a client to the relay. The
// result is always a pointer to one of the client message types.
func DecodeClientMessage(raw []byte) (Message, error) {
	return clientMessages.decode(raw)
}

// DecodeServerMessage decodes a frame sent by the relay to a client.
func DecodeServerMessage(raw []byte) (Message, error) {
	return serverMessages.decode(raw)
}
