package common

// ChatJoin, ChatNew and ChatLeave are the room events. Their encoded
// frames are the plaintext of a ChatEnvelope, so the relay never sees them.
type ChatJoin struct {
	User string `json:"user"`
}

type ChatNew struct {
	User    string `json:"user"`
	Message string `json:"message"`
}

type ChatLeave struct {
	User string `json:"user"`
}

func (ChatJoin) MessageType() string  { return TypeJoin }
func (ChatNew) MessageType() string   { return TypeMessage }
func (ChatLeave) MessageType() string { return TypeLeave }

var chatMessages = registry{
	TypeJoin:    func() Message { return &ChatJoin{} },
	TypeMessage: func() Message { return &ChatNew{} },
	TypeLeave:   func() Message { return &ChatLeave{} },
}

// DecodeChatMessage decodes an opened envelope.
func DecodeChatMessage(raw []byte) (Message, error) {
	return chatMessages.decode(raw)
}
