package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"oasis/code"
	"oasis/common"
	"oasis/configs"
	"oasis/crypto/aes256"
	"oasis/crypto/kdf"
	"oasis/protocol/fingerprint"
	"oasis/protocol/handshake"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Config describes one connection to a room.
type Config struct {
	// URL of the relay's websocket endpoint, e.g. ws://localhost:8080/ws.
	URL  string
	Code code.Code
	User string
	// Params are used only when this peer creates the room. Nil selects
	// configs.KDFAlgorithm.
	Params *kdf.Params
	Rand   io.Reader
	Dialer *websocket.Dialer
	Logger *logrus.Logger
}

type EventKind int

const (
	// EventJoin: a peer announced its user name.
	EventJoin EventKind = iota
	EventMessage
	// EventLeave: a peer said goodbye.
	EventLeave
	// EventPeerLeft: the relay reported a disconnect.
	EventPeerLeft
	EventPromoted
	// EventSecurity: an envelope failed authentication.
	EventSecurity
	EventClosed
)

type Event struct {
	Kind EventKind
	Peer string
	User string
	Text string
	Err  error
}

// Conn is an admitted member of a room. It runs the authority side of the
// handshake for later joiners whenever the relay makes it authority.
type Conn struct {
	ws     *websocket.Conn
	logger *logrus.Entry
	user   string
	rand   io.Reader

	id          string
	room        string
	material    *kdf.Material
	cipher      *aes256.Cipher
	fingerprint string

	writeMu sync.Mutex

	mu        sync.Mutex
	authority *handshake.Authority
	users     map[string]string

	authFailures int // read loop only

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
	readDone  chan struct{}
}

// Dial connects to the relay and runs the handshake. It returns once the
// peer is admitted, or with common.ErrHandshakeRejected when the room
// authority refused the proof.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	if !code.IsValid(cfg.Code) {
		return nil, errors.New("invalid room code")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = defaultLogger
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	ws, _, err := dialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WebSocket server: %w", err)
	}
	ws.SetReadLimit(configs.MaxFrameSize)

	c := &Conn{
		ws:       ws,
		logger:   logrus.NewEntry(logger),
		user:     cfg.User,
		rand:     cfg.Rand,
		users:    make(map[string]string),
		events:   make(chan Event, 64),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}

	stop := context.AfterFunc(ctx, func() { ws.Close() })
	err = c.handshake(cfg)
	stop()
	if err != nil {
		ws.Close()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("failed to perform handshake: %w", ctx.Err())
		}
		return nil, fmt.Errorf("failed to perform handshake: %w", err)
	}

	if c.cipher, err = aes256.New(c.material.Key, c.rand); err != nil {
		ws.Close()
		return nil, err
	}
	fp, err := fingerprint.Fingerprint(c.material.Key, c.room)
	if err != nil {
		ws.Close()
		return nil, err
	}
	c.fingerprint = fingerprint.Format(fp)
	c.logger = c.logger.WithFields(logrus.Fields{"room": c.room, "peer": c.id})
	c.logger.WithField("authority", c.IsAuthority()).Info("Joined room")

	go c.readLoop()
	if err := c.sendChat(&common.ChatJoin{User: c.user}); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Conn) handshake(cfg Config) error {
	joiner := handshake.NewJoiner(cfg.Code)
	join, err := joiner.Start()
	if err != nil {
		return err
	}
	c.room = join.Room
	if err := c.write(join); err != nil {
		return err
	}

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		msg, err := common.DecodeServerMessage(raw)
		if errors.Is(err, common.ErrDecode) {
			c.logger.Warnf("Dropping frame: %v", err)
			continue
		}
		if err != nil {
			return err
		}

		switch m := msg.(type) {
		case *common.AnswerRequest:
			c.logger.Debug("Answering challenge")
			reply, err := joiner.HandleAnswerRequest(m)
			if err != nil {
				return err
			}
			if err := c.write(reply); err != nil {
				return err
			}
		case *common.JoinReply:
			if err := joiner.HandleJoinReply(m); err != nil {
				return err
			}
			c.id = m.Peer
			if !joiner.Creator() {
				c.material = joiner.Material()
				return nil
			}
			return c.createRoom(cfg.Code, cfg.Params)
		default:
			return fmt.Errorf("%w: %s frame during handshake", common.ErrProtocolViolation, msg.MessageType())
		}
	}
}

// createRoom derives fresh material for a room this peer just created.
func (c *Conn) createRoom(rc code.Code, p *kdf.Params) error {
	if p == nil {
		var err error
		if p, err = kdf.ParamsFor(configs.KDFAlgorithm); err != nil {
			return err
		}
	}
	m, err := kdf.Derive(rc.String(), p, c.rand)
	if err != nil {
		return err
	}
	c.material = m
	c.authority, err = handshake.NewAuthority(c.room, m, c.rand)
	return err
}

func (c *Conn) readLoop() {
	defer close(c.readDone)
	defer close(c.events)

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				c.emit(Event{Kind: EventClosed})
			default:
				c.logger.Errorf("Error reading message: %v", err)
				c.emit(Event{Kind: EventClosed, Err: err})
			}
			return
		}

		msg, err := common.DecodeServerMessage(raw)
		if errors.Is(err, common.ErrDecode) {
			c.logger.Warnf("Dropping frame: %v", err)
			continue
		}
		if err == nil {
			err = c.handleMessage(msg)
		}
		if err != nil {
			c.logger.Errorf("Closing connection: %v", err)
			c.emit(Event{Kind: EventClosed, Err: err})
			c.shutdown()
			return
		}
	}
}

func (c *Conn) handleMessage(msg common.Message) error {
	switch m := msg.(type) {
	case *common.ChatBroadcast:
		return c.handleChat(m)
	case *common.PendingNotice:
		return c.handlePending(m)
	case *common.ConfirmationRequest:
		return c.handleConfirmation(m)
	case *common.LeaveNotice:
		c.mu.Lock()
		if c.authority != nil {
			c.authority.Leave(m.Peer)
		}
		user, known := c.users[m.Peer]
		delete(c.users, m.Peer)
		c.mu.Unlock()
		if known {
			c.emit(Event{Kind: EventPeerLeft, Peer: m.Peer, User: user})
		}
		return nil
	case *common.PromoteNotice:
		a, err := handshake.NewAuthority(c.room, c.material, c.rand)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.authority = a
		c.mu.Unlock()
		c.logger.Info("Promoted to room authority")
		c.emit(Event{Kind: EventPromoted})
		return nil
	default:
		return fmt.Errorf("%w: unexpected %s frame", common.ErrProtocolViolation, msg.MessageType())
	}
}

func (c *Conn) currentAuthority() *handshake.Authority {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authority
}

func (c *Conn) handlePending(m *common.PendingNotice) error {
	a := c.currentAuthority()
	if a == nil {
		return fmt.Errorf("%w: pending notice for a non-authority", common.ErrProtocolViolation)
	}
	logger := c.logger.WithField("joiner", m.Peer)

	req, err := a.Join(m.Peer, m.Room)
	if err != nil {
		logger.Warnf("Refusing join: %v", err)
		return c.write(&common.ConfirmationReply{Peer: m.Peer, OK: false})
	}
	logger.Debug("Issuing challenge")
	return c.write(&common.ChallengeIssue{Peer: m.Peer, AnswerRequest: *req})
}

func (c *Conn) handleConfirmation(m *common.ConfirmationRequest) error {
	a := c.currentAuthority()
	if a == nil {
		return fmt.Errorf("%w: confirmation request for a non-authority", common.ErrProtocolViolation)
	}
	logger := c.logger.WithField("joiner", m.Peer)

	reply, err := a.Confirm(m.Peer, m.Challenge, m.Answer)
	switch {
	case errors.Is(err, common.ErrHandshakeRejected):
		logger.Warn("Join rejected, proof did not verify")
	case err != nil:
		logger.Warnf("Refusing join: %v", err)
		reply = &common.ConfirmationReply{Peer: m.Peer, OK: false}
	}
	if err := c.write(reply); err != nil {
		return err
	}
	if reply.OK {
		logger.Info("Join confirmed")
		return a.Activate(m.Peer)
	}
	return nil
}

func (c *Conn) handleChat(m *common.ChatBroadcast) error {
	logger := c.logger.WithField("from", m.Peer)

	plaintext, err := c.open(m)
	switch {
	case errors.Is(err, common.ErrAuthentication):
		c.authFailures++
		logger.WithField("failures", c.authFailures).Warn("Dropping envelope that failed authentication")
		c.emit(Event{Kind: EventSecurity, Peer: m.Peer, Err: common.ErrAuthentication})
		if c.authFailures >= configs.MaxAuthFailures {
			return fmt.Errorf("%d envelopes failed authentication: %w", c.authFailures, common.ErrAuthentication)
		}
		return nil
	case err != nil:
		logger.Warnf("Dropping envelope: %v", err)
		return nil
	}

	msg, err := common.DecodeChatMessage(plaintext)
	if err != nil {
		logger.Warnf("Dropping chat message: %v", err)
		return nil
	}
	switch m2 := msg.(type) {
	case *common.ChatJoin:
		c.mu.Lock()
		c.users[m.Peer] = m2.User
		c.mu.Unlock()
		c.emit(Event{Kind: EventJoin, Peer: m.Peer, User: m2.User})
	case *common.ChatNew:
		c.emit(Event{Kind: EventMessage, Peer: m.Peer, User: m2.User, Text: m2.Message})
	case *common.ChatLeave:
		c.emit(Event{Kind: EventLeave, Peer: m.Peer, User: m2.User})
	}
	return nil
}

// open decrypts a broadcast envelope. Malformed envelopes wrap
// common.ErrDecode, tampered ones common.ErrAuthentication.
func (c *Conn) open(m *common.ChatBroadcast) ([]byte, error) {
	plaintext, err := c.cipher.Open(m.IV, m.Data)
	if errors.Is(err, aes256.ErrInvalidEnvelope) {
		return nil, fmt.Errorf("%w: %w", common.ErrDecode, err)
	}
	return plaintext, err
}

func (c *Conn) emit(e Event) {
	select {
	case c.events <- e:
	case <-c.done:
	}
}

// Send seals text and broadcasts it to the room.
func (c *Conn) Send(text string) error {
	return c.sendChat(&common.ChatNew{User: c.user, Message: text})
}

func (c *Conn) sendChat(msg common.Message) error {
	plaintext, err := common.Encode(msg)
	if err != nil {
		return err
	}
	env, err := c.cipher.Seal(plaintext)
	if err != nil {
		return fmt.Errorf("error sealing message: %w", err)
	}
	return c.write(&common.ChatEnvelope{IV: env.IV, Data: env.Ciphertext})
}

func (c *Conn) write(msg common.Message) error {
	data, err := common.Encode(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(configs.WriteTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send %s frame: %w", msg.MessageType(), err)
	}
	return nil
}

// Close says goodbye to the room, closes the connection and wipes the key.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if e := c.sendChat(&common.ChatLeave{User: c.user}); e != nil {
			c.logger.Debugf("Error sending goodbye: %v", e)
		}
		if e := c.write(&common.LeaveRequest{}); e != nil {
			c.logger.Debugf("Error sending leave: %v", e)
		}
		close(c.done)
		err = c.ws.Close()
		<-c.readDone
		c.material.Wipe()
	})
	return err
}

// shutdown drops the connection from the read loop.
func (c *Conn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
		c.material.Wipe()
	})
}

// Events delivers room events until the connection closes. The channel must
// be drained.
func (c *Conn) Events() <-chan Event {
	return c.events
}

func (c *Conn) ID() string {
	return c.id
}

// Room returns the routing hint the relay knows this room by.
func (c *Conn) Room() string {
	return c.room
}

// Fingerprint is the room's safety number. Every member holding the right
// key shows the same digits.
func (c *Conn) Fingerprint() string {
	return c.fingerprint
}

func (c *Conn) IsAuthority() bool {
	return c.currentAuthority() != nil
}

// Users returns the names announced by the other peers, keyed by peer ID.
func (c *Conn) Users() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	users := make(map[string]string, len(c.users))
	for k, v := range c.users {
		users[k] = v
	}
	return users
}
