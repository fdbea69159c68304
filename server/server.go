// Package server is the oasis relay. It routes frames between the peers of
// a room, enforces each connection's handshake phase and fans out sealed
// chat envelopes. It never holds a room code or key: rooms are addressed by
// their routing hint, and the room authority, a client, checks every proof.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"oasis/code"
	"oasis/common"
	"oasis/configs"
	"oasis/protocol/handshake"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// errPeerLeft ends a connection's read loop without a violation.
var errPeerLeft = errors.New("peer left")

type Server struct {
	ctx       context.Context
	cancelCtx context.CancelFunc

	limiter AttemptLimiter
	logger  *logrus.Logger
	metrics *Metrics

	// WebSocket upgrader settings
	upgrader *websocket.Upgrader

	mutex sync.Mutex
	rooms map[string]*room
	peers map[string]*peer

	closeOnce sync.Once
}

func NewServer(ctx context.Context, limiter AttemptLimiter, logger *logrus.Logger) *Server {
	ctx, cancelCtx := context.WithCancel(ctx)
	return &Server{
		ctx:       ctx,
		cancelCtx: cancelCtx,
		limiter:   limiter,
		logger:    logger,
		metrics:   NewMetrics(),
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		rooms: make(map[string]*room),
		peers: make(map[string]*peer),
	}
}

func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Router wires the websocket, health and metrics endpoints.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc(configs.WebSocketPath, s.HandleConnections)
	r.HandleFunc(configs.HealthPath, s.HandleHealth).Methods(http.MethodGet)
	r.Handle(configs.MetricsPath, s.metrics.Handler()).Methods(http.MethodGet)
	return r
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Handle incoming WebSocket connections
func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorf("Error upgrading to WebSocket: %v", err)
		return
	}
	ws.SetReadLimit(configs.MaxFrameSize)

	p := newPeer(uuid.NewString(), ws, s.logger)
	s.mutex.Lock()
	if s.ctx.Err() != nil {
		s.mutex.Unlock()
		ws.Close()
		return
	}
	s.peers[p.id] = p
	s.mutex.Unlock()

	s.metrics.Connections.Inc()
	p.logger.Info("Peer connected")
	go p.writeLoop()

	defer func() {
		s.leave(p)
		p.close(websocket.CloseNormalClosure, "")
		s.mutex.Lock()
		delete(s.peers, p.id)
		s.mutex.Unlock()
		s.metrics.Connections.Dec()
		p.logger.Info("Peer disconnected")
	}()

	// Frames of one connection are handled strictly in order.
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if !p.closing.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.logger.Debugf("Error reading frame: %v", err)
			}
			return
		}

		msg, err := common.DecodeClientMessage(raw)
		if errors.Is(err, common.ErrDecode) {
			s.metrics.Frames.WithLabelValues("invalid").Inc()
			p.logger.Warnf("Dropping frame: %v", err)
			continue
		}
		if err == nil {
			s.metrics.Frames.WithLabelValues(msg.MessageType()).Inc()
			err = s.handleMessage(p, msg)
		}

		switch {
		case err == nil:
		case errors.Is(err, errPeerLeft):
			return
		case errors.Is(err, common.ErrProtocolViolation):
			p.logger.Warnf("Closing connection: %v", err)
			p.close(websocket.ClosePolicyViolation, "protocol violation")
			return
		default:
			p.logger.Errorf("Error handling %s frame: %v", msg.MessageType(), err)
			p.close(websocket.CloseInternalServerErr, "internal error")
			return
		}
	}
}

func (s *Server) handleMessage(p *peer, msg common.Message) error {
	switch m := msg.(type) {
	case *common.JoinRequest:
		return s.handleJoin(p, m)
	case *common.ChallengeIssue:
		return s.handleChallenge(p, m)
	case *common.AnswerReply:
		return s.handleAnswer(p, m)
	case *common.ConfirmationReply:
		return s.handleConfirmation(p, m)
	case *common.ChatEnvelope:
		return s.handleChat(p, m)
	case *common.LeaveRequest:
		s.leave(p)
		p.close(websocket.CloseNormalClosure, "")
		return errPeerLeft
	default:
		return fmt.Errorf("%w: unexpected %s frame", common.ErrProtocolViolation, msg.MessageType())
	}
}

func violation(p *peer, format string, args ...any) error {
	return fmt.Errorf("%w: %s in phase %s", common.ErrProtocolViolation, fmt.Sprintf(format, args...), p.phase)
}

func (s *Server) handleJoin(p *peer, req *common.JoinRequest) error {
	s.mutex.Lock()
	current := p.phase
	s.mutex.Unlock()
	if current != phaseAwaitingJoin {
		return fmt.Errorf("%w: join in phase %s", common.ErrProtocolViolation, current)
	}
	if !code.IsValidHint(req.Room) {
		return fmt.Errorf("%w: malformed room hint", common.ErrProtocolViolation)
	}
	logger := p.logger.WithField("room", req.Room)

	locked, err := s.limiter.Locked(s.ctx, req.Room)
	if err != nil {
		return err
	}
	if locked {
		s.metrics.Handshakes.WithLabelValues(resultLocked).Inc()
		logger.Warn("Join refused, room is locked")
		p.write(&common.JoinReply{OK: false})
		p.close(websocket.ClosePolicyViolation, common.ErrRoomLocked.Error())
		return errPeerLeft
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	p.joinedAt = time.Now()
	r, ok := s.rooms[req.Room]
	if !ok {
		r = newRoom(req.Room, p)
		s.rooms[req.Room] = r
		p.room = r
		p.phase = phaseActive
		s.metrics.Rooms.Inc()
		s.metrics.Handshakes.WithLabelValues(resultCreated).Inc()
		p.write(&common.JoinReply{OK: true, Authority: true, Peer: p.id})
		logger.Info("Room created")
		return nil
	}

	p.room = r
	p.phase = phaseAwaitingChallenge
	r.pending[p.id] = p
	if configs.PendingTimeout > 0 {
		p.timer = time.AfterFunc(configs.PendingTimeout, func() { s.expire(p) })
	}
	r.authority.write(&common.PendingNotice{Peer: p.id, Room: r.hint})
	logger.Info("Join pending")
	return nil
}

func (s *Server) handleChallenge(p *peer, m *common.ChallengeIssue) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	r := p.room
	if p.phase != phaseActive || r.authority != p {
		return violation(p, "challenge from non-authority")
	}
	if len(m.Challenge) != handshake.ChallengeSize {
		return violation(p, "challenge of %d bytes", len(m.Challenge))
	}
	target, ok := r.pending[m.Peer]
	if !ok {
		p.logger.Debugf("Challenge for departed peer %s", m.Peer)
		return nil
	}
	if target.phase != phaseAwaitingChallenge {
		return violation(p, "second challenge for %s", m.Peer)
	}
	target.challenge = bytes.Clone(m.Challenge)
	target.phase = phaseAwaitingAnswer
	target.write(&m.AnswerRequest)
	return nil
}

func (s *Server) handleAnswer(p *peer, m *common.AnswerReply) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if p.phase != phaseAwaitingAnswer {
		return violation(p, "answer")
	}
	p.phase = phaseAwaitingConfirmation
	p.room.authority.write(&common.ConfirmationRequest{
		Peer:      p.id,
		Challenge: p.challenge,
		Answer:    m.Answer,
	})
	return nil
}

func (s *Server) handleConfirmation(p *peer, m *common.ConfirmationReply) error {
	s.mutex.Lock()
	r := p.room
	if p.phase != phaseActive || r.authority != p {
		err := violation(p, "confirmation from non-authority")
		s.mutex.Unlock()
		return err
	}
	target, ok := r.pending[m.Peer]
	if !ok {
		s.mutex.Unlock()
		p.logger.Debugf("Confirmation for departed peer %s", m.Peer)
		return nil
	}
	logger := target.logger.WithField("room", r.hint)

	if m.OK {
		if target.phase != phaseAwaitingConfirmation {
			err := violation(p, "premature confirmation for %s", m.Peer)
			s.mutex.Unlock()
			return err
		}
		delete(r.pending, target.id)
		target.stopTimer()
		target.challenge = nil
		target.phase = phaseActive
		r.members = append(r.members, target)
		target.write(&common.JoinReply{OK: true, Peer: target.id})
		s.metrics.HandshakeLatency.Observe(time.Since(target.joinedAt).Seconds())
		s.metrics.Handshakes.WithLabelValues(resultAccepted).Inc()
		s.mutex.Unlock()
		logger.Info("Peer admitted")
		return nil
	}

	// Only a refused answer counts against the room. A refusal before any
	// answer was relayed, such as for a duplicate join, is the authority's
	// own bookkeeping.
	answered := target.phase == phaseAwaitingConfirmation
	result := resultRefused
	if answered {
		result = resultRejected
	}
	s.dropPending(r, target)
	target.write(&common.JoinReply{OK: false})
	target.close(websocket.ClosePolicyViolation, common.ErrHandshakeRejected.Error())
	s.metrics.HandshakeLatency.Observe(time.Since(target.joinedAt).Seconds())
	s.metrics.Handshakes.WithLabelValues(result).Inc()
	s.mutex.Unlock()

	if !answered {
		logger.Warn("Peer refused by room authority before answering")
		return nil
	}
	n, err := s.limiter.Fail(s.ctx, r.hint)
	if err != nil {
		logger.Errorf("Error recording failed join: %v", err)
		return nil
	}
	logger.WithField("failures", n).Warn("Peer rejected by room authority")
	return nil
}

func (s *Server) handleChat(p *peer, m *common.ChatEnvelope) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if p.phase != phaseActive {
		return violation(p, "chat")
	}
	s.broadcast(p.room, p, &common.ChatBroadcast{Peer: p.id, IV: m.IV, Data: m.Data})
	return nil
}

// broadcast sends msg to every active peer of r except from. Callers hold
// the server mutex.
func (s *Server) broadcast(r *room, from *peer, msg common.Message) {
	data, err := common.Encode(msg)
	if err != nil {
		s.logger.Errorf("Error encoding %s frame: %v", msg.MessageType(), err)
		return
	}
	for _, q := range r.active() {
		if q != from {
			q.enqueue(data)
		}
	}
}

// dropPending removes a joiner that never made it into the room. Callers
// hold the server mutex.
func (s *Server) dropPending(r *room, p *peer) {
	delete(r.pending, p.id)
	p.stopTimer()
	p.room = nil
	p.phase = phaseClosed
	p.challenge = nil
}

// expire closes a joiner that is still pending after configs.PendingTimeout.
func (s *Server) expire(p *peer) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	r := p.room
	if r == nil || !p.phase.pending() {
		return
	}
	s.dropPending(r, p)
	r.authority.write(&common.LeaveNotice{Peer: p.id})
	p.write(&common.JoinReply{OK: false})
	p.close(websocket.ClosePolicyViolation, "handshake timeout")
	s.metrics.Handshakes.WithLabelValues(resultTimeout).Inc()
	p.logger.WithField("room", r.hint).Warn("Handshake timed out")
}

// leave takes p out of its room. When the authority leaves, the oldest
// member is promoted and pending joiners are sent away; the room is deleted
// once nobody is left.
func (s *Server) leave(p *peer) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	r := p.room
	if r == nil {
		return
	}
	logger := p.logger.WithField("room", r.hint)

	switch {
	case p.phase.pending():
		s.dropPending(r, p)
		r.authority.write(&common.LeaveNotice{Peer: p.id})
	case r.authority == p:
		p.room = nil
		p.phase = phaseClosed
		next, promoted := r.promote()
		for _, q := range r.pending {
			s.dropPending(r, q)
			q.write(&common.JoinReply{OK: false})
			q.close(websocket.CloseTryAgainLater, "room authority left")
		}
		s.broadcast(r, nil, &common.LeaveNotice{Peer: p.id})
		if promoted {
			next.write(&common.PromoteNotice{})
			next.logger.WithField("room", r.hint).Info("Promoted to room authority")
		}
	default:
		r.removeMember(p)
		p.room = nil
		p.phase = phaseClosed
		s.broadcast(r, nil, &common.LeaveNotice{Peer: p.id})
	}
	logger.Info("Peer left room")

	if r.empty() {
		delete(s.rooms, r.hint)
		s.metrics.Rooms.Dec()
		logger.Info("Room closed")
	}
}

// Close disconnects every peer and releases the limiter.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.cancelCtx()
		s.mutex.Lock()
		for _, p := range s.peers {
			p.close(websocket.CloseGoingAway, "server shutting down")
		}
		s.mutex.Unlock()
		if err := s.limiter.Close(); err != nil {
			s.logger.Errorf("Error closing attempt limiter: %v", err)
		}
	})
}
