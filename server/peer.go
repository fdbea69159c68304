package server

import (
	"sync"
	"sync/atomic"
	"time"

	"oasis/common"
	"oasis/configs"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// phase is the relay's view of a connection. It only tracks what the relay
// must enforce; the cryptographic checks belong to the room authority.
type phase int

const (
	phaseAwaitingJoin phase = iota
	phaseAwaitingChallenge
	phaseAwaitingAnswer
	phaseAwaitingConfirmation
	phaseActive
	phaseClosed
)

func (p phase) String() string {
	switch p {
	case phaseAwaitingJoin:
		return "awaiting-join"
	case phaseAwaitingChallenge:
		return "awaiting-challenge"
	case phaseAwaitingAnswer:
		return "awaiting-answer"
	case phaseAwaitingConfirmation:
		return "awaiting-confirmation"
	case phaseActive:
		return "active"
	default:
		return "closed"
	}
}

func (p phase) pending() bool {
	return p == phaseAwaitingChallenge || p == phaseAwaitingAnswer || p == phaseAwaitingConfirmation
}

type outbound struct {
	data      []byte
	closeCode int
	reason    string
}

// peer is one websocket connection. Frames are written by a single writer
// goroutine fed through send; the reader is the HandleConnections goroutine.
type peer struct {
	id     string
	conn   *websocket.Conn
	logger *logrus.Entry

	send    chan outbound
	done    chan struct{}
	closing atomic.Bool
	stop    sync.Once

	// Guarded by the server mutex.
	room      *room
	phase     phase
	challenge []byte
	joinedAt  time.Time
	timer     *time.Timer
}

func newPeer(id string, conn *websocket.Conn, logger *logrus.Logger) *peer {
	return &peer{
		id:     id,
		conn:   conn,
		logger: logger.WithField("peer", id),
		send:   make(chan outbound, configs.OutboundQueueSize),
		done:   make(chan struct{}),
	}
}

func (p *peer) writeLoop() {
	defer p.terminate()
	for {
		select {
		case out := <-p.send:
			deadline := time.Now().Add(configs.WriteTimeout)
			if out.closeCode != 0 {
				msg := websocket.FormatCloseMessage(out.closeCode, out.reason)
				if err := p.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
					p.logger.Debugf("Error sending close frame: %v", err)
				}
				return
			}
			_ = p.conn.SetWriteDeadline(deadline)
			if err := p.conn.WriteMessage(websocket.TextMessage, out.data); err != nil {
				p.logger.Debugf("Error writing frame: %v", err)
				return
			}
		case <-p.done:
			return
		}
	}
}

// write queues msg. A peer that cannot keep up with its queue is dropped.
func (p *peer) write(msg common.Message) {
	data, err := common.Encode(msg)
	if err != nil {
		p.logger.Errorf("Error encoding %s frame: %v", msg.MessageType(), err)
		return
	}
	p.enqueue(data)
}

func (p *peer) enqueue(data []byte) {
	if p.closing.Load() {
		return
	}
	select {
	case p.send <- outbound{data: data}:
	default:
		p.logger.Warn("Outbound queue full, dropping peer")
		p.terminate()
	}
}

// close queues a close frame after everything already queued. Later writes
// are discarded.
func (p *peer) close(code int, reason string) {
	if !p.closing.CompareAndSwap(false, true) {
		return
	}
	select {
	case p.send <- outbound{closeCode: code, reason: reason}:
	default:
		p.terminate()
	}
}

// terminate drops the connection without a close frame.
func (p *peer) terminate() {
	p.stop.Do(func() {
		p.closing.Store(true)
		close(p.done)
		p.conn.Close()
	})
}

// stopTimer cancels the pending-join timeout. Callers hold the server mutex.
func (p *peer) stopTimer() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}
