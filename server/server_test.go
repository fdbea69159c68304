package server

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"oasis/code"
	"oasis/common"
	"oasis/configs"
	"oasis/crypto/kdf"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, limiter AttemptLimiter) (*Server, *httptest.Server) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	s := NewServer(context.Background(), limiter, logger)
	ts := httptest.NewServer(s.Router())
	t.Cleanup(func() {
		s.Close()
		ts.Close()
	})
	return s, ts
}

type testClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, ts *httptest.Server) *testClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + configs.WebSocketPath
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn}
}

func (c *testClient) send(msg common.Message) {
	c.t.Helper()
	raw, err := common.Encode(msg)
	require.NoError(c.t, err)
	c.sendRaw(string(raw))
}

func (c *testClient) sendRaw(raw string) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, []byte(raw)))
}

func (c *testClient) recv() common.Message {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, raw, err := c.conn.ReadMessage()
	require.NoError(c.t, err)
	msg, err := common.DecodeServerMessage(raw)
	require.NoError(c.t, err)
	return msg
}

func (c *testClient) expectClose(want int) {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := c.conn.ReadMessage()
	require.Error(c.t, err)
	assert.True(c.t, websocket.IsCloseError(err, want), "got %v, want close code %d", err, want)
}

// create joins a fresh room and returns the authority's connection.
func create(t *testing.T, ts *httptest.Server, hint string) *testClient {
	t.Helper()
	c := dial(t, ts)
	c.send(&common.JoinRequest{Room: hint})
	rep, ok := c.recv().(*common.JoinReply)
	require.True(t, ok)
	require.True(t, rep.OK)
	require.True(t, rep.Authority)
	require.NotEmpty(t, rep.Peer)
	return c
}

// startJoin sends a join for hint and returns the peer ID announced to the
// authority.
func startJoin(t *testing.T, ts *httptest.Server, authority *testClient, hint string) (*testClient, string) {
	t.Helper()
	j := dial(t, ts)
	j.send(&common.JoinRequest{Room: hint})
	notice, ok := authority.recv().(*common.PendingNotice)
	require.True(t, ok)
	assert.Equal(t, hint, notice.Room)
	return j, notice.Peer
}

func challenge(seed byte) *common.AnswerRequest {
	return &common.AnswerRequest{
		Challenge: bytes.Repeat([]byte{seed}, 32),
		Salt:      bytes.Repeat([]byte{0xaa}, 32),
		KDF:       *kdf.DefaultParams,
	}
}

// admit runs a whole relay-side handshake for a new joiner.
func admit(t *testing.T, ts *httptest.Server, authority *testClient, hint string) (*testClient, string) {
	t.Helper()
	j, id := startJoin(t, ts, authority, hint)
	req := challenge(1)
	authority.send(&common.ChallengeIssue{Peer: id, AnswerRequest: *req})
	_, ok := j.recv().(*common.AnswerRequest)
	require.True(t, ok)
	j.send(&common.AnswerReply{Answer: []byte("answer")})
	_, ok = authority.recv().(*common.ConfirmationRequest)
	require.True(t, ok)
	authority.send(&common.ConfirmationReply{Peer: id, OK: true})
	rep, ok := j.recv().(*common.JoinReply)
	require.True(t, ok)
	require.True(t, rep.OK)
	return j, id
}

func TestHealthAndMetrics(t *testing.T) {
	_, ts := newTestServer(t, NewMemoryLimiter(10, time.Minute))

	resp, err := http.Get(ts.URL + configs.HealthPath)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	create(t, ts, code.MustGenerate().Hint())

	resp, err = http.Get(ts.URL + configs.MetricsPath)
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "oasis_relay_connections 1")
	assert.Contains(t, string(body), "oasis_relay_rooms 1")
	assert.Contains(t, string(body), `oasis_relay_handshakes_total{result="created"} 1`)
}

func TestRelayHandshakeAndChat(t *testing.T) {
	_, ts := newTestServer(t, NewMemoryLimiter(10, time.Minute))
	hint := code.MustGenerate().Hint()
	authority := create(t, ts, hint)

	joiner, id := startJoin(t, ts, authority, hint)

	req := challenge(7)
	authority.send(&common.ChallengeIssue{Peer: id, AnswerRequest: *req})
	got, ok := joiner.recv().(*common.AnswerRequest)
	require.True(t, ok)
	assert.Equal(t, req, got)

	joiner.send(&common.AnswerReply{Answer: []byte{1, 2, 3}})
	conf, ok := authority.recv().(*common.ConfirmationRequest)
	require.True(t, ok)
	assert.Equal(t, &common.ConfirmationRequest{Peer: id, Challenge: req.Challenge, Answer: []byte{1, 2, 3}}, conf)

	authority.send(&common.ConfirmationReply{Peer: id, OK: true})
	rep, ok := joiner.recv().(*common.JoinReply)
	require.True(t, ok)
	assert.Equal(t, &common.JoinReply{OK: true, Peer: id}, rep)

	joiner.send(&common.ChatEnvelope{IV: []byte{9}, Data: []byte{8, 7}})
	chat, ok := authority.recv().(*common.ChatBroadcast)
	require.True(t, ok)
	assert.Equal(t, &common.ChatBroadcast{Peer: id, IV: []byte{9}, Data: []byte{8, 7}}, chat)

	// A third peer sees chat from both and never its own.
	third, thirdID := admit(t, ts, authority, hint)
	authority.send(&common.ChatEnvelope{IV: []byte{1}, Data: []byte{1}})
	for _, c := range []*testClient{joiner, third} {
		msg, ok := c.recv().(*common.ChatBroadcast)
		require.True(t, ok)
		assert.Equal(t, []byte{1}, msg.Data)
	}
	third.send(&common.ChatEnvelope{IV: []byte{3}, Data: []byte{3}})
	for _, c := range []*testClient{authority, joiner} {
		msg, ok := c.recv().(*common.ChatBroadcast)
		require.True(t, ok)
		assert.Equal(t, thirdID, msg.Peer)
	}
}

func TestProtocolViolationsCloseConnection(t *testing.T) {
	hint := code.MustGenerate().Hint()
	tests := []struct {
		name string
		send func(c *testClient)
	}{
		{"answer before join", func(c *testClient) { c.send(&common.AnswerReply{Answer: []byte{1}}) }},
		{"chat before join", func(c *testClient) { c.send(&common.ChatEnvelope{IV: []byte{1}, Data: []byte{1}}) }},
		{"confirmation before join", func(c *testClient) { c.send(&common.ConfirmationReply{Peer: "x", OK: true}) }},
		{"unknown frame type", func(c *testClient) { c.sendRaw(`{"type":"hello","data":{}}`) }},
		{"malformed hint", func(c *testClient) { c.send(&common.JoinRequest{Room: "lobby"}) }},
		{"code instead of hint", func(c *testClient) { c.send(&common.JoinRequest{Room: "abc-def-ghi"}) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ts := newTestServer(t, NewMemoryLimiter(10, time.Minute))
			c := dial(t, ts)
			tt.send(c)
			c.expectClose(websocket.ClosePolicyViolation)
		})
	}

	t.Run("join twice", func(t *testing.T) {
		_, ts := newTestServer(t, NewMemoryLimiter(10, time.Minute))
		c := create(t, ts, hint)
		c.send(&common.JoinRequest{Room: hint})
		c.expectClose(websocket.ClosePolicyViolation)
	})

	t.Run("pending joiner chats", func(t *testing.T) {
		_, ts := newTestServer(t, NewMemoryLimiter(10, time.Minute))
		authority := create(t, ts, hint)
		j, _ := startJoin(t, ts, authority, hint)
		j.send(&common.ChatEnvelope{IV: []byte{1}, Data: []byte{1}})
		j.expectClose(websocket.ClosePolicyViolation)
	})

	t.Run("joiner issues challenge", func(t *testing.T) {
		_, ts := newTestServer(t, NewMemoryLimiter(10, time.Minute))
		authority := create(t, ts, hint)
		j, id := admit(t, ts, authority, hint)
		j.send(&common.ChallengeIssue{Peer: id, AnswerRequest: *challenge(1)})
		j.expectClose(websocket.ClosePolicyViolation)
	})

	t.Run("authority confirms before answer", func(t *testing.T) {
		_, ts := newTestServer(t, NewMemoryLimiter(10, time.Minute))
		authority := create(t, ts, hint)
		_, id := startJoin(t, ts, authority, hint)
		authority.send(&common.ConfirmationReply{Peer: id, OK: true})
		authority.expectClose(websocket.ClosePolicyViolation)
	})
}

func TestMalformedFrameIsDropped(t *testing.T) {
	_, ts := newTestServer(t, NewMemoryLimiter(10, time.Minute))
	c := dial(t, ts)
	c.sendRaw(`{not json`)
	c.sendRaw(`{"type":"join","data":{"room":42}}`)

	c.send(&common.JoinRequest{Room: code.MustGenerate().Hint()})
	rep, ok := c.recv().(*common.JoinReply)
	require.True(t, ok)
	assert.True(t, rep.OK)
}

func TestRejectedJoinerAndRoomLock(t *testing.T) {
	limiter := NewMemoryLimiter(2, time.Minute)
	_, ts := newTestServer(t, limiter)
	hint := code.MustGenerate().Hint()
	authority := create(t, ts, hint)

	for i := 0; i < 2; i++ {
		j, id := startJoin(t, ts, authority, hint)
		authority.send(&common.ChallengeIssue{Peer: id, AnswerRequest: *challenge(byte(i))})
		_, ok := j.recv().(*common.AnswerRequest)
		require.True(t, ok)
		j.send(&common.AnswerReply{Answer: []byte("wrong")})
		_, ok = authority.recv().(*common.ConfirmationRequest)
		require.True(t, ok)
		authority.send(&common.ConfirmationReply{Peer: id, OK: false})

		rep, ok := j.recv().(*common.JoinReply)
		require.True(t, ok)
		assert.False(t, rep.OK)
		j.expectClose(websocket.ClosePolicyViolation)
	}

	require.Eventually(t, func() bool {
		locked, err := limiter.Locked(context.Background(), hint)
		return err == nil && locked
	}, 5*time.Second, 10*time.Millisecond)

	j := dial(t, ts)
	j.send(&common.JoinRequest{Room: hint})
	rep, ok := j.recv().(*common.JoinReply)
	require.True(t, ok)
	assert.False(t, rep.OK)
	j.expectClose(websocket.ClosePolicyViolation)
}

func TestRefusalBeforeAnswerDoesNotCount(t *testing.T) {
	limiter := NewMemoryLimiter(1, time.Minute)
	_, ts := newTestServer(t, limiter)
	hint := code.MustGenerate().Hint()
	authority := create(t, ts, hint)

	for i := 0; i < 3; i++ {
		j, id := startJoin(t, ts, authority, hint)
		authority.send(&common.ConfirmationReply{Peer: id, OK: false})

		rep, ok := j.recv().(*common.JoinReply)
		require.True(t, ok)
		assert.False(t, rep.OK)
		j.expectClose(websocket.ClosePolicyViolation)
	}

	// The authority's frames are handled in order, so every refusal above
	// is fully processed once this join completes.
	admit(t, ts, authority, hint)

	locked, err := limiter.Locked(context.Background(), hint)
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestAuthorityPromotion(t *testing.T) {
	s, ts := newTestServer(t, NewMemoryLimiter(10, time.Minute))
	hint := code.MustGenerate().Hint()
	authority := create(t, ts, hint)
	first, _ := admit(t, ts, authority, hint)
	second, _ := admit(t, ts, authority, hint)
	pending, _ := startJoin(t, ts, authority, hint)

	require.NoError(t, authority.conn.Close())

	// The oldest member becomes authority; the pending joiner is sent away.
	_, ok := first.recv().(*common.LeaveNotice)
	require.True(t, ok)
	_, ok = first.recv().(*common.PromoteNotice)
	require.True(t, ok)

	_, ok = second.recv().(*common.LeaveNotice)
	require.True(t, ok)

	rep, ok := pending.recv().(*common.JoinReply)
	require.True(t, ok)
	assert.False(t, rep.OK)
	pending.expectClose(websocket.CloseTryAgainLater)

	// New joiners are now announced to the promoted peer.
	_, _ = startJoin(t, ts, first, hint)

	require.NoError(t, first.conn.Close())
	_, ok = second.recv().(*common.LeaveNotice)
	require.True(t, ok)
	_, ok = second.recv().(*common.PromoteNotice)
	require.True(t, ok)

	require.NoError(t, second.conn.Close())
	require.Eventually(t, func() bool {
		s.mutex.Lock()
		defer s.mutex.Unlock()
		return len(s.rooms) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestGracefulLeave(t *testing.T) {
	_, ts := newTestServer(t, NewMemoryLimiter(10, time.Minute))
	hint := code.MustGenerate().Hint()
	authority := create(t, ts, hint)
	j, id := admit(t, ts, authority, hint)

	j.send(&common.LeaveRequest{})
	notice, ok := authority.recv().(*common.LeaveNotice)
	require.True(t, ok)
	assert.Equal(t, id, notice.Peer)
	j.expectClose(websocket.CloseNormalClosure)
}

func TestPendingJoinerLeaves(t *testing.T) {
	_, ts := newTestServer(t, NewMemoryLimiter(10, time.Minute))
	hint := code.MustGenerate().Hint()
	authority := create(t, ts, hint)
	j, id := startJoin(t, ts, authority, hint)

	require.NoError(t, j.conn.Close())
	notice, ok := authority.recv().(*common.LeaveNotice)
	require.True(t, ok)
	assert.Equal(t, id, notice.Peer)

	// A late challenge for the departed peer is ignored.
	authority.send(&common.ChallengeIssue{Peer: id, AnswerRequest: *challenge(1)})
	_, _ = startJoin(t, ts, authority, hint)
}

func TestPendingTimeout(t *testing.T) {
	old := configs.PendingTimeout
	configs.PendingTimeout = 100 * time.Millisecond
	t.Cleanup(func() { configs.PendingTimeout = old })

	s, ts := newTestServer(t, NewMemoryLimiter(10, time.Minute))
	hint := code.MustGenerate().Hint()
	authority := create(t, ts, hint)
	j, id := startJoin(t, ts, authority, hint)

	rep, ok := j.recv().(*common.JoinReply)
	require.True(t, ok)
	assert.False(t, rep.OK)
	j.expectClose(websocket.ClosePolicyViolation)

	notice, ok := authority.recv().(*common.LeaveNotice)
	require.True(t, ok)
	assert.Equal(t, id, notice.Peer)

	s.mutex.Lock()
	assert.Empty(t, s.rooms[hint].pending)
	s.mutex.Unlock()
}

func TestServerClose(t *testing.T) {
	s, ts := newTestServer(t, NewMemoryLimiter(10, time.Minute))
	c := create(t, ts, code.MustGenerate().Hint())
	s.Close()
	c.expectClose(websocket.CloseGoingAway)
}
