package client

import (
	"context"
	"testing"

	"oasis/code"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinRoomFailureClearsCode(t *testing.T) {
	app := NewChatApp(Config{URL: "ws://127.0.0.1:1/ws", User: "alice", Logger: quietLogger()})
	require.False(t, app.hasCode())

	err := app.joinRoom(context.Background(), code.MustGenerate())
	assert.Error(t, err)
	assert.False(t, app.hasCode(), "the layout must show the prompt again")
	assert.Nil(t, app.conn)
}
