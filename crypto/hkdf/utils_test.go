package hkdf

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKeyFromSecret(t *testing.T) {
	secret := bytes.Repeat([]byte{1}, 32)

	a, err := NewKeyFromSecret(secret, []byte("label/a"), 32)
	require.NoError(t, err)
	assert.Len(t, a, 32)

	again, err := NewKeyFromSecret(secret, []byte("label/a"), 32)
	require.NoError(t, err)
	assert.Equal(t, a, again)

	b, err := NewKeyFromSecret(secret, []byte("label/b"), 32)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	_, err = NewKeyFromSecret(secret, nil, 255*32+1)
	assert.Error(t, err)
}
