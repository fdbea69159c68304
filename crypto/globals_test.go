package crypto

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type shortReader struct{}

func (shortReader) Read([]byte) (int, error) { return 0, errors.New("empty") }

func TestRandomBytes(t *testing.T) {
	b, err := RandomBytes(nil, 32)
	require.NoError(t, err)
	assert.Len(t, b, 32)

	c, err := RandomBytes(nil, 32)
	require.NoError(t, err)
	assert.NotEqual(t, b, c)

	fixed, err := RandomBytes(bytes.NewReader([]byte{1, 2, 3}), 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, fixed)

	_, err = RandomBytes(bytes.NewReader([]byte{1}), 3)
	assert.Error(t, err)

	_, err = RandomBytes(shortReader{}, 1)
	assert.Error(t, err)
}

func TestWipe(t *testing.T) {
	b := []byte{1, 2, 3, 4}
	Wipe(b)
	assert.Equal(t, []byte{0, 0, 0, 0}, b)

	Wipe(nil)
}
