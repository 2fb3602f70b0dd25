package lmqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDSetPutIdempotentRejecting(t *testing.T) {
	s := newIDSet(2)
	require.True(t, s.Put(5))
	require.False(t, s.Put(5))
	assert.Equal(t, 1, s.Len())
}

func TestIDSetFull(t *testing.T) {
	s := newIDSet(2)
	require.True(t, s.Put(1))
	require.True(t, s.Put(2))
	assert.True(t, s.Full())
	assert.False(t, s.Put(3))
	s.Remove(1)
	assert.False(t, s.Full())
	assert.True(t, s.Put(3))
}

func TestIDSetContainsAfterRemove(t *testing.T) {
	s := newIDSet(4)
	s.Put(9)
	assert.True(t, s.Contains(9))
	s.Remove(9)
	assert.False(t, s.Contains(9))
}
