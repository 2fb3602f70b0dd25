package lmqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemainingLengthRoundTrip(t *testing.T) {
	cases := []struct {
		value uint32
		size  int
	}{
		{0, 1},
		{127, 1},
		{128, 2},
		{16383, 2},
		{16384, 3},
		{2097151, 3},
		{2097152, 4},
		{maxRemainingLength, 4},
	}
	for _, tc := range cases {
		var buf [4]byte
		n := putRemainingLength(tc.value, buf[:])
		assert.Equal(t, tc.size, n, "value=%d", tc.value)
		assert.Equal(t, tc.size, sizeRemainingLength(tc.value))

		var dec remainingLengthDecoder
		var done bool
		for i := 0; i < n; i++ {
			var err *Error
			done, err = dec.step(buf[i])
			require.Nil(t, err)
		}
		require.True(t, done)
		assert.Equal(t, tc.value, dec.value)
	}
}

func TestRemainingLengthTooLong(t *testing.T) {
	var dec remainingLengthDecoder
	// Four length bytes are the most the field may use; the fifth is rejected.
	for i := 0; i < 4; i++ {
		_, err := dec.step(0x80)
		require.Nil(t, err)
	}
	_, err := dec.step(0x80)
	require.NotNil(t, err)
	assert.Equal(t, ErrDecodeFixedHeaderInvalidRemainingLength, err.Code)
}

func TestPacketTypeFlagValidation(t *testing.T) {
	assert.True(t, ptPubrel.validateFlags(0b0010))
	assert.False(t, ptPubrel.validateFlags(0))
	assert.True(t, ptConnect.validateFlags(0))
	assert.False(t, ptConnect.validateFlags(1))
	assert.False(t, ptPublish.validateFlags(0b0110)) // qos==3 is invalid.
}

func TestClientSendableType(t *testing.T) {
	assert.True(t, clientSendableType(ptConnack))
	assert.True(t, clientSendableType(ptSuback))
	assert.False(t, clientSendableType(ptConnect))
	assert.False(t, clientSendableType(ptSubscribe))
}
