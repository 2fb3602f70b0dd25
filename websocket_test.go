package lmqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWsFrameHeaderRoundTripSmall(t *testing.T) {
	var mask [4]byte = [4]byte{1, 2, 3, 4}
	var dst [16]byte
	n := encodeWsFrameHeader(dst[:], 5, mask)
	assert.Equal(t, 6, n) // 2 byte header + 4 byte mask, length < 126.

	// encodeWsFrameHeader always sets the MASK bit (client frames must be
	// masked), so decodeWsFrameHeader -- which only accepts unmasked server
	// frames -- is exercised against a server-style header built by hand.
	server := []byte{0x82, 5} // FIN=1, opcode=binary, unmasked, len=5.
	h, ok, err := decodeWsFrameHeader(server)
	require.Nil(t, err)
	require.True(t, ok)
	assert.True(t, h.Fin)
	assert.EqualValues(t, wsOpBinary, h.Opcode)
	assert.False(t, h.Masked)
	assert.EqualValues(t, 5, h.Length)
	assert.Equal(t, 2, h.HdrSize)
}

func TestWsFrameHeaderExtended16(t *testing.T) {
	buf := []byte{0x82, 126, 0x01, 0x00} // length 256.
	h, ok, err := decodeWsFrameHeader(buf)
	require.Nil(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 256, h.Length)
	assert.Equal(t, 4, h.HdrSize)
}

func TestWsFrameHeaderRejectsMaskedServerFrame(t *testing.T) {
	buf := []byte{0x82, 0x85, 1, 2, 3, 4}
	_, _, err := decodeWsFrameHeader(buf)
	require.NotNil(t, err)
	assert.Equal(t, ErrWSFrameServerMasked, err.Code)
}

func TestWsFrameHeaderRejectsFragmented(t *testing.T) {
	buf := []byte{0x02, 5} // FIN=0.
	_, _, err := decodeWsFrameHeader(buf)
	require.NotNil(t, err)
	assert.Equal(t, ErrWSFrameNotFinal, err.Code)
}

func TestMaskXORRoundTrip(t *testing.T) {
	mask := [4]byte{0xAA, 0xBB, 0xCC, 0xDD}
	data := []byte("hello world")
	orig := append([]byte(nil), data...)
	maskXOR(data, mask, 0)
	assert.NotEqual(t, orig, data)
	maskXOR(data, mask, 0)
	assert.Equal(t, orig, data)
}

func TestWsHandshakeScannerAcceptsValidResponse(t *testing.T) {
	key := [16]byte{}
	for i := range key {
		key[i] = byte(i)
	}
	params := WsHandshakeParams{Host: "broker.example", Path: "/mqtt", Key: key}
	accept := wsHandshakeExpectedAccept(params)

	resp := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + accept + "\r\n" +
		"\r\n"

	scanner := newWsHandshakeScanner(make([]byte, 256))
	var status IOStatus
	var err *Error
	for i := 0; i < len(resp); i++ {
		status, err = scanner.Feed(resp[i])
		require.Nil(t, err)
		if status == StatusSuccess {
			break
		}
	}
	require.Equal(t, StatusSuccess, status)
	require.Nil(t, scanner.ValidateAccept(params))
}

func TestWsHandshakeScannerRejectsBadAccept(t *testing.T) {
	params := WsHandshakeParams{Host: "h", Path: "/"}
	resp := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Sec-WebSocket-Accept: not-the-right-value\r\n" +
		"\r\n"
	scanner := newWsHandshakeScanner(make([]byte, 256))
	for i := 0; i < len(resp); i++ {
		status, err := scanner.Feed(resp[i])
		require.Nil(t, err)
		if status == StatusSuccess {
			break
		}
	}
	err := scanner.ValidateAccept(params)
	require.NotNil(t, err)
	assert.Equal(t, ErrWSHandshakeInvalidResponseKey, err.Code)
}
