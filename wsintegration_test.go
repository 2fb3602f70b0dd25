package lmqtt

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// TestWsHandshakeAgainstGorillaServer drives the handshake request builder
// and scanner against a real gorilla/websocket server, rather than a
// hand-written fixture, so the accept-key derivation and line scanning are
// checked against an independent RFC 6455 implementation.
func TestWsHandshakeAgainstGorillaServer(t *testing.T) {
	upgrader := websocket.Upgrader{Subprotocols: []string{"mqtt"}}
	received := make(chan []byte, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("hi")))
		_, payload, err := conn.ReadMessage()
		if err == nil {
			received <- payload
		}
	}))
	defer srv.Close()

	host := srv.Listener.Addr().String()
	rawConn, err := net.DialTimeout("tcp", host, time.Second)
	require.NoError(t, err)
	defer rawConn.Close()

	params := WsHandshakeParams{Host: host, Path: "/mqtt"}
	for i := range params.Key {
		params.Key[i] = byte(i * 7)
	}

	reqBuf := make([]byte, 512)
	n := wsHandshakeRequest(reqBuf, params)
	_, err = rawConn.Write(reqBuf[:n])
	require.NoError(t, err)

	scanner := newWsHandshakeScanner(make([]byte, 256))
	one := make([]byte, 1)
	for {
		_, err := rawConn.Read(one)
		require.NoError(t, err)
		status, ferr := scanner.Feed(one[0])
		require.Nil(t, ferr)
		if status == StatusSuccess {
			break
		}
	}
	require.Nil(t, scanner.ValidateAccept(params))

	hdrBuf := make([]byte, 16)
	nr, err := rawConn.Read(hdrBuf)
	require.NoError(t, err)
	h, ok, ferr := decodeWsFrameHeader(hdrBuf[:nr])
	require.Nil(t, ferr)
	require.True(t, ok)
	require.Equal(t, byte(wsOpBinary), h.Opcode)
	require.Equal(t, uint64(2), h.Length)
	require.Equal(t, "hi", string(hdrBuf[h.HdrSize:nr]))

	mask := [4]byte{0x11, 0x22, 0x33, 0x44}
	payload := []byte("ping")
	frame := make([]byte, 32)
	fn := encodeWsFrameHeader(frame, len(payload), mask)
	body := append([]byte(nil), payload...)
	maskXOR(body, mask, 0)
	copy(frame[fn:], body)
	_, err = rawConn.Write(frame[:fn+len(body)])
	require.NoError(t, err)

	select {
	case got := <-received:
		require.Equal(t, "ping", string(got))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for server to receive masked frame")
	}
}
