package lmqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLink is an in-memory, non-blocking transport double: Write appends to
// out, Read drains in. Read reports StatusWouldBlock once in is empty and
// Write always accepts everything, letting tests drive RunOnce tick by tick
// exactly like a real event loop would.
type fakeLink struct {
	out []byte
	in  []byte
}

func (l *fakeLink) write() WriteFunc {
	return func(src []byte) (int, IOStatus, error) {
		l.out = append(l.out, src...)
		return len(src), StatusSuccess, nil
	}
}

func (l *fakeLink) read() ReadFunc {
	return func(dst []byte) (int, IOStatus, error) {
		if len(l.in) == 0 {
			return 0, StatusWouldBlock, nil
		}
		n := copy(dst, l.in)
		l.in = l.in[n:]
		return n, StatusSuccess, nil
	}
}

func fakeClock(sec *int64) ClockFunc {
	return func() (int64, int32) { return *sec, 0 }
}

func newTestClient(t *testing.T, link *fakeLink, clockSec *int64, cb RxCallbacks) *Client {
	c, err := NewClient(
		WithTransport(link.read(), link.write()),
		WithClock(fakeClock(clockSec)),
		WithCallbacks(cb),
		WithKeepAlive(0),
	)
	require.Nil(t, err)
	return c
}

func TestClientConnectAndPublishFlow(t *testing.T) {
	link := &fakeLink{}
	var clock int64
	var connected bool
	c := newTestClient(t, link, &clock, RxCallbacks{
		OnConnack: func(sessionPresent bool, retCode byte) bool {
			connected = true
			return true
		},
	})

	require.Nil(t, c.Connect(ConnectParams{ClientID: sliceStringSource("dev")}))
	assert.Equal(t, StateConnecting, c.State())

	_, err := c.RunOnce()
	require.Nil(t, err)
	require.NotEmpty(t, link.out)
	assert.Equal(t, byte(ptConnect)<<4, link.out[0])

	link.in = []byte{byte(ptConnack) << 4, 2, 0, 0}
	_, err = c.RunOnce()
	require.Nil(t, err)
	assert.True(t, connected)
	assert.Equal(t, StateConnected, c.State())

	link.out = nil
	var pubAcked bool
	require.Nil(t, c.Publish(sliceStringSource("a"), sliceStringSource("v"), 1, false, func(error) bool {
		pubAcked = true
		return true
	}))
	_, err = c.RunOnce()
	require.Nil(t, err)
	require.NotEmpty(t, link.out)
	assert.Equal(t, byte(ptPublish)<<4|(1<<1), link.out[0])

	id := b16(link.out[len(link.out)-3], link.out[len(link.out)-2])
	link.in = []byte{byte(ptPuback) << 4, 2, byte(id >> 8), byte(id)}
	_, err = c.RunOnce()
	require.Nil(t, err)
	assert.True(t, pubAcked)
	assert.Equal(t, 0, c.store.Len())
}

func TestClientConnectRefusedFails(t *testing.T) {
	link := &fakeLink{}
	var clock int64
	c := newTestClient(t, link, &clock, RxCallbacks{})
	require.Nil(t, c.Connect(ConnectParams{ClientID: sliceStringSource("dev")}))
	_, err := c.RunOnce()
	require.Nil(t, err)

	link.in = []byte{byte(ptConnack) << 4, 2, 0, 2} // identifier rejected.
	_, err = c.RunOnce()
	require.NotNil(t, err)
	assert.Equal(t, ErrConnackIdentifierRejected, err.Code)
	assert.Equal(t, StateFailed, c.State())
}

func TestClientResetAfterFailure(t *testing.T) {
	link := &fakeLink{}
	var clock int64
	c := newTestClient(t, link, &clock, RxCallbacks{})
	require.Nil(t, c.Connect(ConnectParams{ClientID: sliceStringSource("dev")}))
	c.RunOnce()
	link.in = []byte{byte(ptConnack) << 4, 2, 0, 3}
	c.RunOnce()
	require.Equal(t, StateFailed, c.State())

	require.Nil(t, c.Reset())
	assert.Equal(t, StateInitial, c.State())
}

func TestClientFinalizeIsSticky(t *testing.T) {
	link := &fakeLink{}
	var clock int64
	c := newTestClient(t, link, &clock, RxCallbacks{})
	c.Finalize()
	err := c.Reset()
	require.NotNil(t, err)
	assert.Equal(t, ErrClosed, err.Code)
}

func TestClientPublishBeforeConnectedRejected(t *testing.T) {
	link := &fakeLink{}
	var clock int64
	c := newTestClient(t, link, &clock, RxCallbacks{})
	err := c.Publish(sliceStringSource("a"), sliceStringSource("b"), 0, false, nil)
	require.NotNil(t, err)
	assert.Equal(t, ErrClosed, err.Code)
}
