package lmqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeAll(t *testing.T, c *txCodec, e *storeEntry) []byte {
	require.Nil(t, c.begin(e))
	var out []byte
	buf := make([]byte, 1024)
	for {
		n, status := c.Encode(buf)
		out = append(out, buf[:n]...)
		if status == StatusSuccess {
			break
		}
	}
	assert.False(t, c.Active())
	return out
}

func TestTxCodecPublishQoS0(t *testing.T) {
	var c txCodec
	e := &storeEntry{
		kind:  KindPublishQoS0,
		topic: sliceStringSource("a/b"),
		payload: sliceStringSource("hi"),
	}
	out := encodeAll(t, &c, e)

	want := []byte{
		byte(ptPublish) << 4, 7, // fixed header: type|flags=0, remaining length 7.
		0, 3, 'a', '/', 'b', // topic.
		'h', 'i', // payload.
	}
	assert.Equal(t, want, out)
}

func TestTxCodecPublishQoS1WithDup(t *testing.T) {
	var c txCodec
	e := &storeEntry{
		kind: KindPublishQoS1, packetID: 0x0102, qos: 1, dup: true,
		topic:   sliceStringSource("t"),
		payload: sliceStringSource("x"),
	}
	out := encodeAll(t, &c, e)
	wantFlags := byte(0x08 | (1 << 1))
	assert.Equal(t, byte(ptPublish)<<4|wantFlags, out[0])
	assert.Equal(t, byte(6), out[1]) // 2(topiclen)+1(topic)+2(id)+1(payload).
	assert.Equal(t, []byte{0, 1, 't', 1, 2, 'x'}, out[2:])
}

func TestTxCodecConnect(t *testing.T) {
	var c txCodec
	e := &storeEntry{
		kind: KindConnect,
		connect: &ConnectParams{
			ClientID:     sliceStringSource("dev1"),
			CleanSession: true,
			KeepAlive:    60,
		},
	}
	out := encodeAll(t, &c, e)
	assert.Equal(t, byte(ptConnect)<<4, out[0])
	// Variable header: "MQTT"(6) + level(1) + flags(1) + keepalive(2) = 10; payload: clientid(2+4)=6. total 16.
	assert.Equal(t, byte(16), out[1])
	assert.Equal(t, []byte{0, 4, 'M', 'Q', 'T', 'T'}, out[2:8])
	assert.Equal(t, byte(4), out[8])    // protocol level.
	assert.Equal(t, byte(0x02), out[9]) // clean session bit only.
	assert.Equal(t, []byte{0, 60}, out[10:12])
	assert.Equal(t, []byte{0, 4, 'd', 'e', 'v', '1'}, out[12:])
}

func TestTxCodecResumesAcrossSmallBuffers(t *testing.T) {
	var c txCodec
	e := &storeEntry{
		kind:    KindPublishQoS0,
		topic:   sliceStringSource("topic"),
		payload: sliceStringSource("0123456789"),
	}
	require.Nil(t, c.begin(e))
	var out []byte
	tiny := make([]byte, 3)
	for {
		n, status := c.Encode(tiny)
		out = append(out, tiny[:n]...)
		if status == StatusSuccess {
			break
		}
		assert.Equal(t, StatusWouldBlock, status)
		assert.Equal(t, 3, n)
	}
	full := encodeAllFresh(t, KindPublishQoS0, "topic", "0123456789")
	assert.Equal(t, full, out)
}

func encodeAllFresh(t *testing.T, kind PacketKind, topic, payload string) []byte {
	var c txCodec
	e := &storeEntry{kind: kind, topic: sliceStringSource(topic), payload: sliceStringSource(payload)}
	return encodeAll(t, &c, e)
}

func TestTxCodecSubscribe(t *testing.T) {
	var c txCodec
	e := &storeEntry{
		kind:     KindSubscribe,
		packetID: 10,
		subs: []Subscription{
			{Filter: sliceStringSource("a"), QoS: 1},
			{Filter: sliceStringSource("b/c"), QoS: 2},
		},
	}
	out := encodeAll(t, &c, e)
	assert.Equal(t, byte(ptSubscribe)<<4|0b0010, out[0])
	assert.Equal(t, []byte{0, 10}, out[2:4])
	assert.Equal(t, []byte{0, 1, 'a', 1}, out[4:8])
	assert.Equal(t, []byte{0, 3, 'b', '/', 'c', 2}, out[8:])
}
