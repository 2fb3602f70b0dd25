package lmqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedAll(t *testing.T, c *rxCodec, buf []byte) (IOStatus, *Error) {
	off := 0
	var status IOStatus
	var err *Error
	for off < len(buf) {
		status, err = c.Feed(buf, &off)
		if status != StatusWouldBlock || err != nil {
			return status, err
		}
	}
	return status, err
}

func TestRxCodecConnackAccepted(t *testing.T) {
	var got struct{ present bool; code byte }
	c := &rxCodec{cb: RxCallbacks{OnConnack: func(sessionPresent bool, retCode byte) bool {
		got.present, got.code = sessionPresent, retCode
		return true
	}}}
	buf := []byte{byte(ptConnack) << 4, 2, 1, 0}
	status, err := feedAll(t, c, buf)
	require.Nil(t, err)
	assert.Equal(t, StatusSuccess, status)
	assert.True(t, got.present)
	assert.Equal(t, byte(0), got.code)
}

func TestRxCodecConnackInvalidReturnCode(t *testing.T) {
	c := &rxCodec{}
	buf := []byte{byte(ptConnack) << 4, 2, 0, 6}
	_, err := feedAll(t, c, buf)
	require.NotNil(t, err)
	assert.Equal(t, ErrDecodeConnackInvalidReturnCode, err.Code)
}

func TestRxCodecPublishQoS0Borrowed(t *testing.T) {
	var topic, payload string
	c := &rxCodec{cb: RxCallbacks{OnPublish: func(top, pl StringView, qos byte, retain, dup bool, id uint16) bool {
		topic = string(top.Bytes)
		payload = string(pl.Bytes)
		return true
	}}}
	body := []byte{0, 3, 'a', '/', 'b', 'h', 'i'}
	buf := append([]byte{byte(ptPublish) << 4, byte(len(body))}, body...)
	status, err := feedAll(t, c, buf)
	require.Nil(t, err)
	assert.Equal(t, StatusSuccess, status)
	assert.Equal(t, "a/b", topic)
	assert.Equal(t, "hi", payload)
}

func TestRxCodecPublishQoS1CarriesPacketID(t *testing.T) {
	var gotID uint16
	var gotQoS byte
	c := &rxCodec{cb: RxCallbacks{OnPublish: func(top, pl StringView, qos byte, retain, dup bool, id uint16) bool {
		gotID, gotQoS = id, qos
		return true
	}}}
	body := []byte{0, 1, 't', 0x00, 0x2A, 'x'}
	flags := byte(1 << 1)
	buf := append([]byte{byte(ptPublish)<<4 | flags, byte(len(body))}, body...)
	_, err := feedAll(t, c, buf)
	require.Nil(t, err)
	assert.Equal(t, uint16(42), gotID)
	assert.Equal(t, byte(1), gotQoS)
}

func TestRxCodecSubackReturnsCodes(t *testing.T) {
	var gotID uint16
	var gotCodes []byte
	c := &rxCodec{cb: RxCallbacks{OnSuback: func(id uint16, codes []byte) bool {
		gotID = id
		gotCodes = append([]byte(nil), codes...)
		return true
	}}}
	buf := []byte{byte(ptSuback) << 4, 4, 0, 5, 0, 1}
	status, err := feedAll(t, c, buf)
	require.Nil(t, err)
	assert.Equal(t, StatusSuccess, status)
	assert.Equal(t, uint16(5), gotID)
	assert.Equal(t, []byte{0, 1}, gotCodes)
}

func TestRxCodecRejectsServerSpecificType(t *testing.T) {
	c := &rxCodec{}
	buf := []byte{byte(ptSubscribe)<<4 | 0b0010, 0}
	_, err := feedAll(t, c, buf)
	require.NotNil(t, err)
	assert.Equal(t, ErrDecodeFixedHeaderServerSpecific, err.Code)
}

func TestRxCodecResumesAcrossPartialFeeds(t *testing.T) {
	var gotPayload string
	c := &rxCodec{cb: RxCallbacks{OnPublish: func(top, pl StringView, qos byte, retain, dup bool, id uint16) bool {
		gotPayload = string(pl.Bytes)
		return true
	}}}
	body := []byte{0, 1, 'q', '0', '1', '2', '3', '4'}
	full := append([]byte{byte(ptPublish) << 4, byte(len(body))}, body...)

	off := 0
	for _, chunkLen := range []int{1, 1, 2, 3, len(full)} {
		end := off + chunkLen
		if end > len(full) {
			end = len(full)
		}
		sub := full[:end]
		localOff := off
		status, err := c.Feed(sub, &localOff)
		require.Nil(t, err)
		off = localOff
		if status == StatusSuccess {
			break
		}
	}
	assert.Equal(t, "01234", gotPayload)
}
