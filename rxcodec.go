package lmqtt

// RxCallbacks are the host hooks fired as the RX codec decodes each inbound
// packet kind. Callbacks that return a bool signal protocol-layer
// acceptance; returning false aborts the current packet with
// ErrCallbackConnack (OnConnack), ErrCallbackSuback (OnSuback),
// ErrCallbackUnsuback (OnUnsuback), ErrCallbackPublish (OnPuback, OnPubrec,
// OnPubrel, OnPubcomp) or ErrDecodePublishMessageCallbackFailed (OnPublish).
// The result of OnPingresp is not checked.
type RxCallbacks struct {
	OnConnack  func(sessionPresent bool, returnCode byte) bool
	OnPublish  func(topic, payload StringView, qos byte, retain, dup bool, packetID uint16) bool
	OnPuback   func(packetID uint16) bool
	OnPubrec   func(packetID uint16) bool
	OnPubrel   func(packetID uint16) bool
	OnPubcomp  func(packetID uint16) bool
	OnSuback   func(packetID uint16, returnCodes []byte) bool
	OnUnsuback func(packetID uint16) bool
	OnPingresp func() bool

	AllocateTopic   AllocateTopicFunc
	AllocatePayload AllocatePayloadFunc
	Deallocate      DeallocateFunc
}

// minRemainingLength is the smallest legal remaining-length for each
// server-sendable packet type, used to reject truncated packets early.
var minRemainingLength = map[packetType]uint32{
	ptConnack:  2,
	ptPuback:   2,
	ptPubrec:   2,
	ptPubrel:   2,
	ptPubcomp:  2,
	ptSuback:   3,
	ptUnsuback: 2,
	ptPingresp: 0,
	ptPublish:  3, // QoS 0 with a 1-byte topic; startTopic also counts the QoS 1/2 packet id.
}

type rxStage uint8

const (
	rxFixedHeaderByte0 rxStage = iota
	rxRemainingLength
	rxBodyGeneric    // CONNACK/PUBACK/PUBREC/PUBREL/PUBCOMP/UNSUBACK: fixed 2 bytes, then emit.
	rxSubackPacketID
	rxSubackCodes
	rxPublishTopicLen0
	rxPublishTopicLen1
	rxPublishTopic
	rxPublishPacketID0
	rxPublishPacketID1
	rxPublishPayload
	rxDone
)

// rxCodec decodes one inbound packet at a time from a byte stream, resuming
// across WouldBlock reads at exactly the byte it stopped on. It owns no
// heap-growable storage: strings are either borrowed from the caller's RX
// buffer or streamed through a host-supplied StringSink.
type rxCodec struct {
	cb RxCallbacks

	stage rxStage

	pt    packetType
	flags byte

	rlen    remainingLengthDecoder
	bodyLen uint32
	read    uint32 // bytes of body consumed so far, across every field.

	generic [2]byte
	gpos    int

	packetID uint16

	subCodes [MaxSubscriptions]byte
	subN     int
	subOverflow bool

	topicLen    uint16
	topicGot    uint16
	topicBorrow []byte // sliced from the RX buffer, valid only until the next Feed call returns a borrowed view.
	topicSink   StringSink
	topicStream bool

	payloadGot    uint32
	payloadBorrow []byte
	payloadSink   StringSink
	payloadStream bool

	rxBuf    []byte // entire caller buffer passed to Feed, for borrow-mode slicing.
	rxOffset int    // start offset within rxBuf of the current borrowed region.
}

func (c *rxCodec) resetPacket() {
	c.stage = rxFixedHeaderByte0
	c.rlen.reset()
	c.bodyLen = 0
	c.read = 0
	c.gpos = 0
	c.subN = 0
	c.subOverflow = false
	c.topicGot = 0
	c.topicBorrow = nil
	c.topicSink = nil
	c.topicStream = false
	c.payloadGot = 0
	c.payloadBorrow = nil
	c.payloadSink = nil
	c.payloadStream = false
}

// Feed advances decode by consuming bytes from buf starting at *off, up to
// the point where one full packet has been decoded and its callback fired,
// or buf is exhausted. It returns StatusWouldBlock when buf ran out
// mid-packet (call again once more bytes have arrived, with *off reset to
// 0 for the new buffer), StatusSuccess once a packet completed, and
// StatusError on a protocol violation.
func (c *rxCodec) Feed(buf []byte, off *int) (status IOStatus, err *Error) {
	c.rxBuf = buf
	// A PUBLISH whose payload is empty completes even when buf is exhausted.
	for *off < len(buf) || (c.stage == rxPublishPayload && c.read == c.bodyLen) {
		var b byte
		if *off < len(buf) {
			b = buf[*off]
		}
		switch c.stage {
		case rxFixedHeaderByte0:
			c.pt = packetType(b >> 4)
			c.flags = b & 0x0F
			*off++
			if c.pt == ptReserved || c.pt >= ptMax {
				return StatusError, newError("rxCodec.Feed", ErrDecodeFixedHeaderInvalidType)
			}
			if !clientSendableType(c.pt) {
				return StatusError, newError("rxCodec.Feed", ErrDecodeFixedHeaderServerSpecific)
			}
			if !c.pt.validateFlags(c.flags) {
				return StatusError, newError("rxCodec.Feed", ErrDecodeFixedHeaderInvalidFlags)
			}
			c.stage = rxRemainingLength

		case rxRemainingLength:
			*off++
			done, rerr := c.rlen.step(b)
			if rerr != nil {
				return StatusError, rerr
			}
			if !done {
				continue
			}
			c.bodyLen = c.rlen.value
			if min, ok := minRemainingLength[c.pt]; ok && c.bodyLen < min {
				return StatusError, newError("rxCodec.Feed", ErrDecodeResponseTooShort)
			}
			if c.pt == ptPingresp && c.bodyLen != 0 {
				return StatusError, newError("rxCodec.Feed", ErrDecodeNonzeroRemainingLength)
			}
			if ok := c.enterBody(); !ok {
				return StatusSuccess, nil // zero-length body packet (PINGRESP) completes immediately.
			}

		case rxBodyGeneric:
			*off++
			c.generic[c.gpos] = b
			c.gpos++
			c.read++
			if c.gpos < 2 {
				continue
			}
			if status, err := c.finishGeneric(); err != nil {
				return StatusError, err
			} else if status {
				return StatusSuccess, nil
			}

		case rxSubackPacketID:
			*off++
			c.generic[c.gpos] = b
			c.gpos++
			c.read++
			if c.gpos < 2 {
				continue
			}
			c.packetID = b16(c.generic[0], c.generic[1])
			c.stage = rxSubackCodes

		case rxSubackCodes:
			*off++
			c.read++
			if c.subN < len(c.subCodes) {
				c.subCodes[c.subN] = b
				c.subN++
			} else {
				c.subOverflow = true
			}
			if c.read >= c.bodyLen {
				for _, code := range c.subCodes[:c.subN] {
					if code != 0 && code != 1 && code != 2 && code != 0x80 {
						return StatusError, newError("rxCodec.Feed", ErrDecodeSubackInvalidReturnCode)
					}
				}
				ok := true
				if c.cb.OnSuback != nil {
					ok = c.cb.OnSuback(c.packetID, c.subCodes[:c.subN])
				}
				if !ok {
					return StatusError, newError("rxCodec.Feed", ErrCallbackSuback)
				}
				return StatusSuccess, nil
			}

		case rxPublishTopicLen0:
			*off++
			c.read++
			c.topicLen = uint16(b) << 8
			c.stage = rxPublishTopicLen1

		case rxPublishTopicLen1:
			*off++
			c.read++
			c.topicLen |= uint16(b)
			c.stage = rxPublishTopic
			c.rxOffset = *off
			if c.topicLen == 0 {
				return StatusError, newError("rxCodec.Feed", ErrDecodePublishInvalidLength)
			}
			if err := c.startTopic(); err != nil {
				return StatusError, err
			}

		case rxPublishTopic:
			n := len(buf) - *off
			want := int(c.topicLen - c.topicGot)
			if n > want {
				n = want
			}
			if n == 0 {
				return StatusWouldBlock, nil
			}
			chunk := buf[*off : *off+n]
			if c.topicStream {
				final := c.topicGot+uint16(n) == c.topicLen
				if werr := c.topicSink.WriteString(chunk, final); werr != nil {
					return StatusError, newError("rxCodec.Feed", ErrDecodePublishTopicWriteFailed)
				}
			}
			*off += n
			c.read += uint32(n)
			c.topicGot += uint16(n)
			if c.topicGot == c.topicLen {
				if !c.topicStream {
					c.topicBorrow = buf[c.rxOffset:*off]
				}
				c.afterTopic()
			}

		case rxPublishPacketID0:
			*off++
			c.read++
			c.generic[0] = b
			c.stage = rxPublishPacketID1

		case rxPublishPacketID1:
			*off++
			c.read++
			c.packetID = b16(c.generic[0], b)
			c.enterPayload()

		case rxPublishPayload:
			n := len(buf) - *off
			want := int(c.bodyLen - c.read)
			if n > want {
				n = want
			}
			if n == 0 && want > 0 {
				return StatusWouldBlock, nil
			}
			if n > 0 {
				chunk := buf[*off : *off+n]
				if c.payloadStream {
					final := c.read+uint32(n) == c.bodyLen
					if werr := c.payloadSink.WriteString(chunk, final); werr != nil {
						return StatusError, newError("rxCodec.Feed", ErrDecodePublishPayloadWriteFailed)
					}
				}
				*off += n
				c.read += uint32(n)
				c.payloadGot += uint32(n)
			}
			if c.read == c.bodyLen {
				if !c.payloadStream {
					c.payloadBorrow = buf[*off-int(c.payloadGot) : *off]
				}
				ok := true
				qos := (c.flags >> 1) & 0x3
				retain := c.flags&0x1 != 0
				dup := c.flags&0x8 != 0
				if c.cb.OnPublish != nil {
					ok = c.cb.OnPublish(c.topicView(), c.payloadView(), qos, retain, dup, c.packetID)
					if c.cb.Deallocate != nil {
						if !c.topicStream {
							c.cb.Deallocate(c.topicView())
						}
						if !c.payloadStream {
							c.cb.Deallocate(c.payloadView())
						}
					}
				}
				if !ok {
					return StatusError, newError("rxCodec.Feed", ErrDecodePublishMessageCallbackFailed)
				}
				return StatusSuccess, nil
			}
		}
	}
	return StatusWouldBlock, nil
}

// enterBody dispatches to the right per-type body stage once the fixed
// header is fully decoded. Returns false if the packet has no body at all
// (PINGRESP), in which case the caller should treat it as already complete.
func (c *rxCodec) enterBody() bool {
	switch c.pt {
	case ptPingresp:
		if c.cb.OnPingresp != nil {
			c.cb.OnPingresp()
		}
		return false
	case ptSuback:
		c.gpos = 0
		c.stage = rxSubackPacketID
	case ptPublish:
		c.stage = rxPublishTopicLen0
	default:
		c.gpos = 0
		c.stage = rxBodyGeneric
	}
	return true
}

// finishGeneric handles CONNACK/PUBACK/PUBREC/PUBREL/PUBCOMP/UNSUBACK, all
// of which are exactly 2 body bytes. status=true means the packet is done.
func (c *rxCodec) finishGeneric() (status bool, err *Error) {
	switch c.pt {
	case ptConnack:
		if c.bodyLen != 2 {
			return false, newError("rxCodec.Feed", ErrDecodeConnackInvalidLength)
		}
		ackFlags, retCode := c.generic[0], c.generic[1]
		if ackFlags&0xFE != 0 {
			return false, newError("rxCodec.Feed", ErrDecodeConnackInvalidAckFlags)
		}
		if retCode > 5 {
			return false, newError("rxCodec.Feed", ErrDecodeConnackInvalidReturnCode)
		}
		ok := true
		if c.cb.OnConnack != nil {
			ok = c.cb.OnConnack(ackFlags&0x1 != 0, retCode)
		}
		if !ok {
			return false, newError("rxCodec.Feed", ErrCallbackConnack)
		}
		return true, nil
	case ptPuback, ptPubrec, ptPubrel, ptPubcomp, ptUnsuback:
		id := b16(c.generic[0], c.generic[1])
		ok := true
		switch c.pt {
		case ptPuback:
			if c.cb.OnPuback != nil {
				ok = c.cb.OnPuback(id)
			}
		case ptPubrec:
			if c.cb.OnPubrec != nil {
				ok = c.cb.OnPubrec(id)
			}
		case ptPubrel:
			if c.cb.OnPubrel != nil {
				ok = c.cb.OnPubrel(id)
			}
		case ptPubcomp:
			if c.cb.OnPubcomp != nil {
				ok = c.cb.OnPubcomp(id)
			}
		case ptUnsuback:
			if c.cb.OnUnsuback != nil {
				ok = c.cb.OnUnsuback(id)
			}
		}
		if !ok {
			if c.pt == ptUnsuback {
				return false, newError("rxCodec.Feed", ErrCallbackUnsuback)
			}
			return false, newError("rxCodec.Feed", ErrCallbackPublish)
		}
		return true, nil
	}
	return true, nil
}

func (c *rxCodec) startTopic() *Error {
	need := 2 + uint32(c.topicLen)
	if (c.flags>>1)&0x3 > 0 {
		need += 2 // packet identifier
	}
	if c.bodyLen < need {
		return newError("rxCodec.Feed", ErrDecodePublishInvalidLength)
	}
	res, sink := AllocateBorrow, StringSink(nil)
	if c.cb.AllocateTopic != nil {
		res, sink = c.cb.AllocateTopic(int(c.topicLen))
	}
	switch res {
	case AllocateReject:
		return newError("rxCodec.Feed", ErrDecodePublishTopicAllocateFailed)
	case AllocateStream:
		c.topicStream = true
		c.topicSink = sink
	}
	return nil
}

func (c *rxCodec) afterTopic() {
	qos := (c.flags >> 1) & 0x3
	if qos == 0 {
		c.enterPayload()
		return
	}
	c.stage = rxPublishPacketID0
}

func (c *rxCodec) enterPayload() {
	payloadLen := c.bodyLen - c.read
	res, sink := AllocateBorrow, StringSink(nil)
	if c.cb.AllocatePayload != nil {
		res, sink = c.cb.AllocatePayload(int(payloadLen))
	}
	switch res {
	case AllocateStream:
		c.payloadStream = true
		c.payloadSink = sink
	}
	c.stage = rxPublishPayload
}

func (c *rxCodec) topicView() StringView {
	if c.topicStream {
		return StringView{Len: int(c.topicLen)}
	}
	return BytesStringView(c.topicBorrow)
}

func (c *rxCodec) payloadView() StringView {
	if c.payloadStream {
		return StringView{Len: int(c.payloadGot)}
	}
	return BytesStringView(c.payloadBorrow)
}

func b16(hi, lo byte) uint16 { return uint16(hi)<<8 | uint16(lo) }
