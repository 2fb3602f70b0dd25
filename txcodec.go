package lmqtt

// MaxSubscriptions bounds how many topic filters a single SUBSCRIBE or
// UNSUBSCRIBE call can batch, so the TX codec's scratch header buffer can be
// sized statically instead of growing.
const MaxSubscriptions = 8

var mqttProtocolName = []byte("MQTT")

// Subscription pairs a topic filter with the QoS requested for it, used both
// to build a SUBSCRIBE packet and to validate the SUBACK reply against it.
type Subscription struct {
	Filter StringSource
	QoS    byte
}

// ConnectParams carries every CONNECT variable-header and payload field.
// Username, Password, WillTopic and WillMessage may be nil to omit the
// corresponding optional field.
type ConnectParams struct {
	ClientID     StringSource
	CleanSession bool
	KeepAlive    uint16
	Username     StringSource
	Password     StringSource
	WillTopic    StringSource
	WillMessage  StringSource
	WillQoS      byte
	WillRetain   bool
}

func (c *ConnectParams) flags() byte {
	var f byte
	if c.CleanSession {
		f |= 0x02
	}
	if c.WillTopic != nil {
		f |= 0x04
		f |= (c.WillQoS & 0x3) << 3
		if c.WillRetain {
			f |= 0x20
		}
	}
	if c.Username != nil {
		f |= 0x80
	}
	if c.Password != nil {
		f |= 0x40
	}
	return f
}

// txChunk is one contiguous span of bytes in a packet's encode recipe:
// either a literal slice (header fields the codec computed itself) or a
// StringSource the host supplies (client ids, topics, payloads, ...).
type txChunk struct {
	buf []byte
	src StringSource
}

func (c *txChunk) size() int {
	if c.src != nil {
		return c.src.Len()
	}
	return len(c.buf)
}

func (c *txChunk) readAt(dst []byte, off int) (int, error) {
	if c.src != nil {
		return c.src.ReadStringAt(dst, off)
	}
	return copy(dst, c.buf[off:]), nil
}

const txMaxChunks = 4 + 3*MaxSubscriptions

// txCodec encodes one outbound packet at a time, resuming exactly where a
// previous WouldBlock left off. All backing storage is fixed-size; building
// a new recipe never allocates.
type txCodec struct {
	scratch [96]byte
	nscr    int

	recipe  [txMaxChunks]txChunk
	nchunks int

	chunkIdx int // resume cursor: which chunk we're on.
	offset   int // resume cursor: how far into that chunk.
	active   bool
}

func (c *txCodec) take(n int) []byte {
	b := c.scratch[c.nscr : c.nscr+n]
	c.nscr += n
	return b
}

func (c *txCodec) push(buf []byte) {
	c.recipe[c.nchunks] = txChunk{buf: buf}
	c.nchunks++
}

func (c *txCodec) pushSrc(src StringSource) {
	c.recipe[c.nchunks] = txChunk{src: src}
	c.nchunks++
}

// pushString appends a 2 byte big-endian length prefix followed by src.
func (c *txCodec) pushString(src StringSource) {
	n := src.Len()
	prefix := c.take(2)
	prefix[0] = byte(n >> 8)
	prefix[1] = byte(n)
	c.push(prefix)
	c.pushSrc(src)
}

func (c *txCodec) remainingLength() uint32 {
	var n int
	for i := 1; i < c.nchunks; i++ { // chunk 0 is always the fixed header.
		n += c.recipe[i].size()
	}
	return uint32(n)
}

// Size returns the total encoded length of the current packet, fixed header
// included, used to size the WebSocket frame header wrapping it.
func (c *txCodec) Size() int {
	var n int
	for i := 0; i < c.nchunks; i++ {
		n += c.recipe[i].size()
	}
	return n
}

// begin builds the recipe for e and resets the resume cursor. It must only
// be called when the codec is not already mid-encode (active==false).
func (c *txCodec) begin(e *storeEntry) *Error {
	c.nscr = 0
	c.nchunks = 0
	c.chunkIdx = 0
	c.offset = 0

	// Reserve 5 scratch bytes for the fixed header; patched in once the
	// remaining length is known, after the rest of the recipe is built.
	fixedHdr := c.take(5)
	c.push(fixedHdr[:0])

	pt, flags, err := c.buildBody(e)
	if err != nil {
		return err
	}

	rl := c.remainingLength()
	fixedHdr[0] = byte(pt)<<4 | flags
	rlLen := putRemainingLength(rl, fixedHdr[1:])
	c.recipe[0].buf = fixedHdr[:1+rlLen]

	c.active = true
	return nil
}

func (c *txCodec) buildBody(e *storeEntry) (packetType, byte, *Error) {
	switch e.kind {
	case KindConnect:
		return c.buildConnect(e.connectParams())
	case KindPublishQoS0, KindPublishQoS1, KindPublishQoS2:
		return c.buildPublish(e)
	case KindPubAck:
		return c.buildIdentified(ptPuback, 0, e.packetID)
	case KindPubRec:
		return c.buildIdentified(ptPubrec, 0, e.packetID)
	case KindPubRel:
		return c.buildIdentified(ptPubrel, 0b0010, e.packetID)
	case KindPubComp:
		return c.buildIdentified(ptPubcomp, 0, e.packetID)
	case KindSubscribe:
		return c.buildSubscribe(e)
	case KindUnsubscribe:
		return c.buildUnsubscribe(e)
	case KindPingReq:
		return ptPingreq, 0, nil
	case KindDisconnect:
		return ptDisconnect, 0, nil
	default:
		return 0, 0, newError("txCodec.begin", ErrDecodeFixedHeaderInvalidType)
	}
}

func (c *txCodec) buildConnect(p *ConnectParams) (packetType, byte, *Error) {
	c.pushString(sliceStringSource(mqttProtocolName))
	static := c.take(4)
	static[0] = 4 // protocol level, MQTT 3.1.1.
	static[1] = p.flags()
	static[2] = byte(p.KeepAlive >> 8)
	static[3] = byte(p.KeepAlive)
	c.push(static)

	c.pushString(p.ClientID)
	if p.WillTopic != nil {
		c.pushString(p.WillTopic)
		msg := p.WillMessage
		if msg == nil {
			msg = sliceStringSource(nil) // a nil will message is sent as an empty one.
		}
		c.pushString(msg)
	}
	if p.Username != nil {
		c.pushString(p.Username)
	}
	if p.Password != nil {
		c.pushString(p.Password)
	}
	return ptConnect, 0, nil
}

func (c *txCodec) buildPublish(e *storeEntry) (packetType, byte, *Error) {
	c.pushString(e.topic)
	if e.qos > 0 {
		id := c.take(2)
		id[0] = byte(e.packetID >> 8)
		id[1] = byte(e.packetID)
		c.push(id)
	}
	c.pushSrc(e.payload)

	var flags byte
	flags = (e.qos & 0x3) << 1
	if e.retain {
		flags |= 0x01
	}
	if e.dup {
		flags |= 0x08
	}
	return ptPublish, flags, nil
}

func (c *txCodec) buildIdentified(pt packetType, flags byte, id uint16) (packetType, byte, *Error) {
	b := c.take(2)
	b[0] = byte(id >> 8)
	b[1] = byte(id)
	c.push(b)
	return pt, flags, nil
}

func (c *txCodec) buildSubscribe(e *storeEntry) (packetType, byte, *Error) {
	id := c.take(2)
	id[0] = byte(e.packetID >> 8)
	id[1] = byte(e.packetID)
	c.push(id)
	for _, sub := range e.subs {
		c.pushString(sub.Filter)
		q := c.take(1)
		q[0] = sub.QoS & 0x3
		c.push(q)
	}
	return ptSubscribe, 0b0010, nil
}

func (c *txCodec) buildUnsubscribe(e *storeEntry) (packetType, byte, *Error) {
	id := c.take(2)
	id[0] = byte(e.packetID >> 8)
	id[1] = byte(e.packetID)
	c.push(id)
	for _, sub := range e.subs {
		c.pushString(sub.Filter)
	}
	return ptUnsubscribe, 0b0010, nil
}

// Encode writes as many bytes of the in-progress packet as fit in dst,
// returning the number written. StatusSuccess with the codec no longer
// Active() means the packet is fully sent. StatusWouldBlock means dst was
// exhausted (n==len(dst)) before the packet completed, or a StringSource
// returned 0 bytes before reaching its Len (n<len(dst)); call again with a
// fresh dst to resume. Errors returned by ReadStringAt are not inspected.
func (c *txCodec) Encode(dst []byte) (n int, status IOStatus) {
	for c.chunkIdx < c.nchunks {
		chunk := &c.recipe[c.chunkIdx]
		size := chunk.size()
		for c.offset < size {
			if n == len(dst) {
				return n, StatusWouldBlock
			}
			got, _ := chunk.readAt(dst[n:], c.offset)
			if got == 0 {
				return n, StatusWouldBlock
			}
			n += got
			c.offset += got
		}
		c.chunkIdx++
		c.offset = 0
	}
	c.active = false
	return n, StatusSuccess
}

// Active reports whether a packet is currently mid-encode.
func (c *txCodec) Active() bool { return c.active }

// connectParams returns the CONNECT parameters stored on the entry; it is
// nil for every kind other than KindConnect.
func (e *storeEntry) connectParams() *ConnectParams {
	return e.connect
}
