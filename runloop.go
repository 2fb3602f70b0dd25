package lmqtt

// RunStatus is a bitmask describing what RunOnce accomplished this tick, so
// a host event loop knows whether to re-poll reads, writes, both, or neither.
type RunStatus uint8

const (
	StatusEOF               RunStatus = 1 << iota // peer closed the connection (ReadFunc returned n==0, StatusSuccess, nil error).
	StatusWouldBlockConnRd                         // host ReadFunc would block; re-poll for readability.
	StatusWouldBlockConnWr                         // host WriteFunc would block; re-poll for writability.
	StatusWouldBlockDataRd                         // a StringSink's consumer would block; retry once it drains.
	StatusWouldBlockDataWr                         // a StringSource producer has no more bytes ready yet.
	StatusQueueable                                // the store has room; Publish/Subscribe/etc. may be called again.
	StatusClosed                                   // DISCONNECT was fully written; no further packets will be sent.
)

// RunOnce drives one tick of the protocol: it writes whatever is queued for
// send, reads whatever the host has available, and decodes as many complete
// packets as the RX buffer holds. It never blocks; a WouldBlock from either
// callback simply ends that half of the tick early.
func (c *Client) RunOnce() (RunStatus, *Error) {
	if c.state == StateFailed {
		return 0, c.closeErr
	}

	if c.cfg.WebSocket && !c.wsHandshakeDone {
		status, err := c.driveWsHandshake()
		if err != nil {
			return status, c.fail(err)
		}
		if !c.wsHandshakeDone {
			return status, nil
		}
	}

	c.maybeSendKeepAlive()

	if err := c.checkAckTimeout(); err != nil {
		return 0, c.fail(err)
	}

	// Write and read repeat while decoding queued replies (PUBACK, PUBREC,
	// PUBCOMP, ...) and writing is not blocked, so they go out this tick.
	var status RunStatus
	for {
		wstatus, err := c.driveWrite()
		status |= wstatus
		if err != nil {
			return status, c.fail(err)
		}

		rstatus, err := c.driveRead()
		status |= rstatus
		if err != nil {
			return status, c.fail(err)
		}
		if c.state == StateFailed && !c.finalized {
			// A decode callback (e.g. a refused CONNACK) failed the client.
			return status, c.closeErr
		}

		if status&(StatusClosed|StatusWouldBlockConnWr|StatusWouldBlockDataWr) != 0 {
			break
		}
		if _, e := c.store.NextUnmarked(); e == nil {
			break
		}
	}

	if c.store.IsQueueable() {
		status |= StatusQueueable
	}
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.StoreDepth.Set(float64(c.store.Len()))
	}
	return status, nil
}

// checkAckTimeout fails the client with ErrTimeout once the oldest
// ack-pending store entry has outlived the configured ack timeout.
func (c *Client) checkAckTimeout() *Error {
	if c.cfg.AckTimeoutSec <= 0 {
		return nil
	}
	remaining, pending := c.store.GetTimeout(c.now(), c.cfg.AckTimeoutSec)
	if pending && remaining <= 0 {
		return newError("Client.RunOnce", ErrTimeout)
	}
	return nil
}

func (c *Client) maybeSendKeepAlive() {
	if c.state != StateConnected || c.cfg.KeepAliveSec == 0 {
		return
	}
	lastActivity := c.lastTxSec
	if c.lastRxSec > lastActivity {
		lastActivity = c.lastRxSec
	}
	if c.now()-lastActivity >= int64(c.cfg.KeepAliveSec) {
		c.Ping()
	}
}

// driveWrite flushes any packet currently mid-encode, then pulls and encodes
// further store entries until the store is empty or the host's WriteFunc
// would block. With cfg.WebSocket enabled, every packet is wrapped in its
// own single binary WebSocket frame: the frame header goes out first, then
// the packet's bytes masked in place as they're produced.
func (c *Client) driveWrite() (RunStatus, *Error) {
	var status RunStatus
	for {
		if !c.tx.Active() {
			_, e := c.store.NextUnmarked()
			if e == nil {
				return status, nil
			}
			c.sendKind, c.sendPacketID, c.sendCallback = e.kind, e.packetID, e.callback
			if err := c.tx.begin(e); err != nil {
				return status, err
			}
			if c.cfg.WebSocket {
				c.cfg.Mask(&c.wsTxMask)
				c.wsTxHeaderLen = encodeWsFrameHeader(c.wsTxHeader[:], c.tx.Size(), c.wsTxMask)
				c.wsTxHeaderOff = 0
				c.wsTxPayloadOff = 0
			}
		}

		if c.cfg.WebSocket && c.wsTxHeaderOff < c.wsTxHeaderLen {
			for c.wsTxHeaderOff < c.wsTxHeaderLen {
				wn, wstatus, oserr := c.cfg.Write(c.wsTxHeader[c.wsTxHeaderOff:c.wsTxHeaderLen])
				if wstatus == StatusWouldBlock {
					status |= StatusWouldBlockConnWr
					return status, nil
				}
				if wstatus == StatusError {
					return status, wrapError("Client.RunOnce", ErrConnectionWrite, oserr)
				}
				c.wsTxHeaderOff += wn
			}
		}

		n, encStatus := c.tx.Encode(c.cfg.TxBuffer)
		buf := c.cfg.TxBuffer[:n]
		if c.cfg.WebSocket {
			maskXOR(buf, c.wsTxMask, c.wsTxPayloadOff)
		}
		for written := 0; written < n; {
			wn, wstatus, oserr := c.cfg.Write(buf[written:])
			if wstatus == StatusWouldBlock {
				status |= StatusWouldBlockConnWr
				return status, nil
			}
			if wstatus == StatusError {
				return status, wrapError("Client.RunOnce", ErrConnectionWrite, oserr)
			}
			written += wn
		}
		if c.cfg.WebSocket {
			c.wsTxPayloadOff += n
		}
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.BytesSent.Add(float64(n))
		}
		c.lastTxSec = c.now()

		if encStatus == StatusWouldBlock && n < len(c.cfg.TxBuffer) {
			// A StringSource had no bytes ready; Encode resumes from here later.
			status |= StatusWouldBlockDataWr
			return status, nil
		}
		if encStatus == StatusSuccess && !c.tx.Active() {
			c.cfg.Metrics.observeSent(c.sendKind, 0)
			c.finishCurrentSend()
			if c.sendKind == KindDisconnect {
				status |= StatusClosed
				return status, nil
			}
		}
	}
}

// finishCurrentSend is called once a packet has been fully encoded and its
// bytes fully handed to WriteFunc: it retires or marks the store entry
// identified by (sendKind, sendPacketID) depending on whether a reply is
// still expected. It looks the entry up fresh rather than trusting a
// pointer or index captured at begin() time, since an inbound ack processed
// on an earlier tick may have shifted the store in the meantime.
func (c *Client) finishCurrentSend() {
	kind, id, cb := c.sendKind, c.sendPacketID, c.sendCallback
	idx := c.store.FindIndex(kind, id)
	if idx < 0 {
		return
	}
	if !kind.IsResponseExpecting() {
		c.store.DeleteAt(idx)
		if cb != nil && !cb(nil) {
			c.fail(newError("finishCurrentSend", ErrCallbackPublish))
		}
		if kind == KindDisconnect {
			c.finalized = true
			c.state = StateFailed
			c.closeErr = newError("finishCurrentSend", ErrClosed)
		}
		return
	}
	c.store.TouchAt(idx, c.now())
	c.store.MarkAt(idx)
}

// driveRead pulls bytes from the host's ReadFunc (or, with cfg.WebSocket
// enabled, from wsReadUnwrap, which strips inbound frame headers first) into
// the RX buffer and feeds as many complete packets as are available to the
// decoder.
func (c *Client) driveRead() (RunStatus, *Error) {
	var status RunStatus
	for {
		if c.rxFill == len(c.cfg.RxBuffer) && c.rxOff == c.rxFill {
			c.rxFill, c.rxOff = 0, 0
		}
		if c.rxFill < len(c.cfg.RxBuffer) {
			var n int
			var rstatus IOStatus
			var oserr error
			var werr *Error
			if c.cfg.WebSocket {
				n, rstatus, werr = c.wsReadUnwrap(c.cfg.RxBuffer[c.rxFill:])
				if werr != nil {
					return status, werr
				}
			} else {
				n, rstatus, oserr = c.cfg.Read(c.cfg.RxBuffer[c.rxFill:])
			}
			switch rstatus {
			case StatusWouldBlock:
				status |= StatusWouldBlockConnRd
			case StatusError:
				return status, wrapError("Client.RunOnce", ErrConnectionRead, oserr)
			case StatusSuccess:
				if n == 0 {
					status |= StatusEOF
				} else {
					c.rxFill += n
					c.lastRxSec = c.now()
				}
			}
		}

		if c.rxOff >= c.rxFill {
			return status, nil
		}

		fstatus, err := c.rx.Feed(c.cfg.RxBuffer[:c.rxFill], &c.rxOff)
		if err != nil {
			return status, err
		}
		switch fstatus {
		case StatusSuccess:
			c.cfg.Metrics.observeReceived(c.rx.pt, int(c.rx.bodyLen))
			c.rx.resetPacket()
			continue
		case StatusWouldBlock:
			c.compactRxBuffer()
			return status, nil
		}
	}
}

// wsFillRaw compacts cfg.WsRxBuffer and issues one cfg.Read call to top it
// up with more raw (still frame-wrapped) socket bytes.
func (c *Client) wsFillRaw() (IOStatus, *Error) {
	if c.wsRawOff > 0 && c.wsRawOff == c.wsRawFill {
		c.wsRawFill, c.wsRawOff = 0, 0
	}
	if c.wsRawFill == len(c.cfg.WsRxBuffer) {
		if c.wsRawOff == 0 {
			return StatusError, newError("Client.wsFillRaw", ErrWSFrameSizeTooBig)
		}
		n := copy(c.cfg.WsRxBuffer, c.cfg.WsRxBuffer[c.wsRawOff:c.wsRawFill])
		c.wsRawFill, c.wsRawOff = n, 0
	}
	n, status, oserr := c.cfg.Read(c.cfg.WsRxBuffer[c.wsRawFill:])
	if status == StatusError {
		return StatusError, wrapError("Client.wsFillRaw", ErrConnectionRead, oserr)
	}
	if status == StatusSuccess && n > 0 {
		c.wsRawFill += n
		c.lastRxSec = c.now()
	}
	return status, nil
}

// wsReadUnwrap fills dst with MQTT payload bytes extracted from inbound
// binary WebSocket frames, pulling more raw bytes via wsFillRaw as needed.
// Control frame payloads (ping/pong/close) are consumed and discarded: this
// client core never originates or relays them.
func (c *Client) wsReadUnwrap(dst []byte) (n int, status IOStatus, err *Error) {
	for n < len(dst) {
		if c.wsRxRemaining == 0 {
			h, ok, herr := decodeWsFrameHeader(c.cfg.WsRxBuffer[c.wsRawOff:c.wsRawFill])
			if herr != nil {
				return n, StatusError, herr
			}
			if !ok {
				rstatus, rerr := c.wsFillRaw()
				if rerr != nil {
					return n, StatusError, rerr
				}
				if rstatus == StatusWouldBlock {
					if n > 0 {
						return n, StatusSuccess, nil
					}
					return 0, StatusWouldBlock, nil
				}
				if c.wsRawFill-c.wsRawOff == 0 {
					// cfg.Read returned StatusSuccess with n==0: EOF.
					return n, StatusSuccess, nil
				}
				continue
			}
			c.wsRawOff += h.HdrSize
			c.wsRxRemaining = h.Length
			c.wsRxOpcode = h.Opcode
			if c.wsRxRemaining == 0 {
				continue
			}
		}

		if c.wsRawOff >= c.wsRawFill {
			rstatus, rerr := c.wsFillRaw()
			if rerr != nil {
				return n, StatusError, rerr
			}
			if rstatus == StatusWouldBlock {
				if n > 0 {
					return n, StatusSuccess, nil
				}
				return 0, StatusWouldBlock, nil
			}
			if c.wsRawFill-c.wsRawOff == 0 {
				return n, StatusSuccess, nil
			}
			continue
		}

		take := c.wsRawFill - c.wsRawOff
		if uint64(take) > c.wsRxRemaining {
			take = int(c.wsRxRemaining)
		}
		if take > len(dst)-n {
			take = len(dst) - n
		}
		if c.wsRxOpcode == wsOpBinary {
			copy(dst[n:n+take], c.cfg.WsRxBuffer[c.wsRawOff:c.wsRawOff+take])
			n += take
		}
		c.wsRawOff += take
		c.wsRxRemaining -= uint64(take)
	}
	return n, StatusSuccess, nil
}

func (c *Client) compactRxBuffer() {
	if c.rxOff == 0 {
		return
	}
	n := copy(c.cfg.RxBuffer, c.cfg.RxBuffer[c.rxOff:c.rxFill])
	c.rxFill = n
	c.rxOff = 0
}

// driveWsHandshake sends the fixed nine-line upgrade request (built once
// into TxBuffer) and scans the server's response a byte at a time using
// wsScanner, before any MQTT packet is ever encoded.
func (c *Client) driveWsHandshake() (RunStatus, *Error) {
	buf := c.cfg.TxBuffer
	if c.wsHandshakeTotal == 0 {
		c.wsHandshakeTotal = wsHandshakeRequest(buf, c.cfg.WsParams)
	}
	for c.wsHandshakeSent < c.wsHandshakeTotal {
		n, status, oserr := c.cfg.Write(buf[c.wsHandshakeSent:c.wsHandshakeTotal])
		if status == StatusWouldBlock {
			return StatusWouldBlockConnWr, nil
		}
		if status == StatusError {
			return 0, wrapError("Client.driveWsHandshake", ErrConnectionWrite, oserr)
		}
		c.wsHandshakeSent += n
	}

	for {
		n, status, oserr := c.cfg.Read(c.wsByte[:])
		if status == StatusWouldBlock {
			return StatusWouldBlockConnRd, nil
		}
		if status == StatusError {
			return 0, wrapError("Client.driveWsHandshake", ErrConnectionRead, oserr)
		}
		if n == 0 {
			return StatusEOF, nil
		}
		hstatus, err := c.wsScanner.Feed(c.wsByte[0])
		if err != nil {
			return 0, err
		}
		if hstatus == StatusSuccess {
			if err := c.wsScanner.ValidateAccept(c.cfg.WsParams); err != nil {
				return 0, err
			}
			c.wsHandshakeDone = true
			return 0, nil
		}
	}
}
