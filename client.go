package lmqtt

import (
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// ClientState is the top-level state machine position described by the
// component design: a client starts Initial, moves to Connecting once
// Connect is called, Connected once CONNACK arrives, and Failed on any
// unrecoverable error. Reset returns a Failed client to Initial unless it
// was Finalized, which is sticky.
type ClientState uint8

const (
	StateInitial ClientState = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s ClientState) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "invalid"
	}
}

// Client is the I/O-free MQTT v3.1.1 client core. All state lives in fields
// supplied or sized at construction time; RunOnce is the only method that
// touches the host's ReadFunc/WriteFunc.
type Client struct {
	cfg ClientConfig

	state ClientState

	store      *store
	inboundIDs *idSet

	tx txCodec
	rx rxCodec

	rxFill int // valid bytes currently buffered in cfg.RxBuffer.
	rxOff  int // bytes of rxFill already consumed by rx.Feed.

	lastRxSec, lastTxSec int64
	connectedAtSec       int64
	sessionPresent       bool
	pendingPing          bool

	// Identity of the entry currently mid-encode in tx, captured at begin()
	// time so finishCurrentSend can re-find it after the store may have
	// shifted, rather than relying on a stale index or pointer.
	sendKind      PacketKind
	sendPacketID  uint16
	sendCallback  func(err error) bool

	wsScanner        *wsHandshakeScanner
	wsHandshakeDone  bool
	wsHandshakeSent  int
	wsHandshakeTotal int
	wsByte           [1]byte

	// Outbound frame state: one binary frame wraps each MQTT packet.
	wsTxMask      [4]byte
	wsTxHeader    [14]byte
	wsTxHeaderLen int
	wsTxHeaderOff int
	wsTxPayloadOff int

	// Inbound frame state: wsRawFill/wsRawOff delimit unconsumed raw socket
	// bytes staged in cfg.WsRxBuffer; wsRxRemaining is how much of the
	// current frame's payload has not yet been copied out.
	wsRawFill     int
	wsRawOff      int
	wsRxRemaining uint64
	wsRxOpcode    byte

	closeErr  *Error
	finalized bool

	log *zap.Logger
}

// NewClient builds a Client from DefaultClientConfig plus opts. It fails if
// Read, Write or Clock were never set, or any option reported an error.
func NewClient(opts ...ClientOption) (*Client, *Error) {
	cfg, err := newClientConfig(opts...)
	if err != nil {
		return nil, err
	}
	c := &Client{
		cfg:        cfg,
		store:      newStore(cfg.StoreCapacity),
		inboundIDs: newIDSet(cfg.InboundIDCapacity),
		log:        cfg.Logger,
	}
	if cfg.WebSocket {
		c.wsScanner = newWsHandshakeScanner(cfg.WsHandshakeLine)
	}
	c.rx.cb = c.internalCallbacks()
	return c, nil
}

// State reports the client's current top-level state.
func (c *Client) State() ClientState { return c.state }

// IsConnected reports whether the client has a live, CONNACK-accepted session.
func (c *Client) IsConnected() bool { return c.state == StateConnected }

// Err returns the error that moved the client into StateFailed, or nil.
func (c *Client) Err() *Error { return c.closeErr }

func (c *Client) now() int64 {
	sec, _ := c.cfg.Clock()
	return sec
}

func (c *Client) fail(err *Error) *Error {
	c.state = StateFailed
	c.closeErr = err
	c.cfg.Metrics.observeError(err.Code)
	c.log.Error("lmqtt: client failed", zap.String("op", err.Op), zap.Stringer("code", err.Code), zap.Error(err.Cause))
	return err
}

// Connect queues a CONNECT packet and moves the client to StateConnecting.
// It is only valid from StateInitial.
func (c *Client) Connect(p ConnectParams) *Error {
	if c.state != StateInitial {
		return newError("Client.Connect", ErrClosed)
	}
	if !c.store.IsQueueable() {
		return newError("Client.Connect", ErrDecodePublishIDSetFull)
	}
	p.KeepAlive = c.cfg.KeepAliveSec
	c.store.Append(storeEntry{kind: KindConnect, connect: &p})
	c.state = StateConnecting
	return nil
}

// Publish queues an outbound PUBLISH. qos 0 fires cb (if non-nil) as soon as
// the packet is written; qos 1/2 fire cb once the corresponding ack arrives.
func (c *Client) Publish(topic, payload StringSource, qos byte, retain bool, cb func(err error) bool) *Error {
	if c.state != StateConnected {
		return newError("Client.Publish", ErrClosed)
	}
	if !c.store.IsQueueable() {
		return newError("Client.Publish", ErrDecodePublishIDSetFull)
	}
	kind := KindPublishQoS0
	var id uint16
	if qos > 0 {
		id = c.store.AllocateID()
		if qos == 1 {
			kind = KindPublishQoS1
		} else {
			kind = KindPublishQoS2
		}
	}
	c.store.Append(storeEntry{
		kind: kind, packetID: id, topic: topic, payload: payload,
		qos: qos, retain: retain, callback: cb,
	})
	return nil
}

// Subscribe queues an outbound SUBSCRIBE for the given filters.
func (c *Client) Subscribe(subs []Subscription, cb func(err error) bool) *Error {
	if c.state != StateConnected {
		return newError("Client.Subscribe", ErrClosed)
	}
	if len(subs) == 0 || len(subs) > MaxSubscriptions {
		return newError("Client.Subscribe", ErrDecodeSubackCountMismatch)
	}
	if !c.store.IsQueueable() {
		return newError("Client.Subscribe", ErrDecodePublishIDSetFull)
	}
	id := c.store.AllocateID()
	c.store.Append(storeEntry{kind: KindSubscribe, packetID: id, subs: subs, callback: cb})
	return nil
}

// Unsubscribe queues an outbound UNSUBSCRIBE for the given filters.
func (c *Client) Unsubscribe(filters []Subscription, cb func(err error) bool) *Error {
	if c.state != StateConnected {
		return newError("Client.Unsubscribe", ErrClosed)
	}
	if len(filters) == 0 || len(filters) > MaxSubscriptions {
		return newError("Client.Unsubscribe", ErrDecodeSubackCountMismatch)
	}
	if !c.store.IsQueueable() {
		return newError("Client.Unsubscribe", ErrDecodePublishIDSetFull)
	}
	id := c.store.AllocateID()
	c.store.Append(storeEntry{kind: KindUnsubscribe, packetID: id, subs: filters, callback: cb})
	return nil
}

// Ping queues a PINGREQ, used both explicitly and by RunOnce's keep-alive check.
func (c *Client) Ping() *Error {
	if c.state != StateConnected {
		return newError("Client.Ping", ErrClosed)
	}
	if c.pendingPing {
		return nil
	}
	if !c.store.IsQueueable() {
		return newError("Client.Ping", ErrDecodePublishIDSetFull)
	}
	c.store.Append(storeEntry{kind: KindPingReq})
	c.pendingPing = true
	return nil
}

// Disconnect queues a DISCONNECT packet. Once it has been written, RunOnce
// reports status bit StatusClosed and no further packets are encoded.
func (c *Client) Disconnect() *Error {
	if c.state != StateConnected {
		return newError("Client.Disconnect", ErrClosed)
	}
	c.store.Append(storeEntry{kind: KindDisconnect})
	return nil
}

// Reset returns a Failed client to Initial so Connect can be called again.
// It deliberately leaves the store and inbound id set untouched: a host
// reconnecting a persistent session (clean_session=false) needs its unacked
// entries to survive into the next Connect, and OnConnack is what decides,
// once the new CONNACK actually arrives, whether to flush them or keep them
// marked for retransmission. ErrClosed is sticky if Finalize was previously
// called.
func (c *Client) Reset() *Error {
	if c.finalized {
		return newError("Client.Reset", ErrClosed)
	}
	c.tx = txCodec{}
	c.rx.resetPacket()
	c.rxFill, c.rxOff = 0, 0
	c.sessionPresent = false
	c.pendingPing = false
	c.wsHandshakeDone = false
	c.wsHandshakeSent = 0
	c.wsHandshakeTotal = 0
	c.wsTxHeaderLen, c.wsTxHeaderOff, c.wsTxPayloadOff = 0, 0, 0
	c.wsRawFill, c.wsRawOff, c.wsRxRemaining, c.wsRxOpcode = 0, 0, 0, 0
	c.sendKind, c.sendPacketID, c.sendCallback = 0, 0, nil
	c.closeErr = nil
	c.state = StateInitial
	return nil
}

// Finalize permanently closes the client. Unlike Reset, there is no future
// reconnect to hand unacked entries to, so every entry still in the store
// gets its callback fired with a failure before the store is emptied;
// callback failures are aggregated with multierror rather than discarding
// all but the last. Reset permanently fails with ErrClosed afterwards.
func (c *Client) Finalize() error {
	err := c.failPendingStore("Client.Finalize")
	c.finalized = true
	c.state = StateFailed
	c.closeErr = newError("Client.Finalize", ErrClosed)
	return err
}

// failPendingStore fires every entry still in the store with a failure
// error and empties it. Callback return values that signal failure are
// aggregated rather than dropped, so every offending callback is reported
// instead of just the last one.
func (c *Client) failPendingStore(op string) error {
	var result *multierror.Error
	for i := 0; i < c.store.Len(); i++ {
		e := c.store.GetAt(i)
		if e == nil || e.callback == nil {
			continue
		}
		if !e.callback(newError(op, ErrClosed)) {
			result = multierror.Append(result, newError(op, ErrClosed))
		}
	}
	c.store.Clear()
	if result != nil {
		return result.ErrorOrNil()
	}
	return nil
}

// internalCallbacks wraps the host-supplied RxCallbacks with the bookkeeping
// every reply must perform against the store and the client state machine
// before the host ever sees it.
func (c *Client) internalCallbacks() RxCallbacks {
	user := c.cfg.Callbacks
	return RxCallbacks{
		AllocateTopic:   user.AllocateTopic,
		AllocatePayload: user.AllocatePayload,
		Deallocate:      user.Deallocate,
		OnConnack: func(sessionPresent bool, retCode byte) bool {
			var cleanSession bool
			var sentAt int64
			if idx := c.store.FindIndex(KindConnect, 0); idx >= 0 {
				e := c.store.GetAt(idx)
				sentAt = e.timestamp
				if e.connect != nil {
					cleanSession = e.connect.CleanSession
				}
				c.store.DeleteAt(idx)
			}
			if retCode != 0 {
				c.fail(newError("OnConnack", connackReturnCodeErrors[retCode]))
				return true
			}
			if cleanSession {
				c.store.Clear()
				c.inboundIDs.Reset()
			}
			c.store.UnmarkAll()
			c.sessionPresent = sessionPresent
			c.state = StateConnected
			c.connectedAtSec = c.now()
			if c.cfg.Metrics != nil {
				c.cfg.Metrics.ConnectDuration.Observe(float64(c.connectedAtSec - sentAt))
			}
			if user.OnConnack != nil {
				return user.OnConnack(sessionPresent, retCode)
			}
			return true
		},
		OnPuback: func(id uint16) bool {
			if e, ok := c.store.PopMarkedBy(KindPublishQoS1, id); ok && e.callback != nil {
				e.callback(nil)
			}
			if user.OnPuback != nil {
				return user.OnPuback(id)
			}
			return true
		},
		OnPubrec: func(id uint16) bool {
			if e, ok := c.store.PopMarkedBy(KindPublishQoS2, id); ok {
				// The PUBREL carries the publish callback on to the PUBCOMP.
				c.store.Append(storeEntry{kind: KindPubRel, packetID: id, callback: e.callback})
			}
			if user.OnPubrec != nil {
				return user.OnPubrec(id)
			}
			return true
		},
		OnPubrel: func(id uint16) bool {
			c.inboundIDs.Remove(id)
			if !c.store.Append(storeEntry{kind: KindPubComp, packetID: id}) {
				// RunOnce reports the error recorded here once decoding returns.
				c.fail(newError("OnPubrel", ErrDecodePubrelIDSetFull))
				return true
			}
			if user.OnPubrel != nil {
				return user.OnPubrel(id)
			}
			return true
		},
		OnPubcomp: func(id uint16) bool {
			if e, ok := c.store.PopMarkedBy(KindPubRel, id); ok && e.callback != nil {
				e.callback(nil)
			}
			if user.OnPubcomp != nil {
				return user.OnPubcomp(id)
			}
			return true
		},
		OnSuback: func(id uint16, codes []byte) bool {
			e, ok := c.store.PopMarkedBy(KindSubscribe, id)
			if !ok {
				c.fail(newError("OnSuback", ErrDecodeNoCorrespondingRequest))
				return false
			}
			if len(codes) != len(e.subs) {
				c.fail(newError("OnSuback", ErrDecodeSubackCountMismatch))
				return false
			}
			if e.callback != nil {
				e.callback(nil)
			}
			if user.OnSuback != nil {
				return user.OnSuback(id, codes)
			}
			return true
		},
		OnUnsuback: func(id uint16) bool {
			if e, ok := c.store.PopMarkedBy(KindUnsubscribe, id); ok && e.callback != nil {
				e.callback(nil)
			}
			if user.OnUnsuback != nil {
				return user.OnUnsuback(id)
			}
			return true
		},
		OnPingresp: func() bool {
			c.pendingPing = false
			if idx := c.store.FindIndex(KindPingReq, 0); idx >= 0 {
				c.store.DeleteAt(idx)
			}
			if user.OnPingresp != nil {
				return user.OnPingresp()
			}
			return true
		},
		OnPublish: func(topic, payload StringView, qos byte, retain, dup bool, id uint16) bool {
			if qos == 2 {
				if c.inboundIDs.Contains(id) {
					// Duplicate redelivery before our PUBREL landed: ack again, skip re-delivery.
					c.store.Append(storeEntry{kind: KindPubRec, packetID: id})
					return true
				}
				if c.inboundIDs.Full() {
					c.fail(newError("OnPublish", ErrDecodePublishIDSetFull))
					return false
				}
			}
			ok := true
			if user.OnPublish != nil {
				ok = user.OnPublish(topic, payload, qos, retain, dup, id)
			}
			if !ok {
				return false
			}
			switch qos {
			case 1:
				c.store.Append(storeEntry{kind: KindPubAck, packetID: id})
			case 2:
				c.inboundIDs.Put(id)
				c.store.Append(storeEntry{kind: KindPubRec, packetID: id})
			}
			return true
		},
	}
}
