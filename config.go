package lmqtt

import "go.uber.org/zap"

// ClientConfig holds every buffer, timing parameter and host callback a
// Client needs. It is built with DefaultClientConfig and a chain of
// ClientOption values, generalizing the buffer-oriented config the rest of
// this package's lineage experimented with before settling on I/O-free core.
type ClientConfig struct {
	Read  ReadFunc
	Write WriteFunc
	Clock ClockFunc
	Mask  MaskFunc

	RxBuffer []byte
	TxBuffer []byte

	StoreCapacity      int
	InboundIDCapacity  int
	KeepAliveSec       uint16
	AckTimeoutSec      int64
	ConnectTimeoutSec  int64

	WebSocket       bool
	WsHandshakeLine []byte
	WsRxBuffer      []byte // raw socket bytes staged for frame-header stripping; required when WebSocket is enabled.
	WsParams        WsHandshakeParams

	Callbacks RxCallbacks

	Logger  *zap.Logger
	Metrics *Metrics

	err *Error
}

// ClientOption mutates a ClientConfig during construction.
type ClientOption func(*ClientConfig)

// DefaultClientConfig returns a config with 1500 byte RX/TX buffers, a
// 16-entry in-flight packet store, an 8-entry inbound QoS2 id set, a 60
// second keep-alive, a 20 second ack timeout, and a no-op zap logger.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		RxBuffer:          make([]byte, 1500),
		TxBuffer:          make([]byte, 1500),
		StoreCapacity:     16,
		InboundIDCapacity: 8,
		KeepAliveSec:      60,
		AckTimeoutSec:     20,
		ConnectTimeoutSec: 10,
		Logger:            zap.NewNop(),
	}
}

// SetError records the first error encountered while applying options; a
// non-nil error here means NewClient must fail.
func (c *ClientConfig) SetError(err *Error) {
	if c.err == nil {
		c.err = err
	}
}

// WithClientConfig replaces the whole config built so far with cfg. Fields
// left zero in cfg stay zero; nothing is merged from the previous config.
func WithClientConfig(cfg ClientConfig) ClientOption {
	return func(c *ClientConfig) { *c = cfg }
}

// WithBuffers overrides the RX and TX byte buffers.
func WithBuffers(rx, tx []byte) ClientOption {
	return func(c *ClientConfig) {
		if len(rx) == 0 || len(tx) == 0 {
			c.SetError(newError("WithBuffers", ErrDecodeFixedHeaderInvalidRemainingLength))
			return
		}
		c.RxBuffer, c.TxBuffer = rx, tx
	}
}

// WithTransport sets the host's non-blocking read/write primitives.
func WithTransport(read ReadFunc, write WriteFunc) ClientOption {
	return func(c *ClientConfig) { c.Read, c.Write = read, write }
}

// WithClock sets the host's monotonic clock source.
func WithClock(clock ClockFunc) ClientOption {
	return func(c *ClientConfig) { c.Clock = clock }
}

// WithKeepAlive sets the MQTT keep-alive interval advertised in CONNECT.
func WithKeepAlive(seconds uint16) ClientOption {
	return func(c *ClientConfig) { c.KeepAliveSec = seconds }
}

// WithAckTimeout sets how long the client waits for a correlated reply
// before a queued packet's timeout fires.
func WithAckTimeout(seconds int64) ClientOption {
	return func(c *ClientConfig) { c.AckTimeoutSec = seconds }
}

// WithStoreCapacity sets the maximum number of in-flight outbound packets.
func WithStoreCapacity(n int) ClientOption {
	return func(c *ClientConfig) { c.StoreCapacity = n }
}

// WithInboundIDCapacity sets the maximum number of concurrently in-flight
// inbound QoS2 packet identifiers.
func WithInboundIDCapacity(n int) ClientOption {
	return func(c *ClientConfig) { c.InboundIDCapacity = n }
}

// WithCallbacks sets the host hooks fired as packets are decoded.
func WithCallbacks(cb RxCallbacks) ClientOption {
	return func(c *ClientConfig) { c.Callbacks = cb }
}

// WithLogger overrides the default no-op zap logger.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *ClientConfig) { c.Logger = l }
}

// WithMetrics attaches a Metrics instance that RunOnce and the client state
// machine report into.
func WithMetrics(m *Metrics) ClientOption {
	return func(c *ClientConfig) { c.Metrics = m }
}

// WithWebSocket enables the WebSocket framing and handshake layer: lineBuf
// (fixed capacity) accumulates the server's handshake response, and rxBuf
// stages raw socket bytes while driveRead strips frame headers out of them.
func WithWebSocket(params WsHandshakeParams, maskFn MaskFunc, lineBuf, rxBuf []byte) ClientOption {
	return func(c *ClientConfig) {
		c.WebSocket = true
		c.WsParams = params
		c.Mask = maskFn
		c.WsHandshakeLine = lineBuf
		c.WsRxBuffer = rxBuf
	}
}

// newClientConfig runs every option over a base config derived from DefaultClientConfig,
// returning the merged result or the first error any option recorded.
func newClientConfig(opts ...ClientOption) (ClientConfig, *Error) {
	cfg := DefaultClientConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.err != nil {
		return cfg, cfg.err
	}
	if cfg.Read == nil || cfg.Write == nil {
		return cfg, newError("newClientConfig", ErrConnectionRead)
	}
	if cfg.Clock == nil {
		return cfg, newError("newClientConfig", ErrTimeout)
	}
	if cfg.WebSocket && cfg.Mask == nil {
		return cfg, newError("newClientConfig", ErrWSHandshakeIncompleteReply)
	}
	if cfg.WebSocket && len(cfg.WsRxBuffer) == 0 {
		return cfg, newError("newClientConfig", ErrWSHandshakeIncompleteReply)
	}
	return cfg, nil
}
