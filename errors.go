package lmqtt

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// ErrorCode is a stable, flat enumeration of every failure mode the core can
// surface. Hosts should switch on ErrorCode rather than matching error
// strings: the taxonomy is the public contract, the strings are not.
type ErrorCode uint16

const (
	_ ErrorCode = iota // 0 is reserved: a zero ErrorCode never appears on the wire of an *Error.

	// Encode-side errors.
	ErrEncodeString // [OS error] reading a streamed string to build an outgoing packet failed.

	// Fixed-header decode errors.
	ErrDecodeFixedHeaderInvalidType            // upper nibble of the first byte is not a valid packet type.
	ErrDecodeFixedHeaderInvalidFlags           // lower nibble of the first byte violates the per-type flag rule.
	ErrDecodeFixedHeaderInvalidRemainingLength // remaining length field used more than 4 bytes or had a malformed final byte.
	ErrDecodeFixedHeaderServerSpecific         // packet type is only ever sent by a client (CONNECT, SUBSCRIBE, ...).
	ErrDecodeNonzeroRemainingLength            // a zero-payload packet type (PINGRESP, ...) carried a non-zero remaining length.
	ErrDecodeNoCorrespondingRequest            // an ack arrived for a packet identifier/kind with no matching store entry.
	ErrDecodeResponseTooShort                  // remaining length is smaller than the minimum for this packet type.

	// CONNACK decode errors.
	ErrDecodeConnackInvalidAckFlags  // reserved bits 1-7 of the CONNACK acknowledge flags byte are set.
	ErrDecodeConnackInvalidReturnCode // CONNACK return code byte is greater than 5.
	ErrDecodeConnackInvalidLength    // CONNACK remaining length is not exactly 2.

	// SUBACK decode errors.
	ErrDecodeSubackCountMismatch     // number of return codes does not match the original SUBSCRIBE's topic count.
	ErrDecodeSubackInvalidReturnCode // a SUBACK return code is not 0, 1, 2, or 0x80.

	// PUBLISH decode errors.
	ErrDecodePublishInvalidLength         // topic length is zero, or remaining length too short to contain topic (+ packet id) for this QoS.
	ErrDecodePublishIDSetFull             // inbound QoS2 identifier set has no room for a new packet id.
	ErrDecodePublishTopicAllocateFailed   // host's AllocateTopic callback returned an error result.
	ErrDecodePublishTopicWriteFailed      // [OS error] streaming the topic into the host's sink failed.
	ErrDecodePublishPayloadAllocateFailed // not raised: an AllocateReject from AllocatePayload is handled like AllocateBorrow.
	ErrDecodePublishPayloadWriteFailed    // [OS error] streaming the payload into the host's sink failed.
	ErrDecodePublishMessageCallbackFailed // OnPublish callback returned false.

	// PUBREL decode errors.
	ErrDecodePubrelIDSetFull // store has no room to enqueue the PUBCOMP reply.

	// Transport errors, always wrap an os_error from the host callback.
	ErrConnectionRead  // [OS error] host ReadFunc returned StatusError.
	ErrConnectionWrite // [OS error] host WriteFunc returned StatusError.

	ErrTimeout // keep-alive or ack deadline elapsed with no corresponding activity.
	ErrClosed  // client was finalized; this is the sticky terminal state.

	// CONNACK refusal codes, named per MQTT-3.1.1 table 3.1.
	ErrConnackUnacceptableProtocolVersion
	ErrConnackIdentifierRejected
	ErrConnackServerUnavailable
	ErrConnackBadUserNameOrPassword
	ErrConnackNotAuthorized

	// Protocol-layer callback errors: success=true but the host callback returned false.
	ErrCallbackConnack
	ErrCallbackSuback
	ErrCallbackUnsuback
	ErrCallbackPublish

	// WebSocket handshake errors.
	ErrWSHandshakeInvalidResponseKey // Sec-WebSocket-Accept did not match the expected derived key.
	ErrWSHandshakeLineTooLong        // a handshake response line exceeded the caller-provided line buffer.
	ErrWSHandshakeIncompleteReply    // blank line seen before both the status line and accept key were observed.

	// WebSocket frame errors.
	ErrWSFrameNotFinal        // FIN bit clear; fragmented frames are not supported.
	ErrWSFrameInvalidOpcode   // opcode is reserved or not one of binary/close/ping/pong.
	ErrWSFrameServerMasked    // server-to-client frame had the MASK bit set.
	ErrWSFrameSizeTooBig      // 64-bit length field's upper bytes were non-zero.
	ErrWSUnsupportedFrameType // not raised: Client.wsReadUnwrap discards ping/pong frame payloads.
	ErrWSClosedByServer       // not raised: Client.wsReadUnwrap discards close frame payloads.
)

var errorCodeNames = map[ErrorCode]string{
	ErrEncodeString:                        "encode: string source error",
	ErrDecodeFixedHeaderInvalidType:        "decode: invalid fixed header packet type",
	ErrDecodeFixedHeaderInvalidFlags:       "decode: invalid fixed header flags",
	ErrDecodeFixedHeaderInvalidRemainingLength: "decode: invalid remaining length",
	ErrDecodeFixedHeaderServerSpecific:     "decode: server-only packet type received",
	ErrDecodeNonzeroRemainingLength:        "decode: nonzero remaining length on zero-payload packet",
	ErrDecodeNoCorrespondingRequest:        "decode: no corresponding request for response",
	ErrDecodeResponseTooShort:              "decode: response shorter than minimum length",
	ErrDecodeConnackInvalidAckFlags:        "decode: invalid CONNACK acknowledge flags",
	ErrDecodeConnackInvalidReturnCode:      "decode: invalid CONNACK return code",
	ErrDecodeConnackInvalidLength:          "decode: invalid CONNACK remaining length",
	ErrDecodeSubackCountMismatch:           "decode: SUBACK return code count mismatch",
	ErrDecodeSubackInvalidReturnCode:       "decode: invalid SUBACK return code",
	ErrDecodePublishInvalidLength:          "decode: invalid PUBLISH remaining length",
	ErrDecodePublishIDSetFull:              "decode: inbound QoS2 identifier set full",
	ErrDecodePublishTopicAllocateFailed:    "decode: PUBLISH topic allocate failed",
	ErrDecodePublishTopicWriteFailed:       "decode: PUBLISH topic write failed",
	ErrDecodePublishPayloadAllocateFailed:  "decode: PUBLISH payload allocate failed",
	ErrDecodePublishPayloadWriteFailed:     "decode: PUBLISH payload write failed",
	ErrDecodePublishMessageCallbackFailed:  "decode: OnPublish callback failed",
	ErrDecodePubrelIDSetFull:               "decode: store full, cannot enqueue PUBCOMP",
	ErrConnectionRead:                      "connection read error",
	ErrConnectionWrite:                     "connection write error",
	ErrTimeout:                             "timeout",
	ErrClosed:                              "client closed",
	ErrConnackUnacceptableProtocolVersion:  "CONNACK: unacceptable protocol version",
	ErrConnackIdentifierRejected:           "CONNACK: identifier rejected",
	ErrConnackServerUnavailable:            "CONNACK: server unavailable",
	ErrConnackBadUserNameOrPassword:        "CONNACK: bad user name or password",
	ErrConnackNotAuthorized:                "CONNACK: not authorized",
	ErrCallbackConnack:                     "OnConnect callback failed",
	ErrCallbackSuback:                      "OnSubscribe callback failed",
	ErrCallbackUnsuback:                    "OnUnsubscribe callback failed",
	ErrCallbackPublish:                     "OnPublish callback failed",
	ErrWSHandshakeInvalidResponseKey:       "websocket: invalid Sec-WebSocket-Accept",
	ErrWSHandshakeLineTooLong:              "websocket: handshake line too long",
	ErrWSHandshakeIncompleteReply:          "websocket: incomplete handshake reply",
	ErrWSFrameNotFinal:                     "websocket: fragmented frame not supported",
	ErrWSFrameInvalidOpcode:                "websocket: invalid opcode",
	ErrWSFrameServerMasked:                 "websocket: server frame was masked",
	ErrWSFrameSizeTooBig:                   "websocket: frame size too big",
	ErrWSUnsupportedFrameType:              "websocket: unsupported frame type",
	ErrWSClosedByServer:                    "websocket: closed by server",
}

func (c ErrorCode) String() string {
	if s, ok := errorCodeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("ErrorCode(%d)", uint16(c))
}

// connackReturnCodeErrors maps a CONNACK return code (1-5) to its ErrorCode.
var connackReturnCodeErrors = [...]ErrorCode{
	1: ErrConnackUnacceptableProtocolVersion,
	2: ErrConnackIdentifierRejected,
	3: ErrConnackServerUnavailable,
	4: ErrConnackBadUserNameOrPassword,
	5: ErrConnackNotAuthorized,
}

// Error is the concrete error type returned across every exported API
// boundary of this package. Op names the function that raised it; Code is
// the stable taxonomy value from §7; Cause, when non-nil, is the wrapped
// host-supplied OS error (for ErrConnectionRead/Write and ErrEncodeString).
type Error struct {
	Op    string
	Code  ErrorCode
	Cause error
}

func newError(op string, code ErrorCode) *Error {
	return &Error{Op: op, Code: code}
}

func wrapError(op string, code ErrorCode, cause error) *Error {
	if cause == nil {
		return newError(op, code)
	}
	return &Error{Op: op, Code: code, Cause: pkgerrors.Wrap(cause, code.String())}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("lmqtt: %s: %s: %v", e.Op, e.Code, e.Cause)
	}
	return fmt.Sprintf("lmqtt: %s: %s", e.Op, e.Code)
}

// Unwrap allows errors.Is/errors.As to see through to the wrapped OS error.
func (e *Error) Unwrap() error { return e.Cause }

// Is reports true for another *Error with the same Code, letting callers
// write errors.Is(err, &Error{Code: ErrTimeout}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}
