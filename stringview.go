package lmqtt

// StringSource streams the bytes of a string the core must encode onto the
// wire (a CONNECT client id, a SUBSCRIBE topic filter, a PUBLISH topic or
// payload, ...) without requiring the host to hold it as a contiguous slice.
// Implementations are called repeatedly with increasing offsets until the
// offset reaches Len.
type StringSource interface {
	// ReadStringAt copies bytes starting at offset into dst, returning how
	// many bytes were copied. A return of 0 before offset reaches the
	// source's length means no bytes are ready yet: the encoder reports
	// StatusWouldBlock and asks again at the same offset later. The error
	// result is not inspected by the encoder.
	ReadStringAt(dst []byte, offset int) (n int, err error)
	// Len returns the total byte length of the string.
	Len() int
}

// sliceStringSource adapts a plain byte slice to StringSource.
type sliceStringSource []byte

func (s sliceStringSource) ReadStringAt(dst []byte, offset int) (int, error) {
	if offset >= len(s) {
		return 0, nil
	}
	n := copy(dst, s[offset:])
	return n, nil
}

func (s sliceStringSource) Len() int { return len(s) }

// AllocateResult is returned by the host's allocate callbacks during PUBLISH
// decode to tell the core how to deliver the incoming topic or payload.
type AllocateResult uint8

const (
	// AllocateBorrow tells the core to decode directly into the RX buffer
	// region backing the string and hand the host a StringView borrowing it;
	// the view is valid only until the next RunOnce call.
	AllocateBorrow AllocateResult = iota
	// AllocateStream tells the core to push decoded bytes through a
	// StringSink the host returned instead of buffering them at all.
	AllocateStream
	// AllocateReject returned by AllocateTopicFunc aborts decode of this
	// PUBLISH with ErrDecodePublishTopicAllocateFailed. Returned by
	// AllocatePayloadFunc it is handled like AllocateBorrow; decode goes on.
	AllocateReject
)

// StringSink receives a decoded string's bytes incrementally. WriteString is
// called one or more times as RX data arrives, with final=true on the call
// carrying the last byte.
type StringSink interface {
	WriteString(p []byte, final bool) error
}

// AllocateTopicFunc lets the host decide, once the PUBLISH topic length is
// known, whether to borrow the RX buffer directly or stream the topic into a
// sink of the host's choosing.
type AllocateTopicFunc func(topicLen int) (AllocateResult, StringSink)

// AllocatePayloadFunc is the payload analogue of AllocateTopicFunc.
type AllocatePayloadFunc func(payloadLen int) (AllocateResult, StringSink)

// DeallocateFunc, if set, is called once a borrowed StringView handed to
// OnPublish is no longer needed, mirroring any allocation the host performed
// in AllocateTopicFunc/AllocatePayloadFunc. Streamed strings never call it.
type DeallocateFunc func(v StringView)

// StringView is a read-only view over a decoded string. It either borrows a
// region of the RX buffer directly (Bytes non-nil) or was fully delivered to
// a StringSink during decode (Bytes nil, Len still reports the original
// length). A borrowed view is only valid until the next call into the core.
type StringView struct {
	Bytes []byte
	Len   int
}

// BytesStringView wraps a borrowed slice.
func BytesStringView(b []byte) StringView {
	return StringView{Bytes: b, Len: len(b)}
}

// Streamed reports whether this string bypassed buffering entirely.
func (v StringView) Streamed() bool { return v.Bytes == nil && v.Len > 0 }

// BytesSink is a concrete StringSink that appends into a caller-owned,
// fixed-capacity buffer; WriteString returns an error once the buffer is
// full, which aborts the decode with ErrDecodePublishTopicWriteFailed or
// ErrDecodePublishPayloadWriteFailed.
type BytesSink struct {
	Buf []byte
	n   int
}

// NewBytesSink wraps buf for use as a StringSink. buf's full capacity is the
// sink's limit; len(buf) is ignored and overwritten from offset 0.
func NewBytesSink(buf []byte) *BytesSink {
	return &BytesSink{Buf: buf[:0]}
}

func (s *BytesSink) WriteString(p []byte, final bool) error {
	if len(s.Buf)+len(p) > cap(s.Buf) {
		return newError("BytesSink.WriteString", ErrDecodePublishPayloadWriteFailed)
	}
	s.Buf = append(s.Buf, p...)
	s.n += len(p)
	return nil
}

// Bytes returns everything written so far.
func (s *BytesSink) Bytes() []byte { return s.Buf }

// Reset empties the sink for reuse.
func (s *BytesSink) Reset() {
	s.Buf = s.Buf[:0]
	s.n = 0
}
