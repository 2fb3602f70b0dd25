package lmqtt

// IOStatus is the three-way result of a single non-blocking I/O attempt:
// a host callback, a string mover, or a codec step.
type IOStatus uint8

const (
	// StatusSuccess indicates the operation completed, possibly partially;
	// check the returned byte count.
	StatusSuccess IOStatus = iota
	// StatusWouldBlock indicates the operation cannot progress now and the
	// caller should retry later. From a host callback it means no bytes were
	// moved; from a codec it means its input or output ran out, possibly after
	// moving some bytes, and the codec resumes from its saved position.
	StatusWouldBlock
	// StatusError indicates a fatal error for this connection; see the
	// accompanying error value.
	StatusError
)

func (s IOStatus) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusWouldBlock:
		return "would-block"
	case StatusError:
		return "error"
	default:
		return "invalid IOStatus"
	}
}

// ReadFunc is the host's non-blocking receive primitive. It copies up to
// len(dst) bytes into dst. n==0 with StatusSuccess and a nil error means the
// peer closed the connection (EOF). A non-nil osErr is only meaningful when
// status is StatusError.
type ReadFunc func(dst []byte) (n int, status IOStatus, osErr error)

// WriteFunc is the host's non-blocking send primitive, symmetric to ReadFunc.
type WriteFunc func(src []byte) (n int, status IOStatus, osErr error)

// ClockFunc returns the current value of a monotonic clock as seconds and
// nanoseconds. The epoch is arbitrary; only the deltas between calls matter.
type ClockFunc func() (sec int64, nsec int32)

// MaskFunc fills dst with 4 bytes of entropy used as a WebSocket frame
// masking key. Required only when WebSocket framing is enabled.
type MaskFunc func(dst *[4]byte)
