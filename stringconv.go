package lmqtt

// StringFromBytes wraps b as a StringSource without copying it. The caller
// must not mutate b while it is queued for encode.
func StringFromBytes(b []byte) StringSource { return sliceStringSource(b) }

// StringFromString wraps s as a StringSource. On ordinary builds this
// allocates once to get a []byte view; build with -tags unsafe or on
// tinygo to reuse s's backing storage directly instead, matching how this
// package's lineage handled client ids and topic filters on memory
// constrained targets.
func StringFromString(s string) StringSource {
	return sliceStringSource(bytesFromString(s))
}
