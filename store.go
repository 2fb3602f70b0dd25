package lmqtt

// storeEntry is one in-flight outbound packet: something the TX codec has
// encoded (or is encoding) that may require a correlated inbound reply
// before it can be retired.
type storeEntry struct {
	kind      PacketKind
	packetID  uint16
	payload   StringSource // only set for QoS1/2 PUBLISH retransmission.
	topic     StringSource
	qos       byte
	retain    bool
	dup       bool // set before a PUBLISH is (re)encoded, once it has been sent at least once before.
	subs      []Subscription // SUBSCRIBE/UNSUBSCRIBE topic filters.
	connect   *ConnectParams // only set for kind == KindConnect.
	callback  func(err error) bool // fired on send completion or failure; nil for most kinds.
	timestamp int64                // seconds, from the host's ClockFunc, set by touch.
	marked    bool                 // awaiting a correlated inbound reply.
	inUse     bool                 // slot occupied; false slots are free for append.
}

// store is the bounded FIFO of in-flight outbound packets described in the
// data model: a fixed-capacity array, never reallocated, walked in order for
// encoding and pruned in response to inbound acks.
type store struct {
	entries []storeEntry
	head    int // index of the oldest occupied entry, marked or not.
	count   int // number of occupied slots, including marked ones.

	nextID uint16 // packet-id allocator cursor; advances monotonically, skips 0.
}

// newStore allocates a store with room for capacity in-flight packets.
func newStore(capacity int) *store {
	return &store{entries: make([]storeEntry, capacity), nextID: 1}
}

func (s *store) Cap() int { return len(s.entries) }
func (s *store) Len() int { return s.count }
func (s *store) Full() bool { return s.count == len(s.entries) }

// slotFor returns the logical index-th occupied slot's backing array index,
// walking forward from head. Only meaningful for index < count.
func (s *store) slotFor(index int) int {
	return (s.head + index) % len(s.entries)
}

// NextUnmarked scans from the head for the oldest entry not yet marked as
// sent-and-awaiting-reply, i.e. the next one the encoder should send. Marked
// entries may sit ahead of it in FIFO order while their reply is pending.
func (s *store) NextUnmarked() (index int, e *storeEntry) {
	for i := 0; i < s.count; i++ {
		if entry := &s.entries[s.slotFor(i)]; !entry.marked {
			return i, entry
		}
	}
	return -1, nil
}

// FindIndex returns the logical index of the entry matching kind and
// packetID, or -1. Robust to FIFO shifting since it is a fresh scan.
func (s *store) FindIndex(kind PacketKind, packetID uint16) int {
	for i := 0; i < s.count; i++ {
		if e := &s.entries[s.slotFor(i)]; e.kind == kind && e.packetID == packetID {
			return i
		}
	}
	return -1
}

// MarkAt flags the entry at logical index as sent-and-awaiting-reply. It also
// sticks dup=true on the entry: UnmarkAll clears marked on reconnect so the
// entry is resent, but dup must stay set since the entry has now gone out at
// least once before.
func (s *store) MarkAt(index int) {
	if index >= 0 && index < s.count {
		e := &s.entries[s.slotFor(index)]
		e.marked = true
		e.dup = true
	}
}

// TouchAt stamps the entry at logical index with nowSec.
func (s *store) TouchAt(index int, nowSec int64) {
	if index >= 0 && index < s.count {
		s.entries[s.slotFor(index)].timestamp = nowSec
	}
}

// HasCurrent reports whether there is an entry at logical position 0, i.e.
// something to encode or awaiting reply at the head of the queue.
func (s *store) HasCurrent() bool { return s.count > 0 }

// Peek returns the entry at logical position 0 without removing it.
func (s *store) Peek() *storeEntry {
	if s.count == 0 {
		return nil
	}
	return &s.entries[s.head]
}

// GetAt returns the entry at logical position index (0 is the head), or nil
// if index is out of range.
func (s *store) GetAt(index int) *storeEntry {
	if index < 0 || index >= s.count {
		return nil
	}
	return &s.entries[s.slotFor(index)]
}

// IsQueueable reports whether the store has room to append one more entry.
func (s *store) IsQueueable() bool { return !s.Full() }

// Append adds e to the tail of the queue. ok=false if the store is full.
func (s *store) Append(e storeEntry) (ok bool) {
	if s.Full() {
		return false
	}
	e.inUse = true
	idx := (s.head + s.count) % len(s.entries)
	s.entries[idx] = e
	s.count++
	return true
}

// DropCurrent removes the head entry unconditionally. (The client retires a
// fully sent, non-response-expecting entry with DeleteAt instead.)
func (s *store) DropCurrent() {
	if s.count == 0 {
		return
	}
	s.entries[s.head] = storeEntry{}
	s.head = (s.head + 1) % len(s.entries)
	s.count--
}

// MarkCurrent flags the head entry as sent-but-awaiting-reply. It stays in
// the store (not necessarily at the head once other entries are appended
// behind it) until PopMarkedBy retires it.
func (s *store) MarkCurrent() {
	if s.count == 0 {
		return
	}
	s.entries[s.head].marked = true
	s.entries[s.head].dup = true
}

// PopMarkedBy scans all occupied slots for a marked entry of the given kind
// and packet id, removes it (shifting later entries to fill the gap), and
// returns it. ok=false if no such entry exists.
func (s *store) PopMarkedBy(kind PacketKind, packetID uint16) (e storeEntry, ok bool) {
	for i := 0; i < s.count; i++ {
		idx := s.slotFor(i)
		entry := &s.entries[idx]
		if entry.marked && entry.kind == kind && entry.packetID == packetID {
			e = *entry
			s.deleteLogical(i)
			return e, true
		}
	}
	return storeEntry{}, false
}

// DeleteAt removes the logical index-th entry outright: the client uses it to
// retire a fully sent entry that expects no reply, the CONNECT entry once a
// CONNACK arrives, and the PINGREQ entry once a PINGRESP arrives.
func (s *store) DeleteAt(index int) {
	if index < 0 || index >= s.count {
		return
	}
	s.deleteLogical(index)
}

func (s *store) deleteLogical(index int) {
	for i := index; i < s.count-1; i++ {
		s.entries[s.slotFor(i)] = s.entries[s.slotFor(i+1)]
	}
	last := s.slotFor(s.count - 1)
	s.entries[last] = storeEntry{}
	s.count--
}

// Touch stamps the head entry's timestamp. The client stamps sent entries
// with TouchAt, so GetTimeout measures ack latency from the most recent send.
func (s *store) Touch(nowSec int64) {
	if s.count == 0 {
		return
	}
	s.entries[s.head].timestamp = nowSec
}

// GetTimeout reports the seconds remaining until the oldest marked entry's
// ack deadline, and whether any marked (ack-pending) entry exists at all. A
// non-positive remaining value with pending true means an ack has timed out;
// pending false means the store has nothing outstanding, so the only
// deadline that matters is keep-alive, which RunOnce tracks separately.
func (s *store) GetTimeout(nowSec int64, ackTimeoutSec int64) (remaining int64, pending bool) {
	for i := 0; i < s.count; i++ {
		if e := &s.entries[s.slotFor(i)]; e.marked {
			return ackTimeoutSec - (nowSec - e.timestamp), true
		}
	}
	return ackTimeoutSec, false
}

// UnmarkAll clears the marked flag on every entry, used once a new CONNACK
// is accepted so every in-flight packet is considered unacknowledged again
// (republished with DUP on the new connection, per the data model).
func (s *store) UnmarkAll() {
	for i := 0; i < s.count; i++ {
		s.entries[s.slotFor(i)].marked = false
	}
}

// Clear empties the store entirely, without touching the id allocator.
func (s *store) Clear() {
	for i := range s.entries {
		s.entries[i] = storeEntry{}
	}
	s.head = 0
	s.count = 0
}

// AllocateID returns the next packet identifier not currently in use by any
// store entry, skipping 0 (reserved, MQTT-2.3.1). It panics only if every
// identifier from 1 to 65535 is in use; callers check IsQueueable first.
func (s *store) AllocateID() uint16 {
	for tries := 0; tries < 0x10000; tries++ {
		id := s.nextID
		s.nextID++
		if s.nextID == 0 {
			s.nextID = 1
		}
		if id == 0 {
			continue
		}
		if !s.idInUse(id) {
			return id
		}
	}
	panic("lmqtt: no free packet identifier")
}

func (s *store) idInUse(id uint16) bool {
	for i := 0; i < s.count; i++ {
		e := &s.entries[s.slotFor(i)]
		if e.packetID == id {
			return true
		}
	}
	return false
}
