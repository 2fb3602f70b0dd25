package lmqtt

// idSet is a bounded set of 16 bit packet identifiers, used to track inbound
// QoS 2 PUBLISH packets that have been received (and ack'd with PUBREC) but
// whose PUBCOMP has not yet been sent. Capacity is fixed at construction;
// Put on a full set not already containing id fails rather than growing.
type idSet struct {
	ids []uint16
}

// newIDSet returns a set backed by storage with room for capacity entries.
func newIDSet(capacity int) *idSet {
	return &idSet{ids: make([]uint16, 0, capacity)}
}

// Contains reports whether id is currently tracked.
func (s *idSet) Contains(id uint16) bool {
	for _, v := range s.ids {
		if v == id {
			return true
		}
	}
	return false
}

// Put adds id to the set. It is idempotent-rejecting: re-adding an id
// already present returns ok=false, same as a full set, so callers can
// distinguish "first time seeing this id" from every other case with one
// boolean.
func (s *idSet) Put(id uint16) (ok bool) {
	if s.Contains(id) {
		return false
	}
	if len(s.ids) == cap(s.ids) {
		return false
	}
	s.ids = append(s.ids, id)
	return true
}

// Remove drops id from the set, if present.
func (s *idSet) Remove(id uint16) {
	for i, v := range s.ids {
		if v == id {
			s.ids = append(s.ids[:i], s.ids[i+1:]...)
			return
		}
	}
}

// Len reports the number of tracked identifiers.
func (s *idSet) Len() int { return len(s.ids) }

// Full reports whether Put would fail for any id not already present.
func (s *idSet) Full() bool { return len(s.ids) == cap(s.ids) }

// Reset empties the set without releasing its backing storage.
func (s *idSet) Reset() { s.ids = s.ids[:0] }
