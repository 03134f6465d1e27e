package snapshot

import "reflect"

// Equal reports whether two snapshots are structurally equal: same channel
// ids, same fields, same values. Object key order never matters.
func Equal(a, b *Snapshot) bool {
	if a == nil || b == nil {
		return a == b
	}
	return reflect.DeepEqual(a.tree, b.tree)
}

// Detector remembers the last accepted snapshot and gates the update path on
// whether a newly observed snapshot differs from it.
//
// A false "changed" only costs a redundant render pass; a false "unchanged"
// would delay a real update by one cycle.
type Detector struct {
	last *Snapshot

	// generation counts accepted snapshots.
	generation uint64
}

// Observe returns true and records s as the last accepted snapshot when it
// differs from the previous one. A nil snapshot is never accepted.
func (d *Detector) Observe(s *Snapshot) bool {
	if s == nil {
		return false
	}
	if d.last != nil && Equal(d.last, s) {
		return false
	}
	d.last = s
	d.generation++
	return true
}

// Last returns the last accepted snapshot, or nil before the first one.
func (d *Detector) Last() *Snapshot {
	return d.last
}

// Generation returns how many snapshots have been accepted.
func (d *Detector) Generation() uint64 {
	return d.generation
}
