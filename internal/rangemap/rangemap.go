// Package rangemap provides the guest-physical-address interval bookkeeping
// shared by every backend port's read/write helpers (spec §4.7): one sorted
// interval map [base, base+size) -> segment that answers both exact-base
// lookups (GetExact) and find-containing lookups (Get), with
// overlap-rejecting inserts. Go's standard
// library has no interval map, so this is a small purpose-built one
// grounded on the same contract the Rust source gets from the rangemap
// crate (RangeMap<u64, u64>).
package rangemap

import "sort"

// Range is a half-open interval [Start, End) over guest-physical addresses.
type Range struct {
	Start uint64
	End   uint64
}

func (r Range) contains(addr uint64) bool { return addr >= r.Start && addr < r.End }

func (r Range) overlaps(o Range) bool { return r.Start < o.End && o.Start < r.End }

// Map is an interval map from non-overlapping [Start,End) ranges to a
// value V. Not safe for concurrent use; callers guard it with their own
// lock (the Vm's exclusive lock, per spec §5).
type Map[V any] struct {
	entries []entry[V]
}

type entry[V any] struct {
	r Range
	v V
}

// New returns an empty Map.
func New[V any]() *Map[V] {
	return &Map[V]{}
}

// Insert adds [r.Start, r.End) -> v. It reports an error if the new range
// overlaps any existing entry.
func (m *Map[V]) Insert(r Range, v V) error {
	i := sort.Search(len(m.entries), func(i int) bool { return m.entries[i].r.Start >= r.Start })
	if i > 0 && m.entries[i-1].r.overlaps(r) {
		return errOverlap
	}
	if i < len(m.entries) && m.entries[i].r.overlaps(r) {
		return errOverlap
	}
	m.entries = append(m.entries, entry[V]{})
	copy(m.entries[i+1:], m.entries[i:])
	m.entries[i] = entry[V]{r: r, v: v}
	return nil
}

// Remove deletes the entry whose range starts exactly at start. It reports
// whether an entry was found and removed.
func (m *Map[V]) Remove(start uint64) bool {
	for i, e := range m.entries {
		if e.r.Start == start {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Get finds the range containing addr and returns its start, value, and
// whether it was found.
func (m *Map[V]) Get(addr uint64) (start uint64, v V, ok bool) {
	i := sort.Search(len(m.entries), func(i int) bool { return m.entries[i].r.Start > addr })
	if i == 0 {
		return 0, v, false
	}
	e := m.entries[i-1]
	if !e.r.contains(addr) {
		return 0, v, false
	}
	return e.r.Start, e.v, true
}

// GetExact returns the value whose range starts exactly at start.
func (m *Map[V]) GetExact(start uint64) (v V, ok bool) {
	for _, e := range m.entries {
		if e.r.Start == start {
			return e.v, true
		}
	}
	return v, false
}

// Len reports the number of live entries.
func (m *Map[V]) Len() int { return len(m.entries) }

type overlapError struct{}

func (overlapError) Error() string { return "rangemap: overlapping range" }

var errOverlap error = overlapError{}

// ErrOverlap is returned by Insert when the new range overlaps an existing one.
var ErrOverlap = errOverlap
