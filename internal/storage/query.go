package storage

import "math"

// MaxTime is the open upper bound for time ranges.
const MaxTime uint64 = math.MaxUint64

// Query selects rows of one property, optionally narrowed to one value and a
// half-open time range [MinTime, MaxTime).
type Query struct {
	Prop string

	// Value restricts the match to one value. Nil matches every value.
	Value Value

	// MinTime is inclusive.
	MinTime uint64

	// MaxTime is exclusive. Zero means no upper bound.
	MaxTime uint64

	// Limit caps the number of rows materialized. Zero means no limit.
	Limit int
}

// TimeBounds returns the effective [min, max) time range.
func (q Query) TimeBounds() (uint64, uint64) {
	if q.MaxTime == 0 {
		return q.MinTime, MaxTime
	}
	return q.MinTime, q.MaxTime
}

// Bound is one end of a value range.
type Bound struct {
	Value     Value
	Inclusive bool
}

// RangeQuery selects rows of one property whose value lies between Lo and Hi.
// A nil bound is open; both bounds must share a kind.
type RangeQuery struct {
	Prop  string
	Lo    *Bound
	Hi    *Bound
	Limit int
}

// Kind returns the value kind constrained by the bounds, or KindInvalid when
// both are open or they disagree.
func (q RangeQuery) Kind() Kind {
	var lo, hi Kind
	if q.Lo != nil {
		lo = KindOf(q.Lo.Value)
	}
	if q.Hi != nil {
		hi = KindOf(q.Hi.Value)
	}
	switch {
	case lo == KindInvalid:
		return hi
	case hi == KindInvalid || lo == hi:
		return lo
	default:
		return KindInvalid
	}
}

// Contains reports whether v lies inside the range. The conformance suite
// uses it as the reference for range scans.
func (q RangeQuery) Contains(v Value) bool {
	if k := q.Kind(); k == KindInvalid || KindOf(v) != k {
		return false
	}
	if q.Lo != nil {
		c := Compare(v, q.Lo.Value)
		if c < 0 || (c == 0 && !q.Lo.Inclusive) {
			return false
		}
	}
	if q.Hi != nil {
		c := Compare(v, q.Hi.Value)
		if c > 0 || (c == 0 && !q.Hi.Inclusive) {
			return false
		}
	}
	return true
}
