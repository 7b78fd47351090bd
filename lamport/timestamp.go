package lamport

import "fmt"

// Timestamp pairs a Lamport time with the id of the peer that produced it.
// Timestamps are totally ordered: by time first, then by id.
type Timestamp struct {
	Time Time
	ID   int
}

// Less reports whether t is ordered strictly before other.
func (t Timestamp) Less(other Timestamp) bool {
	if t.Time != other.Time {
		return t.Time < other.Time
	}
	return t.ID < other.ID
}

// Compare returns -1, 0 or +1, for use with slices.SortFunc.
func (t Timestamp) Compare(other Timestamp) int {
	switch {
	case t.Less(other):
		return -1
	case other.Less(t):
		return 1
	default:
		return 0
	}
}

func (t Timestamp) String() string {
	return fmt.Sprintf("(%d, %d)", t.Time, t.ID)
}
