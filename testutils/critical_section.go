package testutils

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Visit is one stay of a peer in the critical section.
type Visit struct {
	Peer  int
	Round int
	Enter time.Time
	Exit  time.Time
}

// CriticalSection is a shared resource for tests. It records every visit and
// counts the times a peer entered while another one was still inside.
type CriticalSection struct {
	mu       sync.Mutex
	inside   []int
	visits   []Visit
	overlaps int
}

// Use has the signature of algorithms.Resource.
func (cs *CriticalSection) Use(ctx context.Context, peer, round int, hold time.Duration) error {
	enter := time.Now()
	cs.mu.Lock()
	if len(cs.inside) > 0 {
		cs.overlaps++
	}
	cs.inside = append(cs.inside, peer)
	cs.mu.Unlock()

	var err error
	if hold > 0 {
		select {
		case <-time.After(hold):
		case <-ctx.Done():
			err = ctx.Err()
		}
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	for i, id := range cs.inside {
		if id == peer {
			cs.inside = append(cs.inside[:i], cs.inside[i+1:]...)
			break
		}
	}
	cs.visits = append(cs.visits, Visit{Peer: peer, Round: round, Enter: enter, Exit: time.Now()})
	return err
}

// Value is the number of completed visits.
func (cs *CriticalSection) Value() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.visits)
}

// Overlaps is the number of entries that happened while the section was
// occupied.
func (cs *CriticalSection) Overlaps() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.overlaps
}

// Visits returns the visits in the order they ended.
func (cs *CriticalSection) Visits() []Visit {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return append([]Visit(nil), cs.visits...)
}

// Order returns the peers of the given round in the order they left.
func (cs *CriticalSection) Order(round int) []int {
	var order []int
	for _, v := range cs.Visits() {
		if v.Round == round {
			order = append(order, v.Peer)
		}
	}
	return order
}

func (v Visit) String() string {
	return fmt.Sprintf("peer %d round %d [%s]", v.Peer, v.Round, v.Exit.Sub(v.Enter))
}
