package algorithms

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// Resource is the shared resource peers take turns on.
type Resource interface {
	// Use holds the resource for peer during round for the given duration.
	Use(ctx context.Context, peer, round int, hold time.Duration) error
}

// ResourceFunc adapts a function to Resource.
type ResourceFunc func(ctx context.Context, peer, round int, hold time.Duration) error

func (f ResourceFunc) Use(ctx context.Context, peer, round int, hold time.Duration) error {
	return f(ctx, peer, round, hold)
}

// Table is a Resource that detects concurrent occupancy.
type Table struct {
	busy       atomic.Bool
	occupant   atomic.Int64
	admissions atomic.Int64
}

func (t *Table) Use(ctx context.Context, peer, round int, hold time.Duration) error {
	if !t.busy.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: peer %d found peer %d at the table in round %d",
			ErrMutualExclusion, peer, t.occupant.Load(), round)
	}
	t.occupant.Store(int64(peer))
	defer t.busy.Store(false)

	t.admissions.Add(1)
	return sleep(ctx, hold)
}

// Admissions is the number of successful Use calls.
func (t *Table) Admissions() int {
	return int(t.admissions.Load())
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
