package lamport

import (
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClock(t *testing.T) {
	assert.Equal(t, Time(0), NewClock(0).Time())
	assert.Equal(t, Time(5), NewClock(5).Time())
}

func TestTick(t *testing.T) {
	clock := NewClock(0)
	require.Equal(t, Time(1), clock.Tick())

	for i := 0; i < 100; i++ {
		before := clock.Time()
		assert.Equal(t, before+1, clock.Tick())
	}
}

func TestObserve(t *testing.T) {
	tests := []struct {
		name     string
		current  Time
		observed Time
		want     Time
	}{
		{name: "observe_smaller_time", current: 5, observed: 3, want: 6},
		{name: "observe_larger_time", current: 5, observed: 10, want: 11},
		{name: "observe_equal_time", current: 5, observed: 5, want: 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := NewClock(tt.current)
			assert.Equal(t, tt.want, clock.Observe(tt.observed))
			assert.Equal(t, tt.want, clock.Time())
		})
	}
}

func TestConcurrentOperations(t *testing.T) {
	clock := NewClock(0)
	const goroutines = 50
	const ops = 1000

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < ops; j++ {
				clock.Tick()
			}
		}()
		go func(routine int) {
			defer wg.Done()
			for j := 0; j < ops; j++ {
				clock.Observe(Time(routine*ops + j))
			}
		}(i)
	}
	wg.Wait()

	assert.GreaterOrEqual(t, clock.Time(), Time(goroutines*ops))
}

func TestMonotonicity(t *testing.T) {
	clock := NewClock(0)
	var last Time
	for i := 0; i < 1000; i++ {
		var now Time
		if i%2 == 0 {
			now = clock.Tick()
		} else {
			now = clock.Observe(Time(i))
		}
		require.Greater(t, now, last)
		last = now
	}
}

// A message sent after another is received always carries a larger time.
func TestHappensBefore(t *testing.T) {
	a, b := NewClock(0), NewClock(0)

	sent := a.Tick()
	b.Observe(sent)
	reply := b.Tick()
	assert.Greater(t, reply, sent)

	a.Observe(reply)
	assert.Greater(t, a.Tick(), reply)
}

func TestTimestampOrder(t *testing.T) {
	stamps := []Timestamp{
		{Time: 6, ID: 2},
		{Time: 4, ID: 9},
		{Time: 6, ID: 0},
		{Time: 6, ID: 1},
	}
	slices.SortFunc(stamps, Timestamp.Compare)

	assert.Equal(t, []Timestamp{
		{Time: 4, ID: 9},
		{Time: 6, ID: 0},
		{Time: 6, ID: 1},
		{Time: 6, ID: 2},
	}, stamps)
	assert.Equal(t, 0, Timestamp{Time: 1, ID: 1}.Compare(Timestamp{Time: 1, ID: 1}))
	assert.Equal(t, "(4, 9)", stamps[0].String())
}
