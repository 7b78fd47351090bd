// Package conference runs a whole conference: it sizes it, builds the link
// fabric, starts one peer per participant and joins them.
package conference

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"slices"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"golang.org/x/sync/errgroup"

	"github.com/distcodep7/conference/algorithms"
	"github.com/distcodep7/conference/config"
	"github.com/distcodep7/conference/dsnet"
	"github.com/distcodep7/conference/lamport"
	"github.com/distcodep7/conference/logging"
	"github.com/distcodep7/conference/metrics"
	"github.com/distcodep7/conference/trace"
)

// ErrDivergentOrder means two peers derived different admission orders for
// the same round.
var ErrDivergentOrder = errors.New("peers disagree on the admission order")

// Options configures Run. Out-of-range conference values are clamped.
type Options struct {
	config.Conference
	Transport config.Transport

	// InitialClocks, when set, fixes the starting clock of every peer and
	// must have one entry per peer after clamping.
	InitialClocks []lamport.Time
	Resource      algorithms.Resource
	Logger        log.Logger
	Metrics       *metrics.Metrics
	Trace         *trace.Recorder
}

// Result is what the peers of a finished conference observed.
type Result struct {
	Peers         int
	Rounds        int
	InitialClocks []lamport.Time
	// PeerRounds holds every peer's rounds, indexed by peer id.
	PeerRounds [][]algorithms.Round
	Duration   time.Duration
}

// AdmissionOrder returns the peer ids in the order they were admitted in the
// given round, counting from 1.
func (r *Result) AdmissionOrder(round int) []int {
	if round < 1 || len(r.PeerRounds) == 0 || round > len(r.PeerRounds[0]) {
		return nil
	}
	return r.PeerRounds[0][round-1].IDs()
}

func (r *Result) verify() error {
	for round := 0; round < r.Rounds; round++ {
		want := r.PeerRounds[0][round].Order
		for id := 1; id < r.Peers; id++ {
			if got := r.PeerRounds[id][round].Order; !slices.Equal(want, got) {
				return fmt.Errorf("%w: round %d: peer 0 has %v, peer %d has %v",
					ErrDivergentOrder, round+1, want, id, got)
			}
		}
	}
	return nil
}

// RunConference runs peerCount peers for roundsPerPeer rounds each over the
// in-memory fabric, logging to stderr.
func RunConference(peerCount, roundsPerPeer int, hold time.Duration) error {
	logger, err := logging.New(os.Stderr, "logfmt", "info")
	if err != nil {
		return err
	}

	opts := Options{
		Conference: config.Default().Conference,
		Transport:  config.Transport{Kind: config.TransportLocal},
		Logger:     logger,
	}
	opts.Peers = peerCount
	opts.Rounds = roundsPerPeer
	opts.Hold = hold

	_, err = Run(context.Background(), opts)
	return err
}

// Run plays a conference and blocks until every peer finished all rounds or
// the first peer failed. On failure the fabric is closed so the remaining
// peers stop, and the partial result is returned with the error.
func Run(ctx context.Context, opts Options) (*Result, error) {
	base := logging.OrNop(opts.Logger)
	logger := log.With(base, "component", "coordinator")
	m := opts.Metrics
	if m == nil {
		m = metrics.NewDiscard()
	}

	if err := opts.Conference.CheckBounds(); err != nil {
		m.Conferences.With("outcome", "failed").Add(1)
		return nil, err
	}
	cc, warnings := opts.Conference.Clamp()
	for _, w := range warnings {
		level.Warn(logger).Log("msg", "clamped configuration", "change", w)
	}

	clocks, err := initialClocks(cc, opts.InitialClocks)
	if err != nil {
		return nil, err
	}

	resource := opts.Resource
	if resource == nil {
		resource = &algorithms.Table{}
	}

	fab, err := newFabric(ctx, cc.Peers, opts.Transport, base, m)
	if err != nil {
		m.Conferences.With("outcome", "failed").Add(1)
		return nil, fmt.Errorf("failed to build fabric: %w", err)
	}
	defer fab.Close()

	result := &Result{
		Peers:         cc.Peers,
		Rounds:        cc.Rounds,
		InitialClocks: clocks,
		PeerRounds:    make([][]algorithms.Round, cc.Peers),
	}

	peers := make([]*algorithms.Peer, cc.Peers)
	for id := range peers {
		endpoint, err := fab.Endpoint(id)
		if err != nil {
			return nil, err
		}
		peers[id] = algorithms.NewPeer(endpoint, algorithms.PeerConfig{
			Rounds:       cc.Rounds,
			Hold:         cc.Hold,
			Jitter:       cc.Jitter,
			InitialClock: clocks[id],
			Resource:     resource,
			Logger:       base,
			Metrics:      m,
			Trace:        opts.Trace,
		})
	}

	level.Info(logger).Log("msg", "conference started", "peers", cc.Peers, "rounds", cc.Rounds,
		"hold", cc.Hold, "transport", opts.Transport.Kind, "clocks", fmt.Sprint(clocks))
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() { fab.Close() })
	defer stop()

	for id, peer := range peers {
		g.Go(func() error {
			m.ActivePeers.Add(1)
			defer m.ActivePeers.Add(-1)

			rounds, err := peer.Run(gctx)
			result.PeerRounds[id] = rounds
			return err
		})
	}

	err = g.Wait()
	result.Duration = time.Since(start)
	if err == nil {
		err = result.verify()
	}
	if err != nil {
		m.Conferences.With("outcome", "failed").Add(1)
		level.Error(logger).Log("msg", "conference failed", "duration", result.Duration, "err", err)
		return result, fmt.Errorf("conference failed: %w", err)
	}

	m.Conferences.With("outcome", "finished").Add(1)
	level.Info(logger).Log("msg", "conference finished", "peers", cc.Peers, "rounds", cc.Rounds, "duration", result.Duration)
	return result, nil
}

func initialClocks(cc config.Conference, fixed []lamport.Time) ([]lamport.Time, error) {
	if len(fixed) > 0 {
		if len(fixed) != cc.Peers {
			return nil, fmt.Errorf("%w: %d initial clocks for %d peers",
				config.ErrInvalidConfiguration, len(fixed), cc.Peers)
		}
		return slices.Clone(fixed), nil
	}

	clocks := make([]lamport.Time, cc.Peers)
	if cc.RandomizeClocks {
		for i := range clocks {
			clocks[i] = lamport.Time(rand.N(cc.Peers))
		}
	}
	return clocks, nil
}

var _ fabric = (*dsnet.Topology)(nil)
