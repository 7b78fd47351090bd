package algorithms

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distcodep7/conference/dsnet"
	"github.com/distcodep7/conference/lamport"
	"github.com/distcodep7/conference/testutils"
	"github.com/distcodep7/conference/trace"
)

type peerResult struct {
	rounds []Round
	err    error
}

// runPeers plays a whole conference over an in-memory topology.
func runPeers(t *testing.T, clocks []lamport.Time, cfg PeerConfig) []peerResult {
	t.Helper()

	topo, err := dsnet.NewTopology(len(clocks))
	require.NoError(t, err)
	defer topo.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results := make([]peerResult, len(clocks))
	var wg sync.WaitGroup
	for id, clock := range clocks {
		peerCfg := cfg
		peerCfg.InitialClock = clock
		peer := NewPeer(topo.Port(id), peerCfg)

		wg.Add(1)
		go func() {
			defer wg.Done()
			rounds, err := peer.Run(ctx)
			results[id] = peerResult{rounds: rounds, err: err}
		}()
	}
	wg.Wait()
	return results
}

func TestPeer_TieBreakByID(t *testing.T) {
	results := runPeers(t, []lamport.Time{5, 5, 5}, PeerConfig{Rounds: 1})

	for id, res := range results {
		require.NoError(t, res.err, "peer %d", id)
		require.Len(t, res.rounds, 1)
		assert.Equal(t, []int{0, 1, 2}, res.rounds[0].IDs(), "peer %d", id)
		assert.Equal(t, lamport.Timestamp{Time: 6, ID: id}, res.rounds[0].Request)
	}
}

func TestPeer_IdenticalOrdersAndMutualExclusion(t *testing.T) {
	const rounds = 3
	clocks := []lamport.Time{3, 0, 4, 1, 2}
	cs := &testutils.CriticalSection{}

	results := runPeers(t, clocks, PeerConfig{
		Rounds:   rounds,
		Hold:     5 * time.Millisecond,
		Jitter:   5 * time.Millisecond,
		Resource: cs,
	})

	for id, res := range results {
		require.NoError(t, res.err, "peer %d", id)
		require.Len(t, res.rounds, rounds)
	}

	for r := 0; r < rounds; r++ {
		want := results[0].rounds[r].Order
		require.Len(t, want, len(clocks))
		for id, res := range results {
			assert.Equal(t, want, res.rounds[r].Order, "peer %d round %d", id, r+1)
		}
		assert.Equal(t, results[0].rounds[r].IDs(), cs.Order(r+1), "round %d", r+1)
	}

	assert.Zero(t, cs.Overlaps())
	assert.Equal(t, len(clocks)*rounds, cs.Value())
}

func TestPeer_TableAdmitsEveryPeerOncePerRound(t *testing.T) {
	table := &Table{}
	results := runPeers(t, []lamport.Time{0, 0, 0, 0}, PeerConfig{
		Rounds:   2,
		Hold:     time.Millisecond,
		Resource: table,
	})

	for _, res := range results {
		require.NoError(t, res.err)
	}
	assert.Equal(t, 8, table.Admissions())
}

func TestPeer_LamportCondition(t *testing.T) {
	var buf bytes.Buffer
	rec := trace.NewRecorder(&buf)

	results := runPeers(t, []lamport.Time{2, 0, 1}, PeerConfig{Rounds: 2, Trace: rec})
	for _, res := range results {
		require.NoError(t, res.err)
	}

	events, err := trace.ReadEvents(&buf)
	require.NoError(t, err)

	var recv, enter int
	for _, evt := range events {
		switch evt.EvtType {
		case trace.EvtTypeRecv:
			recv++
			msg, err := dsnet.ParseMessage(evt.Line)
			require.NoError(t, err)
			assert.Greater(t, evt.Lamport, uint64(msg.Timestamp), "receipt must follow the send")
			assert.Equal(t, msg.From, evt.From)
		case trace.EvtTypeEnter:
			enter++
		}
	}
	// Per round every peer receives a request, a reply and an exit from both
	// others; the last round's trailing exits are never read.
	assert.GreaterOrEqual(t, recv, 3*2*2*2)
	assert.Equal(t, 6, enter)
}

func TestPeer_ClosedTopologyUnblocksReceivers(t *testing.T) {
	topo, err := dsnet.NewTopology(3)
	require.NoError(t, err)

	errs := make(chan error, 2)
	for id := 0; id < 2; id++ {
		peer := NewPeer(topo.Port(id), PeerConfig{})
		go func() {
			_, err := peer.Run(context.Background())
			errs <- err
		}()
	}

	// Peer 2 never runs, so both peers block collecting requests.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, topo.Close())

	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, dsnet.ErrChannelClosed)
		case <-time.After(time.Second):
			t.Fatal("peer still blocked after the topology was closed")
		}
	}
}

// scriptedEndpoint plays peer 1 towards peer 0 from a fixed script.
type scriptedEndpoint struct {
	mu     sync.Mutex
	script []dsnet.Message
	sent   []dsnet.Message
}

func (s *scriptedEndpoint) ID() int      { return 0 }
func (s *scriptedEndpoint) Peers() []int { return []int{1} }

func (s *scriptedEndpoint) Send(_ context.Context, _ int, msg dsnet.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

func (s *scriptedEndpoint) Broadcast(ctx context.Context, msg dsnet.Message) error {
	return s.Send(ctx, 1, msg)
}

func (s *scriptedEndpoint) Receive(_ context.Context, from int) (dsnet.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if from != 1 {
		return dsnet.Message{}, dsnet.ErrUnknownPeer
	}
	if len(s.script) == 0 {
		return dsnet.Message{}, dsnet.ErrChannelClosed
	}
	msg := s.script[0]
	s.script = s.script[1:]
	return msg, nil
}

func (s *scriptedEndpoint) kinds() []dsnet.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := make([]dsnet.Kind, len(s.sent))
	for i, msg := range s.sent {
		kinds[i] = msg.Kind
	}
	return kinds
}

func msg(kind dsnet.Kind, ts lamport.Time) dsnet.Message {
	return dsnet.Message{Kind: kind, From: 1, Timestamp: ts}
}

func TestPeer_DrainsStaleExit(t *testing.T) {
	ep := &scriptedEndpoint{script: []dsnet.Message{
		msg(dsnet.Request, 5), msg(dsnet.Reply, 6),
		// Peer 1 was admitted after peer 0, so its exit opens round 2.
		msg(dsnet.Exit, 7), msg(dsnet.Request, 8), msg(dsnet.Reply, 9),
		msg(dsnet.Exit, 10),
	}}
	peer := NewPeer(ep, PeerConfig{Rounds: 2})

	rounds, err := peer.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, rounds, 2)

	assert.Equal(t, []int{0, 1}, rounds[0].IDs())
	assert.Equal(t, []int{1, 0}, rounds[1].IDs())
	assert.Equal(t, lamport.Timestamp{Time: 10, ID: 0}, rounds[1].Request)
	assert.Equal(t, Done, peer.State())
	assert.Equal(t, []dsnet.Kind{
		dsnet.Request, dsnet.Reply, dsnet.Exit,
		dsnet.Request, dsnet.Reply, dsnet.Exit,
	}, ep.kinds())
}

func TestPeer_ProtocolViolations(t *testing.T) {
	tests := []struct {
		name   string
		script []dsnet.Message
		state  State
		want   dsnet.Kind
	}{
		{
			name:   "reply before request",
			script: []dsnet.Message{msg(dsnet.Reply, 1)},
			state:  CollectingRequests,
			want:   dsnet.Request,
		},
		{
			name:   "exit that is not stale",
			script: []dsnet.Message{msg(dsnet.Exit, 1)},
			state:  CollectingRequests,
			want:   dsnet.Request,
		},
		{
			name:   "duplicate request",
			script: []dsnet.Message{msg(dsnet.Request, 1), msg(dsnet.Request, 2)},
			state:  CollectingReplies,
			want:   dsnet.Reply,
		},
		{
			name:   "exit from wrong sender",
			script: []dsnet.Message{msg(dsnet.Request, 0), msg(dsnet.Reply, 2), {Kind: dsnet.Exit, From: 2, Timestamp: 3}},
			state:  WaitingForTurn,
			want:   dsnet.Exit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep := &scriptedEndpoint{script: tt.script}
			_, err := NewPeer(ep, PeerConfig{InitialClock: 4}).Run(context.Background())

			require.ErrorIs(t, err, ErrProtocolViolation)
			var perr *ProtocolError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, 0, perr.Peer)
			assert.Equal(t, 1, perr.From)
			assert.Equal(t, tt.state, perr.State)
			assert.Equal(t, tt.want, perr.Want)
		})
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "waiting-for-turn", WaitingForTurn.String())
	assert.Equal(t, "state(42)", State(42).String())
}
