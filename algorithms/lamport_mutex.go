package algorithms

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/distcodep7/conference/dsnet"
	"github.com/distcodep7/conference/lamport"
	"github.com/distcodep7/conference/logging"
	"github.com/distcodep7/conference/metrics"
	"github.com/distcodep7/conference/trace"
)

// State is a step of the per-round protocol.
type State int32

const (
	Idle State = iota
	Requesting
	CollectingRequests
	CollectingReplies
	Queued
	WaitingForTurn
	InCriticalSection
	Exiting
	Done
)

var stateNames = map[State]string{
	Idle:               "idle",
	Requesting:         "requesting",
	CollectingRequests: "collecting-requests",
	CollectingReplies:  "collecting-replies",
	Queued:             "queued",
	WaitingForTurn:     "waiting-for-turn",
	InCriticalSection:  "in-critical-section",
	Exiting:            "exiting",
	Done:               "done",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// PeerConfig parameterizes a Peer. Zero values are usable: one round, no
// hold, no jitter, a plain sleeping resource and no observability.
type PeerConfig struct {
	Rounds       int
	Hold         time.Duration
	Jitter       time.Duration
	InitialClock lamport.Time
	Resource     Resource
	Logger       log.Logger
	Metrics      *metrics.Metrics
	Trace        *trace.Recorder
}

// Round is what one peer observed during one round.
type Round struct {
	Number  int
	Request lamport.Timestamp
	// Order is the admission order the peer derived once every request and
	// reply had been collected.
	Order []lamport.Timestamp
}

// IDs returns the peer ids of Order.
func (r Round) IDs() []int {
	ids := make([]int, len(r.Order))
	for i, ts := range r.Order {
		ids[i] = ts.ID
	}
	return ids
}

// Peer runs the Lamport conference protocol for one participant: every round
// it broadcasts a request, collects one request and one reply from every other
// peer, and then waits for exactly the peers ahead of it in the agreed order
// to exit before using the shared resource.
type Peer struct {
	id       int
	endpoint dsnet.Endpoint
	peers    []int
	clock    *lamport.Clock
	cfg      PeerConfig
	logger   log.Logger
	metrics  *metrics.Metrics
	state    atomic.Int32

	queue *PendingQueue
	// staleExits holds the peers admitted after this one in the previous
	// round. Their exits were never needed, so they are still the first
	// message on those channels.
	staleExits map[int]struct{}
}

func NewPeer(endpoint dsnet.Endpoint, cfg PeerConfig) *Peer {
	if cfg.Rounds < 1 {
		cfg.Rounds = 1
	}
	if cfg.Resource == nil {
		cfg.Resource = ResourceFunc(func(ctx context.Context, _, _ int, hold time.Duration) error {
			return sleep(ctx, hold)
		})
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewDiscard()
	}

	return &Peer{
		id:         endpoint.ID(),
		endpoint:   endpoint,
		peers:      endpoint.Peers(),
		clock:      lamport.NewClock(cfg.InitialClock),
		cfg:        cfg,
		logger:     log.With(logging.OrNop(cfg.Logger), "peer", endpoint.ID()),
		metrics:    cfg.Metrics,
		staleExits: make(map[int]struct{}),
	}
}

func (p *Peer) ID() int { return p.id }

func (p *Peer) State() State { return State(p.state.Load()) }

// Clock returns the current Lamport time of the peer.
func (p *Peer) Clock() lamport.Time { return p.clock.Time() }

func (p *Peer) setState(s State) {
	p.state.Store(int32(s))
	level.Debug(p.logger).Log("msg", "state", "state", s)
}

// Run plays every configured round and returns what the peer observed. It
// stops at the first error; the rounds completed so far are still returned.
func (p *Peer) Run(ctx context.Context) ([]Round, error) {
	rounds := make([]Round, 0, p.cfg.Rounds)
	defer p.setState(Done)

	for number := 1; number <= p.cfg.Rounds; number++ {
		p.setState(Idle)
		if err := sleep(ctx, p.jitter()); err != nil {
			return rounds, err
		}

		round, err := p.runRound(ctx, number)
		if err != nil {
			level.Error(p.logger).Log("msg", "round failed", "round", number, "state", p.State(), "err", err)
			return rounds, fmt.Errorf("peer %d round %d: %w", p.id, number, err)
		}
		rounds = append(rounds, round)
		p.metrics.Rounds.Add(1)

		if err := sleep(ctx, p.jitter()); err != nil {
			return rounds, err
		}
	}
	return rounds, nil
}

func (p *Peer) runRound(ctx context.Context, number int) (Round, error) {
	logger := log.With(p.logger, "round", number)
	p.queue = NewPendingQueue(len(p.peers) + 1)

	p.setState(Requesting)
	own := lamport.Timestamp{Time: p.clock.Tick(), ID: p.id}
	if err := p.queue.Push(own); err != nil {
		return Round{}, err
	}
	if err := p.broadcast(ctx, number, dsnet.Message{Kind: dsnet.Request, From: p.id, Timestamp: own.Time}); err != nil {
		return Round{}, err
	}

	p.setState(CollectingRequests)
	for _, from := range p.peers {
		msg, err := p.expect(ctx, number, from, dsnet.Request)
		if err != nil {
			return Round{}, err
		}
		if err := p.queue.Push(lamport.Timestamp{Time: msg.Timestamp, ID: msg.From}); err != nil {
			return Round{}, err
		}
	}

	p.setState(CollectingReplies)
	if err := p.broadcast(ctx, number, dsnet.Message{Kind: dsnet.Reply, From: p.id, Timestamp: p.clock.Tick()}); err != nil {
		return Round{}, err
	}
	for _, from := range p.peers {
		if _, err := p.expect(ctx, number, from, dsnet.Reply); err != nil {
			return Round{}, err
		}
	}

	p.setState(Queued)
	round := Round{Number: number, Request: own, Order: p.queue.Order()}
	level.Debug(logger).Log("msg", "admission order", "order", fmt.Sprint(round.IDs()))

	waitStart := time.Now()
	for {
		head, _ := p.queue.Peek()
		if head.ID == p.id {
			break
		}
		p.setState(WaitingForTurn)
		if _, err := p.expect(ctx, number, head.ID, dsnet.Exit); err != nil {
			return Round{}, err
		}
		p.queue.Pop()
	}
	p.metrics.TurnWait.Observe(time.Since(waitStart).Seconds())

	p.setState(InCriticalSection)
	level.Info(logger).Log("msg", fmt.Sprintf("peer %d is at the table", p.id), "request", own)
	p.record(trace.TraceEvent{EvtType: trace.EvtTypeEnter, Round: number, From: p.id, To: p.id, Lamport: uint64(p.clock.Time())})
	if err := p.cfg.Resource.Use(ctx, p.id, number, p.cfg.Hold); err != nil {
		return Round{}, err
	}
	p.record(trace.TraceEvent{EvtType: trace.EvtTypeLeave, Round: number, From: p.id, To: p.id, Lamport: uint64(p.clock.Time())})
	p.metrics.Admissions.Add(1)

	p.setState(Exiting)
	p.queue.Pop()
	for _, ts := range p.queue.Order() {
		p.staleExits[ts.ID] = struct{}{}
	}
	if err := p.broadcast(ctx, number, dsnet.Message{Kind: dsnet.Exit, From: p.id, Timestamp: p.clock.Tick()}); err != nil {
		return Round{}, err
	}

	return round, nil
}

// expect receives the next message on the channel from the given peer and
// applies the Lamport receive rule. A stale exit left over from the previous
// round is consumed first; anything else of the wrong kind is fatal.
func (p *Peer) expect(ctx context.Context, round, from int, want dsnet.Kind) (dsnet.Message, error) {
	for {
		msg, err := p.endpoint.Receive(ctx, from)
		if err != nil {
			return msg, fmt.Errorf("receive %s from %d: %w", want, from, err)
		}
		p.clock.Observe(msg.Timestamp)
		p.metrics.MessagesReceived.With("kind", msg.Kind.String()).Add(1)
		p.record(trace.TraceEvent{
			EvtType: trace.EvtTypeRecv,
			Round:   round,
			From:    msg.From,
			To:      p.id,
			Kind:    msg.Kind.String(),
			Lamport: uint64(p.clock.Time()),
			Line:    line(msg),
		})
		level.Debug(p.logger).Log("msg", "received", "message", msg.String())

		if msg.From == from {
			if msg.Kind == want {
				return msg, nil
			}
			if _, stale := p.staleExits[from]; stale && msg.Kind == dsnet.Exit {
				delete(p.staleExits, from)
				continue
			}
		}
		return msg, &ProtocolError{Peer: p.id, State: p.State(), From: from, Want: want, Got: msg}
	}
}

func (p *Peer) broadcast(ctx context.Context, round int, msg dsnet.Message) error {
	level.Debug(p.logger).Log("msg", "sending", "message", msg.String())
	if err := p.endpoint.Broadcast(ctx, msg); err != nil {
		return err
	}
	p.metrics.MessagesSent.With("kind", msg.Kind.String()).Add(float64(len(p.peers)))
	p.record(trace.TraceEvent{
		EvtType: trace.EvtTypeSend,
		Round:   round,
		From:    p.id,
		To:      trace.Broadcast,
		Kind:    msg.Kind.String(),
		Lamport: uint64(msg.Timestamp),
		Line:    line(msg),
	})
	return nil
}

func (p *Peer) record(evt trace.TraceEvent) {
	evt.Peer = p.id
	if err := p.cfg.Trace.Record(evt); err != nil {
		level.Warn(p.logger).Log("msg", "failed to write trace", "err", err)
	}
}

func (p *Peer) jitter() time.Duration {
	if p.cfg.Jitter <= 0 {
		return 0
	}
	return rand.N(p.cfg.Jitter)
}

func line(msg dsnet.Message) string {
	text, err := msg.MarshalText()
	if err != nil {
		return ""
	}
	return string(text)
}
