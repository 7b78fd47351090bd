package dsnet

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrChannelClosed = errors.New("channel closed")
	ErrUnknownPeer   = errors.New("unknown peer")
)

// Endpoint is one peer's view of the link fabric: an outbound channel and an
// inbound channel for every other peer, addressed by peer id.
type Endpoint interface {
	ID() int
	// Peers returns the ids of every other peer in ascending order.
	Peers() []int
	// Send never blocks indefinitely on a healthy fabric.
	Send(ctx context.Context, to int, msg Message) error
	// Broadcast sends msg to every other peer, each over its own channel.
	Broadcast(ctx context.Context, msg Message) error
	// Receive blocks until a message from the given sender arrives. It fails
	// with ErrChannelClosed once the fabric is torn down.
	Receive(ctx context.Context, from int) (Message, error)
}

// LinkBuffer bounds the messages in flight on one directed channel. A peer
// never has more than a stale exit and one round's request, reply and exit
// outstanding towards a single neighbour.
const LinkBuffer = 8

type link struct {
	from, to int
	ch       chan Message
	done     <-chan struct{}
}

func (l *link) send(ctx context.Context, msg Message) error {
	select {
	case <-l.done:
		return ErrChannelClosed
	default:
	}

	select {
	case l.ch <- msg:
		return nil
	case <-l.done:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *link) receive(ctx context.Context) (Message, error) {
	select {
	case <-l.done:
		return Message{}, ErrChannelClosed
	default:
	}

	select {
	case msg := <-l.ch:
		return msg, nil
	case <-l.done:
		return Message{}, ErrChannelClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Topology is an in-memory full mesh: two directed FIFO channels for each of
// the n(n-1)/2 unordered peer pairs.
type Topology struct {
	size  int
	links map[int]map[int]*link
	ports []*Port

	done      chan struct{}
	closeOnce sync.Once
}

// NewTopology builds the fabric for peers 0..n-1.
func NewTopology(n int) (*Topology, error) {
	if n < 2 {
		return nil, fmt.Errorf("topology needs at least 2 peers, got %d", n)
	}

	t := &Topology{
		size:  n,
		links: make(map[int]map[int]*link, n),
		ports: make([]*Port, n),
		done:  make(chan struct{}),
	}
	for i := 0; i < n; i++ {
		t.links[i] = make(map[int]*link, n-1)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			t.links[i][j] = t.newLink(i, j)
			t.links[j][i] = t.newLink(j, i)
		}
	}

	for id := 0; id < n; id++ {
		p := &Port{
			id:  id,
			out: make(map[int]*link, n-1),
			in:  make(map[int]*link, n-1),
		}
		for other := 0; other < n; other++ {
			if other == id {
				continue
			}
			p.peers = append(p.peers, other)
			p.out[other] = t.links[id][other]
			p.in[other] = t.links[other][id]
		}
		t.ports[id] = p
	}
	return t, nil
}

func (t *Topology) newLink(from, to int) *link {
	return &link{from: from, to: to, ch: make(chan Message, LinkBuffer), done: t.done}
}

// Size is the number of peers.
func (t *Topology) Size() int { return t.size }

// Pairs is the number of unordered peer pairs.
func (t *Topology) Pairs() int { return t.size * (t.size - 1) / 2 }

// Links is the number of directed channels.
func (t *Topology) Links() int {
	n := 0
	for _, out := range t.links {
		n += len(out)
	}
	return n
}

// Port returns the endpoint of the given peer, or nil for an unknown id.
func (t *Topology) Port(id int) *Port {
	if id < 0 || id >= t.size {
		return nil
	}
	return t.ports[id]
}

// Endpoint is Port typed as an Endpoint.
func (t *Topology) Endpoint(id int) (Endpoint, error) {
	p := t.Port(id)
	if p == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPeer, id)
	}
	return p, nil
}

// Send delivers msg on the channel from -> to.
func (t *Topology) Send(ctx context.Context, from, to int, msg Message) error {
	p := t.Port(from)
	if p == nil {
		return fmt.Errorf("%w: %d", ErrUnknownPeer, from)
	}
	return p.Send(ctx, to, msg)
}

// Receive blocks peer until a message from the given sender arrives.
func (t *Topology) Receive(ctx context.Context, peer, from int) (Message, error) {
	p := t.Port(peer)
	if p == nil {
		return Message{}, fmt.Errorf("%w: %d", ErrUnknownPeer, peer)
	}
	return p.Receive(ctx, from)
}

// BroadcastFrom sends msg from one peer to all others.
func (t *Topology) BroadcastFrom(ctx context.Context, from int, msg Message) error {
	p := t.Port(from)
	if p == nil {
		return fmt.Errorf("%w: %d", ErrUnknownPeer, from)
	}
	return p.Broadcast(ctx, msg)
}

// Close tears the fabric down. Blocked and future receives fail with
// ErrChannelClosed. It is safe to call more than once.
func (t *Topology) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}

// Port is the in-memory Endpoint of one peer.
type Port struct {
	id    int
	peers []int
	out   map[int]*link
	in    map[int]*link
}

var _ Endpoint = (*Port)(nil)

func (p *Port) ID() int { return p.id }

func (p *Port) Peers() []int {
	peers := append([]int(nil), p.peers...)
	sort.Ints(peers)
	return peers
}

func (p *Port) Send(ctx context.Context, to int, msg Message) error {
	l, ok := p.out[to]
	if !ok {
		return fmt.Errorf("%w: %d -> %d", ErrUnknownPeer, p.id, to)
	}
	return l.send(ctx, msg)
}

func (p *Port) Broadcast(ctx context.Context, msg Message) error {
	for _, to := range p.peers {
		if err := p.out[to].send(ctx, msg); err != nil {
			return fmt.Errorf("broadcast %s to %d: %w", msg.Kind, to, err)
		}
	}
	return nil
}

func (p *Port) Receive(ctx context.Context, from int) (Message, error) {
	l, ok := p.in[from]
	if !ok {
		return Message{}, fmt.Errorf("%w: %d <- %d", ErrUnknownPeer, p.id, from)
	}
	return l.receive(ctx)
}
