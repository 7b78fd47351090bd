package dsnet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	pb "github.com/distcodep7/conference/proto"
)

// NodeName is the relay address of a peer.
func NodeName(id int) string {
	return "N" + strconv.Itoa(id)
}

// ParseNodeName is the inverse of NodeName.
func ParseNodeName(name string) (int, error) {
	id, err := strconv.Atoi(strings.TrimPrefix(name, "N"))
	if err != nil || !strings.HasPrefix(name, "N") || id < 0 {
		return 0, fmt.Errorf("%w: node name %q", ErrUnknownPeer, name)
	}
	return id, nil
}

// Node is an Endpoint whose channels are carried by a gRPC controller that
// relays envelopes between registered nodes. Each directed channel keeps FIFO
// order because a node writes its stream sequentially and the controller
// forwards every sender's stream in order.
type Node struct {
	id     int
	peers  []int
	logger log.Logger

	conn   *grpc.ClientConn
	stream pb.NetworkController_StreamClient
	cancel context.CancelFunc
	sendMu sync.Mutex

	inbox      *inbox
	registered chan struct{}
	closed     chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup
}

var _ Endpoint = (*Node)(nil)

// NewNode dials the controller, registers as NodeName(id) and waits for the
// registration to be acknowledged, so that messages addressed to this node
// are never dropped as unknown.
func NewNode(ctx context.Context, id int, peers []int, controllerAddr string, logger log.Logger) (*Node, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}

	conn, err := grpc.NewClient(controllerAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to controller at %s: %w", controllerAddr, err)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	stream, err := pb.NewNetworkControllerClient(conn).Stream(streamCtx)
	if err != nil {
		cancel()
		conn.Close()
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}

	sorted := append([]int(nil), peers...)
	sort.Ints(sorted)

	n := &Node{
		id:         id,
		peers:      sorted,
		logger:     log.With(logger, "node", NodeName(id)),
		conn:       conn,
		stream:     stream,
		cancel:     cancel,
		registered: make(chan struct{}),
		closed:     make(chan struct{}),
	}
	n.inbox = newInbox(sorted, n.closed)

	if err := pb.SendEnvelope(stream, &pb.Envelope{
		Id:   uuid.NewString(),
		From: NodeName(id),
		To:   pb.ControllerID,
		Type: pb.TypeHandshake,
	}); err != nil {
		n.Close()
		return nil, fmt.Errorf("handshake failed: %w", err)
	}

	n.wg.Add(1)
	go n.runRecvLoop()

	select {
	case <-n.registered:
	case <-n.closed:
		n.Close()
		return nil, fmt.Errorf("handshake failed: %w", ErrChannelClosed)
	case <-ctx.Done():
		n.Close()
		return nil, ctx.Err()
	}

	return n, nil
}

func (n *Node) ID() int { return n.id }

func (n *Node) Peers() []int {
	return append([]int(nil), n.peers...)
}

func (n *Node) Send(ctx context.Context, to int, msg Message) error {
	if _, ok := n.inbox.queues[to]; !ok {
		return fmt.Errorf("%w: %d -> %d", ErrUnknownPeer, n.id, to)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-n.closed:
		return ErrChannelClosed
	default:
	}

	line, err := msg.MarshalText()
	if err != nil {
		return err
	}

	n.sendMu.Lock()
	defer n.sendMu.Unlock()
	err = pb.SendEnvelope(n.stream, &pb.Envelope{
		Id:      uuid.NewString(),
		From:    NodeName(n.id),
		To:      NodeName(to),
		Type:    pb.TypeMessage,
		Payload: string(line),
	})
	if err != nil {
		return fmt.Errorf("%w: gRPC send failed: %v", ErrChannelClosed, err)
	}
	return nil
}

func (n *Node) Broadcast(ctx context.Context, msg Message) error {
	for _, to := range n.peers {
		if err := n.Send(ctx, to, msg); err != nil {
			return fmt.Errorf("broadcast %s to %d: %w", msg.Kind, to, err)
		}
	}
	return nil
}

func (n *Node) Receive(ctx context.Context, from int) (Message, error) {
	return n.inbox.receive(ctx, from)
}

// Close tears the node down; blocked receives fail with ErrChannelClosed.
func (n *Node) Close() error {
	n.closeOnce.Do(func() {
		close(n.closed)
		n.cancel()
		n.sendMu.Lock()
		n.stream.CloseSend()
		n.sendMu.Unlock()
	})
	n.wg.Wait()
	return n.conn.Close()
}

func (n *Node) runRecvLoop() {
	defer n.wg.Done()
	// A broken stream is as fatal as an explicit Close.
	defer n.closeOnce.Do(func() {
		close(n.closed)
		n.cancel()
	})

	for {
		env, err := pb.RecvEnvelope(n.stream)
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			select {
			case <-n.closed:
			default:
				level.Warn(n.logger).Log("msg", "stream error", "err", err)
			}
			return
		}

		switch env.Type {
		case pb.TypeRegistered:
			select {
			case <-n.registered:
			default:
				close(n.registered)
			}

		case pb.TypeMessage:
			var msg Message
			if err := msg.UnmarshalText([]byte(env.Payload)); err != nil {
				level.Error(n.logger).Log("msg", "dropping undecodable envelope", "id", env.Id, "err", err)
				continue
			}
			if from, err := ParseNodeName(env.From); err != nil || from != msg.From {
				level.Error(n.logger).Log("msg", "dropping envelope with mismatched sender", "id", env.Id, "from", env.From, "sender", msg.From)
				continue
			}
			if err := n.inbox.dispatch(msg); err != nil {
				level.Warn(n.logger).Log("msg", "failed to dispatch message", "from", env.From, "err", err)
				if errors.Is(err, ErrChannelClosed) {
					return
				}
			}

		default:
			level.Warn(n.logger).Log("msg", "unknown envelope type", "type", env.Type, "from", env.From)
		}
	}
}
