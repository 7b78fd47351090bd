package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/google/uuid"
	"google.golang.org/grpc"

	"github.com/distcodep7/conference/logging"
	"github.com/distcodep7/conference/metrics"
	pb "github.com/distcodep7/conference/proto"
)

var ErrUnknownDestination = errors.New("unknown destination")

type sender interface {
	SendEnvelope(*pb.Envelope) error
}

// Node is a registered relay client.
type Node struct {
	id     string
	stream pb.NetworkController_StreamServer
	sendMu sync.Mutex
	alive  atomic.Bool
}

// SendEnvelope writes env to the node's stream. Writes are serialized, so
// envelopes forwarded by one sender reach the node in the order they were sent.
// Once the node is marked gone no further write reaches its stream.
func (n *Node) SendEnvelope(env *pb.Envelope) error {
	if n.stream == nil {
		return fmt.Errorf("node %s stream not initialized", n.id)
	}
	n.sendMu.Lock()
	defer n.sendMu.Unlock()
	if !n.alive.Load() {
		return fmt.Errorf("node %s is gone", n.id)
	}
	return pb.SendEnvelope(n.stream, env)
}

// markGone waits for an in-flight write and stops all later ones.
func (n *Node) markGone() {
	n.sendMu.Lock()
	n.alive.Store(false)
	n.sendMu.Unlock()
}

// Server relays envelopes between registered nodes. Every node holds one
// bidirectional stream; the first envelope on it is the handshake.
type Server struct {
	pb.UnimplementedNetworkControllerServer

	mu      sync.Mutex
	nodes   map[string]*Node
	senders map[string]sender

	logger  log.Logger
	metrics *metrics.Metrics
	journal *Journal
}

func NewServer(logger log.Logger, m *metrics.Metrics) *Server {
	if m == nil {
		m = metrics.NewDiscard()
	}
	return &Server{
		nodes:   make(map[string]*Node),
		senders: make(map[string]sender),
		logger:  log.With(logging.OrNop(logger), "component", "controller"),
		metrics: m,
	}
}

// WithJournal makes the server persist every envelope it relays.
func (s *Server) WithJournal(j *Journal) *Server {
	s.journal = j
	return s
}

func (s *Server) Stream(stream pb.NetworkController_StreamServer) error {
	first, err := pb.RecvEnvelope(stream)
	if err != nil {
		return err
	}
	if first.Type != pb.TypeHandshake || first.From == "" {
		return fmt.Errorf("expected handshake, got %q from %q", first.Type, first.From)
	}

	nodeID := first.From
	n := &Node{id: nodeID, stream: stream}
	n.alive.Store(true)

	s.mu.Lock()
	s.nodes[nodeID] = n
	s.senders[nodeID] = n
	s.mu.Unlock()
	defer s.removeNode(nodeID, n)

	if err := n.SendEnvelope(&pb.Envelope{
		Id:   uuid.NewString(),
		From: pb.ControllerID,
		To:   nodeID,
		Type: pb.TypeRegistered,
	}); err != nil {
		return fmt.Errorf("acknowledge %s: %w", nodeID, err)
	}
	level.Debug(s.logger).Log("msg", "node registered", "node", nodeID)

	for {
		env, err := pb.RecvEnvelope(stream)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if env.To == pb.ControllerID {
			continue
		}
		if err := s.forward(env); err != nil {
			level.Error(s.logger).Log("msg", "failed to forward envelope", "id", env.Id, "from", env.From, "to", env.To, "err", err)
		}
	}
}

func (s *Server) forward(env *pb.Envelope) error {
	s.mu.Lock()
	target, ok := s.senders[env.To]
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDestination, env.To)
	}
	if err := target.SendEnvelope(env); err != nil {
		return err
	}
	s.metrics.Relayed.Add(1)
	s.journal.Record(env)
	return nil
}

// removeNode unregisters id unless it has since re-registered with a new stream.
func (s *Server) removeNode(id string, n *Node) {
	n.markGone()

	s.mu.Lock()
	if current, ok := s.nodes[id]; ok && current == n {
		delete(s.nodes, id)
		delete(s.senders, id)
	}
	s.mu.Unlock()

	level.Debug(s.logger).Log("msg", "node disconnected", "node", id)
}

// Nodes returns the ids of the registered nodes, sorted.
func (s *Server) Nodes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.nodes))
	for id := range s.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Listen starts serving srv on addr in the background. Use ":0" or
// "127.0.0.1:0" for an ephemeral port and read it back from the listener.
func Listen(addr string, srv *Server) (*grpc.Server, net.Listener, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	grpcServer := grpc.NewServer()
	pb.RegisterNetworkControllerServer(grpcServer, srv)

	go func() {
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			level.Error(srv.logger).Log("msg", "gRPC server failed", "err", err)
		}
	}()

	return grpcServer, lis, nil
}

// Serve runs srv on addr until ctx is done.
func Serve(ctx context.Context, addr string, srv *Server) error {
	grpcServer, lis, err := Listen(addr, srv)
	if err != nil {
		return err
	}
	level.Info(srv.logger).Log("msg", "controller listening", "addr", lis.Addr().String())

	<-ctx.Done()
	grpcServer.Stop()
	return nil
}
