package conference

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"google.golang.org/grpc"

	"github.com/distcodep7/conference/config"
	"github.com/distcodep7/conference/controller"
	"github.com/distcodep7/conference/dsnet"
	"github.com/distcodep7/conference/metrics"
)

// fabric owns the links of one conference. Closing it fails every blocked
// receive with dsnet.ErrChannelClosed.
type fabric interface {
	Endpoint(id int) (dsnet.Endpoint, error)
	Close() error
}

func newFabric(ctx context.Context, n int, t config.Transport, logger log.Logger, m *metrics.Metrics) (fabric, error) {
	switch t.Kind {
	case "", config.TransportLocal:
		return dsnet.NewTopology(n)
	case config.TransportGRPC:
		return newRelayFabric(ctx, n, t.Controller, logger, m)
	default:
		return nil, fmt.Errorf("%w: transport kind %q", config.ErrInvalidConfiguration, t.Kind)
	}
}

// relayFabric carries the links over a gRPC controller, either an external
// one or one embedded for the lifetime of the conference.
type relayFabric struct {
	nodes    []*dsnet.Node
	embedded *grpc.Server

	closeOnce sync.Once
	closeErr  error
}

func newRelayFabric(ctx context.Context, n int, addr string, logger log.Logger, m *metrics.Metrics) (*relayFabric, error) {
	f := &relayFabric{}

	if addr == "" {
		srv := controller.NewServer(logger, m)
		grpcServer, lis, err := controller.Listen("127.0.0.1:0", srv)
		if err != nil {
			return nil, err
		}
		f.embedded = grpcServer
		addr = lis.Addr().String()
		level.Debug(logger).Log("msg", "embedded controller listening", "addr", addr)
	}

	// Every node is registered before any peer starts, so no message can be
	// addressed to a node the controller does not know yet.
	for id := 0; id < n; id++ {
		peers := make([]int, 0, n-1)
		for other := 0; other < n; other++ {
			if other != id {
				peers = append(peers, other)
			}
		}

		node, err := dsnet.NewNode(ctx, id, peers, addr, logger)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("node %d: %w", id, err)
		}
		f.nodes = append(f.nodes, node)
	}
	return f, nil
}

func (f *relayFabric) Endpoint(id int) (dsnet.Endpoint, error) {
	if id < 0 || id >= len(f.nodes) {
		return nil, fmt.Errorf("%w: %d", dsnet.ErrUnknownPeer, id)
	}
	return f.nodes[id], nil
}

func (f *relayFabric) Close() error {
	f.closeOnce.Do(func() {
		var errs []error
		for _, node := range f.nodes {
			errs = append(errs, node.Close())
		}
		if f.embedded != nil {
			f.embedded.Stop()
		}
		f.closeErr = errors.Join(errs...)
	})
	return f.closeErr
}
