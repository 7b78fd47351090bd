package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "conference"

// Metrics groups the instruments of peers, the coordinator and the relay.
// Counters labelled by "kind" take the message kind label.
type Metrics struct {
	MessagesSent     metrics.Counter
	MessagesReceived metrics.Counter
	Admissions       metrics.Counter
	Rounds           metrics.Counter
	Conferences      metrics.Counter
	Relayed          metrics.Counter
	ActivePeers      metrics.Gauge
	TurnWait         metrics.Histogram
}

// NewDiscard returns instruments that record nothing.
func NewDiscard() *Metrics {
	return &Metrics{
		MessagesSent:     discard.NewCounter(),
		MessagesReceived: discard.NewCounter(),
		Admissions:       discard.NewCounter(),
		Rounds:           discard.NewCounter(),
		Conferences:      discard.NewCounter(),
		Relayed:          discard.NewCounter(),
		ActivePeers:      discard.NewGauge(),
		TurnWait:         discard.NewHistogram(),
	}
}

// New registers Prometheus-backed instruments with reg. A nil registerer
// yields NewDiscard.
func New(reg prom.Registerer) *Metrics {
	if reg == nil {
		return NewDiscard()
	}

	sent := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Subsystem: "peer",
		Name:      "messages_sent_total",
		Help:      "Number of protocol messages sent, per destination.",
	}, []string{"kind"})
	received := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Subsystem: "peer",
		Name:      "messages_received_total",
		Help:      "Number of protocol messages received.",
	}, []string{"kind"})
	admissions := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Subsystem: "peer",
		Name:      "admissions_total",
		Help:      "Number of times a peer was admitted to the shared resource.",
	}, nil)
	rounds := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Subsystem: "peer",
		Name:      "rounds_total",
		Help:      "Number of rounds completed by peers.",
	}, nil)
	conferences := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Subsystem: "coordinator",
		Name:      "conferences_total",
		Help:      "Number of conferences run, by outcome.",
	}, []string{"outcome"})
	relayed := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Subsystem: "controller",
		Name:      "envelopes_relayed_total",
		Help:      "Number of envelopes forwarded by the relay controller.",
	}, nil)
	active := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Subsystem: "coordinator",
		Name:      "active_peers",
		Help:      "Number of peers currently running.",
	}, nil)
	wait := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Subsystem: "peer",
		Name:      "turn_wait_seconds",
		Help:      "Time spent waiting for earlier peers to exit.",
		Buckets:   prom.ExponentialBuckets(0.001, 4, 10),
	}, nil)

	reg.MustRegister(sent, received, admissions, rounds, conferences, relayed, active, wait)

	return &Metrics{
		MessagesSent:     prometheus.NewCounter(sent),
		MessagesReceived: prometheus.NewCounter(received),
		Admissions:       prometheus.NewCounter(admissions),
		Rounds:           prometheus.NewCounter(rounds),
		Conferences:      prometheus.NewCounter(conferences),
		Relayed:          prometheus.NewCounter(relayed),
		ActivePeers:      prometheus.NewGauge(active),
		TurnWait:         prometheus.NewHistogram(wait),
	}
}

// Serve exposes the gatherer on addr under /metrics until ctx is done.
// An empty addr disables the endpoint.
func Serve(ctx context.Context, logger log.Logger, addr string, gatherer prom.Gatherer) error {
	if addr == "" {
		level.Debug(logger).Log("msg", "metrics addr is empty, not exposing prometheus metrics")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	level.Info(logger).Log("msg", "prometheus handler listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		level.Warn(logger).Log("msg", "failed to serve prometheus metrics", "err", err)
		return err
	}
	return nil
}
