package metrics

import (
	"testing"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDiscard(t *testing.T) {
	m := NewDiscard()
	assert.NotNil(t, m.MessagesSent)
	assert.NotNil(t, m.TurnWait)

	// Discard instruments accept any use.
	m.MessagesSent.With("kind", "request").Add(1)
	m.ActivePeers.Add(1)
	m.TurnWait.Observe(0.5)
}

func TestNewWithoutRegistererDiscards(t *testing.T) {
	m := New(nil)
	assert.NotNil(t, m.Admissions)
}

func TestNewPrometheusMetrics(t *testing.T) {
	reg := prom.NewRegistry()
	m := New(reg)

	m.MessagesSent.With("kind", "request").Add(2)
	m.MessagesSent.With("kind", "exit").Add(1)
	m.Admissions.Add(3)
	m.Conferences.With("outcome", "success").Add(1)
	m.TurnWait.Observe(0.01)

	n, err := testutil.GatherAndCount(reg, "conference_peer_messages_sent_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "conference_peer_admissions_total")
	assert.Contains(t, names, "conference_peer_turn_wait_seconds")
}
