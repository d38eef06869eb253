package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveBackend(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveBackend("intent", "ok", 200*time.Millisecond)
	m.ObserveBackend("intent", "cache_hit", 0)
	m.ObserveBackend("intent", "ok", 100*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.BackendCalls.WithLabelValues("intent", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackendCalls.WithLabelValues("intent", "cache_hit")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.BackendLatency))
}

func TestSessionGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	n := 3
	RegisterSessionGauge(reg, func() int { return n })

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, "safeframe_sessions_active", families[0].GetName())
	assert.Equal(t, 3.0, families[0].GetMetric()[0].GetGauge().GetValue())
}

func TestNew_SeparateRegistries(t *testing.T) {
	// Each registry gets its own collectors, so tests can build many.
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
