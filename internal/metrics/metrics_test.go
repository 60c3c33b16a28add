package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.EventsAppended.WithLabelValues("create").Inc()
	m.IntegrityFindings.WithLabelValues("checksum_mismatch").Add(2)
	m.LastRunFindings.Set(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsAppended.WithLabelValues("create")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.LastRunFindings))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names[MetricEventsAppended])
	assert.True(t, names[MetricIntegrityFindings])
}

func TestNewMetricsNilRegistry(t *testing.T) {
	// Two instances on private registries must not collide.
	a := NewMetrics(nil)
	b := NewMetrics(nil)
	a.EventsVerified.Add(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(a.EventsVerified))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.EventsVerified))
}
