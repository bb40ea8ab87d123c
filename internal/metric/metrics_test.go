package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsAreNoOps(t *testing.T) {
	var c *ConferenceMetrics
	var d *DiscoveryMetrics
	var r *RegistryMetrics

	assert.NotPanics(t, func() {
		c.Sent()
		c.Received()
		c.Dropped("x")
		d.Request()
		d.Ignored()
		d.Response()
		r.Transition("A", "B")
	})
	assert.Nil(t, NewConferenceMetrics(nil))
}

func TestConferenceMetrics_Count(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewConferenceMetrics(reg)

	m.Sent()
	m.Sent()
	m.Received()
	m.Dropped("decode")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.sent))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.received))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dropped.WithLabelValues("decode")))

	// a second instance on the same registry shares the counters
	again := NewConferenceMetrics(reg)
	again.Sent()
	assert.Equal(t, 3.0, testutil.ToFloat64(m.sent))
}

func TestRegistryMetrics_Transition(t *testing.T) {
	m := NewRegistryMetrics(prometheus.NewRegistry())

	m.Transition("", "NOT_YET_RUNNING")
	m.Transition("NOT_YET_RUNNING", "RUNNING")

	assert.Equal(t, 0.0, testutil.ToFloat64(m.modules.WithLabelValues("NOT_YET_RUNNING")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.modules.WithLabelValues("RUNNING")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("RUNNING")))
}
