package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestStateGaugeIsExclusive(t *testing.T) {
	m := New(prometheus.NewRegistry())
	all := []string{"DISCONNECTED", "CONNECTED"}

	m.SetState("CONNECTED", all...)
	m.SetState("DISCONNECTED", all...)

	assert.Equal(t, 0.0, testutil.ToFloat64(m.ConnectionState.WithLabelValues("CONNECTED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionState.WithLabelValues("DISCONNECTED")))
}

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Send("publish", "ok")
	m.Send("publish", "ok")
	m.Reconcile("matched")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Sends.WithLabelValues("publish", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reconciled.WithLabelValues("matched")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SetState("CONNECTED")
		m.Send("rest", "failed")
		m.FrameIn("MESSAGE")
		m.ClientConnected()
	})
}
