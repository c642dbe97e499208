package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors shared by the client session and the dev
// server. A nil *Metrics is valid and records nothing.
type Metrics struct {
	ConnectionState *prometheus.GaugeVec
	Reconnects      prometheus.Counter
	FramesIn        *prometheus.CounterVec
	FramesOut       *prometheus.CounterVec
	Reconciled      *prometheus.CounterVec
	Sends           *prometheus.CounterVec
	ActiveClients   prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "chatsync",
			Name:      "connection_state",
			Help:      "1 for the current connection state, 0 otherwise.",
		}, []string{"state"}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "reconnects_total",
			Help:      "Successful reconnections after a transport drop.",
		}),
		FramesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "frames_received_total",
			Help:      "STOMP frames received, by command.",
		}, []string{"command"}),
		FramesOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "frames_sent_total",
			Help:      "STOMP frames sent, by command.",
		}, []string{"command"}),
		Reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "reconciled_messages_total",
			Help:      "Server messages folded into the open conversation, by outcome.",
		}, []string{"outcome"}),
		Sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "sends_total",
			Help:      "Send attempts, by path and result.",
		}, []string{"path", "result"}),
		ActiveClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chatsync",
			Name:      "broker_clients",
			Help:      "Websocket clients connected to the broker.",
		}),
	}

	reg.MustRegister(
		m.ConnectionState,
		m.Reconnects,
		m.FramesIn,
		m.FramesOut,
		m.Reconciled,
		m.Sends,
		m.ActiveClients,
	)
	return m
}

// SetState marks state as the only active connection state.
func (m *Metrics) SetState(state string, all ...string) {
	if m == nil {
		return
	}
	for _, s := range all {
		m.ConnectionState.WithLabelValues(s).Set(0)
	}
	m.ConnectionState.WithLabelValues(state).Set(1)
}

func (m *Metrics) Reconnected() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}

func (m *Metrics) FrameIn(command string) {
	if m == nil {
		return
	}
	m.FramesIn.WithLabelValues(command).Inc()
}

func (m *Metrics) FrameOut(command string) {
	if m == nil {
		return
	}
	m.FramesOut.WithLabelValues(command).Inc()
}

func (m *Metrics) Reconcile(outcome string) {
	if m == nil {
		return
	}
	m.Reconciled.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Send(path, result string) {
	if m == nil {
		return
	}
	m.Sends.WithLabelValues(path, result).Inc()
}

func (m *Metrics) ClientConnected() {
	if m == nil {
		return
	}
	m.ActiveClients.Inc()
}

func (m *Metrics) ClientDisconnected() {
	if m == nil {
		return
	}
	m.ActiveClients.Dec()
}
