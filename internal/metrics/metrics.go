package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/strefethen/dunehd-driver-go/internal/apperrors"
	"github.com/strefethen/dunehd-driver-go/internal/device"
	"github.com/strefethen/dunehd-driver-go/internal/dunehd"
)

const namespace = "dunehd"

// Result label values.
const (
	resultOK          = "ok"
	resultUnreachable = "unreachable"
	resultMalformed   = "malformed"
	resultRejected    = "rejected"
	resultError       = "error"
)

var connectionStates = []device.ConnectionState{
	device.ConnDisconnected,
	device.ConnConnecting,
	device.ConnConnected,
	device.ConnError,
}

// Collector records device activity on its own registry so tests and the
// process never share global state. It implements device.Observer.
type Collector struct {
	registry *prometheus.Registry

	polls           *prometheus.CounterVec
	pollDuration    *prometheus.HistogramVec
	droppedTicks    *prometheus.CounterVec
	commands        *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	transitions     *prometheus.CounterVec
	connection      *prometheus.GaugeVec
}

// New creates a collector with Go runtime and process collectors attached.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		polls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Status polls by entity and result.",
		}, []string{"entity_id", "result"}),
		pollDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Status poll latency.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"entity_id"}),
		droppedTicks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_ticks_dropped_total",
			Help:      "Poll ticks skipped because the previous poll was still running.",
		}, []string{"entity_id"}),
		commands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Hub commands by entity, command and result code.",
		}, []string{"entity_id", "cmd_id", "result"}),
		commandDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Hub command latency including the device call.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"entity_id"}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_transitions_total",
			Help:      "Connection state transitions by entity and target state.",
		}, []string{"entity_id", "to"}),
		connection: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "1 for the current connection state of each entity, 0 otherwise.",
		}, []string{"entity_id", "state"}),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) PollCompleted(entityID string, err error, elapsed time.Duration) {
	c.polls.WithLabelValues(entityID, pollResult(err)).Inc()
	c.pollDuration.WithLabelValues(entityID).Observe(elapsed.Seconds())
}

func (c *Collector) PollDropped(entityID string) {
	c.droppedTicks.WithLabelValues(entityID).Inc()
}

func (c *Collector) ConnectionChanged(entityID string, t device.Transition) {
	c.transitions.WithLabelValues(entityID, string(t.To)).Inc()
	for _, state := range connectionStates {
		value := 0.0
		if state == t.To {
			value = 1
		}
		c.connection.WithLabelValues(entityID, string(state)).Set(value)
	}
}

func (c *Collector) CommandCompleted(_ context.Context, entityID, command string, err error, elapsed time.Duration) {
	result := resultOK
	if err != nil {
		result = string(apperrors.EnsureAppError(err).Code)
	}
	c.commands.WithLabelValues(entityID, command, result).Inc()
	c.commandDuration.WithLabelValues(entityID).Observe(elapsed.Seconds())
}

// Forget drops every series for a removed entity.
func (c *Collector) Forget(entityID string) {
	labels := prometheus.Labels{"entity_id": entityID}
	c.polls.DeletePartialMatch(labels)
	c.pollDuration.DeletePartialMatch(labels)
	c.droppedTicks.DeletePartialMatch(labels)
	c.commands.DeletePartialMatch(labels)
	c.commandDuration.DeletePartialMatch(labels)
	c.transitions.DeletePartialMatch(labels)
	c.connection.DeletePartialMatch(labels)
}

func pollResult(err error) string {
	var rejected *dunehd.RejectedError
	switch {
	case err == nil:
		return resultOK
	case dunehd.IsUnreachable(err):
		return resultUnreachable
	case dunehd.IsMalformed(err):
		return resultMalformed
	case errors.As(err, &rejected):
		return resultRejected
	}
	return resultError
}
