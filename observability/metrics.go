package observability

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ledgerpay"

type rpcMetrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	rpcMetricsOnce sync.Once
	rpcRegistry    *rpcMetrics

	submitMetricsOnce sync.Once
	submitRegistry    *SubmitMetrics

	commandMetricsOnce sync.Once
	commandRegistry    *CommandMetrics
)

// RPC returns the lazily-initialised metrics registry used by the JSON-RPC
// server.
func RPC() *rpcMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &rpcMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by method and error code.",
			}, []string{"method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
		}
		prometheus.MustRegister(rpcRegistry.requests, rpcRegistry.errors, rpcRegistry.latency)
	})
	return rpcRegistry
}

// Observe records one request. code is the JSON-RPC error code, zero on success.
func (m *rpcMetrics) Observe(method string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	method = label(method)
	outcome := "success"
	if code != 0 {
		outcome = "error"
		m.errors.WithLabelValues(method, strconv.Itoa(code)).Inc()
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// SubmitMetrics tracks transaction submission and confirmation.
type SubmitMetrics struct {
	sends    *prometheus.CounterVec
	outcomes *prometheus.CounterVec
	latency  prometheus.Histogram
	polls    prometheus.Counter
}

// NewSubmitMetrics builds submission collectors and registers them with reg.
// A nil registerer leaves them unregistered.
func NewSubmitMetrics(reg prometheus.Registerer) *SubmitMetrics {
	m := &SubmitMetrics{
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "submit",
			Name:      "send_attempts_total",
			Help:      "Transaction send attempts segmented by result.",
		}, []string{"result"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "submit",
			Name:      "outcomes_total",
			Help:      "Final submission outcomes: confirmed, failed, timeout, rejected.",
		}, []string{"outcome"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "submit",
			Name:      "confirmation_seconds",
			Help:      "Time from first send to the requested commitment.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		polls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "submit",
			Name:      "status_polls_total",
			Help:      "Signature status queries issued while awaiting confirmation.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.sends, m.outcomes, m.latency, m.polls)
	}
	return m
}

// Submission returns the process-wide submission metrics on the default registry.
func Submission() *SubmitMetrics {
	submitMetricsOnce.Do(func() {
		submitRegistry = NewSubmitMetrics(prometheus.DefaultRegisterer)
	})
	return submitRegistry
}

func (m *SubmitMetrics) RecordSend(result string) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(label(result)).Inc()
}

func (m *SubmitMetrics) RecordPoll() {
	if m == nil {
		return
	}
	m.polls.Inc()
}

// RecordOutcome counts a finished submission and, when confirmed, its latency.
func (m *SubmitMetrics) RecordOutcome(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(label(outcome)).Inc()
	if outcome == "confirmed" {
		m.latency.Observe(elapsed.Seconds())
	}
}

// CommandMetrics counts processed commands.
type CommandMetrics struct {
	commands *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// Commands returns the process-wide command metrics.
func Commands() *CommandMetrics {
	commandMetricsOnce.Do(func() {
		commandRegistry = &CommandMetrics{
			commands: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "processor",
				Name:      "commands_total",
				Help:      "Processed commands segmented by kind and outcome.",
			}, []string{"kind", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "processor",
				Name:      "command_duration_seconds",
				Help:      "End-to-end command latency.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"kind"}),
		}
		prometheus.MustRegister(commandRegistry.commands, commandRegistry.latency)
	})
	return commandRegistry
}

// Observe records one command. A nil err counts as success.
func (m *CommandMetrics) Observe(kind string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	kind = label(kind)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.commands.WithLabelValues(kind, outcome).Inc()
	m.latency.WithLabelValues(kind).Observe(duration.Seconds())
}

func label(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
