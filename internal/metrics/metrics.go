// Package metrics holds the prometheus collectors of the sync engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sync collects per-run and per-message counters. A nil *Sync records nothing.
type Sync struct {
	RunsTotal     *prometheus.CounterVec
	RunDuration   *prometheus.HistogramVec
	MessagesTotal *prometheus.CounterVec
	CursorCommits *prometheus.CounterVec
	TriggersTotal *prometheus.CounterVec
}

// NewSync registers the collectors with reg.
func NewSync(reg prometheus.Registerer) *Sync {
	factory := promauto.With(reg)

	return &Sync{
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailsync_runs_total",
				Help: "Account sync runs by strategy and final status",
			},
			[]string{"strategy", "status"},
		),
		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailsync_run_duration_seconds",
				Help:    "Duration of account sync runs",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"strategy"},
		),
		MessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailsync_messages_total",
				Help: "Messages processed by strategy and outcome",
			},
			[]string{"strategy", "outcome"},
		),
		CursorCommits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailsync_cursor_commits_total",
				Help: "Durable cursor and timestamp updates",
			},
			[]string{"strategy"},
		),
		TriggersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailsync_triggers_total",
				Help: "On-demand sync requests by source and whether they were queued",
			},
			[]string{"source", "queued"},
		),
	}
}

func (m *Sync) ObserveRun(strategy, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(strategy, status).Inc()
	m.RunDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

func (m *Sync) AddMessages(strategy, outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.MessagesTotal.WithLabelValues(strategy, outcome).Add(float64(n))
}

func (m *Sync) CursorCommitted(strategy string) {
	if m == nil {
		return
	}
	m.CursorCommits.WithLabelValues(strategy).Inc()
}

func (m *Sync) Triggered(source string, queued bool) {
	if m == nil {
		return
	}
	label := "false"
	if queued {
		label = "true"
	}
	m.TriggersTotal.WithLabelValues(source, label).Inc()
}
