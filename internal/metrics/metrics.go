// Package metrics exposes import counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Message outcomes.
const (
	OutcomeImported  = "imported"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// Import metrics
var (
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailhistory_messages_total",
			Help: "Messages processed, by account and outcome",
		},
		[]string{"account", "outcome"},
	)

	DegradedFieldsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailhistory_degraded_fields_total",
			Help: "Message fields that fell back to the error sentinel",
		},
		[]string{"field"},
	)

	ContactsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailhistory_contacts_created_total",
			Help: "Contacts created for previously unknown senders",
		},
	)

	WriteRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailhistory_write_retries_total",
			Help: "Message writes retried after a transaction failure",
		},
	)

	BurnedIDsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailhistory_burned_ids_total",
			Help: "Allocated ids abandoned by failed transactions",
		},
	)

	WriteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mailhistory_write_duration_seconds",
			Help:    "Duration of message write transactions",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Session metrics
var (
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mailhistory_sessions_active",
			Help: "Import sessions not yet in a terminal state",
		},
	)

	SessionsFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailhistory_sessions_finished_total",
			Help: "Import sessions that reached a terminal state",
		},
		[]string{"status"},
	)
)
