// Package metrics holds the process-wide prometheus collectors, served on
// /metrics by promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EmailsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "phishsim",
		Name:      "emails_sent_total",
		Help:      "Lure emails accepted by the transport.",
	}, []string{"provider"})

	EmailsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "phishsim",
		Name:      "emails_failed_total",
		Help:      "Lure emails that could not be sent or rendered.",
	}, []string{"provider"})

	DispatchRuns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "phishsim",
		Name:      "dispatch_runs_total",
		Help:      "Completed dispatch runs.",
	})

	// TrackingEvents counts tracking requests by kind (click, submit, report)
	// and whether the request changed state ("first", "repeat", "unknown").
	TrackingEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "phishsim",
		Name:      "tracking_events_total",
		Help:      "Inbound tracking requests.",
	}, []string{"event", "outcome"})
)

const (
	OutcomeFirst   = "first"
	OutcomeRepeat  = "repeat"
	OutcomeUnknown = "unknown"
)

// Outcome maps a store transition result to a label value.
func Outcome(won bool) string {
	if won {
		return OutcomeFirst
	}
	return OutcomeRepeat
}
