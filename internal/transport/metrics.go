package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// fetchAttempts tracks completed fetches labeled by outcome
	// (success, terminal, exhausted).
	fetchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_fetches_total",
		Help: "Total number of completed fetches, labeled by outcome.",
	}, []string{"outcome"})
	// fetchRetries tracks individual retry attempts.
	fetchRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_fetch_retries_total",
		Help: "Total number of fetch retries after transient failures.",
	})
)
