package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeKnown   = "known"
	outcomeUnknown = "unknown"
	outcomeMissing = "missing"
)

var (
	readsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "evolv",
		Subsystem: "store",
		Name:      "reads_total",
		Help:      "Archived evolutions read, by whether this binary knows their version",
	}, []string{"outcome"})

	writesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "evolv",
		Subsystem: "store",
		Name:      "writes_total",
		Help:      "Archived evolutions written",
	})
)
