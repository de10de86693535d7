package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// nodeMutations counts tree mutations by operation and outcome.
	// Labels: op = create|destroy|move|singleton, result = ok|invalid|constraint|not_found|error
	nodeMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snowcrash_node_mutations_total",
		Help: "Node tree mutations by operation and result",
	}, []string{"op", "result"})

	// singletonResolutions counts get-or-create calls by whether a row was
	// inserted or an existing one returned.
	singletonResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snowcrash_singleton_resolutions_total",
		Help: "Singleton container resolutions by outcome",
	}, []string{"outcome"})

	feedQueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "snowcrash_feed_query_duration_seconds",
		Help:    "Activity feed query duration",
		Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1},
	})
)

func observeMutation(op string, err error) {
	nodeMutations.WithLabelValues(op, resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsValidation(err):
		return "invalid"
	case IsConstraint(err):
		return "constraint"
	case IsNotFound(err):
		return "not_found"
	default:
		return "error"
	}
}
