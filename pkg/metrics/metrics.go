// Package metrics exposes Prometheus metrics for duration tracking.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// MetricsNamespace prefixes every metric name.
	MetricsNamespace = "durationoor"

	ResultSuccess = "success"
	ResultFailure = "failure"
)

var (
	nodeSavesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "node_saves_total",
		Help:      "Count of node duration saves",
	}, []string{
		"result",
	})

	compilationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "compilations_total",
		Help:      "Count of duration compilations",
	}, []string{
		"result",
	})

	skippedNodeFilesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "skipped_node_files_total",
		Help:      "Count of node duration files skipped while compiling",
	})

	compiledTests = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "compiled_tests",
		Help:      "Number of tests in the latest compiled duration record",
	})

	compiledNodeFiles = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "compiled_node_files",
		Help:      "Number of node files used by the latest compilation",
	})

	remoteErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "remote_errors_total",
		Help:      "Count of remote storage errors",
	}, []string{
		"operation",
	})
)

func result(err error) string {
	if err != nil {
		return ResultFailure
	}

	return ResultSuccess
}

// RecordNodeSave counts a node save attempt.
func RecordNodeSave(err error) {
	nodeSavesTotal.WithLabelValues(result(err)).Inc()
}

// RecordCompilation counts a compile attempt and, on success, records the
// size of the compiled record.
func RecordCompilation(err error, tests, nodeFiles, skipped int) {
	compilationsTotal.WithLabelValues(result(err)).Inc()

	if err != nil {
		return
	}

	compiledTests.Set(float64(tests))
	compiledNodeFiles.Set(float64(nodeFiles))
	skippedNodeFilesTotal.Add(float64(skipped))
}

// RecordRemoteError counts a failed remote operation.
func RecordRemoteError(operation string) {
	remoteErrorsTotal.WithLabelValues(operation).Inc()
}
