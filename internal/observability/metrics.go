package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	clientRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "goes",
			Subsystem: "client",
			Name:      "requests_total",
			Help:      "Channel client commands by outcome.",
		},
		[]string{"command", "outcome"},
	)
	clientPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "goes",
			Subsystem: "client",
			Name:      "pending_continuations",
			Help:      "Continuations waiting for a response.",
		},
	)
	clientOrphans = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "goes",
			Subsystem: "client",
			Name:      "orphan_responses_total",
			Help:      "Responses received with no pending continuation.",
		},
	)
	readerFiles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "goes",
			Subsystem: "reader",
			Name:      "files_total",
			Help:      "Event files read by the storage reader.",
		},
		[]string{"success"},
	)
	readerScanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "goes",
			Subsystem: "reader",
			Name:      "scan_duration_seconds",
			Help:      "Storage reader scan duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"mode", "success"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "goes",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "goes",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			clientRequests, clientPending, clientOrphans,
			readerFiles, readerScanDuration,
			httpRequests, httpDuration,
		)
	})
}

// RecordClientRequest counts one completed client command.
func RecordClientRequest(command string, err error) {
	RegisterMetrics()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	clientRequests.WithLabelValues(command, outcome).Inc()
}

func SetClientPending(n int) {
	RegisterMetrics()
	clientPending.Set(float64(n))
}

func RecordOrphanResponse() {
	RegisterMetrics()
	clientOrphans.Inc()
}

func RecordFileRead(success bool) {
	RegisterMetrics()
	readerFiles.WithLabelValues(strconv.FormatBool(success)).Inc()
}

func RecordScan(mode string, duration time.Duration, success bool) {
	RegisterMetrics()
	readerScanDuration.WithLabelValues(mode, strconv.FormatBool(success)).Observe(duration.Seconds())
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}
