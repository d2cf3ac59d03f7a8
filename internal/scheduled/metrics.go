package scheduled

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/relaydesk/inbox/internal/pkg/metrics"
)

var (
	queueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metrics.Namespace,
			Subsystem: "scheduled",
			Name:      "queue_size",
			Help:      "Number of scheduled messages by status",
		},
		[]string{"status"},
	)

	sweepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "scheduled",
			Name:      "sweeps_total",
			Help:      "Total sweep invocations by result",
		},
		[]string{"result"},
	)

	itemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "scheduled",
			Name:      "items_total",
			Help:      "Total due scheduled messages handled by outcome",
		},
		[]string{"channel", "status"},
	)

	sendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: "scheduled",
			Name:      "send_duration_seconds",
			Help:      "Time spent in the gateway call",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"channel"},
	)
)

// Item outcomes.
const (
	outcomeSent      = "sent"
	outcomeFailed    = "failed"
	outcomeSkipped   = "skipped"
	outcomeRecovered = "recovered"
)

func recordSweep(result string) {
	sweepsTotal.WithLabelValues(result).Inc()
}

func recordItem(channel, status string) {
	itemsTotal.WithLabelValues(channel, status).Inc()
}

func recordSendDuration(channel string, d time.Duration) {
	sendDuration.WithLabelValues(channel).Observe(d.Seconds())
}

// RecordQueueStats updates queue size metrics.
func RecordQueueStats(stats *QueueStats) {
	queueSize.WithLabelValues("pending").Set(float64(stats.Pending))
	queueSize.WithLabelValues("dispatching").Set(float64(stats.Dispatching))
	queueSize.WithLabelValues("sent").Set(float64(stats.Sent))
	queueSize.WithLabelValues("failed").Set(float64(stats.Failed))
}
