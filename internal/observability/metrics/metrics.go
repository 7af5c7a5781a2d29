package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "edge_"

	ResultSuccess = "success"
	ResultError   = "error"
)

var (
	registerOnce sync.Once

	pointsReceived prometheus.Counter
	pointsFiltered prometheus.Counter
	pointsOutliers prometheus.Counter
	channelDropped prometheus.Counter

	outboxPendingBatches prometheus.Gauge
	outboxSizeBytes      prometheus.Gauge
	outboxStoredTotal    prometheus.Counter
	outboxEvictedTotal   prometheus.Counter

	uploadBatches *prometheus.CounterVec
	uploadLatency *prometheus.HistogramVec

	alarmEventsTotal *prometheus.CounterVec

	configSyncTotal *prometheus.CounterVec
)

// Init registers the edge pipeline metrics. Safe to call once from
// main; helper functions are no-ops before registration so packages
// stay testable without the registry.
func Init() {
	registerOnce.Do(func() {
		pointsReceived = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "points_received_total",
				Help: "Total telemetry points entering the processor",
			},
		)
		pointsFiltered = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "points_filtered_total",
				Help: "Total telemetry points suppressed by filtering",
			},
		)
		pointsOutliers = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "points_outliers_total",
				Help: "Total telemetry points dropped as statistical outliers",
			},
		)
		channelDropped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "channel_dropped_total",
				Help: "Total points dropped because the ingestion channel was full",
			},
		)

		outboxPendingBatches = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "outbox_pending_batches",
				Help: "Batches waiting in the store-and-forward outbox",
			},
		)
		outboxSizeBytes = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "outbox_size_bytes",
				Help: "Total on-disk size of pending outbox batches",
			},
		)
		outboxStoredTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "outbox_stored_total",
				Help: "Total batches written to the outbox",
			},
		)
		outboxEvictedTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "outbox_evicted_total",
				Help: "Total batches evicted by the capacity limit",
			},
		)

		uploadBatches = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "upload_batches_total",
				Help: "Total batch uploads by result",
			},
			[]string{"result"},
		)
		uploadLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "upload_latency_seconds",
				Help:    "Batch upload latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		alarmEventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alarm_events_total",
				Help: "Total alarm lifecycle events by type",
			},
			[]string{"event"},
		)

		configSyncTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "config_sync_total",
				Help: "Total config sync cycles by result",
			},
			[]string{"result"},
		)

		prometheus.MustRegister(
			pointsReceived,
			pointsFiltered,
			pointsOutliers,
			channelDropped,
			outboxPendingBatches,
			outboxSizeBytes,
			outboxStoredTotal,
			outboxEvictedTotal,
			uploadBatches,
			uploadLatency,
			alarmEventsTotal,
			configSyncTotal,
		)
	})
}

// IncPointsReceived counts a point entering the processor.
func IncPointsReceived() {
	if pointsReceived != nil {
		pointsReceived.Inc()
	}
}

// IncPointsFiltered counts a suppressed point.
func IncPointsFiltered() {
	if pointsFiltered != nil {
		pointsFiltered.Inc()
	}
}

// IncOutliers counts a dropped outlier.
func IncOutliers() {
	if pointsOutliers != nil {
		pointsOutliers.Inc()
	}
}

// IncChannelDropped counts a point lost to channel backpressure.
func IncChannelDropped() {
	if channelDropped != nil {
		channelDropped.Inc()
	}
}

// SetOutboxPending updates the outbox gauges.
func SetOutboxPending(batches int, sizeBytes int64) {
	if outboxPendingBatches != nil {
		outboxPendingBatches.Set(float64(batches))
	}
	if outboxSizeBytes != nil {
		outboxSizeBytes.Set(float64(sizeBytes))
	}
}

// IncOutboxStored counts a batch written to the outbox.
func IncOutboxStored() {
	if outboxStoredTotal != nil {
		outboxStoredTotal.Inc()
	}
}

// IncOutboxEvicted counts a batch evicted under capacity pressure.
func IncOutboxEvicted() {
	if outboxEvictedTotal != nil {
		outboxEvictedTotal.Inc()
	}
}

// ObserveUpload records a batch upload attempt.
func ObserveUpload(result string, duration time.Duration) {
	if result == "" {
		result = ResultSuccess
	}
	if uploadBatches != nil {
		uploadBatches.WithLabelValues(result).Inc()
	}
	if uploadLatency != nil {
		uploadLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncAlarmEvent counts an alarm lifecycle event.
func IncAlarmEvent(eventType string) {
	if alarmEventsTotal != nil {
		alarmEventsTotal.WithLabelValues(eventType).Inc()
	}
}

// IncConfigSync counts a config sync cycle.
func IncConfigSync(result string) {
	if configSyncTotal != nil {
		configSyncTotal.WithLabelValues(result).Inc()
	}
}
