// Package metrics exposes Prometheus collectors for the harvester service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fictionharvest/harvester/internal/harvest"
)

var (
	catalogProbesTotal      *prometheus.CounterVec
	sourcesDiscoveredTotal  prometheus.Counter
	chaptersDiscoveredTotal prometheus.Counter
	extractionsTotal        *prometheus.CounterVec
	extractedContentChars   prometheus.Histogram
	translationsTotal       *prometheus.CounterVec
	cycleDurationSeconds    prometheus.Histogram
	lastCycleCompletedUnix  prometheus.Gauge
	catalogCheckpointCursor prometheus.Gauge

	once sync.Once
)

// Init registers the collectors with the default registry. Safe to call
// more than once.
func Init() {
	once.Do(func() {
		catalogProbesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_catalog_probes_total",
				Help: "Total catalog ID probes, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		sourcesDiscoveredTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_sources_discovered_total",
				Help: "Total new sources inserted by discovery.",
			},
		)

		chaptersDiscoveredTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_chapters_discovered_total",
				Help: "Total new chapters inserted by reconciliation.",
			},
		)

		extractionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_extractions_total",
				Help: "Total content extraction attempts, labeled by result.",
			},
			[]string{"result"},
		)

		extractedContentChars = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvester_extracted_content_chars",
				Help:    "Length of successfully extracted chapter content.",
				Buckets: []float64{500, 1000, 2500, 5000, 10000, 25000, 50000},
			},
		)

		translationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_translations_total",
				Help: "Total translation attempts, labeled by result.",
			},
			[]string{"result"},
		)

		cycleDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvester_cycle_duration_seconds",
				Help:    "Duration of complete harvest cycles.",
				Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
			},
		)

		lastCycleCompletedUnix = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_last_cycle_completed_timestamp_seconds",
				Help: "Unix time the last harvest cycle finished.",
			},
		)

		catalogCheckpointCursor = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_catalog_checkpoint_cursor",
				Help: "Current catalog enumeration cursor.",
			},
		)
	})
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// CatalogProbe records one probe outcome: found, miss, duplicate or error.
func CatalogProbe(outcome string) {
	Init()
	catalogProbesTotal.WithLabelValues(outcome).Inc()
}

// SourceDiscovered records one newly inserted source.
func SourceDiscovered() {
	Init()
	sourcesDiscoveredTotal.Inc()
}

// ChaptersDiscovered records newly inserted chapters.
func ChaptersDiscovered(n int) {
	Init()
	chaptersDiscoveredTotal.Add(float64(n))
}

// ExtractionSucceeded records a successful extraction of chars characters.
func ExtractionSucceeded(chars int) {
	Init()
	extractionsTotal.WithLabelValues("success").Inc()
	extractedContentChars.Observe(float64(chars))
}

// ExtractionFailed records a failed extraction, split by failure class.
func ExtractionFailed(err error) {
	Init()
	result := "no_content"
	if harvest.IsNavigationFailure(err) {
		result = "navigation"
	}
	extractionsTotal.WithLabelValues(result).Inc()
}

// TranslationCompleted records a persisted translation.
func TranslationCompleted() {
	Init()
	translationsTotal.WithLabelValues("success").Inc()
}

// TranslationFailed records a chapter skipped after a translator failure.
func TranslationFailed() {
	Init()
	translationsTotal.WithLabelValues("failure").Inc()
}

// CycleCompleted records one finished harvest cycle.
func CycleCompleted(d time.Duration) {
	Init()
	cycleDurationSeconds.Observe(d.Seconds())
	lastCycleCompletedUnix.SetToCurrentTime()
}

// CheckpointCursor publishes the current enumeration cursor.
func CheckpointCursor(cursor int64) {
	Init()
	catalogCheckpointCursor.Set(float64(cursor))
}
