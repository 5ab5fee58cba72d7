package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cell error kinds
const (
	KindTitle    = "title"
	KindDownload = "download"
	KindDecode   = "decode"
	KindTooSmall = "too_small"
	KindStore    = "store"
	KindOther    = "other"
)

// Metrics holds the pipeline collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	rowsProcessed  prometheus.Counter
	cellErrors     *prometheus.CounterVec
	batches        *prometheus.CounterVec
	batchDuration  prometheus.Histogram
	titleFallbacks prometheus.Counter
	imagesCropped  prometheus.Counter
}

// New registers the pipeline collectors plus Go and process collectors on a
// private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		rowsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cutimage_rows_processed_total",
			Help: "Spreadsheet rows processed.",
		}),
		cellErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cutimage_cell_errors_total",
			Help: "Per-cell failures recorded on batches.",
		}, []string{"kind"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cutimage_batches_total",
			Help: "Batches finalized, by status.",
		}, []string{"status"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cutimage_batch_duration_seconds",
			Help:    "Wall time of a batch run.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		titleFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cutimage_title_fallbacks_total",
			Help: "Titles synthesized after every generation attempt was rejected.",
		}),
		imagesCropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cutimage_images_cropped_total",
			Help: "Images cropped and stored.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.rowsProcessed,
		m.cellErrors,
		m.batches,
		m.batchDuration,
		m.titleFallbacks,
		m.imagesCropped,
	)
	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RowProcessed() {
	if m == nil {
		return
	}
	m.rowsProcessed.Inc()
}

func (m *Metrics) CellError(kind string) {
	if m == nil {
		return
	}
	m.cellErrors.WithLabelValues(kind).Inc()
}

// BatchFinished records the final status and duration of a run
func (m *Metrics) BatchFinished(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(status).Inc()
	m.batchDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) TitleFallback() {
	if m == nil {
		return
	}
	m.titleFallbacks.Inc()
}

func (m *Metrics) ImageCropped() {
	if m == nil {
		return
	}
	m.imagesCropped.Inc()
}
