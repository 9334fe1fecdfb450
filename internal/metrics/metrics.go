// Package metrics holds the Prometheus collectors of the refresh and export
// pipelines. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "listmat"

type Metrics struct {
	registry *prometheus.Registry

	batchesIngested   prometheus.Counter
	rowsIngested      prometheus.Counter
	generationsDone   *prometheus.CounterVec
	staleCompletions  prometheus.Counter
	exportsDone       *prometheus.CounterVec
	partsUploaded     prometheus.Counter
	uploadRetries     prometheus.Counter
	bytesUploaded     prometheus.Counter
	shutdownTasksRuns prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		batchesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "refresh", Name: "batches_ingested_total",
			Help: "Producer batches appended to list content.",
		}),
		rowsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "refresh", Name: "rows_ingested_total",
			Help: "Content rows appended to list content.",
		}),
		generationsDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "refresh", Name: "generations_total",
			Help: "Refresh generations finalized, by terminal status.",
		}, []string{"status"}),
		staleCompletions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "refresh", Name: "stale_completions_total",
			Help: "Completions dropped because the generation was no longer in progress.",
		}),
		exportsDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "export", Name: "jobs_total",
			Help: "Export jobs finalized, by terminal status.",
		}, []string{"status"}),
		partsUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "export", Name: "parts_uploaded_total",
			Help: "Multipart parts uploaded.",
		}),
		uploadRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "export", Name: "upload_retries_total",
			Help: "Part upload attempts that failed and were retried.",
		}),
		bytesUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "export", Name: "bytes_uploaded_total",
			Help: "Bytes of encoded content uploaded.",
		}),
		shutdownTasksRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "shutdown", Name: "actions_total",
			Help: "Shutdown actions executed for in-flight work.",
		}),
	}
	m.registry.MustRegister(
		m.batchesIngested, m.rowsIngested, m.generationsDone, m.staleCompletions,
		m.exportsDone, m.partsUploaded, m.uploadRetries, m.bytesUploaded, m.shutdownTasksRuns,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) BatchIngested(rows int) {
	if m == nil {
		return
	}
	m.batchesIngested.Inc()
	m.rowsIngested.Add(float64(rows))
}

func (m *Metrics) GenerationFinished(status string) {
	if m == nil {
		return
	}
	m.generationsDone.WithLabelValues(status).Inc()
}

func (m *Metrics) StaleCompletion() {
	if m == nil {
		return
	}
	m.staleCompletions.Inc()
}

func (m *Metrics) ExportFinished(status string) {
	if m == nil {
		return
	}
	m.exportsDone.WithLabelValues(status).Inc()
}

func (m *Metrics) PartUploaded(bytes int64) {
	if m == nil {
		return
	}
	m.partsUploaded.Inc()
	m.bytesUploaded.Add(float64(bytes))
}

func (m *Metrics) UploadRetried() {
	if m == nil {
		return
	}
	m.uploadRetries.Inc()
}

func (m *Metrics) ShutdownAction() {
	if m == nil {
		return
	}
	m.shutdownTasksRuns.Inc()
}
