package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cstaal88/mina-pipeline/internal/models"
)

// Collector exposes Prometheus metrics for pipeline runs and for the
// daemon's own HTTP surface.
type Collector struct {
	registry        *prometheus.Registry
	runTotal        *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	stepDuration    *prometheus.HistogramVec
	recordsTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
}

// New constructs a collector with all pipeline and HTTP vecs registered.
func New() (*Collector, error) {
	registry := prometheus.NewRegistry()

	runTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mina",
		Subsystem: "pipeline",
		Name:      "runs_total",
		Help:      "Completed pipeline runs by topic, mode, and outcome.",
	}, []string{"topic", "mode", "status"})

	// Runs span seconds for trial windows up to hours for backfills.
	runDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mina",
		Subsystem: "pipeline",
		Name:      "run_duration_seconds",
		Help:      "Wall-clock duration of whole pipeline runs.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
	}, []string{"topic"})

	stepDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mina",
		Subsystem: "pipeline",
		Name:      "step_duration_seconds",
		Help:      "Wall-clock duration of individual pipeline steps.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
	}, []string{"topic", "step"})

	recordsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mina",
		Subsystem: "pipeline",
		Name:      "records_total",
		Help:      "Records handled per run stage.",
	}, []string{"topic", "stage"})

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mina",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for inbound HTTP requests.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mina",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of inbound HTTP requests.",
	}, []string{"method", "path", "status"})

	for _, c := range []prometheus.Collector{
		runTotal, runDuration, stepDuration, recordsTotal, requestDuration, requestTotal,
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	return &Collector{
		registry:        registry,
		runTotal:        runTotal,
		runDuration:     runDuration,
		stepDuration:    stepDuration,
		recordsTotal:    recordsTotal,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
	}, nil
}

// ObserveRun records one completed pipeline run.
func (c *Collector) ObserveRun(r *models.RunRecord) {
	status := "ok"
	if !r.Succeeded() {
		status = "error"
	}

	c.runTotal.WithLabelValues(r.Topic, string(r.Mode), status).Inc()
	c.runDuration.WithLabelValues(r.Topic).Observe(r.Duration().Seconds())
	for _, step := range r.Steps {
		c.stepDuration.WithLabelValues(r.Topic, step.Name).Observe(step.Seconds)
	}

	c.recordsTotal.WithLabelValues(r.Topic, "fetched").Add(float64(r.Fetched))
	c.recordsTotal.WithLabelValues(r.Topic, "skipped").Add(float64(r.Skipped))
	c.recordsTotal.WithLabelValues(r.Topic, "scraped").Add(float64(r.Scraped))
	c.recordsTotal.WithLabelValues(r.Topic, "added").Add(float64(r.Added))
}

// Handler returns an HTTP handler exposing the registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler to record HTTP metrics.
func (c *Collector) InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(rw.status)
		path := r.URL.Path

		c.requestTotal.WithLabelValues(r.Method, path, status).Inc()
		c.requestDuration.WithLabelValues(r.Method, path, status).Observe(duration)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
