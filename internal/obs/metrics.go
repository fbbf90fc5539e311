package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	EmailMessagesSynced = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "crm_email_messages_synced_total",
		Help: "Inbound messages stored by IMAP sync.",
	})

	DocumentsCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "crm_documents_completed_total",
		Help: "Documents that reached the completed status.",
	})

	LenderSubmissions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "crm_lender_submissions_total",
		Help: "Lender submissions sent.",
	})

	SigningRateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "crm_signing_rate_limited_total",
		Help: "Public signing requests rejected by the rate limiter.",
	})
)

var initOnce sync.Once

// Init registers all collectors with the default registry. Safe to call twice.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			EmailMessagesSynced, DocumentsCompleted, LenderSubmissions, SigningRateLimited,
		)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records request count, latency and in-flight gauge.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// CanonicalPath collapses identifiers and tokens so label cardinality stays bounded.
func CanonicalPath(path string) string {
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		path = path[:idx]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, part := range parts {
		switch {
		case i == 1 && parts[0] == "sign":
			parts[i] = ":token"
		case isIdentifier(part):
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

func isIdentifier(segment string) bool {
	idx := strings.IndexByte(segment, '_')
	return idx > 0 && len(segment)-idx-1 == 26
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
