package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Assignment engine metrics
	recommendationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assignment_recommendations_total",
			Help: "Raw recommendations obtained, by source",
		},
		[]string{"source"},
	)

	recommenderFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assignment_recommender_failures_total",
			Help: "External recommender failures absorbed by the fallback heuristic",
		},
		[]string{"reason"},
	)

	recommenderDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "assignment_recommender_duration_seconds",
			Help:    "External recommender call duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 25, 30},
		},
	)

	substitutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assignment_substitutions_total",
			Help: "Slots repaired during reconciliation",
		},
		[]string{"slot"},
	)

	decisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assignment_decisions_total",
			Help: "Assignment decisions persisted, by status",
		},
		[]string{"status"},
	)

	commitConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assignment_commit_conflicts_total",
			Help: "Commits aborted because a resource was no longer available",
		},
	)

	commitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "assignment_commit_duration_seconds",
			Help:    "Commit duration in seconds, lock wait included",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	auditEntriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_entries_total",
			Help: "Total number of audit entries created",
		},
	)

	notificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Staff paging notifications, by provider and outcome",
		},
		[]string{"provider", "status"},
	)

	rosterImportRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roster_import_rows_total",
			Help: "Roster rows imported from the hospital information system",
		},
		[]string{"kind"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware creates HTTP metrics middleware
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := routePattern(r)

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// routePattern labels requests by their chi route template so IDs do not
// explode label cardinality.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return strings.ReplaceAll(pattern, "/*/", "/")
		}
	}
	if len(r.URL.Path) > 100 {
		return "/api/..."
	}
	return r.URL.Path
}

// --- Business metric helpers ---

// RecordRecommendation records a raw recommendation by source
func RecordRecommendation(source string) {
	recommendationsTotal.WithLabelValues(source).Inc()
}

// RecordRecommenderFailure records an absorbed recommender failure
func RecordRecommenderFailure(reason string) {
	recommenderFailures.WithLabelValues(reason).Inc()
}

// RecordRecommenderCall records the duration of an external recommender call
func RecordRecommenderCall(duration time.Duration) {
	recommenderDuration.Observe(duration.Seconds())
}

// RecordSubstitution records a reconciled slot substitution
func RecordSubstitution(slot string) {
	substitutionsTotal.WithLabelValues(slot).Inc()
}

// RecordDecision records a persisted decision
func RecordDecision(status string) {
	decisionsTotal.WithLabelValues(status).Inc()
}

// RecordCommit records a commit attempt
func RecordCommit(duration time.Duration, conflict bool) {
	commitDuration.Observe(duration.Seconds())
	if conflict {
		commitConflicts.Inc()
	}
}

// RecordAuditEntry records an audit entry creation
func RecordAuditEntry() {
	auditEntriesTotal.Inc()
}

// RecordNotification records a paging attempt
func RecordNotification(provider string, delivered bool) {
	status := "failed"
	if delivered {
		status = "delivered"
	}
	notificationsSent.WithLabelValues(provider, status).Inc()
}

// RecordRosterImport records imported roster rows
func RecordRosterImport(kind string, rows int) {
	rosterImportRows.WithLabelValues(kind).Add(float64(rows))
}
