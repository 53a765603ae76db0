package metrics

import (
	"net/http"
	"strconv"
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

	// Business metrics
	reportsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reports_submitted_total",
			Help: "Total number of reports submitted",
		},
		[]string{"type"},
	)

	reportStatusChanged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "report_status_changed_total",
			Help: "Total number of report status changes",
		},
		[]string{"from_status", "to_status"},
	)

	roomsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_rooms_created_total",
			Help: "Total number of chat rooms created",
		},
	)

	messagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Total number of chat messages stored",
		},
		[]string{"room_type", "sender_role"},
	)

	messagesRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_relayed_total",
			Help: "Total number of messages relayed between rooms",
		},
		[]string{"from_room_type", "to_room_type"},
	)

	pinAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reporter_pin_attempts_total",
			Help: "Total number of reporter PIN login attempts",
		},
		[]string{"outcome"},
	)

	lockouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reporter_lockouts_total",
			Help: "Total number of reports locked after repeated PIN failures",
		},
	)

	authorizationDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authorization_decisions_total",
			Help: "Total number of authorization decisions",
		},
		[]string{"resource_type", "action", "decision"},
	)

	tokenRotations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_rotations_total",
			Help: "Total number of refresh token rotations",
		},
		[]string{"outcome"},
	)

	eventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_events_published_total",
			Help: "Total number of audit events published",
		},
		[]string{"type", "status"},
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

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// routePattern labels requests by chi route template so room and report ids
// never become label values.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

func decisionLabel(allowed bool) string {
	if allowed {
		return "allow"
	}
	return "deny"
}

// --- Business metric helpers ---

func RecordReportSubmitted(reportType string) {
	reportsSubmitted.WithLabelValues(reportType).Inc()
}

func RecordReportStatusChange(fromStatus, toStatus string) {
	reportStatusChanged.WithLabelValues(fromStatus, toStatus).Inc()
}

// RecordRoomsCreated records the rooms created for one case.
func RecordRoomsCreated(n int) {
	roomsCreated.Add(float64(n))
}

func RecordMessageSent(roomType, senderRole string) {
	messagesSent.WithLabelValues(roomType, senderRole).Inc()
}

func RecordMessageRelayed(fromType, toType string) {
	messagesRelayed.WithLabelValues(fromType, toType).Inc()
}

// RecordPINAttempt records a reporter login attempt. Outcome is one of
// success, failure, unknown_ticket or locked.
func RecordPINAttempt(outcome string) {
	pinAttempts.WithLabelValues(outcome).Inc()
}

func RecordLockout() {
	lockouts.Inc()
}

// RecordAuthorizationDecision records an authorization decision
func RecordAuthorizationDecision(resourceType, action string, allowed bool) {
	authorizationDecisions.WithLabelValues(resourceType, action, decisionLabel(allowed)).Inc()
}

func RecordTokenRotation(success bool) {
	outcome := "rejected"
	if success {
		outcome = "rotated"
	}
	tokenRotations.WithLabelValues(outcome).Inc()
}

func RecordEventPublished(eventType string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	eventsPublished.WithLabelValues(eventType, status).Inc()
}
