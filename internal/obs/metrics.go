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

// Общие HTTP-метрики
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

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "officeflow_ready",
		Help: "1 when the service reports ready.",
	})
)

// Метрики подсистемы аутентификации
var (
	authLogins = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "officeflow_auth_login_total",
			Help: "Login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	authMFA = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "officeflow_auth_mfa_total",
			Help: "MFA lifecycle events.",
		},
		[]string{"event"},
	)

	authPasswordReset = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "officeflow_auth_password_reset_total",
			Help: "Password reset requests and completions.",
		},
		[]string{"stage"},
	)
)

var initOnce sync.Once

// Init registers all collectors in the default registry. Safe to call twice.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration, ready,
			authLogins, authMFA, authPasswordReset,
		)
	})
}

// Handler exposes the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady flips the readiness gauge.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// LoginOutcome counts a login attempt by outcome (success, invalid_credentials,
// inactive, locked, mfa_required, invalid_mfa, throttled).
func LoginOutcome(outcome string) {
	authLogins.WithLabelValues(outcome).Inc()
}

// MFAEvent counts setup, enabled, disabled, regenerated and backup_code_used events.
func MFAEvent(event string) {
	authMFA.WithLabelValues(event).Inc()
}

// PasswordReset counts reset stages: requested, completed, rejected.
func PasswordReset(stage string) {
	authPasswordReset.WithLabelValues(stage).Inc()
}

// Instrument records RPS, latency and in-flight requests.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses account ids so label cardinality stays bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	const users = "/auth/users/"
	if !strings.HasPrefix(p, users) {
		return p
	}
	rest := strings.Split(strings.TrimPrefix(p, users), "/")
	switch {
	case len(rest) == 1 && rest[0] != "":
		return users + ":id"
	case len(rest) == 2 && rest[0] != "" && rest[1] == "unlock":
		return users + ":id/unlock"
	default:
		return p
	}
}

// statusWriter: локальная копия, чтобы знать код ответа.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
