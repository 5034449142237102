package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"officeflow.org/internal/auth"
	"officeflow.org/internal/obs"
	"officeflow.org/internal/throttle"
)

const serviceName = "officeflow-api"

// Pinger is satisfied by the PostgreSQL store and *sql.DB.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe проверяет готовность (ping БД).
type ReadyProbe struct {
	DB Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.Ping(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Options tune the HTTP layer. Zero values take defaults.
type Options struct {
	Version      string
	Throttle     *throttle.Throttle
	RateBurst    int
	RatePerSec   float64
	MaxBodyBytes int64
	Logger       *zap.Logger

	// TrustedProxies may set X-Forwarded-For. Empty means the peer address is the client.
	TrustedProxies TrustedProxies
}

// API is the HTTP layer.
type API struct {
	mux          *http.ServeMux
	svc          *auth.Service
	readyProbe   readinessChecker
	throttle     *throttle.Throttle
	logger       *zap.Logger
	version      string
	rateBurst    int
	ratePerSec   float64
	maxBodyBytes int64
	proxies      TrustedProxies
}

func New(svc *auth.Service, rp readinessChecker, opts Options) *API {
	a := &API{
		mux:          http.NewServeMux(),
		svc:          svc,
		readyProbe:   rp,
		throttle:     opts.Throttle,
		logger:       opts.Logger,
		version:      opts.Version,
		rateBurst:    opts.RateBurst,
		ratePerSec:   opts.RatePerSec,
		maxBodyBytes: opts.MaxBodyBytes,
		proxies:      opts.TrustedProxies,
	}
	if a.readyProbe == nil {
		a.readyProbe = ReadyProbe{}
	}
	if a.logger == nil {
		a.logger = obs.Logger()
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 20
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 10
	}
	if a.maxBodyBytes <= 0 {
		a.maxBodyBytes = 1 << 20
	}

	// health/ready/info
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /info", a.Info)

	// Prometheus metrics
	a.mux.Handle("GET /metrics", obs.Handler())

	a.routes()
	return a
}

func (a *API) routes() {
	a.mux.HandleFunc("POST /auth/register", a.handleRegister)
	a.mux.HandleFunc("POST /auth/login", a.handleLogin)
	a.mux.HandleFunc("POST /auth/forgot-password", a.handleForgotPassword)
	a.mux.HandleFunc("POST /auth/reset-password", a.handleResetPassword)

	a.mux.Handle("POST /auth/logout", a.authenticated(http.HandlerFunc(a.handleLogout)))
	a.mux.Handle("GET /auth/me", a.authenticated(http.HandlerFunc(a.handleMe)))
	a.mux.Handle("PUT /auth/me", a.authenticated(http.HandlerFunc(a.handleUpdateMe)))

	a.mux.Handle("POST /auth/mfa/setup", a.authenticated(http.HandlerFunc(a.handleMFASetup)))
	a.mux.Handle("POST /auth/mfa/verify", a.authenticated(http.HandlerFunc(a.handleMFAVerify)))
	a.mux.Handle("POST /auth/mfa/disable", a.authenticated(http.HandlerFunc(a.handleMFADisable)))
	a.mux.Handle("POST /auth/mfa/backup-codes", a.authenticated(http.HandlerFunc(a.handleBackupCodes)))
	a.mux.Handle("GET /auth/mfa/backup-codes", a.authenticated(http.HandlerFunc(a.handleBackupCodesRemaining)))

	admin := func(h http.HandlerFunc) http.Handler {
		return a.authenticated(a.RequireRole(auth.RoleAdmin)(h))
	}
	a.mux.Handle("GET /auth/users", admin(a.handleListUsers))
	a.mux.Handle("GET /auth/users/{id}", admin(a.handleGetUser))
	a.mux.Handle("PUT /auth/users/{id}", admin(a.handleUpdateUser))
	a.mux.Handle("POST /auth/users/{id}/unlock", admin(a.handleUnlockUser))
}

// Handler возвращает http.Handler для сервера с полной цепочкой middleware.
func (a *API) Handler() http.Handler {
	var h http.Handler = obs.Instrument(a.mux)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RealIP(h, a.proxies)
	return RequestID(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		obs.SetReady(false)
		a.logger.Warn("readiness check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
