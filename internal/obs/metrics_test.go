package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                           "/",
		"/metrics":                   "/metrics",
		"/auth/login":                "/auth/login",
		"/auth/users":                "/auth/users",
		"/auth/users/01HZX":          "/auth/users/:id",
		"/auth/users/01HZX/unlock":   "/auth/users/:id/unlock",
		"/auth/users/01HZX/extra":    "/auth/users/01HZX/extra",
		"/auth/users/01HZX?expand=1": "/auth/users/:id",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestAuthCounters(t *testing.T) {
	before := testutil.ToFloat64(authLogins.WithLabelValues("locked"))
	LoginOutcome("locked")
	if got := testutil.ToFloat64(authLogins.WithLabelValues("locked")); got != before+1 {
		t.Fatalf("expected locked counter to grow by one, got %v -> %v", before, got)
	}

	before = testutil.ToFloat64(authMFA.WithLabelValues("enabled"))
	MFAEvent("enabled")
	if got := testutil.ToFloat64(authMFA.WithLabelValues("enabled")); got != before+1 {
		t.Fatalf("expected mfa counter to grow by one, got %v -> %v", before, got)
	}
}

func TestInstrumentCapturesStatus(t *testing.T) {
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/auth/users/:id", "418"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/users/abc", nil))

	if rec.Code != http.StatusTeapot {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/auth/users/:id", "418"))
	if after != before+1 {
		t.Fatalf("expected counter to grow by one, got %v -> %v", before, after)
	}
}

func TestNewLoggerLevels(t *testing.T) {
	l, err := NewLogger("debug")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if !l.Core().Enabled(-1) {
		t.Fatalf("expected debug to be enabled")
	}
	l, err = NewLogger("bogus")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if l.Core().Enabled(-1) {
		t.Fatalf("expected unknown level to fall back to info")
	}
}
