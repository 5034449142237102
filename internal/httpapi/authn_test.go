package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"officeflow.org/internal/auth"
	"officeflow.org/internal/throttle"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireRoleAllowsMatchingRole(t *testing.T) {
	a := &API{}
	handler := a.RequireRole(auth.RoleAdmin)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/internal", nil)
	req = req.WithContext(auth.ContextWithAccount(req.Context(), &auth.Account{ID: "a1", Role: auth.RoleAdmin}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRequireRoleRejectsOtherRole(t *testing.T) {
	a := &API{}
	handler := a.RequireRole(auth.RoleAdmin)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/internal", nil)
	req = req.WithContext(auth.ContextWithAccount(req.Context(), &auth.Account{ID: "e1", Role: auth.RoleEmployee}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if got := rr.Header().Get("WWW-Authenticate"); got == "" {
		t.Fatalf("expected WWW-Authenticate header set")
	}
}

func TestRequireRoleRejectsMissingAccount(t *testing.T) {
	a := &API{}
	handler := a.RequireRole(auth.RoleAdmin)(okHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/internal", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer  abc ", "abc", true},
		{"", "", false},
		{"Bearer ", "", false},
		{"Basic abc", "", false},
		{"Bear", "", false},
	}
	for _, tc := range cases {
		got, err := extractBearerToken(tc.header)
		if (err == nil) != tc.ok || got != tc.want {
			t.Fatalf("extractBearerToken(%q) = %q, %v", tc.header, got, err)
		}
	}
}

func TestMountedRoutesEnforcePermissions(t *testing.T) {
	api := newTestAPI(t, Options{})
	api.api.Mount("GET /files", auth.ModuleFiles, auth.ActionView, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		perms, ok := auth.PermissionsFromContext(r.Context())
		if !ok || !perms.Allows(auth.ModuleFiles, auth.ActionView) {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	api.api.Mount("DELETE /expenses/{id}", auth.ModuleExpenses, auth.ActionDelete, okHandler())
	api.api.Mount("GET /reports", "reports", auth.ActionView, okHandler())

	alice := api.register("Alice", "alice@x.com", "secret1", "")

	resp := api.get("/files", alice.Token)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = api.do(http.MethodDelete, "/expenses/1", nil, alice.Token)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = api.get("/reports", alice.Token)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = api.get("/files", "")
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
}

func TestLoginThrottle(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	api := newTestAPI(t, Options{Throttle: throttle.New(client, 2, time.Minute)})
	for i := 0; i < 2; i++ {
		resp := api.post("/auth/login", map[string]any{"email": "x@x.com", "password": "nope12"}, "")
		expectStatus(t, resp, http.StatusUnauthorized)
		resp.Body.Close()
	}
	resp := api.post("/auth/login", map[string]any{"email": "x@x.com", "password": "nope12"}, "")
	expectStatus(t, resp, http.StatusTooManyRequests)
	if resp.Header.Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	resp.Body.Close()

	resp = api.post("/auth/forgot-password", map[string]any{"email": "x@x.com"}, "")
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	mr.SetError("down")
	resp = api.post("/auth/forgot-password", map[string]any{"email": "x@x.com"}, "")
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func TestLoginThrottleIgnoresSpoofedForwardedFor(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	api := newTestAPI(t, Options{Throttle: throttle.New(client, 2, time.Minute)})
	throttled := 0
	for i := 0; i < 10; i++ {
		req, err := http.NewRequest(http.MethodPost, api.baseURL+"/auth/login",
			strings.NewReader(`{"email":"x@x.com","password":"nope12"}`))
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i+1))
		resp, err := api.client.Do(req)
		if err != nil {
			t.Fatalf("do request: %v", err)
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			throttled++
		}
		resp.Body.Close()
	}
	if throttled != 8 {
		t.Fatalf("expected 8 throttled attempts, got %d", throttled)
	}
}

func TestSuccessfulLoginClearsLoginThrottle(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	api := newTestAPI(t, Options{Throttle: throttle.New(client, 2, time.Minute)})
	if _, err := api.svc.Register(context.Background(), auth.RegisterInput{Name: "Kim", Email: "kim@x.com", Password: "secret1"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	resp := api.post("/auth/login", map[string]any{"email": "kim@x.com", "password": "wrong12"}, "")
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()
	resp = api.post("/auth/login", map[string]any{"email": "kim@x.com", "password": "secret1"}, "")
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	for i := 0; i < 2; i++ {
		resp = api.post("/auth/login", map[string]any{"email": "kim@x.com", "password": "wrong12"}, "")
		expectStatus(t, resp, http.StatusUnauthorized)
		resp.Body.Close()
	}
	resp = api.post("/auth/login", map[string]any{"email": "kim@x.com", "password": "wrong12"}, "")
	expectStatus(t, resp, http.StatusTooManyRequests)
	resp.Body.Close()
}
