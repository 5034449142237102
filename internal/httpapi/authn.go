package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"officeflow.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var (
	errMissingToken = errors.New("missing bearer token")
	errBadScheme    = errors.New("invalid authorization scheme")
)

const (
	msgNoToken      = "Not authorized, no token"
	bearerChallenge = `Bearer realm="officeflow"`
)

// authenticated resolves the bearer token and stores the account in the context.
func (a *API) authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			msg := msgNoToken
			if errors.Is(err, errBadScheme) {
				msg = "Not authorized, invalid authorization scheme"
			}
			w.Header().Set("WWW-Authenticate", bearerChallenge)
			writeError(w, r, http.StatusUnauthorized, msg)
			return
		}
		acc, err := a.svc.Authenticate(r.Context(), token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", bearerChallenge)
			handleAuthError(w, r, err)
			return
		}
		ctx := auth.ContextWithAccount(r.Context(), acc)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole admits authenticated accounts holding one of roles.
func (a *API) RequireRole(roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			acc, ok := auth.AccountFromContext(r.Context())
			if !ok {
				w.Header().Set("WWW-Authenticate", bearerChallenge)
				writeError(w, r, http.StatusUnauthorized, msgNoToken)
				return
			}
			for _, role := range roles {
				if acc.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			w.Header().Set("WWW-Authenticate", bearerChallenge+`, error="insufficient_scope"`)
			writeError(w, r, http.StatusForbidden, "User role "+string(acc.Role)+" is not authorized to access this route")
		})
	}
}

// RequirePermission authenticates the request and fails closed unless the
// account's normalized matrix grants module/action.
func (a *API) RequirePermission(module, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return a.authenticated(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			acc, _ := auth.AccountFromContext(r.Context())
			perms, err := a.svc.Authorize(acc, module, action)
			if err != nil {
				handleAuthError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.ContextWithPermissions(r.Context(), perms)))
		}))
	}
}

// Mount registers a collaborator handler behind the permission gate.
func (a *API) Mount(pattern, module, action string, h http.Handler) {
	a.mux.Handle(pattern, a.RequirePermission(module, action)(h))
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errMissingToken
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errBadScheme
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errMissingToken
	}
	return token, nil
}
