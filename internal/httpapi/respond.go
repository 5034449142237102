package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"officeflow.org/internal/audit"
	"officeflow.org/internal/auth"
	"officeflow.org/internal/obs"
)

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return errors.New("request body is required")
		case errors.As(err, &maxErr):
			return errors.New("request body too large")
		}
		return errors.New("invalid JSON body")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"message": msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// authErrorResponses maps service errors to status and client message.
var authErrorResponses = []struct {
	err     error
	code    int
	message string
}{
	{auth.ErrDuplicateAccount, http.StatusBadRequest, "User already exists"},
	{auth.ErrInvalidCredentials, http.StatusUnauthorized, "Invalid credentials"},
	{auth.ErrAccountInactive, http.StatusUnauthorized, "Account is inactive. Please contact an administrator."},
	{auth.ErrAccountLocked, http.StatusLocked, "Account is temporarily locked due to too many failed login attempts. Please try again later."},
	{auth.ErrInvalidMFAToken, http.StatusUnauthorized, "Invalid MFA token"},
	{auth.ErrMFAAlreadyEnabled, http.StatusBadRequest, "MFA is already enabled for this user"},
	{auth.ErrMFANotEnabled, http.StatusBadRequest, "MFA is not enabled for this user"},
	{auth.ErrMFASetupRequired, http.StatusBadRequest, "MFA secret not found. Please setup MFA first."},
	{auth.ErrInvalidVerificationCode, http.StatusBadRequest, "Invalid verification code"},
	{auth.ErrMFASecretChanged, http.StatusConflict, "MFA setup was restarted. Scan the new code and verify again."},
	{auth.ErrInvalidOrExpiredToken, http.StatusBadRequest, "Invalid or expired reset token"},
	{auth.ErrInvalidPassword, http.StatusUnauthorized, "Invalid password"},
	{auth.ErrInvalidSessionToken, http.StatusUnauthorized, "Not authorized, token failed"},
	{auth.ErrForbidden, http.StatusForbidden, "Not authorized to access this resource"},
	{auth.ErrNotFound, http.StatusNotFound, "User not found"},
}

func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, auth.ErrValidation) {
		msg := strings.TrimPrefix(err.Error(), auth.ErrValidation.Error()+": ")
		writeError(w, r, http.StatusBadRequest, msg)
		return
	}
	for _, e := range authErrorResponses {
		if errors.Is(err, e.err) {
			writeError(w, r, e.code, e.message)
			return
		}
	}
	obs.Logger().Error("request failed",
		zap.String("request_id", audit.RequestIDFromContext(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	writeError(w, r, http.StatusInternalServerError, "Server error")
}
