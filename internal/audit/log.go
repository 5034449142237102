package audit

import (
	"context"
	"errors"
	"sort"
	"strings"

	"go.uber.org/zap"

	"officeflow.org/internal/auth"
	"officeflow.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit entry enriched with request and account context.
// Callers must never pass secrets in fields.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	zf := []zap.Field{
		zap.String("type", "audit"),
		zap.String("event", event),
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		zf = append(zf, zap.String("request_id", rid))
	}
	if accountID, ok := auth.AccountIDFromContext(ctx); ok {
		zf = append(zf, zap.String("user_id", accountID))
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	payload := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		payload = append(payload, zap.Any(k, fields[k]))
	}
	zf = append(zf, zap.Dict("fields", payload...))
	obs.Logger().Info("audit", zf...)
	return nil
}
