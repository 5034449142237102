package auth

import "context"

type accountContextKey struct{}
type permissionsContextKey struct{}

// ContextWithAccount attaches the authenticated account to the context.
func ContextWithAccount(ctx context.Context, account *Account) context.Context {
	if account == nil {
		return ctx
	}
	return context.WithValue(ctx, accountContextKey{}, account)
}

// AccountFromContext extracts the authenticated account from the context.
func AccountFromContext(ctx context.Context) (*Account, bool) {
	if ctx == nil {
		return nil, false
	}
	v, ok := ctx.Value(accountContextKey{}).(*Account)
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// AccountIDFromContext returns the id of the authenticated account, if any.
func AccountIDFromContext(ctx context.Context) (string, bool) {
	acc, ok := AccountFromContext(ctx)
	if !ok || acc.ID == "" {
		return "", false
	}
	return acc.ID, true
}

// ContextWithPermissions stores the matrix the permission gate resolved.
func ContextWithPermissions(ctx context.Context, m Matrix) context.Context {
	return context.WithValue(ctx, permissionsContextKey{}, m)
}

// PermissionsFromContext returns the matrix stored by ContextWithPermissions.
func PermissionsFromContext(ctx context.Context) (Matrix, bool) {
	if ctx == nil {
		return nil, false
	}
	m, ok := ctx.Value(permissionsContextKey{}).(Matrix)
	return m, ok && m != nil
}
