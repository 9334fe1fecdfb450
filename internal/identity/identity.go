// Package identity carries the tenant/user an operation executes as.
package identity

import "context"

type Identity struct {
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`
}

type ctxKey struct{}

func NewContext(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity bound to ctx, or the zero Identity.
func FromContext(ctx context.Context) Identity {
	id, _ := ctx.Value(ctxKey{}).(Identity)
	return id
}

// Detach binds id to a fresh background context. Background work must outlive the
// request that started it but keep executing as the same identity.
func Detach(ctx context.Context, base context.Context) context.Context {
	return NewContext(base, FromContext(ctx))
}
