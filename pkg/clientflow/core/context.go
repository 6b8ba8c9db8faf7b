package core

import "context"

type ctxKey string

const (
	CtxKeyExecutorId ctxKey = ctxKey("executorId")
	CtxKeyTenantId   ctxKey = ctxKey("tenantId")
	CtxKeyApiKeyId   ctxKey = ctxKey("apiKeyId")
	CtxKeyWorkerId   ctxKey = ctxKey("workerId")
)

// TenantFromContext returns the tenant id placed on the context by the auth middleware.
func TenantFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(CtxKeyTenantId).(string)
	return v, ok && v != ""
}

func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, CtxKeyTenantId, tenantID)
}
