package context

import "context"

type ContextKey string

var (
	RequestIDKey   = ContextKey("X-Request-Id")
	TenantIDKey    = ContextKey("X-Tenant-Id")
	IntegrationKey = ContextKey("X-Integration")
	SyncIDKey      = ContextKey("X-Sync-Id")
	WorkUnitIDKey  = ContextKey("X-Work-Unit-Id")
)

func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func GetRequestID(ctx context.Context) string {
	value, ok := ctx.Value(RequestIDKey).(string)
	if !ok {
		return ""
	}
	return value
}

func SetTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}

func GetTenantID(ctx context.Context) string {
	value, ok := ctx.Value(TenantIDKey).(string)
	if !ok {
		return ""
	}
	return value
}

func SetIntegration(ctx context.Context, integration string) context.Context {
	return context.WithValue(ctx, IntegrationKey, integration)
}

func GetIntegration(ctx context.Context) string {
	value, ok := ctx.Value(IntegrationKey).(string)
	if !ok {
		return ""
	}
	return value
}

func SetSyncID(ctx context.Context, syncID string) context.Context {
	return context.WithValue(ctx, SyncIDKey, syncID)
}

func GetSyncID(ctx context.Context) string {
	value, ok := ctx.Value(SyncIDKey).(string)
	if !ok {
		return ""
	}
	return value
}

func SetWorkUnitID(ctx context.Context, workUnitID string) context.Context {
	return context.WithValue(ctx, WorkUnitIDKey, workUnitID)
}

func GetWorkUnitID(ctx context.Context) string {
	value, ok := ctx.Value(WorkUnitIDKey).(string)
	if !ok {
		return ""
	}
	return value
}
