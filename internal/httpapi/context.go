package httpapi

import "context"

type contextKey int

const (
	requestIDKey contextKey = iota
	deviceIDKey
)

func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// DeviceIDFromContext returns the device identifier RequireAssertion
// verified for this request, for downstream application handlers.
func DeviceIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(deviceIDKey).(string)
	return id, ok
}
