package core

import "context"

type contextKey int

const requestIDKey contextKey = iota

// WithRequestID tags ctx with the id of the chat command or admin request
// that started the work, so cache fills can log it.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID returns the id set by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
