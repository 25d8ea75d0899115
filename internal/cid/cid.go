package cid

import "context"

// ContextKey is the type used for storing the correlation id in context to
// avoid collisions.
type ContextKey struct{}

// HeaderName is the HTTP header used to propagate the correlation id.
// Incoming requests that already carry it keep their id; otherwise the server
// generates a fresh KSUID.
const HeaderName = "X-EB-CID"

// AttributeName is the span attribute key used to attach the correlation id
// to dispatch spans.
const AttributeName = "ecoute.cid"

// WithCID returns a new context containing the provided correlation id.
func WithCID(ctx context.Context, cid string) context.Context {
	return context.WithValue(ctx, ContextKey{}, cid)
}

// FromContext extracts the correlation id from context, if present.
func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ContextKey{}).(string); ok {
		return v
	}
	return ""
}
