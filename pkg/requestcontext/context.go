// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values.
//
// Values are typically set by middleware but consumed by the capture service.
// The package is free of net/http dependencies so services can import only
// what they need without pulling in HTTP-related code.
//
// Usage in services (read values):
//
//	actorID := requestcontext.ActorID(ctx)
//	ip := requestcontext.ClientIP(ctx)
//
// Usage in middleware (set values):
//
//	ctx = requestcontext.WithClientIP(ctx, ip)
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithActorID(ctx, "11f4c3a0-...")
package requestcontext

import "context"

// Context key types (unexported for encapsulation).
type (
	actorIDKey      struct{}
	clientIPKey     struct{}
	userAgentKey    struct{}
	httpMethodKey   struct{}
	endpointPathKey struct{}
	requestIDKey    struct{}
)

// ActorID retrieves the acting principal's identifier from the context.
// Returns "" when the change is system-initiated.
func ActorID(ctx context.Context) string {
	if v, ok := ctx.Value(actorIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithActorID injects the acting principal's identifier into the context.
func WithActorID(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorIDKey{}, actorID)
}

// ClientIP retrieves the client IP address from the context.
func ClientIP(ctx context.Context) string {
	if v, ok := ctx.Value(clientIPKey{}).(string); ok {
		return v
	}
	return ""
}

// WithClientIP injects the client IP address into the context.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// UserAgent retrieves the client User-Agent from the context.
func UserAgent(ctx context.Context) string {
	if v, ok := ctx.Value(userAgentKey{}).(string); ok {
		return v
	}
	return ""
}

// WithUserAgent injects the client User-Agent into the context.
func WithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, userAgentKey{}, ua)
}

// HTTPMethod retrieves the request method from the context.
func HTTPMethod(ctx context.Context) string {
	if v, ok := ctx.Value(httpMethodKey{}).(string); ok {
		return v
	}
	return ""
}

// WithHTTPMethod injects the request method into the context.
func WithHTTPMethod(ctx context.Context, method string) context.Context {
	return context.WithValue(ctx, httpMethodKey{}, method)
}

// EndpointPath retrieves the request path from the context.
func EndpointPath(ctx context.Context) string {
	if v, ok := ctx.Value(endpointPathKey{}).(string); ok {
		return v
	}
	return ""
}

// WithEndpointPath injects the request path into the context.
func WithEndpointPath(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, endpointPathKey{}, path)
}

// RequestID retrieves the correlation id from the context.
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithRequestID injects a correlation id into the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}
