package metadata

import (
	"context"
	"net/http"
	"strings"

	"changetrail/pkg/requestcontext"
)

// ActorHeader names the header the host's gateway sets after authenticating
// the principal. Authentication itself is out of scope here.
const ActorHeader = "X-Actor-Id"

// ClientMetadata extracts client IP, User-Agent, method, path and actor id
// from the request and adds them to the context for the capture service.
// This middleware should be applied early in the chain.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctx = requestcontext.WithClientIP(ctx, ClientIPFromRequest(r))
		ctx = requestcontext.WithUserAgent(ctx, r.Header.Get("User-Agent"))
		ctx = requestcontext.WithHTTPMethod(ctx, r.Method)
		ctx = requestcontext.WithEndpointPath(ctx, r.URL.Path)
		if actor := r.Header.Get(ActorHeader); actor != "" {
			ctx = requestcontext.WithActorID(ctx, actor)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WithClientMetadata injects request metadata into a context. Useful for
// service unit tests that don't run the full HTTP middleware chain.
func WithClientMetadata(ctx context.Context, clientIP, userAgent, method, path string) context.Context {
	ctx = requestcontext.WithClientIP(ctx, clientIP)
	ctx = requestcontext.WithUserAgent(ctx, userAgent)
	ctx = requestcontext.WithHTTPMethod(ctx, method)
	ctx = requestcontext.WithEndpointPath(ctx, path)
	return ctx
}

// ClientIPFromRequest extracts the real client IP from the request, handling
// proxies and load balancers.
func ClientIPFromRequest(r *http.Request) string {
	// X-Forwarded-For can contain multiple IPs (client, proxy1, proxy2, ...);
	// the first is the original client.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	// X-Real-IP is used by nginx and other proxies.
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	// RemoteAddr is "ip:port" for IPv4 and "[::1]:port" for IPv6.
	if addr := r.RemoteAddr; addr != "" {
		if idx := strings.LastIndex(addr, ":"); idx != -1 {
			return addr[:idx]
		}
		return addr
	}

	return "unknown"
}
