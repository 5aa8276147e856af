package requestid

import (
	"net/http"

	"github.com/google/uuid"

	"changetrail/pkg/requestcontext"
)

// Header carries an externally supplied correlation id, e.g. from an ingress.
const Header = "X-Request-Id"

// RequestID attaches a correlation id to the request context, generating one
// when the caller did not send any.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(Header)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(Header, id)
		ctx := requestcontext.WithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
