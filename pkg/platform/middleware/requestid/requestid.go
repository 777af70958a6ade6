// Package requestid tags every request with a correlation ID.
package requestid

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/govuk-one-login/account-components-sub001/pkg/requestcontext"
)

// Header is echoed back on every response.
const Header = "X-Request-ID"

// Middleware reuses an inbound X-Request-ID when present, otherwise mints one.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(Header)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(Header, id)
		next.ServeHTTP(w, r.WithContext(requestcontext.WithRequestID(r.Context(), id)))
	})
}
