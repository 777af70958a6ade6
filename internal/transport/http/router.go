// Package httptransport exposes the authorize, token and key endpoints over HTTP.
// Handlers stay thin: they translate between HTTP and the services.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/govuk-one-login/account-components-sub001/pkg/platform/middleware/metadata"
	"github.com/govuk-one-login/account-components-sub001/pkg/platform/middleware/requestid"
	"github.com/govuk-one-login/account-components-sub001/pkg/platform/middleware/requesttime"
	"github.com/govuk-one-login/account-components-sub001/pkg/requestcontext"
)

// Router collects the handlers mounted by NewRouter. Nil handlers are skipped.
type Router struct {
	Logger    *slog.Logger
	Authorize *AuthorizeHandler
	Token     *TokenHandler
	Keys      *KeysHandler
	Health    *HealthHandler
	Metrics   http.Handler
}

// NewRouter wires middleware and every public endpoint.
func NewRouter(rt Router) chi.Router {
	logger := rt.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(requestid.Middleware)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(accessLog(logger))

	if rt.Authorize != nil {
		rt.Authorize.Register(r)
	}
	if rt.Token != nil {
		rt.Token.Register(r)
	}
	if rt.Keys != nil {
		rt.Keys.Register(r)
	}
	if rt.Health != nil {
		rt.Health.Register(r)
	}
	if rt.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", rt.Metrics)
	}
	return r
}

// accessLog writes one line per request. Query strings are left out: the
// authorize query carries the request object.
func accessLog(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.InfoContext(r.Context(), "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", requestcontext.RequestID(r.Context()),
				"client_ip", requestcontext.ClientIP(r.Context()),
			)
		})
	}
}
