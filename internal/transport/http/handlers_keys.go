package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-jose/go-jose/v4"

	"github.com/govuk-one-login/account-components-sub001/pkg/platform/httputil"
	"github.com/govuk-one-login/account-components-sub001/pkg/requestcontext"
)

//go:generate mockgen -source=handlers_keys.go -destination=mocks/keys_mocks.go -package=mocks KeySet,Pinger

type KeySet interface {
	Set(ctx context.Context) (*jose.JSONWebKeySet, error)
}

// KeysHandler serves the service JWKS.
type KeysHandler struct {
	keys   KeySet
	logger *slog.Logger
}

func NewKeysHandler(keys KeySet, logger *slog.Logger) *KeysHandler {
	return &KeysHandler{keys: keys, logger: logger}
}

func (h *KeysHandler) Register(r chi.Router) {
	r.Get("/.well-known/jwks.json", h.handleJWKS)
}

func (h *KeysHandler) handleJWKS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	set, err := h.keys.Set(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to build JWKS",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, http.StatusInternalServerError, "server_error", "")
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
	httputil.WriteJSON(w, http.StatusOK, set)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports whether the store is reachable.
type HealthHandler struct {
	store  Pinger
	logger *slog.Logger
}

func NewHealthHandler(store Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{store: store, logger: logger}
}

func (h *HealthHandler) Register(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
}

func (h *HealthHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.WarnContext(r.Context(), "health check failed", "error", err)
		httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
