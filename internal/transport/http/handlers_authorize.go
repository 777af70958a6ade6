package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/govuk-one-login/account-components-sub001/internal/authorize/models"
	"github.com/govuk-one-login/account-components-sub001/pkg/platform/httputil"
	"github.com/govuk-one-login/account-components-sub001/pkg/requestcontext"
)

//go:generate mockgen -source=handlers_authorize.go -destination=mocks/authorize_mocks.go -package=mocks AuthorizeService

type AuthorizeService interface {
	Authorize(ctx context.Context, values url.Values) (*models.RedirectOutcome, error)
}

// AuthorizeHandler serves GET /authorize. Every response is a redirect except
// when not even the fallback page can be built.
type AuthorizeHandler struct {
	svc    AuthorizeService
	logger *slog.Logger
}

func NewAuthorizeHandler(svc AuthorizeService, logger *slog.Logger) *AuthorizeHandler {
	return &AuthorizeHandler{svc: svc, logger: logger}
}

func (h *AuthorizeHandler) Register(r chi.Router) {
	r.Get("/authorize", h.handleAuthorize)
}

func (h *AuthorizeHandler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	out, err := h.svc.Authorize(ctx, r.URL.Query())
	if err != nil {
		h.logger.ErrorContext(ctx, "authorize produced no redirect",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, http.StatusInternalServerError, string(models.ErrorTypeServerError), "")
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	if out.Cookie != nil {
		http.SetCookie(w, out.Cookie)
	}
	http.Redirect(w, r, out.Location, out.StatusCode)
}
