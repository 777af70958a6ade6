package httptransport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/govuk-one-login/account-components-sub001/internal/token"
	"github.com/govuk-one-login/account-components-sub001/pkg/platform/httputil"
	"github.com/govuk-one-login/account-components-sub001/pkg/requestcontext"
)

//go:generate mockgen -source=handlers_token.go -destination=mocks/token_mocks.go -package=mocks TokenService

type TokenService interface {
	Exchange(ctx context.Context, req token.Request) (*token.Response, error)
}

const maxTokenBody = 64 << 10

// TokenHandler serves POST /token.
type TokenHandler struct {
	svc    TokenService
	logger *slog.Logger
}

func NewTokenHandler(svc TokenService, logger *slog.Logger) *TokenHandler {
	return &TokenHandler{svc: svc, logger: logger}
}

func (h *TokenHandler) Register(r chi.Router) {
	r.Post("/token", h.handleToken)
}

func (h *TokenHandler) handleToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, maxTokenBody)
	if err := r.ParseForm(); err != nil {
		h.logger.WarnContext(ctx, "invalid token request body",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, http.StatusBadRequest, token.CodeInvalidRequest, "request body must be form encoded")
		return
	}

	resp, err := h.svc.Exchange(ctx, token.Request{
		GrantType:           r.PostForm.Get("grant_type"),
		Code:                r.PostForm.Get("code"),
		RedirectURI:         r.PostForm.Get("redirect_uri"),
		ClientAssertionType: r.PostForm.Get("client_assertion_type"),
		ClientAssertion:     r.PostForm.Get("client_assertion"),
	})
	if err != nil {
		var te *token.Error
		if !errors.As(err, &te) {
			te = &token.Error{Code: token.CodeServerError, Cause: err}
		}
		if te.Code == token.CodeInvalidClient {
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_client"`)
		}
		httputil.WriteError(w, te.Status(), te.Code, te.Description)
		return
	}

	httputil.WriteNoStoreJSON(w, http.StatusOK, resp)
}
