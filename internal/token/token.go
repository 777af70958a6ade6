// Package token redeems authorization codes issued by the code outcome for
// access tokens. Clients authenticate with private_key_jwt.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/govuk-one-login/account-components-sub001/internal/authorize/metrics"
	"github.com/govuk-one-login/account-components-sub001/internal/authorize/models"
	"github.com/govuk-one-login/account-components-sub001/internal/authorize/registry"
	"github.com/govuk-one-login/account-components-sub001/internal/jwks"
	"github.com/govuk-one-login/account-components-sub001/pkg/platform/audit"
	"github.com/govuk-one-login/account-components-sub001/pkg/platform/sentinel"
	"github.com/govuk-one-login/account-components-sub001/pkg/requestcontext"
)

const (
	GrantTypeAuthorizationCode = "authorization_code"
	ClientAssertionTypeJWT     = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"
	TokenTypeBearer            = "Bearer"
)

// OAuth error codes returned by the token endpoint.
const (
	CodeInvalidRequest       = "invalid_request"
	CodeInvalidClient        = "invalid_client"
	CodeInvalidGrant         = "invalid_grant"
	CodeUnsupportedGrantType = "unsupported_grant_type"
	CodeServerError          = "server_error"
)

// Error is an OAuth token error. Description is safe to return to the client;
// Cause is only logged.
type Error struct {
	Code        string
	Description string
	Cause       error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Description, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Status is the HTTP status for the error code.
func (e *Error) Status() int {
	switch e.Code {
	case CodeInvalidClient:
		return http.StatusUnauthorized
	case CodeServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func newError(code, description string, cause error) *Error {
	return &Error{Code: code, Description: description, Cause: cause}
}

type Clients interface {
	Get(ctx context.Context, clientID string) (*models.Client, error)
}

type Codes interface {
	ConsumeCode(ctx context.Context, code string) (*models.AuthorizationCode, error)
}

type KeySource interface {
	Key(ctx context.Context, url, kid string) (any, error)
}

// AssertionGuard consumes client assertion jtis so each assertion is usable once.
type AssertionGuard interface {
	Consume(ctx context.Context, jti string) error
}

type Signer interface {
	Sign(ctx context.Context, claims AccessTokenClaims) (string, error)
}

// Request is the form body of a token request.
type Request struct {
	GrantType           string
	Code                string
	RedirectURI         string
	ClientAssertionType string
	ClientAssertion     string
}

// Response is the JSON body of a successful token request.
type Response struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
}

// AccessTokenClaims is what gets signed into an issued access token.
type AccessTokenClaims struct {
	Issuer   string
	Subject  string
	Audience string
	ClientID string
	Scope    string
	IssuedAt time.Time
	Expiry   time.Time
	ID       string
}

// Service exchanges codes for tokens.
type Service struct {
	clients  Clients
	codes    Codes
	keys     KeySource
	guard    AssertionGuard
	signer   Signer
	tokenURL string
	issuer   string
	ttl      time.Duration

	logger  *slog.Logger
	metrics *metrics.Metrics
	auditor audit.Publisher
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditPublisher(p audit.Publisher) Option {
	return func(s *Service) {
		s.auditor = p
	}
}

// Config carries the values tokens are bound to.
type Config struct {
	TokenURL string
	Issuer   string
	TTL      time.Duration
}

func New(clients Clients, codes Codes, keys KeySource, guard AssertionGuard, signer Signer, cfg Config, opts ...Option) *Service {
	s := &Service{
		clients:  clients,
		codes:    codes,
		keys:     keys,
		guard:    guard,
		signer:   signer,
		tokenURL: cfg.TokenURL,
		issuer:   cfg.Issuer,
		ttl:      cfg.TTL,
		logger:   slog.New(slog.DiscardHandler),
		auditor:  audit.Nop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Exchange authenticates the client, redeems the code and issues an access token.
// Every failure is an *Error.
func (s *Service) Exchange(ctx context.Context, req Request) (*Response, error) {
	resp, err := s.exchange(ctx, req)
	if err != nil {
		var te *Error
		if !errors.As(err, &te) {
			te = newError(CodeServerError, "unexpected error", err)
		}
		s.metrics.IncrementTokenRequest(te.Code)
		s.report(ctx, te)
		return nil, te
	}
	s.metrics.IncrementTokenRequest("success")
	return resp, nil
}

func (s *Service) exchange(ctx context.Context, req Request) (*Response, error) {
	if req.GrantType != GrantTypeAuthorizationCode {
		return nil, newError(CodeUnsupportedGrantType, "grant_type must be authorization_code", nil)
	}
	if req.Code == "" || req.RedirectURI == "" || req.ClientAssertion == "" {
		return nil, newError(CodeInvalidRequest, "code, redirect_uri and client_assertion are required", nil)
	}
	if req.ClientAssertionType != ClientAssertionTypeJWT {
		return nil, newError(CodeInvalidClient, "unsupported client_assertion_type", nil)
	}

	client, err := s.authenticate(ctx, req.ClientAssertion)
	if err != nil {
		return nil, err
	}
	ctx = requestcontext.WithClientID(ctx, client.ClientID)

	code, err := s.codes.ConsumeCode(ctx, req.Code)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return nil, newError(CodeInvalidGrant, "authorization code is invalid", err)
	case err != nil:
		return nil, newError(CodeServerError, "failed to redeem code", err)
	}

	now := requestcontext.Now(ctx)
	switch {
	case code.ClientID != client.ClientID:
		return nil, newError(CodeInvalidGrant, "authorization code is invalid", fmt.Errorf("code issued to %q", code.ClientID))
	case code.RedirectURI != req.RedirectURI:
		return nil, newError(CodeInvalidGrant, "redirect_uri does not match", nil)
	case code.IsExpired(now):
		return nil, newError(CodeInvalidGrant, "authorization code has expired", fmt.Errorf("%w at %s", sentinel.ErrExpired, code.ExpiresAt))
	}

	expiry := now.Add(s.ttl)
	claims := AccessTokenClaims{
		Issuer:   s.issuer,
		Subject:  code.Claims.Subject,
		Audience: client.ClientID,
		ClientID: client.ClientID,
		Scope:    string(code.Scope),
		IssuedAt: now,
		Expiry:   expiry,
		ID:       uuid.NewString(),
	}
	signed, err := s.signer.Sign(ctx, claims)
	if err != nil {
		return nil, newError(CodeServerError, "failed to issue token", err)
	}

	audit.Emit(ctx, s.auditor, audit.Event{Action: audit.EventTokenIssued, ClientID: client.ClientID})
	s.logger.InfoContext(ctx, "access token issued",
		"client_id", client.ClientID,
		"scope", claims.Scope,
		"request_id", requestcontext.RequestID(ctx),
	)
	return &Response{
		AccessToken: signed,
		TokenType:   TokenTypeBearer,
		ExpiresIn:   int(s.ttl.Seconds()),
		Scope:       claims.Scope,
	}, nil
}

// authenticate verifies a private_key_jwt client assertion and consumes its jti.
func (s *Service) authenticate(ctx context.Context, assertion string) (*models.Client, error) {
	var unverified jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(assertion, &unverified); err != nil {
		return nil, newError(CodeInvalidClient, "client assertion is malformed", err)
	}

	client, err := s.clients.Get(ctx, unverified.Issuer)
	switch {
	case errors.Is(err, registry.ErrClientNotFound):
		return nil, newError(CodeInvalidClient, "client authentication failed", err)
	case err != nil:
		return nil, newError(CodeServerError, "client registry unavailable", err)
	}

	var claims jwt.RegisteredClaims
	var fetchErr error
	_, err = jwt.ParseWithClaims(assertion, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("assertion has no kid")
		}
		key, err := s.keys.Key(ctx, client.JWKSURI, kid)
		if err != nil {
			fetchErr = err
		}
		return key, err
	},
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "PS256", "PS384", "PS512", "ES256", "ES384", "ES512"}),
		jwt.WithAudience(s.tokenURL),
		jwt.WithIssuer(client.ClientID),
		jwt.WithSubject(client.ClientID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return requestcontext.Now(ctx) }),
	)
	if err != nil {
		if fetchErr != nil && !errors.Is(fetchErr, jwks.ErrKeyNotFound) {
			return nil, newError(CodeServerError, "client keys unavailable", errors.Join(err, fetchErr))
		}
		return nil, newError(CodeInvalidClient, "client authentication failed", errors.Join(err, fetchErr))
	}
	if claims.ID == "" {
		return nil, newError(CodeInvalidClient, "client assertion has no jti", nil)
	}

	if err := s.guard.Consume(ctx, assertionNonce(client.ClientID, claims.ID)); err != nil {
		if errors.Is(err, models.ErrJTIAlreadyUsed) {
			return nil, newError(CodeInvalidClient, "client assertion already used", err)
		}
		return nil, newError(CodeServerError, "failed to record client assertion", err)
	}
	return client, nil
}

// assertionNonce keeps assertion jtis apart from request object jtis in the shared nonce store.
func assertionNonce(clientID, jti string) string {
	return "client_assertion:" + clientID + ":" + jti
}

func (s *Service) report(ctx context.Context, te *Error) {
	level := slog.LevelWarn
	if te.Code == CodeServerError {
		level = slog.LevelError
	}
	s.logger.Log(ctx, level, "token request failed",
		"error_code", te.Code,
		"client_id", requestcontext.ClientID(ctx),
		"request_id", requestcontext.RequestID(ctx),
		"error", te,
	)

	action := audit.EventCodeRedemptionFailed
	switch te.Code {
	case CodeInvalidClient:
		action = audit.EventClientAssertionInvalid
	case CodeServerError, CodeInvalidRequest, CodeUnsupportedGrantType:
		return
	}
	audit.Emit(ctx, s.auditor, audit.Event{Action: action, ErrorCode: te.Code, Reason: te.Description})
}
