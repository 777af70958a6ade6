// Package service runs the authorize pipeline: query validation, client
// resolution, request object decryption, verification, replay protection and
// the outcome redirect. Stages run strictly in that order and the first failure
// wins. Every exit is a redirect.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/govuk-one-login/account-components-sub001/internal/authorize/metrics"
	"github.com/govuk-one-login/account-components-sub001/internal/authorize/models"
	"github.com/govuk-one-login/account-components-sub001/internal/authorize/outcome"
	"github.com/govuk-one-login/account-components-sub001/internal/authorize/query"
	"github.com/govuk-one-login/account-components-sub001/internal/authorize/registry"
	"github.com/govuk-one-login/account-components-sub001/internal/authorize/verifier"
	"github.com/govuk-one-login/account-components-sub001/pkg/platform/audit"
	"github.com/govuk-one-login/account-components-sub001/pkg/requestcontext"
)

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks ClientResolver,Decrypter,Verifier

// Stage names, used for spans, metrics and logs.
const (
	StageQuery   = "query"
	StageClient  = "client"
	StageJAR     = "jar"
	StageVerify  = "verify"
	StageOutcome = "outcome"
)

const tracerName = "github.com/govuk-one-login/account-components-sub001/internal/authorize/service"

type ClientResolver interface {
	Resolve(ctx context.Context, clientID, redirectURI string) (*models.Client, error)
}

type Decrypter interface {
	Decrypt(ctx context.Context, compact string) (string, error)
}

type Verifier interface {
	Verify(ctx context.Context, signed string, client *models.Client, req *models.AuthorizeRequest) (*models.Claims, error)
}

// Service is the authorize pipeline with one outcome strategy.
type Service struct {
	clients      ClientResolver
	decrypter    Decrypter
	verifier     Verifier
	strategy     outcome.Strategy
	errorPageURL string

	logger  *slog.Logger
	metrics *metrics.Metrics
	auditor audit.Publisher
	tracer  trace.Tracer
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

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) {
		s.tracer = tp.Tracer(tracerName)
	}
}

// New wires the pipeline. errorPageURL is where failures go until the client's
// redirect_uri has been checked against the registry.
func New(clients ClientResolver, decrypter Decrypter, v Verifier, strategy outcome.Strategy, errorPageURL string, opts ...Option) *Service {
	s := &Service{
		clients:      clients,
		decrypter:    decrypter,
		verifier:     v,
		strategy:     strategy,
		errorPageURL: errorPageURL,
		logger:       slog.New(slog.DiscardHandler),
		auditor:      audit.Nop{},
		tracer:       otel.GetTracerProvider().Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// target is where an error may be reported. It starts as the fallback page and
// only becomes the client's redirect_uri once the client has been resolved.
type target struct {
	redirectURI string
	state       string
}

// Authorize runs the pipeline over the raw query. The returned error is non-nil
// only when not even the fallback redirect can be built.
func (s *Service) Authorize(ctx context.Context, values url.Values) (out *models.RedirectOutcome, err error) {
	ctx, span := s.tracer.Start(ctx, "authorize")
	defer span.End()

	t := &target{redirectURI: s.errorPageURL}
	stage := StageQuery

	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "panic in authorize pipeline",
				"stage", stage,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			out, err = s.fail(ctx, span, t, stage, models.ErrUnknown.Wrap(fmt.Errorf("panic: %v", r)))
		}
	}()

	var req *models.AuthorizeRequest
	if err := s.stage(ctx, StageQuery, func(context.Context) error {
		var err error
		req, err = query.Validate(values)
		return err
	}); err != nil {
		return s.fail(ctx, span, t, stage, err)
	}

	stage = StageClient
	var client *models.Client
	if err := s.stage(ctx, StageClient, func(ctx context.Context) error {
		var err error
		client, err = s.clients.Resolve(ctx, req.ClientID, req.RedirectURI)
		return err
	}); err != nil {
		return s.fail(ctx, span, t, stage, err)
	}

	// From here on the redirect_uri is registered to the client and safe to use.
	t.redirectURI = req.RedirectURI
	t.state = req.State
	ctx = requestcontext.WithClientID(ctx, client.ClientID)
	span.SetAttributes(attribute.String("client_id", client.ClientID))

	stage = StageJAR
	var signed string
	if err := s.stage(ctx, StageJAR, func(ctx context.Context) error {
		var err error
		signed, err = s.decrypter.Decrypt(ctx, req.Request)
		return err
	}); err != nil {
		return s.fail(ctx, span, t, stage, err)
	}

	stage = StageVerify
	var claims *models.Claims
	if err := s.stage(ctx, StageVerify, func(ctx context.Context) error {
		var err error
		claims, err = s.verifier.Verify(ctx, signed, client, req)
		return err
	}); err != nil {
		return s.fail(ctx, span, t, stage, err)
	}

	stage = StageOutcome
	var result *models.RedirectOutcome
	if err := s.stage(ctx, StageOutcome, func(ctx context.Context) error {
		var err error
		result, err = s.strategy.OnSuccess(ctx, claims, client)
		return err
	}); err != nil {
		return s.fail(ctx, span, t, stage, err)
	}

	s.succeed(ctx, client)
	return result, nil
}

func (s *Service) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "authorize."+name, trace.WithAttributes(attribute.String("stage", name)))
	defer span.End()
	defer s.metrics.ObserveStage(name, time.Now())

	err := fn(ctx)
	if err != nil {
		kind, _ := models.KindOf(err)
		span.SetStatus(codes.Error, kind.Name)
	}
	return err
}

func (s *Service) succeed(ctx context.Context, client *models.Client) {
	s.metrics.IncrementRequest("success", "")
	action := audit.EventSessionCreated
	if s.strategy.Name() == "code" {
		action = audit.EventCodeIssued
	}
	audit.Emit(ctx, s.auditor, audit.Event{Action: action, ClientID: client.ClientID})
	s.logger.InfoContext(ctx, "authorize request succeeded",
		"client_id", client.ClientID,
		"outcome", s.strategy.Name(),
		"request_id", requestcontext.RequestID(ctx),
	)
}

// fail is the single place an error becomes a redirect.
func (s *Service) fail(ctx context.Context, span trace.Span, t *target, stage string, err error) (*models.RedirectOutcome, error) {
	kind, tagged := models.KindOf(err)
	if !tagged || kind == models.ErrUnknown {
		s.metrics.IncrementUnexpectedError()
	}
	s.metrics.IncrementRequest("error", kind.Code)
	span.SetStatus(codes.Error, kind.Name)
	span.SetAttributes(attribute.String("error_code", kind.Code))

	attrs := []any{
		"stage", stage,
		"error_name", kind.Name,
		"error_code", kind.Code,
		"client_id", requestcontext.ClientID(ctx),
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	}
	if fields := query.Fields(err); len(fields) > 0 {
		attrs = append(attrs, "fields", fields)
	}
	if claims := verifier.FailedClaims(err); len(claims) > 0 {
		attrs = append(attrs, "claims", claims)
	}
	level := slog.LevelWarn
	if kind.Type == models.ErrorTypeServerError {
		level = slog.LevelError
	}
	s.logger.Log(ctx, level, "authorize request failed", attrs...)

	audit.Emit(ctx, s.auditor, audit.Event{
		Action:    auditAction(kind, err),
		ErrorCode: kind.Code,
		Reason:    kind.Name,
	})

	location, buildErr := models.BuildRedirectURL(t.redirectURI, models.RedirectParams{
		Error:            kind.Type,
		ErrorDescription: kind.Code,
		State:            t.state,
	})
	if buildErr != nil {
		return nil, fmt.Errorf("build error redirect: %w", errors.Join(buildErr, err))
	}
	return models.NewRedirect(location), nil
}

func auditAction(kind models.AuthorizeError, err error) audit.AuditEvent {
	switch {
	case errors.Is(err, registry.ErrClientNotFound):
		return audit.EventClientNotFound
	case errors.Is(err, registry.ErrInvalidRedirectURI):
		return audit.EventInvalidRedirectURI
	case kind == models.ErrJARSignatureInvalid:
		return audit.EventJARSignatureInvalid
	case kind == models.ErrJARDecryptFailed:
		return audit.EventJARDecryptFailed
	case kind == models.ErrJTIAlreadyUsed:
		return audit.EventReplayDetected
	default:
		return audit.EventAuthorizeFailed
	}
}
