// Package replay guarantees a request object is accepted at most once.
package replay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/govuk-one-login/account-components-sub001/internal/authorize/metrics"
	"github.com/govuk-one-login/account-components-sub001/internal/authorize/models"
	"github.com/govuk-one-login/account-components-sub001/pkg/platform/sentinel"
	"github.com/govuk-one-login/account-components-sub001/pkg/requestcontext"
)

//go:generate mockgen -source=replay.go -destination=mocks/mocks.go -package=mocks NonceStore,SessionStore

// NonceStore is the replay-nonce store: a single conditional insert.
type NonceStore interface {
	PutNonceIfAbsent(ctx context.Context, nonce models.NonceRecord) error
}

// SessionStore writes a nonce and a session as one all-or-nothing batch.
type SessionStore interface {
	CreateSessionWithNonce(ctx context.Context, nonce models.NonceRecord, session *models.Session) error
}

var ErrMissingJTI = errors.New("jti is empty")

// Guard is stage 5 of the authorize pipeline. It never reads before writing;
// the store's conditional write is the only serialization point.
type Guard struct {
	nonces   NonceStore
	sessions SessionStore
	ttl      time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Guard)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		g.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Guard) {
		g.metrics = m
	}
}

// WithSessionStore enables ConsumeWithSession.
func WithSessionStore(store SessionStore) Option {
	return func(g *Guard) {
		g.sessions = store
	}
}

// New returns a Guard that keeps nonces for ttl.
func New(nonces NonceStore, ttl time.Duration, opts ...Option) *Guard {
	g := &Guard{
		nonces: nonces,
		ttl:    ttl,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Guard) record(ctx context.Context, jti string) models.NonceRecord {
	return models.NonceRecord{Nonce: jti, ExpiresAt: requestcontext.Now(ctx).Add(g.ttl)}
}

// Consume marks jti as used. A jti seen before is jtiAlreadyUsed; any other
// store failure is failedToCheckJtiUnusedAndSetUpSession.
func (g *Guard) Consume(ctx context.Context, jti string) error {
	if jti == "" {
		return models.ErrFailedToValidateJARPayload.Wrap(ErrMissingJTI)
	}
	return g.translate(ctx, jti, g.nonces.PutNonceIfAbsent(ctx, g.record(ctx, jti)))
}

// ConsumeWithSession marks jti as used and creates session in the same
// transactional write, so neither exists without the other.
func (g *Guard) ConsumeWithSession(ctx context.Context, jti string, session *models.Session) error {
	if jti == "" {
		return models.ErrFailedToValidateJARPayload.Wrap(ErrMissingJTI)
	}
	if g.sessions == nil {
		return models.ErrFailedToCheckJTIUnusedAndSetUpSession.Wrap(errors.New("no session store configured"))
	}
	return g.translate(ctx, jti, g.sessions.CreateSessionWithNonce(ctx, g.record(ctx, jti), session))
}

func (g *Guard) translate(ctx context.Context, jti string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		g.metrics.IncrementReplayRejection()
		g.logger.WarnContext(ctx, "request object replayed",
			"client_id", requestcontext.ClientID(ctx),
			"jti", jti,
		)
		return models.ErrJTIAlreadyUsed.Wrap(err)
	default:
		return models.ErrFailedToCheckJTIUnusedAndSetUpSession.Wrap(err)
	}
}
