// Package outcome holds the two ways a validated authorize request can end:
// straight back to the client with a code, or into an internal journey with a
// session cookie. Both consume the request object's jti first.
package outcome

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/govuk-one-login/account-components-sub001/internal/authorize/models"
	"github.com/govuk-one-login/account-components-sub001/pkg/requestcontext"
)

// CodePrefix marks authorization codes issued by this service.
const CodePrefix = "authz_"

// Strategy turns validated claims into the success redirect.
type Strategy interface {
	Name() string
	OnSuccess(ctx context.Context, claims *models.Claims, client *models.Client) (*models.RedirectOutcome, error)
}

// Guard is the replay guard as seen by the strategies.
type Guard interface {
	Consume(ctx context.Context, jti string) error
	ConsumeWithSession(ctx context.Context, jti string, session *models.Session) error
}

// CodeStore persists authorization codes for the token endpoint.
type CodeStore interface {
	SaveCode(ctx context.Context, code *models.AuthorizationCode) error
}

// CodeRedirect is the API-only outcome.
type CodeRedirect struct {
	guard Guard
	codes CodeStore
	ttl   time.Duration
}

func NewCodeRedirect(guard Guard, codes CodeStore, ttl time.Duration) *CodeRedirect {
	return &CodeRedirect{guard: guard, codes: codes, ttl: ttl}
}

func (c *CodeRedirect) Name() string { return "code" }

// OnSuccess consumes the jti, stores a code that lives no longer than the
// embedded access token, and redirects to the client with code and state.
func (c *CodeRedirect) OnSuccess(ctx context.Context, claims *models.Claims, client *models.Client) (*models.RedirectOutcome, error) {
	accessExp, err := claims.AccessTokenExpiry()
	if err != nil {
		return nil, models.ErrFailedToEstablishOutcome.Wrap(err)
	}
	scope, ok := models.ParseScope(claims.Scope)
	if !ok {
		return nil, models.ErrFailedToEstablishOutcome.Wrap(fmt.Errorf("unrecognized scope %q", claims.Scope))
	}
	if err := c.guard.Consume(ctx, claims.ID); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	code := &models.AuthorizationCode{
		Code:        CodePrefix + uuid.NewString(),
		ClientID:    client.ClientID,
		RedirectURI: claims.RedirectURI,
		Scope:       scope,
		Claims:      *claims,
		CreatedAt:   now,
		ExpiresAt:   models.CapExpiry(now, c.ttl, c.ttl, accessExp),
	}
	if err := c.codes.SaveCode(ctx, code); err != nil {
		return nil, models.ErrFailedToEstablishOutcome.Wrap(err)
	}

	location, err := models.BuildRedirectURL(claims.RedirectURI, models.RedirectParams{
		Code:  code.Code,
		State: claims.State,
	})
	if err != nil {
		return nil, models.ErrFailedToEstablishOutcome.Wrap(err)
	}
	return models.NewRedirect(location), nil
}

// JourneySession is the frontend outcome.
type JourneySession struct {
	guard      Guard
	baseURL    string
	cookieName string
	defaultTTL time.Duration
	maxTTL     time.Duration
}

func NewJourneySession(guard Guard, baseURL, cookieName string, defaultTTL, maxTTL time.Duration) *JourneySession {
	return &JourneySession{
		guard:      guard,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		cookieName: cookieName,
		defaultTTL: defaultTTL,
		maxTTL:     maxTTL,
	}
}

func (j *JourneySession) Name() string { return "journey" }

// OnSuccess writes the nonce and a new session in one transaction and sends
// the user agent to the first step of the scope's journey.
func (j *JourneySession) OnSuccess(ctx context.Context, claims *models.Claims, client *models.Client) (*models.RedirectOutcome, error) {
	scope, ok := models.ParseScope(claims.Scope)
	if !ok {
		return nil, models.ErrFailedToEstablishOutcome.Wrap(fmt.Errorf("unrecognized scope %q", claims.Scope))
	}
	accessExp, err := claims.AccessTokenExpiry()
	if err != nil {
		return nil, models.ErrFailedToEstablishOutcome.Wrap(err)
	}

	now := requestcontext.Now(ctx)
	session := &models.Session{
		ID:          uuid.NewString(),
		ClientID:    client.ClientID,
		Scope:       scope,
		RedirectURI: claims.RedirectURI,
		State:       claims.State,
		Claims:      *claims,
		CreatedAt:   now,
		ExpiresAt:   models.CapExpiry(now, j.defaultTTL, j.maxTTL, accessExp),
	}
	if err := j.guard.ConsumeWithSession(ctx, claims.ID, session); err != nil {
		return nil, err
	}

	out := models.NewRedirect(j.baseURL + scope.JourneyPath())
	out.Cookie = &http.Cookie{
		Name:     j.cookieName,
		Value:    session.ID,
		Path:     "/",
		Expires:  session.ExpiresAt,
		MaxAge:   max(int(math.Ceil(session.ExpiresAt.Sub(now).Seconds())), 1),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}
	return out, nil
}
