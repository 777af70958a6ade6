// Package verifier checks the signature of a decrypted request object and binds
// its claims to the client and query they arrived with.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/golang-jwt/jwt/v5"

	"github.com/govuk-one-login/account-components-sub001/internal/authorize/metrics"
	"github.com/govuk-one-login/account-components-sub001/internal/authorize/models"
	"github.com/govuk-one-login/account-components-sub001/internal/jwks"
	"github.com/govuk-one-login/account-components-sub001/pkg/requestcontext"
)

// Signing algorithms accepted on request objects. HMAC and none are never accepted.
var validMethods = []string{"RS256", "RS384", "RS512", "PS256", "PS384", "PS512", "ES256", "ES384", "ES512"}

var (
	ErrMissingKID     = errors.New("token header has no kid")
	errJWKSFetch      = errors.New("client JWKS could not be fetched")
	ErrClaimsMismatch = errors.New("request object claims do not match the request")
)

// KeySource resolves a client's verification key by JWKS URL and kid.
type KeySource interface {
	Key(ctx context.Context, url, kid string) (any, error)
}

// ClaimError names one claim that failed validation. Only the name is logged;
// the client only ever sees failedToValidateJarPayload.
type ClaimError struct {
	Claim  string
	Reason string
}

func (e *ClaimError) Error() string {
	return fmt.Sprintf("claim %s: %s", e.Claim, e.Reason)
}

// Verifier is stage 4 of the authorize pipeline.
type Verifier struct {
	keys     KeySource
	audience string
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Verifier)

func WithLogger(logger *slog.Logger) Option {
	return func(v *Verifier) {
		v.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(v *Verifier) {
		v.metrics = m
	}
}

// New returns a Verifier expecting aud to equal audience, the authorize endpoint URL.
func New(keys KeySource, audience string, opts ...Option) *Verifier {
	v := &Verifier{
		keys:     keys,
		audience: audience,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks the signature against the client's JWKS and then validates the
// claims against client and req.
//
//   - signature, structure or expiry failures: jarSignatureInvalid
//   - JWKS outages: jwksUnavailable
//   - claim mismatches: failedToValidateJarPayload
func (v *Verifier) Verify(ctx context.Context, signed string, client *models.Client, req *models.AuthorizeRequest) (*models.Claims, error) {
	now := requestcontext.Now(ctx)
	parser := jwt.NewParser(
		jwt.WithValidMethods(validMethods),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)

	claims := &models.Claims{}
	_, err := parser.ParseWithClaims(signed, claims, func(tok *jwt.Token) (any, error) {
		kid, _ := tok.Header["kid"].(string)
		if kid == "" {
			return nil, ErrMissingKID
		}
		key, err := v.keys.Key(ctx, client.JWKSURI, kid)
		if err != nil {
			if errors.Is(err, jwks.ErrKeyNotFound) {
				return nil, err
			}
			return nil, errors.Join(errJWKSFetch, err)
		}
		return key, nil
	})
	if err != nil {
		if errors.Is(err, errJWKSFetch) {
			return nil, models.ErrJWKSUnavailable.Wrap(err)
		}
		return nil, models.ErrJARSignatureInvalid.Wrap(err)
	}

	if failures := v.validate(claims, client, req, now); len(failures) > 0 {
		names := make([]string, 0, len(failures))
		errs := make([]error, 0, len(failures)+1)
		errs = append(errs, ErrClaimsMismatch)
		for _, f := range failures {
			names = append(names, f.Claim)
			errs = append(errs, f)
			v.metrics.IncrementClaimValidationFailure(f.Claim)
		}
		v.logger.WarnContext(ctx, "request object claims failed validation",
			"client_id", client.ClientID,
			"claims", names,
		)
		return nil, models.ErrFailedToValidateJARPayload.Wrap(errors.Join(errs...))
	}
	return claims, nil
}

// validate collects every failing claim rather than stopping at the first.
func (v *Verifier) validate(c *models.Claims, client *models.Client, req *models.AuthorizeRequest, now time.Time) []*ClaimError {
	var out []*ClaimError
	fail := func(claim, reason string) {
		out = append(out, &ClaimError{Claim: claim, Reason: reason})
	}

	if c.ClientID != client.ClientID {
		fail("client_id", "does not match the resolved client")
	}
	if c.Issuer != client.ClientID {
		fail("iss", "does not match the resolved client")
	}
	if len(c.Audience) != 1 || c.Audience[0] != v.audience {
		fail("aud", "is not the authorize endpoint")
	}
	if c.RedirectURI != req.RedirectURI {
		fail("redirect_uri", "does not match the query")
	}
	if c.ResponseType != models.ResponseTypeCode {
		fail("response_type", "is not code")
	}
	if !client.AllowsScope(c.Scope) {
		fail("scope", "is not allowed for the client")
	}
	if c.State != req.State {
		fail("state", "does not match the query")
	}

	switch {
	case c.IssuedAt == nil:
		fail("iat", "is missing")
	case c.IssuedAt.After(now):
		fail("iat", "is in the future")
	}
	if c.ID == "" {
		fail("jti", "is missing")
	}
	if c.Subject == "" {
		fail("sub", "is missing")
	}
	if !govalidator.IsEmail(c.Email) {
		fail("email", "is not a valid address")
	}
	if c.GovukSigninJourneyID == "" {
		fail("govuk_signin_journey_id", "is missing")
	}
	if _, err := c.AccessTokenExpiry(); err != nil {
		fail("access_token", "is not a JWT with exp")
	}
	return out
}

// FailedClaims lists the claim names carried by a failedToValidateJarPayload error.
func FailedClaims(err error) []string {
	var joined interface{ Unwrap() []error }
	var se *models.StageError
	if !errors.As(err, &se) || !errors.As(se.Cause, &joined) {
		return nil
	}
	var names []string
	for _, e := range joined.Unwrap() {
		var ce *ClaimError
		if errors.As(e, &ce) {
			names = append(names, ce.Claim)
		}
	}
	return names
}
