package verifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"github.com/govuk-one-login/account-components-sub001/internal/authorize/metrics"
	"github.com/govuk-one-login/account-components-sub001/internal/authorize/models"
	"github.com/govuk-one-login/account-components-sub001/internal/jwks"
	"github.com/govuk-one-login/account-components-sub001/pkg/requestcontext"
	testhelpers "github.com/govuk-one-login/account-components-sub001/pkg/testutil"
)

const (
	authorizeURL = "https://account.example.gov.uk/authorize"
	clientID     = "client-a"
	redirectURI  = "https://rp.example.com/callback"
)

type stubKeys struct {
	key any
	err error
}

func (s stubKeys) Key(context.Context, string, string) (any, error) {
	return s.key, s.err
}

type VerifierSuite struct {
	suite.Suite
	now     time.Time
	ctx     context.Context
	signer  *testhelpers.SigningKey
	client  *models.Client
	req     *models.AuthorizeRequest
	metrics *metrics.Metrics
	v       *Verifier
}

func TestVerifierSuite(t *testing.T) {
	suite.Run(t, new(VerifierSuite))
}

func (s *VerifierSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.signer = testhelpers.NewSigningKey(s.T(), "rp-key-1")
	s.client = &models.Client{
		ClientID:     clientID,
		Scope:        "account-delete passkey-create",
		RedirectURIs: []string{redirectURI},
		JWKSURI:      "https://rp.example.com/.well-known/jwks.json",
	}
	s.req = &models.AuthorizeRequest{
		ResponseType: models.ResponseTypeCode,
		Scope:        "account-delete",
		ClientID:     clientID,
		RedirectURI:  redirectURI,
		State:        "s1",
	}
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.v = New(stubKeys{key: &s.signer.Private.PublicKey}, authorizeURL, WithMetrics(s.metrics))
}

func (s *VerifierSuite) accessToken(exp time.Time) string {
	return s.signer.Sign(s.T(), jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)})
}

func (s *VerifierSuite) validClaims() *models.Claims {
	return &models.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    clientID,
			Subject:   "urn:fdc:gov.uk:2022:user-1",
			Audience:  jwt.ClaimStrings{authorizeURL},
			ExpiresAt: jwt.NewNumericDate(s.now.Add(5 * time.Minute)),
			IssuedAt:  jwt.NewNumericDate(s.now.Add(-time.Minute)),
			ID:        "jti-1",
		},
		ClientID:             clientID,
		RedirectURI:          redirectURI,
		ResponseType:         "code",
		Scope:                "account-delete",
		State:                "s1",
		AccessToken:          s.accessToken(s.now.Add(30 * time.Minute)),
		Email:                "user@example.com",
		GovukSigninJourneyID: "journey-1",
	}
}

func (s *VerifierSuite) TestValidRequestObject() {
	claims, err := s.v.Verify(s.ctx, s.signer.Sign(s.T(), s.validClaims()), s.client, s.req)
	s.Require().NoError(err)
	s.Equal("jti-1", claims.ID)
	s.Equal("user@example.com", claims.Email)

	s.Run("is deterministic", func() {
		signed := s.signer.Sign(s.T(), s.validClaims())
		for range 3 {
			_, err := s.v.Verify(s.ctx, signed, s.client, s.req)
			s.Require().NoError(err)
		}
	})
}

func (s *VerifierSuite) TestSignatureFailures() {
	other := testhelpers.NewSigningKey(s.T(), "rp-key-1")

	tests := []struct {
		name   string
		signed func() string
	}{
		{"signed by another key", func() string { return other.Sign(s.T(), s.validClaims()) }},
		{"not a JWT", func() string { return "not-a-jwt" }},
		{"expired", func() string {
			c := s.validClaims()
			c.ExpiresAt = jwt.NewNumericDate(s.now.Add(-time.Second))
			return s.signer.Sign(s.T(), c)
		}},
		{"no exp", func() string {
			c := s.validClaims()
			c.ExpiresAt = nil
			return s.signer.Sign(s.T(), c)
		}},
		{"no kid", func() string {
			tok := jwt.NewWithClaims(jwt.SigningMethodES256, s.validClaims())
			signed, err := tok.SignedString(s.signer.Private)
			s.Require().NoError(err)
			return signed
		}},
		{"hmac", func() string {
			tok := jwt.NewWithClaims(jwt.SigningMethodHS256, s.validClaims())
			tok.Header["kid"] = "rp-key-1"
			signed, err := tok.SignedString([]byte("shared-secret"))
			s.Require().NoError(err)
			return signed
		}},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.v.Verify(s.ctx, tt.signed(), s.client, s.req)
			s.Require().ErrorIs(err, models.ErrJARSignatureInvalid)
		})
	}

	s.Run("unknown kid", func() {
		v := New(stubKeys{err: fmt.Errorf("%w: kid %q", jwks.ErrKeyNotFound, "rp-key-1")}, authorizeURL)
		_, err := v.Verify(s.ctx, s.signer.Sign(s.T(), s.validClaims()), s.client, s.req)
		s.Require().ErrorIs(err, models.ErrJARSignatureInvalid)
	})
}

func (s *VerifierSuite) TestJWKSUnavailable() {
	v := New(stubKeys{err: errors.New("connection refused")}, authorizeURL)
	_, err := v.Verify(s.ctx, s.signer.Sign(s.T(), s.validClaims()), s.client, s.req)
	s.Require().ErrorIs(err, models.ErrJWKSUnavailable)
}

func (s *VerifierSuite) TestClaimsBinding() {
	tests := []struct {
		claim  string
		mutate func(c *models.Claims)
	}{
		{"client_id", func(c *models.Claims) { c.ClientID = "client-b" }},
		{"iss", func(c *models.Claims) { c.Issuer = "client-b" }},
		{"aud", func(c *models.Claims) { c.Audience = jwt.ClaimStrings{"https://other.example.com/authorize"} }},
		{"aud", func(c *models.Claims) { c.Audience = jwt.ClaimStrings{authorizeURL, "https://other.example.com"} }},
		{"redirect_uri", func(c *models.Claims) { c.RedirectURI = "https://evil.example.com/callback" }},
		{"response_type", func(c *models.Claims) { c.ResponseType = "token" }},
		{"scope", func(c *models.Claims) { c.Scope = "testing-journey" }},
		{"scope", func(c *models.Claims) { c.Scope = "openid" }},
		{"state", func(c *models.Claims) { c.State = "s2" }},
		{"state", func(c *models.Claims) { c.State = "" }},
		{"iat", func(c *models.Claims) { c.IssuedAt = jwt.NewNumericDate(s.now.Add(time.Second)) }},
		{"iat", func(c *models.Claims) { c.IssuedAt = nil }},
		{"jti", func(c *models.Claims) { c.ID = "" }},
		{"sub", func(c *models.Claims) { c.Subject = "" }},
		{"email", func(c *models.Claims) { c.Email = "not-an-email" }},
		{"govuk_signin_journey_id", func(c *models.Claims) { c.GovukSigninJourneyID = "" }},
		{"access_token", func(c *models.Claims) { c.AccessToken = "opaque" }},
		{"access_token", func(c *models.Claims) { c.AccessToken = s.signer.Sign(s.T(), jwt.RegisteredClaims{Subject: "x"}) }},
	}
	for _, tt := range tests {
		s.Run(tt.claim, func() {
			before := testutil.ToFloat64(s.metrics.ClaimValidationFailures.WithLabelValues(tt.claim))
			c := s.validClaims()
			tt.mutate(c)

			_, err := s.v.Verify(s.ctx, s.signer.Sign(s.T(), c), s.client, s.req)

			s.Require().ErrorIs(err, models.ErrFailedToValidateJARPayload)
			s.Require().ErrorIs(err, ErrClaimsMismatch)
			s.Equal([]string{tt.claim}, FailedClaims(err))
			s.Equal(before+1, testutil.ToFloat64(s.metrics.ClaimValidationFailures.WithLabelValues(tt.claim)))
		})
	}

	s.Run("state absent from both", func() {
		req := *s.req
		req.State = ""
		c := s.validClaims()
		c.State = ""
		_, err := s.v.Verify(s.ctx, s.signer.Sign(s.T(), c), s.client, &req)
		s.Require().NoError(err)
	})

	s.Run("collects every failure", func() {
		c := s.validClaims()
		c.Issuer = "client-b"
		c.State = "s2"
		_, err := s.v.Verify(s.ctx, s.signer.Sign(s.T(), c), s.client, s.req)
		s.ElementsMatch([]string{"iss", "state"}, FailedClaims(err))
	})
}

func (s *VerifierSuite) TestWithJWKSCache() {
	srv := testhelpers.ServeJWKS(s.T(), s.signer.JWK())
	cache, err := jwks.New(s.T().Context(), http.DefaultClient)
	s.Require().NoError(err)

	client := *s.client
	client.JWKSURI = srv.URL
	v := New(cache, authorizeURL)

	_, err = v.Verify(s.ctx, s.signer.Sign(s.T(), s.validClaims()), &client, s.req)
	s.Require().NoError(err)

	fetched := srv.Hits.Load()
	for range 3 {
		_, err := v.Verify(s.ctx, s.signer.Sign(s.T(), s.validClaims()), &client, s.req)
		s.Require().NoError(err)
	}
	s.Equal(fetched, srv.Hits.Load(), "JWKS is served from cache")
}
