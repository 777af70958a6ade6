package token

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"github.com/govuk-one-login/account-components-sub001/internal/authorize/metrics"
	"github.com/govuk-one-login/account-components-sub001/internal/authorize/models"
	"github.com/govuk-one-login/account-components-sub001/internal/authorize/registry"
	"github.com/govuk-one-login/account-components-sub001/internal/authorize/replay"
	"github.com/govuk-one-login/account-components-sub001/internal/authorize/store"
	"github.com/govuk-one-login/account-components-sub001/internal/jwks"
	"github.com/govuk-one-login/account-components-sub001/pkg/platform/audit"
	"github.com/govuk-one-login/account-components-sub001/pkg/requestcontext"
	testhelpers "github.com/govuk-one-login/account-components-sub001/pkg/testutil"
)

const (
	tokenURL    = "https://manage.example.gov.uk/token"
	issuer      = "https://manage.example.gov.uk"
	redirectURI = "https://rp.example.com/callback"
)

type clientMap map[string]models.Client

func (c clientMap) Get(_ context.Context, id string) (*models.Client, error) {
	client, ok := c[id]
	if !ok {
		return nil, registry.ErrClientNotFound
	}
	return &client, nil
}

type stubKeys struct {
	key any
	err error
}

func (s stubKeys) Key(context.Context, string, string) (any, error) {
	return s.key, s.err
}

type TokenSuite struct {
	suite.Suite
	now     time.Time
	ctx     context.Context
	client  *testhelpers.SigningKey
	store   *store.InMemoryStore
	signer  *KMSSigner
	metrics *metrics.Metrics
	audit   *audit.Recorder
	svc     *Service
}

func TestTokenSuite(t *testing.T) {
	suite.Run(t, new(TokenSuite))
}

func (s *TokenSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.client = testhelpers.NewSigningKey(s.T(), "rp-key-1")
	s.store = store.NewInMemory()
	s.signer, _ = newLocalSigner(s.T(), false)
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.audit = audit.NewRecorder()

	clients := clientMap{
		"client-a": {ClientID: "client-a", RedirectURIs: []string{redirectURI}, JWKSURI: "https://rp.example.com/jwks"},
		"client-b": {ClientID: "client-b", RedirectURIs: []string{redirectURI}, JWKSURI: "https://rp-b.example.com/jwks"},
	}
	s.svc = New(clients, s.store, stubKeys{key: &s.client.Private.PublicKey}, replay.New(s.store, time.Hour), s.signer,
		Config{TokenURL: tokenURL, Issuer: issuer, TTL: 15 * time.Minute},
		WithMetrics(s.metrics),
		WithAuditPublisher(s.audit),
	)
}

func (s *TokenSuite) saveCode(code, clientID string, expires time.Time) {
	s.Require().NoError(s.store.SaveCode(s.ctx, &models.AuthorizationCode{
		Code:        code,
		ClientID:    clientID,
		RedirectURI: redirectURI,
		Scope:       models.Scope("account-delete"),
		Claims:      models.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "urn:fdc:gov.uk:2022:user-1"}},
		CreatedAt:   s.now,
		ExpiresAt:   expires,
	}))
}

func (s *TokenSuite) assertion(clientID, jti string) string {
	return s.client.Sign(s.T(), jwt.RegisteredClaims{
		Issuer:    clientID,
		Subject:   clientID,
		Audience:  jwt.ClaimStrings{tokenURL},
		ExpiresAt: jwt.NewNumericDate(s.now.Add(5 * time.Minute)),
		ID:        jti,
	})
}

func (s *TokenSuite) request(code, assertion string) Request {
	return Request{
		GrantType:           GrantTypeAuthorizationCode,
		Code:                code,
		RedirectURI:         redirectURI,
		ClientAssertionType: ClientAssertionTypeJWT,
		ClientAssertion:     assertion,
	}
}

func (s *TokenSuite) requireCode(err error, code string) *Error {
	s.Require().Error(err)
	var te *Error
	s.Require().True(errors.As(err, &te))
	s.Equal(code, te.Code)
	return te
}

func (s *TokenSuite) TestExchange() {
	s.saveCode("authz_1", "client-a", s.now.Add(5*time.Minute))

	resp, err := s.svc.Exchange(s.ctx, s.request("authz_1", s.assertion("client-a", "as-1")))

	s.Require().NoError(err)
	s.Equal(TokenTypeBearer, resp.TokenType)
	s.Equal(900, resp.ExpiresIn)
	s.Equal("account-delete", resp.Scope)

	tok, err := josejwt.ParseSigned(resp.AccessToken, []jose.SignatureAlgorithm{jose.ES256})
	s.Require().NoError(err)
	var claims josejwt.Claims
	s.Require().NoError(tok.Claims(s.signer.Public().Key, &claims))
	s.Equal(issuer, claims.Issuer)
	s.Equal("urn:fdc:gov.uk:2022:user-1", claims.Subject)
	s.Equal(josejwt.Audience{"client-a"}, claims.Audience)
	s.Equal(s.now.Add(15*time.Minute).Unix(), claims.Expiry.Time().Unix())

	s.Equal(1.0, testutil.ToFloat64(s.metrics.TokenRequests.WithLabelValues("success")))
	s.Equal([]audit.AuditEvent{audit.EventTokenIssued}, s.audit.Actions())

	s.Run("code is single use", func() {
		_, err := s.svc.Exchange(s.ctx, s.request("authz_1", s.assertion("client-a", "as-2")))
		s.requireCode(err, CodeInvalidGrant)
	})
}

func (s *TokenSuite) TestRequestErrors() {
	s.Run("unsupported grant type", func() {
		req := s.request("authz_1", "x")
		req.GrantType = "refresh_token"
		_, err := s.svc.Exchange(s.ctx, req)
		te := s.requireCode(err, CodeUnsupportedGrantType)
		s.Equal(http.StatusBadRequest, te.Status())
	})

	s.Run("missing code", func() {
		_, err := s.svc.Exchange(s.ctx, s.request("", s.assertion("client-a", "as-1")))
		s.requireCode(err, CodeInvalidRequest)
	})

	s.Run("wrong assertion type", func() {
		req := s.request("authz_1", s.assertion("client-a", "as-1"))
		req.ClientAssertionType = "client_secret"
		_, err := s.svc.Exchange(s.ctx, req)
		s.requireCode(err, CodeInvalidClient)
	})
}

func (s *TokenSuite) TestClientAuthentication() {
	s.saveCode("authz_1", "client-a", s.now.Add(5*time.Minute))
	other := testhelpers.NewSigningKey(s.T(), "rp-key-1")

	tests := []struct {
		name      string
		assertion func() string
	}{
		{"malformed", func() string { return "not-a-jwt" }},
		{"unknown client", func() string { return s.assertion("client-x", "as-1") }},
		{"wrong key", func() string {
			return other.Sign(s.T(), jwt.RegisteredClaims{
				Issuer: "client-a", Subject: "client-a", Audience: jwt.ClaimStrings{tokenURL},
				ExpiresAt: jwt.NewNumericDate(s.now.Add(time.Minute)), ID: "as-2",
			})
		}},
		{"wrong audience", func() string {
			return s.client.Sign(s.T(), jwt.RegisteredClaims{
				Issuer: "client-a", Subject: "client-a", Audience: jwt.ClaimStrings{"https://elsewhere.example.com/token"},
				ExpiresAt: jwt.NewNumericDate(s.now.Add(time.Minute)), ID: "as-3",
			})
		}},
		{"sub differs from iss", func() string {
			return s.client.Sign(s.T(), jwt.RegisteredClaims{
				Issuer: "client-a", Subject: "client-b", Audience: jwt.ClaimStrings{tokenURL},
				ExpiresAt: jwt.NewNumericDate(s.now.Add(time.Minute)), ID: "as-4",
			})
		}},
		{"expired", func() string {
			return s.client.Sign(s.T(), jwt.RegisteredClaims{
				Issuer: "client-a", Subject: "client-a", Audience: jwt.ClaimStrings{tokenURL},
				ExpiresAt: jwt.NewNumericDate(s.now.Add(-time.Minute)), ID: "as-5",
			})
		}},
		{"no exp", func() string {
			return s.client.Sign(s.T(), jwt.RegisteredClaims{
				Issuer: "client-a", Subject: "client-a", Audience: jwt.ClaimStrings{tokenURL}, ID: "as-6",
			})
		}},
		{"no jti", func() string {
			return s.client.Sign(s.T(), jwt.RegisteredClaims{
				Issuer: "client-a", Subject: "client-a", Audience: jwt.ClaimStrings{tokenURL},
				ExpiresAt: jwt.NewNumericDate(s.now.Add(time.Minute)),
			})
		}},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.svc.Exchange(s.ctx, s.request("authz_1", tt.assertion()))
			te := s.requireCode(err, CodeInvalidClient)
			s.Equal(http.StatusUnauthorized, te.Status())
		})
	}

	s.Run("code survives failed authentication", func() {
		_, err := s.svc.Exchange(s.ctx, s.request("authz_1", s.assertion("client-a", "as-ok")))
		s.Require().NoError(err)
	})
}

func (s *TokenSuite) TestClientKeyLookupFailure() {
	s.saveCode("authz_1", "client-a", s.now.Add(5*time.Minute))
	withKeys := func(keys KeySource) *Service {
		return New(clientMap{"client-a": {ClientID: "client-a", RedirectURIs: []string{redirectURI}, JWKSURI: "https://rp.example.com/jwks"}},
			s.store, keys, replay.New(s.store, time.Hour), s.signer,
			Config{TokenURL: tokenURL, Issuer: issuer, TTL: 15 * time.Minute},
			WithAuditPublisher(s.audit),
		)
	}

	s.Run("JWKS outage is a server error", func() {
		svc := withKeys(stubKeys{err: errors.New("dial tcp: connection refused")})
		_, err := svc.Exchange(s.ctx, s.request("authz_1", s.assertion("client-a", "as-1")))
		te := s.requireCode(err, CodeServerError)
		s.Equal(http.StatusInternalServerError, te.Status())
		s.Empty(s.audit.Actions())
	})

	s.Run("unknown kid is a client failure", func() {
		svc := withKeys(stubKeys{err: fmt.Errorf("%w: kid %q", jwks.ErrKeyNotFound, "rp-key-1")})
		_, err := svc.Exchange(s.ctx, s.request("authz_1", s.assertion("client-a", "as-2")))
		s.requireCode(err, CodeInvalidClient)
	})

	s.Run("code survives", func() {
		_, err := s.svc.Exchange(s.ctx, s.request("authz_1", s.assertion("client-a", "as-3")))
		s.Require().NoError(err)
	})
}

func (s *TokenSuite) TestAssertionReplay() {
	s.saveCode("authz_1", "client-a", s.now.Add(5*time.Minute))
	s.saveCode("authz_2", "client-a", s.now.Add(5*time.Minute))
	assertion := s.assertion("client-a", "as-1")

	_, err := s.svc.Exchange(s.ctx, s.request("authz_1", assertion))
	s.Require().NoError(err)

	_, err = s.svc.Exchange(s.ctx, s.request("authz_2", assertion))
	s.requireCode(err, CodeInvalidClient)
	s.Equal([]audit.AuditEvent{audit.EventTokenIssued, audit.EventClientAssertionInvalid}, s.audit.Actions())
}

func (s *TokenSuite) TestCodeBinding() {
	s.Run("issued to another client", func() {
		s.saveCode("authz_b", "client-b", s.now.Add(5*time.Minute))
		_, err := s.svc.Exchange(s.ctx, s.request("authz_b", s.assertion("client-a", "as-b")))
		s.requireCode(err, CodeInvalidGrant)
	})

	s.Run("redirect_uri mismatch", func() {
		s.saveCode("authz_r", "client-a", s.now.Add(5*time.Minute))
		req := s.request("authz_r", s.assertion("client-a", "as-r"))
		req.RedirectURI = "https://rp.example.com/other"
		_, err := s.svc.Exchange(s.ctx, req)
		s.requireCode(err, CodeInvalidGrant)
	})

	s.Run("expired", func() {
		s.saveCode("authz_e", "client-a", s.now)
		_, err := s.svc.Exchange(s.ctx, s.request("authz_e", s.assertion("client-a", "as-e")))
		s.requireCode(err, CodeInvalidGrant)
	})

	s.Equal(3.0, testutil.ToFloat64(s.metrics.TokenRequests.WithLabelValues(CodeInvalidGrant)))
}
