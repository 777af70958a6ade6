package service

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"github.com/govuk-one-login/account-components-sub001/internal/authorize/metrics"
	"github.com/govuk-one-login/account-components-sub001/internal/authorize/models"
	"github.com/govuk-one-login/account-components-sub001/internal/authorize/registry"
	"github.com/govuk-one-login/account-components-sub001/internal/authorize/service/mocks"
	"github.com/govuk-one-login/account-components-sub001/pkg/platform/audit"
	"github.com/govuk-one-login/account-components-sub001/pkg/requestcontext"
)

const (
	errorPage   = "https://account.example.gov.uk/error"
	redirectURI = "https://rp.example.com/callback"
)

type stubStrategy struct {
	name   string
	out    *models.RedirectOutcome
	err    error
	panics bool
	calls  int
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) OnSuccess(context.Context, *models.Claims, *models.Client) (*models.RedirectOutcome, error) {
	s.calls++
	if s.panics {
		panic("nil session store")
	}
	return s.out, s.err
}

type ServiceSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	clients   *mocks.MockClientResolver
	decrypter *mocks.MockDecrypter
	verifier  *mocks.MockVerifier
	strategy  *stubStrategy
	metrics   *metrics.Metrics
	audit     *audit.Recorder
	svc       *Service
	ctx       context.Context
	client    *models.Client
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.clients = mocks.NewMockClientResolver(s.ctrl)
	s.decrypter = mocks.NewMockDecrypter(s.ctrl)
	s.verifier = mocks.NewMockVerifier(s.ctrl)
	s.strategy = &stubStrategy{name: "code", out: models.NewRedirect(redirectURI + "?code=authz_1&state=s1")}
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.audit = audit.NewRecorder()
	s.svc = New(s.clients, s.decrypter, s.verifier, s.strategy, errorPage,
		WithMetrics(s.metrics),
		WithAuditPublisher(s.audit),
	)
	s.ctx = requestcontext.WithTime(context.Background(), time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	s.client = &models.Client{ClientID: "client-a", RedirectURIs: []string{redirectURI}}
}

func (s *ServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ServiceSuite) query() url.Values {
	return url.Values{
		"request":       {"h.k.iv.ct.tag"},
		"response_type": {"code"},
		"scope":         {"account-delete"},
		"client_id":     {"client-a"},
		"redirect_uri":  {redirectURI},
		"state":         {"s1"},
	}
}

func (s *ServiceSuite) expectThroughVerify() {
	s.clients.EXPECT().Resolve(gomock.Any(), "client-a", redirectURI).Return(s.client, nil)
	s.decrypter.EXPECT().Decrypt(gomock.Any(), "h.k.iv.ct.tag").Return("signed.jwt.value", nil)
	s.verifier.EXPECT().Verify(gomock.Any(), "signed.jwt.value", s.client, gomock.Any()).
		Return(&models.Claims{ClientID: "client-a"}, nil)
}

func (s *ServiceSuite) errorCount(code string) float64 {
	return testutil.ToFloat64(s.metrics.Requests.WithLabelValues("error", code))
}

func (s *ServiceSuite) TestSuccess() {
	s.expectThroughVerify()

	out, err := s.svc.Authorize(s.ctx, s.query())

	s.Require().NoError(err)
	s.Equal(redirectURI+"?code=authz_1&state=s1", out.Location)
	s.Equal(1, s.strategy.calls)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Requests.WithLabelValues("success", "")))
	s.Equal([]audit.AuditEvent{audit.EventCodeIssued}, s.audit.Actions())
}

func (s *ServiceSuite) TestQueryFailureGoesToFallbackPage() {
	q := s.query()
	q.Del("client_id")

	out, err := s.svc.Authorize(s.ctx, q)

	s.Require().NoError(err)
	s.Equal(http.StatusFound, out.StatusCode)
	s.Equal(errorPage+"?error=invalid_request&error_description=E1001", out.Location)
	s.Equal(1.0, s.errorCount("E1001"))
}

func (s *ServiceSuite) TestRedirectTrustOrdering() {
	tests := []struct {
		name     string
		err      error
		location string
		action   audit.AuditEvent
	}{
		{
			name:     "unknown client",
			err:      models.ErrInvalidRequest.Wrap(registry.ErrClientNotFound),
			location: errorPage + "?error=invalid_request&error_description=E1001",
			action:   audit.EventClientNotFound,
		},
		{
			name:     "unregistered redirect_uri",
			err:      models.ErrInvalidRequest.Wrap(registry.ErrInvalidRedirectURI),
			location: errorPage + "?error=invalid_request&error_description=E1001",
			action:   audit.EventInvalidRedirectURI,
		},
		{
			name:     "registry unavailable",
			err:      models.ErrClientRegistryUnavailable.Wrap(errors.New("appconfig timeout")),
			location: errorPage + "?error=server_error&error_description=E5003",
			action:   audit.EventAuthorizeFailed,
		},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			rec := audit.NewRecorder()
			svc := New(s.clients, s.decrypter, s.verifier, s.strategy, errorPage, WithAuditPublisher(rec))
			q := s.query()
			q.Set("redirect_uri", "https://attacker.example.net/steal")
			s.clients.EXPECT().Resolve(gomock.Any(), "client-a", "https://attacker.example.net/steal").Return(nil, tt.err)

			out, err := svc.Authorize(s.ctx, q)

			s.Require().NoError(err)
			s.Equal(tt.location, out.Location)
			u, err := url.Parse(out.Location)
			s.Require().NoError(err)
			s.Equal("account.example.gov.uk", u.Host)
			s.Empty(u.Query().Get("state"))
			s.Equal([]audit.AuditEvent{tt.action}, rec.Actions())
		})
	}
}

func (s *ServiceSuite) TestErrorsAfterResolutionGoToClient() {
	tests := []struct {
		name     string
		setup    func()
		location string
	}{
		{
			name: "decrypt failed",
			setup: func() {
				s.decrypter.EXPECT().Decrypt(gomock.Any(), gomock.Any()).Return("", models.ErrJARDecryptFailed.Wrap(errors.New("bad tag")))
			},
			location: redirectURI + "?error=invalid_request&error_description=E1002&state=s1",
		},
		{
			name: "decrypt configuration drift",
			setup: func() {
				s.decrypter.EXPECT().Decrypt(gomock.Any(), gomock.Any()).Return("", models.ErrJARDecryptUnknown.Wrap(errors.New("kid mismatch")))
			},
			location: redirectURI + "?error=server_error&error_description=E5001&state=s1",
		},
		{
			name: "signature invalid",
			setup: func() {
				s.decrypter.EXPECT().Decrypt(gomock.Any(), gomock.Any()).Return("signed", nil)
				s.verifier.EXPECT().Verify(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, models.ErrJARSignatureInvalid.Wrap(errors.New("bad sig")))
			},
			location: redirectURI + "?error=unauthorized_client&error_description=E3001&state=s1",
		},
		{
			name: "claims invalid",
			setup: func() {
				s.decrypter.EXPECT().Decrypt(gomock.Any(), gomock.Any()).Return("signed", nil)
				s.verifier.EXPECT().Verify(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, models.ErrFailedToValidateJARPayload.Wrap(errors.New("iss")))
			},
			location: redirectURI + "?error=invalid_request&error_description=E1003&state=s1",
		},
		{
			name: "untagged error",
			setup: func() {
				s.decrypter.EXPECT().Decrypt(gomock.Any(), gomock.Any()).Return("", errors.New("surprise"))
			},
			location: redirectURI + "?error=server_error&error_description=E5000&state=s1",
		},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.clients.EXPECT().Resolve(gomock.Any(), gomock.Any(), gomock.Any()).Return(s.client, nil)
			tt.setup()

			out, err := s.svc.Authorize(s.ctx, s.query())

			s.Require().NoError(err)
			s.Equal(tt.location, out.Location)
		})
	}
	s.Zero(s.strategy.calls, "outcome never reached")
	s.Equal(1.0, testutil.ToFloat64(s.metrics.UnexpectedErrors))
}

func (s *ServiceSuite) TestOutcomeFailure() {
	s.expectThroughVerify()
	s.strategy.out = nil
	s.strategy.err = models.ErrJTIAlreadyUsed.Wrap(errors.New("exists"))

	out, err := s.svc.Authorize(s.ctx, s.query())

	s.Require().NoError(err)
	s.Equal(redirectURI+"?error=invalid_request&error_description=E1004&state=s1", out.Location)
	s.Equal([]audit.AuditEvent{audit.EventReplayDetected}, s.audit.Actions())
}

func (s *ServiceSuite) TestPanicIsRecovered() {
	s.expectThroughVerify()
	s.strategy.panics = true

	out, err := s.svc.Authorize(s.ctx, s.query())

	s.Require().NoError(err)
	s.Equal(redirectURI+"?error=server_error&error_description=E5000&state=s1", out.Location)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.UnexpectedErrors))
	s.Equal(1.0, s.errorCount("E5000"))
}

func (s *ServiceSuite) TestUnbuildableFallback() {
	svc := New(s.clients, s.decrypter, s.verifier, s.strategy, "://bad")
	q := s.query()
	q.Del("request")

	out, err := svc.Authorize(s.ctx, q)

	s.Require().Error(err)
	s.Nil(out)
}
