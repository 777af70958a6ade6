package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/govuk-one-login/account-components-sub001/internal/authorize/metrics"
	"github.com/govuk-one-login/account-components-sub001/internal/authorize/jar"
	"github.com/govuk-one-login/account-components-sub001/internal/authorize/outcome"
	"github.com/govuk-one-login/account-components-sub001/internal/authorize/registry"
	"github.com/govuk-one-login/account-components-sub001/internal/authorize/replay"
	"github.com/govuk-one-login/account-components-sub001/internal/authorize/service"
	"github.com/govuk-one-login/account-components-sub001/internal/authorize/store"
	"github.com/govuk-one-login/account-components-sub001/internal/authorize/verifier"
	"github.com/govuk-one-login/account-components-sub001/internal/jwks"
	"github.com/govuk-one-login/account-components-sub001/internal/keys"
	"github.com/govuk-one-login/account-components-sub001/internal/kms"
	"github.com/govuk-one-login/account-components-sub001/internal/platform/awsclient"
	"github.com/govuk-one-login/account-components-sub001/internal/platform/config"
	"github.com/govuk-one-login/account-components-sub001/internal/platform/httpserver"
	"github.com/govuk-one-login/account-components-sub001/internal/platform/logger"
	platformmetrics "github.com/govuk-one-login/account-components-sub001/internal/platform/metrics"
	"github.com/govuk-one-login/account-components-sub001/internal/platform/postgres"
	"github.com/govuk-one-login/account-components-sub001/internal/platform/redis"
	"github.com/govuk-one-login/account-components-sub001/internal/token"
	httptransport "github.com/govuk-one-login/account-components-sub001/internal/transport/http"
	"github.com/govuk-one-login/account-components-sub001/pkg/platform/audit"
	kafkapublisher "github.com/govuk-one-login/account-components-sub001/pkg/platform/audit/publishers/kafka"
	logpublisher "github.com/govuk-one-login/account-components-sub001/pkg/platform/audit/publishers/logging"
)

const sweepInterval = time.Minute

// main wires the services from configuration and runs the HTTP server until
// SIGINT or SIGTERM.
func main() {
	cfg := config.MustLoad()
	log := logger.New(cfg.LogLevel, cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	reg := platformmetrics.New()
	m := metrics.New(reg)

	var aws *awsclient.Clients
	if !cfg.IsLocal() || cfg.Store.Backend == config.StoreDynamoDB {
		var err error
		aws, err = awsclient.New(ctx, cfg.AWSEndpointURL)
		if err != nil {
			return err
		}
	}

	keyManager, err := newKeyManager(cfg, aws, log)
	if err != nil {
		return err
	}

	var source registry.Source
	if cfg.IsLocal() {
		source = registry.NewFileSource(cfg.Registry.File)
	} else {
		source = registry.NewAppConfigSource(aws.AppConfigData,
			cfg.Registry.AppConfigApplication, cfg.Registry.AppConfigEnvironment, cfg.Registry.AppConfigProfile)
	}
	resolver := registry.NewResolver(source, registry.WithLogger(log), registry.WithMetrics(m))

	st, cleanup, err := newStore(ctx, cfg, aws, log)
	if err != nil {
		return err
	}
	defer cleanup()

	auditor, closeAudit, err := newAuditPublisher(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeAudit()

	jwksCache, err := jwks.New(ctx, nil, jwks.WithLogger(log))
	if err != nil {
		return err
	}
	go warmJWKS(ctx, resolver, jwksCache, log)

	guard := replay.New(st, cfg.Authorize.NonceTTL,
		replay.WithSessionStore(st),
		replay.WithLogger(log),
		replay.WithMetrics(m),
	)

	var strategy outcome.Strategy
	switch cfg.Authorize.Outcome {
	case config.OutcomeCode:
		strategy = outcome.NewCodeRedirect(guard, st, cfg.Authorize.CodeTTL)
	default:
		strategy = outcome.NewJourneySession(guard, cfg.Authorize.JourneyBaseURL, cfg.Authorize.SessionCookieName,
			cfg.Authorize.SessionDefaultTTL, cfg.Authorize.SessionMaxTTL)
	}

	authorizeSvc := service.New(
		resolver,
		jar.New(keyManager, cfg.Keys.JARKeyAlias),
		verifier.New(jwksCache, cfg.Authorize.AuthorizeURL, verifier.WithLogger(log), verifier.WithMetrics(m)),
		strategy,
		cfg.Authorize.ErrorPageURL,
		service.WithLogger(log),
		service.WithMetrics(m),
		service.WithAuditPublisher(auditor),
	)

	signer, err := token.NewKMSSigner(ctx, keyManager, cfg.Keys.SigningKeyAlias)
	if err != nil {
		return err
	}
	tokenSvc := token.New(resolver, st, jwksCache, guard, signer,
		token.Config{TokenURL: cfg.Authorize.TokenURL, Issuer: cfg.Authorize.Issuer, TTL: cfg.Authorize.AccessTokenTTL},
		token.WithLogger(log),
		token.WithMetrics(m),
		token.WithAuditPublisher(auditor),
	)

	router := httptransport.NewRouter(httptransport.Router{
		Logger:    log,
		Authorize: httptransport.NewAuthorizeHandler(authorizeSvc, log),
		Token:     httptransport.NewTokenHandler(tokenSvc, log),
		Keys:      httptransport.NewKeysHandler(keys.New(keyManager, cfg.Keys.SigningKeyAlias, cfg.Keys.JARKeyAlias), log),
		Health:    httptransport.NewHealthHandler(st, log),
		Metrics:   reg.Handler(),
	})
	srv := httpserver.New(cfg.Server.Addr, router)

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting authorize service",
			"addr", cfg.Server.Addr,
			"environment", cfg.Environment,
			"outcome", strategy.Name(),
			"store", cfg.Store.Backend,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

// newKeyManager talks to KMS, or to an in-process key ring with fresh keys locally.
func newKeyManager(cfg *config.Config, aws *awsclient.Clients, log *slog.Logger) (*kms.KeyManager, error) {
	if !cfg.IsLocal() {
		return kms.New(aws.KMS), nil
	}
	local := kms.NewLocalAPI()
	jarKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate local JAR key: %w", err)
	}
	signingKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate local signing key: %w", err)
	}
	local.AddRSAKey(cfg.Keys.JARKeyAlias, jarKey)
	local.AddECKey(cfg.Keys.SigningKeyAlias, signingKey)
	log.Warn("using in-process keys; request objects must be encrypted to the published JWKS")
	return kms.New(local), nil
}

func newStore(ctx context.Context, cfg *config.Config, aws *awsclient.Clients, log *slog.Logger) (store.Store, func(), error) {
	switch cfg.Store.Backend {
	case config.StoreRedis:
		client, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return store.NewRedis(client.Client), func() { _ = client.Close() }, nil

	case config.StorePostgres:
		db, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		pg := store.NewPostgres(db)
		sweepCtx, cancel := context.WithCancel(ctx)
		go sweep(sweepCtx, pg, log)
		return pg, func() {
			cancel()
			_ = db.Close()
		}, nil

	case config.StoreDynamoDB:
		return store.NewDynamo(aws.DynamoDB, cfg.DynamoDB), func() {}, nil

	default:
		log.Warn("using in-memory store; state is lost on restart")
		return store.NewInMemory(), func() {}, nil
	}
}

// sweep deletes expired Postgres rows; the other backends expire entries natively.
func sweep(ctx context.Context, pg *store.PostgresStore, log *slog.Logger) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := pg.DeleteExpired(ctx)
			if err != nil {
				log.Warn("failed to delete expired rows", "error", err)
				continue
			}
			if n > 0 {
				log.Debug("deleted expired rows", "count", n)
			}
		}
	}
}

func newAuditPublisher(ctx context.Context, cfg *config.Config, log *slog.Logger) (audit.Publisher, func(), error) {
	brokers := cfg.Audit.Brokers()
	if len(brokers) == 0 {
		return logpublisher.New(log), func() {}, nil
	}
	p, err := kafkapublisher.New(brokers, cfg.Audit.KafkaTopic, cfg.Audit.KafkaClientID, kafkapublisher.WithLogger(log))
	if err != nil {
		return nil, nil, err
	}
	if err := p.EnsureTopic(ctx, 3, 1); err != nil {
		log.Warn("could not ensure audit topic", "topic", cfg.Audit.KafkaTopic, "error", err)
	}
	return p, func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.Close(closeCtx); err != nil {
			log.Warn("failed to flush audit events", "error", err, "failed", p.Failed())
		}
	}, nil
}

// warmJWKS fetches every registered client's key set so the first request of
// each client does not pay for the fetch. Failures are retried lazily.
func warmJWKS(ctx context.Context, resolver *registry.Resolver, cache *jwks.Cache, log *slog.Logger) {
	clients, err := resolver.Clients(ctx)
	if err != nil {
		log.Warn("could not load client registry for JWKS warm-up", "error", err)
		return
	}
	urls := make([]string, 0, len(clients))
	for _, c := range clients {
		urls = append(urls, c.JWKSURI)
	}
	if err := cache.Warm(ctx, urls); err != nil {
		log.Warn("JWKS warm-up incomplete", "error", err)
		return
	}
	log.Info("JWKS warm-up complete", "clients", len(clients))
}
