// Package registry resolves and authorizes the client named in an authorize request.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/govuk-one-login/account-components-sub001/internal/authorize/metrics"
	"github.com/govuk-one-login/account-components-sub001/internal/authorize/models"
)

var (
	ErrClientNotFound     = errors.New("client not found")
	ErrInvalidRedirectURI = errors.New("redirect_uri not registered for client")
)

// Resolver caches the registry for the process lifetime after the first successful load.
// Failed loads are not cached.
type Resolver struct {
	source  Source
	logger  *slog.Logger
	metrics *metrics.Metrics

	group   singleflight.Group
	mu      sync.RWMutex
	clients map[string]models.Client
}

type Option func(*Resolver)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

func NewResolver(source Source, opts ...Option) *Resolver {
	r := &Resolver{
		source: source,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve looks the client up by exact client_id and checks redirect_uri against
// its allow-list. Both failures surface as invalidRequest; registry outages as
// clientRegistryUnavailable.
func (r *Resolver) Resolve(ctx context.Context, clientID, redirectURI string) (*models.Client, error) {
	clients, err := r.load(ctx)
	if err != nil {
		return nil, models.ErrClientRegistryUnavailable.Wrap(err)
	}

	client, ok := clients[clientID]
	if !ok {
		r.logger.WarnContext(ctx, "authorize request for unknown client",
			"reason", "ClientNotFound",
			"client_id", clientID,
		)
		r.metrics.IncrementClientResolutionFailure("client_not_found")
		return nil, models.ErrInvalidRequest.Wrap(ErrClientNotFound)
	}

	if !client.AllowsRedirectURI(redirectURI) {
		r.logger.WarnContext(ctx, "authorize request with unregistered redirect_uri",
			"reason", "InvalidRedirectUri",
			"client_id", clientID,
			"redirect_uri", redirectURI,
		)
		r.metrics.IncrementClientResolutionFailure("invalid_redirect_uri")
		return nil, models.ErrInvalidRequest.Wrap(ErrInvalidRedirectURI)
	}

	return &client, nil
}

// Clients returns every registered client ordered by client_id.
func (r *Resolver) Clients(ctx context.Context) ([]models.Client, error) {
	clients, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Client, 0, len(clients))
	for _, c := range clients {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b models.Client) int { return strings.Compare(a.ClientID, b.ClientID) })
	return out, nil
}

// Get returns one client without any redirect check. Used by the token endpoint.
func (r *Resolver) Get(ctx context.Context, clientID string) (*models.Client, error) {
	clients, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	c, ok := clients[clientID]
	if !ok {
		return nil, ErrClientNotFound
	}
	return &c, nil
}

func (r *Resolver) load(ctx context.Context) (map[string]models.Client, error) {
	r.mu.RLock()
	cached := r.clients
	r.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	v, err, _ := r.group.Do("registry", func() (any, error) {
		r.mu.RLock()
		cached := r.clients
		r.mu.RUnlock()
		if cached != nil {
			return cached, nil
		}

		start := time.Now()
		list, err := r.source.List(ctx)
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to load client registry", "error", err)
			r.metrics.IncrementClientResolutionFailure("registry_unavailable")
			return nil, err
		}

		clients := make(map[string]models.Client, len(list))
		for _, c := range list {
			if c.ClientID == "" {
				continue
			}
			if _, dup := clients[c.ClientID]; dup {
				r.logger.WarnContext(ctx, "duplicate client in registry, keeping first", "client_id", c.ClientID)
				continue
			}
			clients[c.ClientID] = c
		}

		r.mu.Lock()
		r.clients = clients
		r.mu.Unlock()
		r.logger.InfoContext(ctx, "client registry loaded",
			"clients", len(clients),
			"duration", time.Since(start),
		)
		return clients, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]models.Client), nil
}
