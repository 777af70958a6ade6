package jwks

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govuk-one-login/account-components-sub001/pkg/requestcontext"
)

type jwksServer struct {
	*httptest.Server
	hits atomic.Int32
	mu   sync.Mutex
	keys []jose.JSONWebKey
	fail atomic.Bool
}

func newJWKSServer(t *testing.T, keys ...jose.JSONWebKey) *jwksServer {
	t.Helper()
	s := &jwksServer{keys: keys}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.hits.Add(1)
		if s.fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: s.keys})
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *jwksServer) setKeys(keys ...jose.JSONWebKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = keys
}

func ecJWK(t *testing.T, kid string) (*ecdsa.PrivateKey, jose.JSONWebKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return key, jose.JSONWebKey{Key: &key.PublicKey, KeyID: kid, Algorithm: "ES256", Use: "sig"}
}

func TestKey(t *testing.T) {
	ctx := t.Context()
	priv, pub := ecJWK(t, "kid-1")
	srv := newJWKSServer(t, pub)

	c, err := New(ctx, srv.Client())
	require.NoError(t, err)

	t.Run("returns the raw public key", func(t *testing.T) {
		raw, err := c.Key(ctx, srv.URL, "kid-1")
		require.NoError(t, err)
		got, ok := raw.(*ecdsa.PublicKey)
		require.True(t, ok, "got %T", raw)
		assert.True(t, priv.PublicKey.Equal(got))
	})

	t.Run("served from cache", func(t *testing.T) {
		before := srv.hits.Load()
		for range 5 {
			_, err := c.Key(ctx, srv.URL, "kid-1")
			require.NoError(t, err)
		}
		assert.Equal(t, before, srv.hits.Load())
	})

	t.Run("unknown kid refreshes once", func(t *testing.T) {
		_, rotated := ecJWK(t, "kid-2")
		srv.setKeys(pub, rotated)

		_, err := c.Key(ctx, srv.URL, "kid-2")
		require.NoError(t, err)

		_, err = c.Key(ctx, srv.URL, "kid-404")
		require.ErrorIs(t, err, ErrKeyNotFound)
	})
}

func TestUnknownKIDRefreshIsRateLimited(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(t.Context(), now)
	_, pub := ecJWK(t, "kid-1")
	srv := newJWKSServer(t, pub)

	c, err := New(t.Context(), srv.Client(), WithMinRefreshInterval(time.Minute))
	require.NoError(t, err)

	_, err = c.Key(ctx, srv.URL, "kid-1")
	require.NoError(t, err)
	warm := srv.hits.Load()

	for range 50 {
		_, err := c.Key(ctx, srv.URL, "made-up-kid")
		require.ErrorIs(t, err, ErrKeyNotFound)
	}
	assert.LessOrEqual(t, srv.hits.Load()-warm, int32(1), "unknown kids inside the interval cause at most one fetch")

	t.Run("rotated key found once the interval has passed", func(t *testing.T) {
		_, rotated := ecJWK(t, "kid-2")
		srv.setKeys(pub, rotated)

		_, err := c.Key(ctx, srv.URL, "kid-2")
		require.ErrorIs(t, err, ErrKeyNotFound)

		later := requestcontext.WithTime(t.Context(), now.Add(time.Minute))
		_, err = c.Key(later, srv.URL, "kid-2")
		require.NoError(t, err)
	})
}

func TestRegistrationFollowsCallerDeadline(t *testing.T) {
	_, pub := ecJWK(t, "kid-1")
	release := make(chan struct{})
	var once sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{pub}})
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { once.Do(func() { close(release) }) })

	c, err := New(t.Context(), srv.Client())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Key(ctx, srv.URL, "kid-1")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	t.Run("next request retries", func(t *testing.T) {
		once.Do(func() { close(release) })
		_, err := c.Key(t.Context(), srv.URL, "kid-1")
		require.NoError(t, err)
	})
}

func TestFetchFailure(t *testing.T) {
	ctx := t.Context()
	_, pub := ecJWK(t, "kid-1")
	srv := newJWKSServer(t, pub)
	srv.fail.Store(true)

	c, err := New(ctx, srv.Client())
	require.NoError(t, err)

	_, err = c.Key(ctx, srv.URL, "kid-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrKeyNotFound)

	t.Run("retried after recovery", func(t *testing.T) {
		srv.fail.Store(false)
		_, err := c.Key(ctx, srv.URL, "kid-1")
		require.NoError(t, err)
	})
}

func TestWarm(t *testing.T) {
	ctx := t.Context()
	_, pubA := ecJWK(t, "a")
	_, pubB := ecJWK(t, "b")
	a := newJWKSServer(t, pubA)
	b := newJWKSServer(t, pubB)
	broken := newJWKSServer(t)
	broken.fail.Store(true)

	c, err := New(ctx, http.DefaultClient)
	require.NoError(t, err)

	err = c.Warm(ctx, []string{a.URL, b.URL, "", broken.URL})
	require.Error(t, err)

	hitsA := a.hits.Load()
	_, err = c.Key(ctx, a.URL, "a")
	require.NoError(t, err)
	assert.Equal(t, hitsA, a.hits.Load(), "warmed set is served from cache")
}
