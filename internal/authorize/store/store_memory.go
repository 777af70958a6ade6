package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/govuk-one-login/account-components-sub001/internal/authorize/models"
	"github.com/govuk-one-login/account-components-sub001/pkg/platform/sentinel"
	"github.com/govuk-one-login/account-components-sub001/pkg/requestcontext"
)

// InMemoryStore keeps everything in maps for tests and the local environment.
// Expired nonces are treated as absent, matching the TTL-based backends.
type InMemoryStore struct {
	mu       sync.Mutex
	nonces   map[string]models.NonceRecord
	sessions map[string]*models.Session
	codes    map[string]*models.AuthorizationCode
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		nonces:   make(map[string]models.NonceRecord),
		sessions: make(map[string]*models.Session),
		codes:    make(map[string]*models.AuthorizationCode),
	}
}

func (s *InMemoryStore) PutNonceIfAbsent(ctx context.Context, nonce models.NonceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putNonceLocked(ctx, nonce)
}

func (s *InMemoryStore) putNonceLocked(ctx context.Context, nonce models.NonceRecord) error {
	if existing, ok := s.nonces[nonce.Nonce]; ok && requestcontext.Now(ctx).Before(existing.ExpiresAt) {
		return fmt.Errorf("nonce %s: %w", nonce.Nonce, sentinel.ErrAlreadyUsed)
	}
	s.nonces[nonce.Nonce] = nonce
	return nil
}

func (s *InMemoryStore) CreateSessionWithNonce(ctx context.Context, nonce models.NonceRecord, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; ok {
		return fmt.Errorf("session %s: %w", session.ID, sentinel.ErrAlreadyUsed)
	}
	if err := s.putNonceLocked(ctx, nonce); err != nil {
		return err
	}
	cp := *session
	s.sessions[session.ID] = &cp
	return nil
}

func (s *InMemoryStore) SaveCode(_ context.Context, code *models.AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.codes[code.Code]; ok {
		return fmt.Errorf("authorization code: %w", sentinel.ErrAlreadyUsed)
	}
	cp := *code
	s.codes[code.Code] = &cp
	return nil
}

func (s *InMemoryStore) ConsumeCode(_ context.Context, code string) (*models.AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.codes[code]
	if !ok {
		return nil, fmt.Errorf("authorization code not found: %w", sentinel.ErrNotFound)
	}
	delete(s.codes, code)
	return record, nil
}

// Session returns a stored session.
func (s *InMemoryStore) Session(_ context.Context, id string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
	}
	cp := *sess
	return &cp, nil
}

// Counts reports how many nonces and sessions are stored.
func (s *InMemoryStore) Counts() (nonces, sessions int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nonces), len(s.sessions)
}

func (s *InMemoryStore) Ping(context.Context) error { return nil }
