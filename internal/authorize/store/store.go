// Package store persists replay nonces, journey sessions and authorization codes.
//
// Error contract, shared by every backend:
//   - ErrAlreadyUsed when a nonce (or a session/code key) already exists and is unexpired
//   - ErrNotFound when a code does not exist or was already consumed
//   - ErrUnavailable, joined with the driver error, when the backend cannot be reached
//
// Replay protection relies on each engine's native conditional write; no backend
// reads before writing.
package store

import (
	"context"
	"fmt"

	"github.com/govuk-one-login/account-components-sub001/internal/authorize/models"
	"github.com/govuk-one-login/account-components-sub001/pkg/platform/sentinel"
)

// Store is implemented by every backend.
type Store interface {
	PutNonceIfAbsent(ctx context.Context, nonce models.NonceRecord) error
	CreateSessionWithNonce(ctx context.Context, nonce models.NonceRecord, session *models.Session) error
	SaveCode(ctx context.Context, code *models.AuthorizationCode) error
	ConsumeCode(ctx context.Context, code string) (*models.AuthorizationCode, error)
	Session(ctx context.Context, id string) (*models.Session, error)
	Ping(ctx context.Context) error
}

var (
	_ Store = (*InMemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
	_ Store = (*PostgresStore)(nil)
	_ Store = (*DynamoStore)(nil)
)

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, sentinel.ErrUnavailable, err)
}
