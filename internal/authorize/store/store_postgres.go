package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/govuk-one-login/account-components-sub001/internal/authorize/models"
	"github.com/govuk-one-login/account-components-sub001/pkg/platform/sentinel"
	"github.com/govuk-one-login/account-components-sub001/pkg/platform/tx"
	"github.com/govuk-one-login/account-components-sub001/pkg/requestcontext"
)

// PostgresStore uses INSERT ... ON CONFLICT as its conditional write. An expired
// nonce row may be reclaimed by a later insert; a live one never is.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) PutNonceIfAbsent(ctx context.Context, nonce models.NonceRecord) error {
	query := `
		INSERT INTO replay_nonces (nonce, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (nonce) DO UPDATE SET
			expires_at = EXCLUDED.expires_at
		WHERE replay_nonces.expires_at <= $3
	`
	res, err := tx.QuerierFrom(ctx, s.db).ExecContext(ctx, query, nonce.Nonce, nonce.ExpiresAt, requestcontext.Now(ctx))
	if err != nil {
		return unavailable("put nonce", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("put nonce rows affected", err)
	}
	if n == 0 {
		return fmt.Errorf("nonce %s: %w", nonce.Nonce, sentinel.ErrAlreadyUsed)
	}
	return nil
}

// CreateSessionWithNonce writes both rows in one transaction; either both land or neither.
func (s *PostgresStore) CreateSessionWithNonce(ctx context.Context, nonce models.NonceRecord, session *models.Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return tx.Run(ctx, s.db, func(ctx context.Context) error {
		if err := s.PutNonceIfAbsent(ctx, nonce); err != nil {
			return err
		}
		query := `
			INSERT INTO journey_sessions (id, client_id, nonce, payload, created_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING
		`
		res, err := tx.QuerierFrom(ctx, s.db).ExecContext(ctx, query,
			session.ID,
			session.ClientID,
			nonce.Nonce,
			payload,
			session.CreatedAt,
			session.ExpiresAt,
		)
		if err != nil {
			return unavailable("insert session", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return unavailable("insert session rows affected", err)
		} else if n == 0 {
			return fmt.Errorf("session %s: %w", session.ID, sentinel.ErrAlreadyUsed)
		}
		return nil
	})
}

func (s *PostgresStore) SaveCode(ctx context.Context, code *models.AuthorizationCode) error {
	payload, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("marshal authorization code: %w", err)
	}
	query := `
		INSERT INTO authorization_codes (code, client_id, payload, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (code) DO NOTHING
	`
	res, err := tx.QuerierFrom(ctx, s.db).ExecContext(ctx, query, code.Code, code.ClientID, payload, code.CreatedAt, code.ExpiresAt)
	if err != nil {
		return unavailable("save authorization code", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return unavailable("save authorization code rows affected", err)
	} else if n == 0 {
		return fmt.Errorf("authorization code: %w", sentinel.ErrAlreadyUsed)
	}
	return nil
}

// ConsumeCode deletes and returns the row in one statement.
func (s *PostgresStore) ConsumeCode(ctx context.Context, code string) (*models.AuthorizationCode, error) {
	var payload []byte
	err := tx.QuerierFrom(ctx, s.db).QueryRowContext(ctx,
		`DELETE FROM authorization_codes WHERE code = $1 RETURNING payload`, code,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("authorization code not found: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("consume authorization code", err)
	}
	var record models.AuthorizationCode
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("unmarshal authorization code: %w", err)
	}
	return &record, nil
}

func (s *PostgresStore) Session(ctx context.Context, id string) (*models.Session, error) {
	var payload []byte
	err := tx.QuerierFrom(ctx, s.db).QueryRowContext(ctx,
		`SELECT payload FROM journey_sessions WHERE id = $1`, id,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("get session", err)
	}
	var sess models.Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

// DeleteExpired removes expired nonces, sessions and codes. Returns the number of rows removed.
func (s *PostgresStore) DeleteExpired(ctx context.Context) (int64, error) {
	now := requestcontext.Now(ctx)
	var total int64
	for _, table := range []string{"replay_nonces", "journey_sessions", "authorization_codes"} {
		res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE expires_at <= $1`, now)
		if err != nil {
			return total, fmt.Errorf("delete expired from %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping postgres", err)
	}
	return nil
}
