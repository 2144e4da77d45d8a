package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/authsvc/apiserver/types"
)

// SessionRepository persists issued token pairs. Rows are never deleted.
type SessionRepository struct {
	db *sql.DB
}

func NewSessionRepository(conn *sql.DB) *SessionRepository {
	return &SessionRepository{db: conn}
}

// Record stores a freshly issued pair with expired = false.
func (r *SessionRepository) Record(ctx context.Context, pair types.TokenPair) (types.Session, error) {
	now := time.Now()
	session := types.Session{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	const query = `
		INSERT INTO tokens (access_token, refresh_token, expired, created_at, updated_at)
		VALUES ($1, $2, FALSE, $3, $4)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		session.AccessToken,
		session.RefreshToken,
		session.CreatedAt,
		session.UpdatedAt,
	).Scan(&session.ID); err != nil {
		return types.Session{}, translate(err)
	}
	return session, nil
}

// FindValidByAccess returns the unrevoked session holding accessToken.
func (r *SessionRepository) FindValidByAccess(ctx context.Context, accessToken string) (types.Session, error) {
	const query = `
		SELECT id, access_token, refresh_token, expired, created_at, updated_at
		FROM tokens
		WHERE access_token = $1 AND expired = FALSE`
	return r.findOne(ctx, query, accessToken)
}

// FindValidByRefresh returns the unrevoked session holding refreshToken.
func (r *SessionRepository) FindValidByRefresh(ctx context.Context, refreshToken string) (types.Session, error) {
	const query = `
		SELECT id, access_token, refresh_token, expired, created_at, updated_at
		FROM tokens
		WHERE refresh_token = $1 AND expired = FALSE`
	return r.findOne(ctx, query, refreshToken)
}

func (r *SessionRepository) findOne(ctx context.Context, query string, token string) (types.Session, error) {
	var session types.Session
	err := r.db.QueryRowContext(ctx, query, token).Scan(
		&session.ID,
		&session.AccessToken,
		&session.RefreshToken,
		&session.Expired,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Session{}, ErrNotFound
		}
		return types.Session{}, err
	}
	return session, nil
}

// Revoke marks the session expired. Revoking an expired session is a no-op.
func (r *SessionRepository) Revoke(ctx context.Context, id int64) error {
	const query = `UPDATE tokens SET expired = TRUE, updated_at = $1 WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, time.Now(), id)
	return err
}

// RevokeValid marks the session expired only if it is still valid. ErrConflict
// means a concurrent request consumed it first.
func (r *SessionRepository) RevokeValid(ctx context.Context, id int64) error {
	const query = `UPDATE tokens SET expired = TRUE, updated_at = $1 WHERE id = $2 AND expired = FALSE`
	result, err := r.db.ExecContext(ctx, query, time.Now(), id)
	if err != nil {
		return err
	}
	return expectAffected(result, ErrConflict)
}
