package sessions

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/barberdesk/barberdesk/libs/db"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("refresh token not found")

type RefreshToken struct {
	ID        string
	AccountID string
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// Usable reports whether the token can still be exchanged at now.
func (t RefreshToken) Usable(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

type RefreshRepository struct {
	pool *db.Pool
}

func NewRefreshRepository(pool *db.Pool) *RefreshRepository {
	return &RefreshRepository{pool: pool}
}

// Create stores the hash of rawToken. The raw value is never persisted.
func (r *RefreshRepository) Create(ctx context.Context, accountID string, rawToken string, expiresAt time.Time) (string, error) {
	id := uuid.NewString()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO refresh_tokens (id, account_id, token_hash, expires_at)
		VALUES ($1, $2, $3, $4)
	`, id, accountID, HashToken(rawToken), expiresAt)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *RefreshRepository) GetByRaw(ctx context.Context, rawToken string) (RefreshToken, error) {
	var token RefreshToken
	err := r.pool.QueryRow(ctx, `
		SELECT id, account_id, expires_at, revoked_at
		FROM refresh_tokens
		WHERE token_hash = $1
	`, HashToken(rawToken)).Scan(&token.ID, &token.AccountID, &token.ExpiresAt, &token.RevokedAt)
	if err != nil {
		if db.IsNotFound(err) {
			return RefreshToken{}, ErrNotFound
		}
		return RefreshToken{}, err
	}
	return token, nil
}

// Revoke marks the token used. It reports false when it was already revoked,
// which lets a refresh race lose cleanly.
func (r *RefreshRepository) Revoke(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE refresh_tokens
		SET revoked_at = now()
		WHERE id = $1 AND revoked_at IS NULL
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// NewRawToken returns 32 random bytes, hex encoded.
func NewRawToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
