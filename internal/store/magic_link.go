package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/headless-cms/authserver/types"
)

// MagicLinkRepository handles persistence for magic-link tokens.
type MagicLinkRepository struct {
	db *sql.DB
}

func NewMagicLinkRepository(db *sql.DB) *MagicLinkRepository {
	return &MagicLinkRepository{db: db}
}

func (r *MagicLinkRepository) Create(ctx context.Context, link types.MagicLink) (types.MagicLink, error) {
	if link.ID == "" {
		link.ID = uuid.NewString()
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO magic_links (id, user_email, token_hash, expires_at, used, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, FALSE, $5, $6, $7)`
	_, err := r.db.ExecContext(
		ctx,
		query,
		link.ID,
		link.UserEmail,
		link.TokenHash,
		link.ExpiresAt,
		link.IPAddress,
		link.UserAgent,
		link.CreatedAt,
	)
	if err != nil {
		return types.MagicLink{}, mapWriteError(err)
	}
	return link, nil
}

// Consume atomically marks the token used and returns the email it was issued
// to. Unknown, used and expired tokens all yield ErrNotFound.
func (r *MagicLinkRepository) Consume(ctx context.Context, tokenHash string, now time.Time) (string, error) {
	const query = `
		UPDATE magic_links
		SET used = TRUE, used_at = $2
		WHERE token_hash = $1 AND used = FALSE AND expires_at > $2
		RETURNING user_email`
	var email string
	if err := r.db.QueryRowContext(ctx, query, tokenHash, now).Scan(&email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return email, nil
}

// DeleteExpired removes expired links and used links older than usedBefore.
func (r *MagicLinkRepository) DeleteExpired(ctx context.Context, now, usedBefore time.Time) (int64, error) {
	const query = `DELETE FROM magic_links WHERE expires_at < $1 OR (used = TRUE AND used_at < $2)`
	result, err := r.db.ExecContext(ctx, query, now, usedBefore)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
