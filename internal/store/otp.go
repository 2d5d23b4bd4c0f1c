package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/headless-cms/authserver/types"
)

// OTPStats summarises codes issued inside a time window.
type OTPStats struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Expired    int `json:"expired"`
}

// OTPRepository handles persistence for one-time login codes.
type OTPRepository struct {
	db *sql.DB
}

func NewOTPRepository(db *sql.DB) *OTPRepository {
	return &OTPRepository{db: db}
}

// Replace deletes every unconsumed code for the email and stores the new one
// in the same transaction, so at most one code is live per address.
func (r *OTPRepository) Replace(ctx context.Context, code types.OTPCode) (types.OTPCode, error) {
	if code.ID == "" {
		code.ID = uuid.NewString()
	}
	if code.CreatedAt.IsZero() {
		code.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return types.OTPCode{}, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const deleteQuery = `DELETE FROM otp_codes WHERE user_email = $1 AND used = FALSE`
	if _, err := tx.ExecContext(ctx, deleteQuery, code.UserEmail); err != nil {
		return types.OTPCode{}, fmt.Errorf("delete previous codes: %w", err)
	}

	const insertQuery = `
		INSERT INTO otp_codes (id, user_email, code_hash, expires_at, attempts, max_attempts, used, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, 0, $5, FALSE, $6, $7, $8)`
	if _, err := tx.ExecContext(
		ctx,
		insertQuery,
		code.ID,
		code.UserEmail,
		code.CodeHash,
		code.ExpiresAt,
		code.MaxAttempts,
		code.IPAddress,
		code.UserAgent,
		code.CreatedAt,
	); err != nil {
		return types.OTPCode{}, fmt.Errorf("insert code: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return types.OTPCode{}, err
	}
	code.Attempts = 0
	code.Used = false
	return code, nil
}

// Latest returns the newest unconsumed code for the email.
func (r *OTPRepository) Latest(ctx context.Context, email string) (types.OTPCode, error) {
	const query = `
		SELECT id, user_email, code_hash, expires_at, attempts, max_attempts, used, used_at, ip_address, user_agent, created_at
		FROM otp_codes
		WHERE user_email = $1 AND used = FALSE
		ORDER BY created_at DESC
		LIMIT 1`
	var (
		code   types.OTPCode
		usedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, email).Scan(
		&code.ID,
		&code.UserEmail,
		&code.CodeHash,
		&code.ExpiresAt,
		&code.Attempts,
		&code.MaxAttempts,
		&code.Used,
		&usedAt,
		&code.IPAddress,
		&code.UserAgent,
		&code.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.OTPCode{}, ErrNotFound
		}
		return types.OTPCode{}, err
	}
	if usedAt.Valid {
		t := usedAt.Time
		code.UsedAt = &t
	}
	return code, nil
}

// IncrementAttempts atomically records a failed verification and returns the
// new attempt count.
func (r *OTPRepository) IncrementAttempts(ctx context.Context, id string) (int, error) {
	const query = `
		UPDATE otp_codes
		SET attempts = attempts + 1
		WHERE id = $1 AND used = FALSE
		RETURNING attempts`
	var attempts int
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&attempts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return attempts, nil
}

// Consume marks the code used if it is still unused, unexpired and within its
// attempt budget. ErrNotFound means another request got there first.
func (r *OTPRepository) Consume(ctx context.Context, id string, now time.Time) error {
	const query = `
		UPDATE otp_codes
		SET used = TRUE, used_at = $2
		WHERE id = $1 AND used = FALSE AND attempts < max_attempts AND expires_at > $2
		RETURNING id`
	var consumed string
	if err := r.db.QueryRowContext(ctx, query, id, now).Scan(&consumed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// DeleteExpired removes expired codes and used codes older than usedBefore.
func (r *OTPRepository) DeleteExpired(ctx context.Context, now, usedBefore time.Time) (int64, error) {
	const query = `DELETE FROM otp_codes WHERE expires_at < $1 OR (used = TRUE AND used_at < $2)`
	result, err := r.db.ExecContext(ctx, query, now, usedBefore)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *OTPRepository) Stats(ctx context.Context, now, since time.Time) (OTPStats, error) {
	const query = `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN used THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN attempts >= max_attempts AND NOT used THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN expires_at < $1 AND NOT used THEN 1 ELSE 0 END), 0)
		FROM otp_codes
		WHERE created_at > $2`
	var stats OTPStats
	err := r.db.QueryRowContext(ctx, query, now, since).Scan(
		&stats.Total,
		&stats.Successful,
		&stats.Failed,
		&stats.Expired,
	)
	if err != nil {
		return OTPStats{}, err
	}
	return stats, nil
}
