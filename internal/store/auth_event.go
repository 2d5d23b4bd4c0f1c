package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/headless-cms/authserver/types"
)

// AuthEventRepository handles persistence for the authentication audit trail.
type AuthEventRepository struct {
	db *sql.DB
}

func NewAuthEventRepository(db *sql.DB) *AuthEventRepository {
	return &AuthEventRepository{db: db}
}

func (r *AuthEventRepository) Create(ctx context.Context, event types.AuthEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO auth_events (event_type, email, user_id, ip_address, user_agent, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.ExecContext(
		ctx,
		query,
		string(event.Type),
		event.Email,
		event.UserID,
		event.IPAddress,
		event.UserAgent,
		event.Reason,
		event.CreatedAt,
	)
	return err
}

// ListBefore returns a page of events created before the cutoff with id
// greater than afterID, in id order.
func (r *AuthEventRepository) ListBefore(ctx context.Context, before time.Time, afterID int64, limit int) ([]types.AuthEvent, error) {
	const query = `
		SELECT id, event_type, email, user_id, ip_address, user_agent, reason, created_at
		FROM auth_events
		WHERE created_at < $1 AND id > $2
		ORDER BY id ASC
		LIMIT $3`
	rows, err := r.db.QueryContext(ctx, query, before, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []types.AuthEvent
	for rows.Next() {
		var (
			event     types.AuthEvent
			eventType string
			userID    sql.NullString
		)
		if err := rows.Scan(
			&event.ID,
			&eventType,
			&event.Email,
			&userID,
			&event.IPAddress,
			&event.UserAgent,
			&event.Reason,
			&event.CreatedAt,
		); err != nil {
			return nil, err
		}
		event.Type = types.AuthEventType(eventType)
		if userID.Valid {
			id := userID.String
			event.UserID = &id
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// DeleteThrough removes events created before the cutoff with id up to and
// including maxID, matching exactly what ListBefore returned.
func (r *AuthEventRepository) DeleteThrough(ctx context.Context, maxID int64, before time.Time) (int64, error) {
	const query = `DELETE FROM auth_events WHERE id <= $1 AND created_at < $2`
	result, err := r.db.ExecContext(ctx, query, maxID, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
