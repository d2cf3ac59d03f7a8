// Package postgres provides PostgreSQL implementation of scheduled repository.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/relaydesk/inbox/internal/domain"
	"github.com/relaydesk/inbox/internal/scheduled"
)

// Repository implements scheduled.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const scheduledColumns = `id, contact_id, channel, content, scheduled_at, status, COALESCE(last_error, ''), created_at, updated_at`

func scanScheduled(row pgx.Row, m *domain.ScheduledMessage) error {
	return row.Scan(
		&m.ID,
		&m.ContactID,
		&m.Channel,
		&m.Content,
		&m.ScheduledAt,
		&m.Status,
		&m.LastError,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
}

func (r *Repository) listScheduled(ctx context.Context, op, query string, args ...any) ([]domain.ScheduledMessage, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	items := make([]domain.ScheduledMessage, 0)
	for rows.Next() {
		var m domain.ScheduledMessage
		if err := scanScheduled(rows, &m); err != nil {
			return nil, fmt.Errorf("scan scheduled message: %w", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return items, nil
}

// FindDue returns pending messages scheduled at or before now.
func (r *Repository) FindDue(ctx context.Context, now time.Time) ([]domain.ScheduledMessage, error) {
	query := `
		SELECT ` + scheduledColumns + `
		FROM scheduled_messages
		WHERE status = 'PENDING' AND scheduled_at <= $1
		ORDER BY scheduled_at
	`
	return r.listScheduled(ctx, "find due scheduled messages", query, now)
}

// Claim moves a pending message to DISPATCHING. It fails with scheduled.ErrAlreadyClaimed
// when the message is no longer pending.
func (r *Repository) Claim(ctx context.Context, id string) error {
	query := `
		UPDATE scheduled_messages
		SET status = 'DISPATCHING', updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'
	`
	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("claim scheduled message: %w", err)
	}
	if result.RowsAffected() == 0 {
		return scheduled.ErrAlreadyClaimed
	}
	return nil
}

// FindStale returns messages claimed before claimedBefore that never left DISPATCHING.
func (r *Repository) FindStale(ctx context.Context, claimedBefore time.Time) ([]domain.ScheduledMessage, error) {
	query := `
		SELECT ` + scheduledColumns + `
		FROM scheduled_messages
		WHERE status = 'DISPATCHING' AND updated_at < $1
		ORDER BY updated_at
	`
	return r.listScheduled(ctx, "find stale scheduled messages", query, claimedBefore)
}

// ReclaimStale takes over a stale DISPATCHING message by refreshing its claim time. It fails
// with scheduled.ErrAlreadyClaimed when the message was resolved or reclaimed in the meantime.
func (r *Repository) ReclaimStale(ctx context.Context, id string, claimedBefore time.Time) error {
	query := `
		UPDATE scheduled_messages
		SET updated_at = NOW()
		WHERE id = $1 AND status = 'DISPATCHING' AND updated_at < $2
	`
	result, err := r.db.Exec(ctx, query, id, claimedBefore)
	if err != nil {
		return fmt.Errorf("reclaim stale scheduled message: %w", err)
	}
	if result.RowsAffected() == 0 {
		return scheduled.ErrAlreadyClaimed
	}
	return nil
}

// FindContact retrieves the contact a message is addressed to.
func (r *Repository) FindContact(ctx context.Context, id string) (*domain.Contact, error) {
	query := `
		SELECT id, name, COALESCE(phone, ''), COALESCE(whatsapp, ''), COALESCE(email, ''), created_at, updated_at
		FROM contacts
		WHERE id = $1
	`
	var c domain.Contact
	err := r.db.QueryRow(ctx, query, id).Scan(
		&c.ID,
		&c.Name,
		&c.Phone,
		&c.WhatsApp,
		&c.Email,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrContactNotFound
		}
		return nil, fmt.Errorf("get contact: %w", err)
	}
	return &c, nil
}

// MarkFailed sets a DISPATCHING message to FAILED and stores the reason.
func (r *Repository) MarkFailed(ctx context.Context, id, reason string) error {
	query := `
		UPDATE scheduled_messages
		SET status = 'FAILED', last_error = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'DISPATCHING'
	`
	result, err := r.db.Exec(ctx, query, id, reason)
	if err != nil {
		return fmt.Errorf("mark as failed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return scheduled.ErrNotDispatching
	}
	return nil
}

// CompleteSent sets a DISPATCHING message to SENT and writes its history record in one
// transaction. Nothing is written when the message is no longer DISPATCHING.
func (r *Repository) CompleteSent(ctx context.Context, id string, record *domain.Message) error {
	metadata, err := json.Marshal(record.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	updateQuery := `
		UPDATE scheduled_messages
		SET status = 'SENT', last_error = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'DISPATCHING'
	`
	result, err := tx.Exec(ctx, updateQuery, id)
	if err != nil {
		return fmt.Errorf("mark as sent: %w", err)
	}
	if result.RowsAffected() == 0 {
		return scheduled.ErrNotDispatching
	}

	insertQuery := `
		INSERT INTO messages (contact_id, channel, direction, content, status, sent_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	err = tx.QueryRow(ctx, insertQuery,
		record.ContactID,
		record.Channel,
		record.Direction,
		record.Content,
		record.Status,
		record.SentAt,
		metadata,
	).Scan(&record.ID, &record.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Create inserts a new scheduled message.
func (r *Repository) Create(ctx context.Context, item *domain.ScheduledMessage) error {
	query := `
		INSERT INTO scheduled_messages (contact_id, channel, content, scheduled_at, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		item.ContactID,
		item.Channel,
		item.Content,
		item.ScheduledAt,
		item.Status,
	).Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert scheduled message: %w", err)
	}
	return nil
}

// ListUpcoming returns pending messages scheduled at or after now, soonest first.
func (r *Repository) ListUpcoming(ctx context.Context, now time.Time, limit int) ([]scheduled.UpcomingMessage, error) {
	query := `
		SELECT s.id, s.contact_id, s.channel, s.content, s.scheduled_at, s.status, COALESCE(s.last_error, ''),
		       s.created_at, s.updated_at, c.name, COALESCE(c.phone, '')
		FROM scheduled_messages s
		JOIN contacts c ON c.id = s.contact_id
		WHERE s.status = 'PENDING' AND s.scheduled_at >= $1
		ORDER BY s.scheduled_at
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list upcoming: %w", err)
	}
	defer rows.Close()

	items := make([]scheduled.UpcomingMessage, 0)
	for rows.Next() {
		var m scheduled.UpcomingMessage
		err := rows.Scan(
			&m.ID,
			&m.ContactID,
			&m.Channel,
			&m.Content,
			&m.ScheduledAt,
			&m.Status,
			&m.LastError,
			&m.CreatedAt,
			&m.UpdatedAt,
			&m.ContactName,
			&m.ContactPhone,
		)
		if err != nil {
			return nil, fmt.Errorf("scan upcoming message: %w", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list upcoming: %w", err)
	}

	return items, nil
}

// GetQueueStats returns message counts by status.
func (r *Repository) GetQueueStats(ctx context.Context) (*scheduled.QueueStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'PENDING'),
			COUNT(*) FILTER (WHERE status = 'DISPATCHING'),
			COUNT(*) FILTER (WHERE status = 'SENT'),
			COUNT(*) FILTER (WHERE status = 'FAILED')
		FROM scheduled_messages
	`
	var stats scheduled.QueueStats
	err := r.db.QueryRow(ctx, query).Scan(
		&stats.Pending,
		&stats.Dispatching,
		&stats.Sent,
		&stats.Failed,
	)
	if err != nil {
		return nil, fmt.Errorf("get queue stats: %w", err)
	}
	return &stats, nil
}
