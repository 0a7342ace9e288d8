package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/formworks/formworks/internal/forms/domain"
	"github.com/formworks/formworks/internal/forms/storage"
)

const outboxColumns = `
	id,
	event_type,
	form_id,
	payload_json,
	meta_json,
	dedupe_key,
	public_stream,
	private_stream,
	status,
	attempt_count,
	next_attempt_at,
	lease_owner,
	lease_expires_at,
	last_error,
	processed_at,
	created_at,
	updated_at
`

// EnqueueOutboxEvent durably stages one lifecycle event for broker delivery.
// A duplicate dedupe key is dropped silently so replays of the same logical
// event stage at most one row.
func (s *Store) EnqueueOutboxEvent(ctx context.Context, event storage.OutboxEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	event.ID = strings.TrimSpace(event.ID)
	if event.ID == "" {
		return fmt.Errorf("outbox event id is required")
	}
	if event.EventType == "" {
		return fmt.Errorf("outbox event type is required")
	}
	if event.PayloadJSON == "" {
		event.PayloadJSON = "{}"
	}
	if event.MetaJSON == "" {
		event.MetaJSON = "{}"
	}
	if event.Status == "" {
		event.Status = storage.OutboxStatusPending
	}
	if event.NextAttemptAt.IsZero() {
		event.NextAttemptAt = event.CreatedAt
	}

	if _, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO form_event_outbox (`+outboxColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(dedupe_key) WHERE dedupe_key <> '' DO NOTHING
`,
		event.ID,
		string(event.EventType),
		event.FormID,
		event.PayloadJSON,
		event.MetaJSON,
		event.DedupeKey,
		boolToInt(event.PublicStream),
		boolToInt(event.PrivateStream),
		event.Status,
		event.AttemptCount,
		toMillis(event.NextAttemptAt),
		event.LeaseOwner,
		toNullMillis(event.LeaseExpiresAt),
		event.LastError,
		toNullMillis(event.ProcessedAt),
		toMillis(event.CreatedAt),
		toMillis(event.UpdatedAt),
	); err != nil {
		return fmt.Errorf("enqueue outbox event: %w", err)
	}
	return nil
}

// GetOutboxEvent returns one staged event by id.
func (s *Store) GetOutboxEvent(ctx context.Context, id string) (storage.OutboxEvent, error) {
	if err := ctx.Err(); err != nil {
		return storage.OutboxEvent{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.OutboxEvent{}, fmt.Errorf("storage is not configured")
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return storage.OutboxEvent{}, fmt.Errorf("outbox event id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+outboxColumns+` FROM form_event_outbox WHERE id = ?`, id)
	event, err := scanOutboxEvent(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.OutboxEvent{}, storage.ErrNotFound
		}
		return storage.OutboxEvent{}, fmt.Errorf("get outbox event: %w", err)
	}
	return event, nil
}

// LeaseOutboxEvents claims up to limit due events for the named consumer.
//
// Candidates are pending rows whose next attempt is due, plus leased rows
// whose lease expired (a crashed consumer). Each candidate is claimed with a
// guarded update so two relays draining concurrently never double-claim a
// row; rows lost to the race are skipped.
func (s *Store) LeaseOutboxEvents(ctx context.Context, consumer string, limit int, now time.Time, leaseTTL time.Duration) ([]storage.OutboxEvent, error) {
	if consumer == "" {
		return nil, fmt.Errorf("lease consumer is required")
	}
	if limit <= 0 {
		return nil, nil
	}

	var leased []storage.OutboxEvent
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
SELECT id FROM form_event_outbox
WHERE (status = ? AND next_attempt_at <= ?)
   OR (status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?)
ORDER BY next_attempt_at ASC, created_at ASC
LIMIT ?
`,
			storage.OutboxStatusPending, toMillis(now),
			storage.OutboxStatusLeased, toMillis(now),
			limit,
		)
		if err != nil {
			return fmt.Errorf("select outbox candidates: %w", err)
		}
		var candidates []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scan outbox candidate: %w", err)
			}
			candidates = append(candidates, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("iterate outbox candidates: %w", err)
		}
		rows.Close()

		leaseExpiresAt := toMillis(now.Add(leaseTTL))
		for _, id := range candidates {
			result, err := tx.ExecContext(ctx, `
UPDATE form_event_outbox
SET status = ?, lease_owner = ?, lease_expires_at = ?, attempt_count = attempt_count + 1, updated_at = ?
WHERE id = ?
  AND ((status = ? AND next_attempt_at <= ?)
    OR (status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?))
`,
				storage.OutboxStatusLeased, consumer, leaseExpiresAt, toMillis(now),
				id,
				storage.OutboxStatusPending, toMillis(now),
				storage.OutboxStatusLeased, toMillis(now),
			)
			if err != nil {
				return fmt.Errorf("claim outbox event: %w", err)
			}
			rowsAffected, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("claim outbox event rows affected: %w", err)
			}
			if rowsAffected == 0 {
				continue
			}

			row := tx.QueryRowContext(ctx, `SELECT `+outboxColumns+` FROM form_event_outbox WHERE id = ?`, id)
			event, err := scanOutboxEvent(row.Scan)
			if err != nil {
				return fmt.Errorf("read leased outbox event: %w", err)
			}
			leased = append(leased, event)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return leased, nil
}

// MarkOutboxSucceeded resolves a leased event after a confirmed publish. The
// lease owner guard makes a stale consumer's late ack a no-op.
func (s *Store) MarkOutboxSucceeded(ctx context.Context, id, consumer string, processedAt time.Time) error {
	return s.resolveOutboxEvent(ctx, id, consumer, `
UPDATE form_event_outbox
SET status = ?, lease_owner = '', lease_expires_at = NULL, processed_at = ?, last_error = '', updated_at = ?
WHERE id = ? AND status = ? AND lease_owner = ?
`, storage.OutboxStatusSucceeded, toMillis(processedAt), toMillis(processedAt), id, storage.OutboxStatusLeased, consumer)
}

// MarkOutboxRetry releases a leased event back to pending with a later due
// time after a failed publish attempt.
func (s *Store) MarkOutboxRetry(ctx context.Context, id, consumer string, nextAttemptAt time.Time, lastError string) error {
	return s.resolveOutboxEvent(ctx, id, consumer, `
UPDATE form_event_outbox
SET status = ?, lease_owner = '', lease_expires_at = NULL, next_attempt_at = ?, last_error = ?, updated_at = ?
WHERE id = ? AND status = ? AND lease_owner = ?
`, storage.OutboxStatusPending, toMillis(nextAttemptAt), lastError, toMillis(nextAttemptAt), id, storage.OutboxStatusLeased, consumer)
}

// MarkOutboxDead parks a leased event after its attempts are exhausted. Dead
// rows stay in the table for operator inspection.
func (s *Store) MarkOutboxDead(ctx context.Context, id, consumer string, lastError string, processedAt time.Time) error {
	return s.resolveOutboxEvent(ctx, id, consumer, `
UPDATE form_event_outbox
SET status = ?, lease_owner = '', lease_expires_at = NULL, last_error = ?, processed_at = ?, updated_at = ?
WHERE id = ? AND status = ? AND lease_owner = ?
`, storage.OutboxStatusDead, lastError, toMillis(processedAt), toMillis(processedAt), id, storage.OutboxStatusLeased, consumer)
}

func (s *Store) resolveOutboxEvent(ctx context.Context, id, consumer, query string, args ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("outbox event id is required")
	}
	if consumer == "" {
		return fmt.Errorf("lease consumer is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("resolve outbox event: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve outbox event rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

type outboxScanner func(dest ...any) error

func scanOutboxEvent(scan outboxScanner) (storage.OutboxEvent, error) {
	var event storage.OutboxEvent
	var eventType string
	var publicStream, privateStream int
	var nextAttemptAt, createdAt, updatedAt int64
	var leaseExpiresAt, processedAt sql.NullInt64
	if err := scan(
		&event.ID,
		&eventType,
		&event.FormID,
		&event.PayloadJSON,
		&event.MetaJSON,
		&event.DedupeKey,
		&publicStream,
		&privateStream,
		&event.Status,
		&event.AttemptCount,
		&nextAttemptAt,
		&event.LeaseOwner,
		&leaseExpiresAt,
		&event.LastError,
		&processedAt,
		&createdAt,
		&updatedAt,
	); err != nil {
		return storage.OutboxEvent{}, err
	}
	event.EventType = domain.EventType(eventType)
	event.PublicStream = publicStream != 0
	event.PrivateStream = privateStream != 0
	event.NextAttemptAt = fromMillis(nextAttemptAt)
	event.LeaseExpiresAt = fromNullMillis(leaseExpiresAt)
	event.ProcessedAt = fromNullMillis(processedAt)
	event.CreatedAt = fromMillis(createdAt)
	event.UpdatedAt = fromMillis(updatedAt)
	return event, nil
}
