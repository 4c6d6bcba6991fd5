package pgshipping

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BearBump/TrackHub/internal/broker/messages"
	"github.com/BearBump/TrackHub/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

func insertOutbox(ctx context.Context, tx pgx.Tx, msg messages.ShipmentStatusChanged) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal outbox payload")
	}
	_, err = tx.Exec(ctx, `
INSERT INTO shipment_outbox (id, shipment_id, event_type, payload, status, attempts, next_attempt_at, created_at)
VALUES ($1,$2,$3,$4::jsonb,$5,0,$6,$6)
`, uuid.NewString(), msg.ShipmentID, msg.Type, string(payload), models.OutboxStatusPending, msg.OccurredAt.UTC())
	return errors.Wrap(err, "insert outbox")
}

// ClaimDueOutbox выбирает пачку неопубликованных событий и "бронирует" их на lease,
// чтобы параллельный relay их не взял. SELECT ... FOR UPDATE SKIP LOCKED.
// Событие не берётся, пока более раннее событие той же посылки ждёт повтора.
func (s *Storage) ClaimDueOutbox(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.OutboxEntry, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT o.id, o.shipment_id, o.event_type, o.payload, o.status, o.attempts, o.next_attempt_at, o.last_error, o.created_at, o.published_at
FROM shipment_outbox o
WHERE o.status = $1
  AND o.next_attempt_at <= $2
  AND NOT EXISTS (
    SELECT 1 FROM shipment_outbox p
    WHERE p.shipment_id = o.shipment_id
      AND p.status = $1
      AND p.seq < o.seq
      AND p.next_attempt_at > $2
  )
ORDER BY o.seq ASC
LIMIT $3
FOR UPDATE OF o SKIP LOCKED
`, models.OutboxStatusPending, now.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "select due outbox")
	}
	defer rows.Close()

	var picked []*models.OutboxEntry
	for rows.Next() {
		var e models.OutboxEntry
		var payload []byte
		if err := rows.Scan(
			&e.ID, &e.ShipmentID, &e.EventType, &payload, &e.Status, &e.Attempts,
			&e.NextAttemptAt, &e.LastError, &e.CreatedAt, &e.PublishedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan outbox")
		}
		e.Payload = payload
		picked = append(picked, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	rows.Close()

	leaseUntil := now.UTC().Add(lease)
	for _, e := range picked {
		if _, err := tx.Exec(ctx, `UPDATE shipment_outbox SET next_attempt_at = $2 WHERE id = $1`, e.ID, leaseUntil); err != nil {
			return nil, errors.Wrap(err, "lease outbox")
		}
		e.NextAttemptAt = leaseUntil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return picked, nil
}

func (s *Storage) MarkOutboxPublished(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.Exec(ctx, `
UPDATE shipment_outbox
SET status = $2, published_at = $3, attempts = attempts + 1, last_error = NULL
WHERE id = $1
`, id, models.OutboxStatusPublished, at.UTC())
	return errors.Wrap(err, "mark outbox published")
}

func (s *Storage) MarkOutboxFailed(ctx context.Context, id, lastErr string, nextAttemptAt time.Time) error {
	_, err := s.db.Exec(ctx, `
UPDATE shipment_outbox
SET attempts = attempts + 1, last_error = $2, next_attempt_at = $3
WHERE id = $1
`, id, lastErr, nextAttemptAt.UTC())
	return errors.Wrap(err, "mark outbox failed")
}

// DeferOutbox откладывает событие, ждущее более раннее событие той же посылки.
// attempts не растёт: публиковать его ещё не пытались.
func (s *Storage) DeferOutbox(ctx context.Context, id, reason string, until time.Time) error {
	_, err := s.db.Exec(ctx, `
UPDATE shipment_outbox
SET last_error = $2, next_attempt_at = $3
WHERE id = $1
`, id, reason, until.UTC())
	return errors.Wrap(err, "defer outbox")
}

// PurgeIdempotencyRecords удаляет ключи старше olderThan; окно ретенции задаёт вызывающий.
func (s *Storage) PurgeIdempotencyRecords(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM idempotency_records WHERE created_at < $1`, olderThan.UTC())
	if err != nil {
		return 0, errors.Wrap(err, "purge idempotency records")
	}
	return tag.RowsAffected(), nil
}
