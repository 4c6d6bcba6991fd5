package pgshipping

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BearBump/TrackHub/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// CreateRawEvent пишет запись аудита в статусе pending и заполняет ID/CreatedAt.
func (s *Storage) CreateRawEvent(ctx context.Context, ev *models.RawIngestEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	if ev.Status == "" {
		ev.Status = models.IngestStatusPending
	}
	headers := ev.Headers
	if headers == nil {
		headers = map[string]string{}
	}

	// payload может быть не-JSON (битое тело): такое сохраняем как NULL, а ошибку пишем в error_message.
	var payload any
	if len(ev.Payload) > 0 && json.Valid(ev.Payload) {
		payload = string(ev.Payload)
	}

	_, err := s.db.Exec(ctx, `
INSERT INTO raw_ingest_events (
  id, provider, event_type, external_id, payload, headers, status, error_message, created_at
)
VALUES ($1,$2,$3,$4,$5::jsonb,$6,$7,$8,$9)
`, ev.ID, ev.Provider, ev.EventType, ev.ExternalID, payload, headers, ev.Status, ev.ErrorMessage, ev.CreatedAt)
	return errors.Wrap(err, "insert raw event")
}

// FinishRawEvent переводит событие в терминальный статус; повторный вызов ничего не меняет.
func (s *Storage) FinishRawEvent(ctx context.Context, id, status string, errMsg *string) error {
	_, err := s.db.Exec(ctx, `
UPDATE raw_ingest_events
SET status = $2, error_message = $3, processed_at = now()
WHERE id = $1 AND status = $4
`, id, status, errMsg, models.IngestStatusPending)
	return errors.Wrap(err, "finish raw event")
}

func (s *Storage) ListRawEvents(ctx context.Context, status string, limit int) ([]*models.RawIngestEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.db.Query(ctx, `
SELECT
  id, provider, event_type, external_id, payload, headers,
  status, error_message, processed_at, created_at
FROM raw_ingest_events
WHERE ($1 = '' OR status = $1)
ORDER BY created_at DESC
LIMIT $2
`, status, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select raw events")
	}
	defer rows.Close()

	var out []*models.RawIngestEvent
	for rows.Next() {
		var e models.RawIngestEvent
		var payload []byte
		if err := rows.Scan(
			&e.ID, &e.Provider, &e.EventType, &e.ExternalID, &payload, &e.Headers,
			&e.Status, &e.ErrorMessage, &e.ProcessedAt, &e.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan raw event")
		}
		e.Payload = payload
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
