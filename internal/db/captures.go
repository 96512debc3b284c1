package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hpungsan/dayloom/internal/errors"
	"github.com/hpungsan/dayloom/internal/timeline"
)

const captureColumns = `
	e.id, e.captured_at, e.image_ref,
	EXISTS (SELECT 1 FROM batch_event_links l WHERE l.event_id = e.id)
`

func scanCapture(row scanner) (timeline.CaptureEvent, error) {
	var ev timeline.CaptureEvent
	err := row.Scan(&ev.ID, &ev.CapturedAt, &ev.ImageRef, &ev.Processed)
	return ev, err
}

func scanCaptures(rows *sql.Rows) ([]timeline.CaptureEvent, error) {
	defer rows.Close()
	var out []timeline.CaptureEvent
	for rows.Next() {
		ev, err := scanCapture(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// InsertCaptureEvent registers a capture. Re-registering the same imageRef
// is a no-op that returns the existing event with inserted=false.
func (s *Store) InsertCaptureEvent(ctx context.Context, capturedAt int64, imageRef string) (ev *timeline.CaptureEvent, inserted bool, err error) {
	if imageRef == "" {
		return nil, false, errors.NewInvalidRequest("image_ref is required")
	}
	err = s.q.Do(ctx, func(ctx context.Context, db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`INSERT OR IGNORE INTO capture_events (captured_at, image_ref, created_at) VALUES (?, ?, ?)`,
			capturedAt, imageRef, s.now().Unix())
		if err != nil {
			return fmt.Errorf("insert capture event: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		inserted = n > 0

		got, err := scanCapture(db.QueryRowContext(ctx,
			`SELECT `+captureColumns+` FROM capture_events e WHERE e.image_ref = ?`, imageRef))
		if err != nil {
			return fmt.Errorf("load capture event: %w", err)
		}
		ev = &got
		return nil
	})
	return ev, inserted, err
}

// FetchUnprocessedEvents returns events captured at or after sinceTs that no
// batch links to, in capture order.
func (s *Store) FetchUnprocessedEvents(ctx context.Context, sinceTs int64) ([]timeline.CaptureEvent, error) {
	return Query(ctx, s.q, func(ctx context.Context, db *sql.DB) ([]timeline.CaptureEvent, error) {
		rows, err := db.QueryContext(ctx, `
			SELECT `+captureColumns+`
			FROM capture_events e
			WHERE e.captured_at >= ?
			  AND NOT EXISTS (SELECT 1 FROM batch_event_links l WHERE l.event_id = e.id)
			ORDER BY e.captured_at ASC, e.id ASC
		`, sinceTs)
		if err != nil {
			return nil, fmt.Errorf("fetch unprocessed events: %w", err)
		}
		return scanCaptures(rows)
	})
}

// EventsForBatch returns the events linked to a batch in capture order.
func (s *Store) EventsForBatch(ctx context.Context, batchID int64) ([]timeline.CaptureEvent, error) {
	return Query(ctx, s.q, func(ctx context.Context, db *sql.DB) ([]timeline.CaptureEvent, error) {
		rows, err := db.QueryContext(ctx, `
			SELECT `+captureColumns+`
			FROM capture_events e
			JOIN batch_event_links bl ON bl.event_id = e.id
			WHERE bl.batch_id = ?
			ORDER BY e.captured_at ASC, e.id ASC
		`, batchID)
		if err != nil {
			return nil, fmt.Errorf("events for batch: %w", err)
		}
		return scanCaptures(rows)
	})
}
