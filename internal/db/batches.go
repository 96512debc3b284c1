package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hpungsan/dayloom/internal/errors"
	"github.com/hpungsan/dayloom/internal/timeline"
)

const batchColumns = `
	b.id, b.start_ts, b.end_ts, b.status, b.reason, b.created_at, b.updated_at,
	(SELECT COUNT(*) FROM batch_event_links l WHERE l.batch_id = b.id)
`

func scanBatch(row scanner) (*timeline.Batch, error) {
	var (
		b      timeline.Batch
		status string
		reason sql.NullString
	)
	if err := row.Scan(&b.ID, &b.StartTs, &b.EndTs, &status, &reason, &b.CreatedAt, &b.UpdatedAt, &b.EventCount); err != nil {
		return nil, err
	}
	b.Status = timeline.BatchStatus(status)
	b.Reason = fromNullString(reason)
	return &b, nil
}

func getBatch(ctx context.Context, q querier, id int64) (*timeline.Batch, error) {
	b, err := scanBatch(q.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM analysis_batches b WHERE b.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("batch", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return b, nil
}

// NewBatch describes a batch to create from a group of capture events.
type NewBatch struct {
	StartTs        int64
	EndTs          int64
	EventIDs       []int64
	MinDurationSec int64
}

// CreateBatch inserts the batch row and its event links in one transaction
// and decides the initial status:
//   - failed_empty when no event could be linked (all already claimed)
//   - skipped_short when the range is below MinDurationSec
//   - pending otherwise
//
// An event becomes processed only when this transaction commits.
func (s *Store) CreateBatch(ctx context.Context, in NewBatch) (*timeline.Batch, error) {
	if in.EndTs <= in.StartTs {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("batch end %d must be after start %d", in.EndTs, in.StartTs))
	}
	return Query(ctx, s.q, func(ctx context.Context, db *sql.DB) (*timeline.Batch, error) {
		var out *timeline.Batch
		err := withTx(ctx, db, func(tx *sql.Tx) error {
			now := s.now().Unix()
			res, err := tx.ExecContext(ctx, `
				INSERT INTO analysis_batches (start_ts, end_ts, status, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?)
			`, in.StartTs, in.EndTs, string(timeline.StatusPending), now, now)
			if err != nil {
				return fmt.Errorf("insert batch: %w", err)
			}
			batchID, err := res.LastInsertId()
			if err != nil {
				return err
			}

			linked := 0
			for _, eventID := range in.EventIDs {
				r, err := tx.ExecContext(ctx,
					`INSERT OR IGNORE INTO batch_event_links (batch_id, event_id) VALUES (?, ?)`,
					batchID, eventID)
				if err != nil {
					return fmt.Errorf("link event %d: %w", eventID, err)
				}
				if n, _ := r.RowsAffected(); n > 0 {
					linked++
				}
			}

			status := timeline.StatusPending
			var reason *string
			switch {
			case linked == 0:
				status = timeline.StatusFailedEmpty
				reason = strPtr("no capture events could be linked")
			case in.EndTs-in.StartTs < in.MinDurationSec:
				status = timeline.StatusSkippedShort
				reason = strPtr(fmt.Sprintf("duration %ds below minimum %ds", in.EndTs-in.StartTs, in.MinDurationSec))
			}
			if status != timeline.StatusPending {
				if _, err := tx.ExecContext(ctx,
					`UPDATE analysis_batches SET status = ?, reason = ? WHERE id = ?`,
					string(status), toNullString(reason), batchID); err != nil {
					return fmt.Errorf("set initial status: %w", err)
				}
			}

			out, err = getBatch(ctx, tx, batchID)
			return err
		})
		return out, err
	})
}

// NextPendingBatch returns the oldest pending batch, or nil when there is none.
func (s *Store) NextPendingBatch(ctx context.Context) (*timeline.Batch, error) {
	return Query(ctx, s.q, func(ctx context.Context, db *sql.DB) (*timeline.Batch, error) {
		b, err := scanBatch(db.QueryRowContext(ctx, `
			SELECT `+batchColumns+`
			FROM analysis_batches b
			WHERE b.status = ?
			ORDER BY b.start_ts ASC, b.id ASC
			LIMIT 1
		`, string(timeline.StatusPending)))
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("next pending batch: %w", err)
		}
		return b, nil
	})
}

// GetBatch retrieves a batch by id.
func (s *Store) GetBatch(ctx context.Context, id int64) (*timeline.Batch, error) {
	return Query(ctx, s.q, func(ctx context.Context, db *sql.DB) (*timeline.Batch, error) {
		return getBatch(ctx, db, id)
	})
}

// BatchFilter narrows ListBatches.
type BatchFilter struct {
	Statuses []timeline.BatchStatus
	Limit    int
	Offset   int
}

// ListBatches returns batches newest first.
func (s *Store) ListBatches(ctx context.Context, f BatchFilter) ([]timeline.Batch, int, error) {
	type page struct {
		items []timeline.Batch
		total int
	}
	p, err := Query(ctx, s.q, func(ctx context.Context, db *sql.DB) (page, error) {
		where := ""
		var args []any
		if len(f.Statuses) > 0 {
			ph := make([]string, len(f.Statuses))
			for i, st := range f.Statuses {
				ph[i] = "?"
				args = append(args, string(st))
			}
			where = " WHERE b.status IN (" + strings.Join(ph, ",") + ")"
		}

		var total int
		if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM analysis_batches b`+where, args...).Scan(&total); err != nil {
			return page{}, fmt.Errorf("count batches: %w", err)
		}

		limit := f.Limit
		if limit <= 0 {
			limit = 50
		}
		rows, err := db.QueryContext(ctx,
			`SELECT `+batchColumns+` FROM analysis_batches b`+where+` ORDER BY b.start_ts DESC, b.id DESC LIMIT ? OFFSET ?`,
			append(args, limit, f.Offset)...)
		if err != nil {
			return page{}, fmt.Errorf("list batches: %w", err)
		}
		defer rows.Close()

		var items []timeline.Batch
		for rows.Next() {
			b, err := scanBatch(rows)
			if err != nil {
				return page{}, err
			}
			items = append(items, *b)
		}
		return page{items: items, total: total}, rows.Err()
	})
	return p.items, p.total, err
}

// UpdateBatchStatus moves a batch to a new status. Illegal transitions
// return CONFLICT and leave the row untouched.
func (s *Store) UpdateBatchStatus(ctx context.Context, id int64, to timeline.BatchStatus, reason *string) (*timeline.Batch, error) {
	return Query(ctx, s.q, func(ctx context.Context, db *sql.DB) (*timeline.Batch, error) {
		var out *timeline.Batch
		err := withTx(ctx, db, func(tx *sql.Tx) error {
			cur, err := getBatch(ctx, tx, id)
			if err != nil {
				return err
			}
			if !timeline.CanTransition(cur.Status, to) {
				return errors.NewConflict(fmt.Sprintf("batch %d: cannot transition from %s to %s", id, cur.Status, to))
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE analysis_batches SET status = ?, reason = ?, updated_at = ? WHERE id = ?`,
				string(to), toNullString(reason), s.now().Unix(), id); err != nil {
				return fmt.Errorf("update batch status: %w", err)
			}
			out, err = getBatch(ctx, tx, id)
			return err
		})
		return out, err
	})
}

func strPtr(s string) *string {
	return &s
}
