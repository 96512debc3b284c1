package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hpungsan/dayloom/internal/timeline"
)

// InsertObservations appends a batch's observations in one transaction and
// fills in their ids.
func (s *Store) InsertObservations(ctx context.Context, obs []timeline.Observation) error {
	if len(obs) == 0 {
		return nil
	}
	return s.q.Do(ctx, func(ctx context.Context, db *sql.DB) error {
		return withTx(ctx, db, func(tx *sql.Tx) error {
			now := s.now().Unix()
			for i := range obs {
				o := &obs[i]
				res, err := tx.ExecContext(ctx, `
					INSERT INTO observations (batch_id, start_ts, end_ts, observation, metadata, llm_model, created_at)
					VALUES (?, ?, ?, ?, ?, ?, ?)
				`, o.BatchID, o.StartTs, o.EndTs, o.Text, toNullString(o.Metadata), toNullString(o.ModelID), now)
				if err != nil {
					return fmt.Errorf("insert observation: %w", err)
				}
				if o.ID, err = res.LastInsertId(); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

// ObservationsInRange returns observations intersecting [from, to) ordered by start.
func (s *Store) ObservationsInRange(ctx context.Context, from, to int64) ([]timeline.Observation, error) {
	return Query(ctx, s.q, func(ctx context.Context, db *sql.DB) ([]timeline.Observation, error) {
		rows, err := db.QueryContext(ctx, `
			SELECT id, batch_id, start_ts, end_ts, observation, metadata, llm_model
			FROM observations
			WHERE start_ts < ? AND end_ts > ?
			ORDER BY start_ts ASC, id ASC
		`, to, from)
		if err != nil {
			return nil, fmt.Errorf("observations in range: %w", err)
		}
		defer rows.Close()

		var out []timeline.Observation
		for rows.Next() {
			var (
				o             timeline.Observation
				meta, modelID sql.NullString
			)
			if err := rows.Scan(&o.ID, &o.BatchID, &o.StartTs, &o.EndTs, &o.Text, &meta, &modelID); err != nil {
				return nil, err
			}
			o.Metadata = fromNullString(meta)
			o.ModelID = fromNullString(modelID)
			out = append(out, o)
		}
		return out, rows.Err()
	})
}
