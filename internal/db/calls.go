package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hpungsan/dayloom/internal/timeline"
)

// RecordModelCall appends one audit row. Rows are never updated.
func (s *Store) RecordModelCall(ctx context.Context, rec *timeline.ModelCallRecord) error {
	if rec.CreatedAt == 0 {
		rec.CreatedAt = s.now().Unix()
	}
	return s.q.Do(ctx, func(ctx context.Context, db *sql.DB) error {
		var httpStatus sql.NullInt64
		if rec.HTTPStatus != nil {
			httpStatus = sql.NullInt64{Int64: int64(*rec.HTTPStatus), Valid: true}
		}
		res, err := db.ExecContext(ctx, `
			INSERT INTO model_calls (
				batch_id, call_group_id, attempt, operation, status, latency_ms, http_status,
				request_url, request_body, response_body, error_kind, error_message, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			toNullInt64(rec.BatchID), rec.CallGroupID, rec.Attempt, rec.Operation, string(rec.Status),
			toNullInt64(rec.LatencyMs), httpStatus, rec.RedactedRequestURL,
			toNullString(rec.RequestBody), toNullString(rec.ResponseBody),
			toNullString(rec.ErrorKind), toNullString(rec.ErrorMessage), rec.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert model call: %w", err)
		}
		rec.ID, err = res.LastInsertId()
		return err
	})
}

// ListModelCalls returns the audit rows for a batch in attempt order.
func (s *Store) ListModelCalls(ctx context.Context, batchID int64) ([]timeline.ModelCallRecord, error) {
	return Query(ctx, s.q, func(ctx context.Context, db *sql.DB) ([]timeline.ModelCallRecord, error) {
		rows, err := db.QueryContext(ctx, `
			SELECT id, batch_id, call_group_id, attempt, operation, status, latency_ms, http_status,
				request_url, request_body, response_body, error_kind, error_message, created_at
			FROM model_calls
			WHERE batch_id = ?
			ORDER BY id ASC
		`, batchID)
		if err != nil {
			return nil, fmt.Errorf("list model calls: %w", err)
		}
		defer rows.Close()

		var out []timeline.ModelCallRecord
		for rows.Next() {
			var (
				r                        timeline.ModelCallRecord
				status                   string
				bID, latency, httpStatus sql.NullInt64
				reqBody, respBody        sql.NullString
				errKind, errMsg          sql.NullString
			)
			if err := rows.Scan(&r.ID, &bID, &r.CallGroupID, &r.Attempt, &r.Operation, &status, &latency, &httpStatus,
				&r.RedactedRequestURL, &reqBody, &respBody, &errKind, &errMsg, &r.CreatedAt); err != nil {
				return nil, err
			}
			r.Status = timeline.CallStatus(status)
			r.BatchID = fromNullInt64(bID)
			r.LatencyMs = fromNullInt64(latency)
			if httpStatus.Valid {
				v := int(httpStatus.Int64)
				r.HTTPStatus = &v
			}
			r.RequestBody = fromNullString(reqBody)
			r.ResponseBody = fromNullString(respBody)
			r.ErrorKind = fromNullString(errKind)
			r.ErrorMessage = fromNullString(errMsg)
			out = append(out, r)
		}
		return out, rows.Err()
	})
}
