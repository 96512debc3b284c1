package db

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/hpungsan/dayloom/internal/errors"
	"github.com/hpungsan/dayloom/internal/timeline"
)

const cardColumns = `
	c.id, c.batch_id, c.start_ts, c.end_ts, c.start_label, c.end_label, c.day_key,
	c.category, c.subcategory, c.title, c.summary, c.detailed_summary,
	c.metadata, c.video_ref, c.is_deleted, c.created_at
`

func scanCard(row scanner) (*timeline.ActivityCard, error) {
	var (
		c                      timeline.ActivityCard
		batchID                sql.NullInt64
		sub, summary, detailed sql.NullString
		metadata, videoRef     sql.NullString
		isDeleted              int
	)
	err := row.Scan(&c.ID, &batchID, &c.StartTs, &c.EndTs, &c.StartLabel, &c.EndLabel, &c.DayKey,
		&c.Category, &sub, &c.Title, &summary, &detailed,
		&metadata, &videoRef, &isDeleted, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.BatchID = fromNullInt64(batchID)
	c.Subcategory = fromNullString(sub)
	c.Summary = fromNullString(summary)
	c.DetailedSummary = fromNullString(detailed)
	c.Metadata = fromNullString(metadata)
	c.VideoRef = fromNullString(videoRef)
	c.IsDeleted = isDeleted != 0
	return &c, nil
}

func scanCards(rows *sql.Rows) ([]timeline.ActivityCard, error) {
	defer rows.Close()
	var out []timeline.ActivityCard
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func getCard(ctx context.Context, q querier, id int64) (*timeline.ActivityCard, error) {
	c, err := scanCard(q.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM timeline_cards c WHERE c.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("card", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get card: %w", err)
	}
	return c, nil
}

// The FTS projection is maintained by these two helpers only, always inside
// the transaction that changes the card row. A card is indexed iff it is not
// deleted.

func ftsIndex(ctx context.Context, tx *sql.Tx, c *timeline.ActivityCard) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO timeline_cards_fts (rowid, title, summary, detailed_summary, category, subcategory)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.ID, c.Title, deref(c.Summary), deref(c.DetailedSummary), c.Category, deref(c.Subcategory))
	if err != nil {
		return fmt.Errorf("index card %d: %w", c.ID, err)
	}
	return nil
}

func ftsRemove(ctx context.Context, tx *sql.Tx, id int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM timeline_cards_fts WHERE rowid = ?`, id); err != nil {
		return fmt.Errorf("unindex card %d: %w", id, err)
	}
	return nil
}

func insertCard(ctx context.Context, tx *sql.Tx, c *timeline.ActivityCard, now int64) error {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO timeline_cards (
			batch_id, start_ts, end_ts, start_label, end_label, day_key,
			category, subcategory, title, summary, detailed_summary,
			metadata, video_ref, is_deleted, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
	`,
		toNullInt64(c.BatchID), c.StartTs, c.EndTs, c.StartLabel, c.EndLabel, c.DayKey,
		c.Category, toNullString(c.Subcategory), c.Title, toNullString(c.Summary), toNullString(c.DetailedSummary),
		toNullString(c.Metadata), toNullString(c.VideoRef), now, now,
	)
	if err != nil {
		return fmt.Errorf("insert card: %w", err)
	}
	if c.ID, err = res.LastInsertId(); err != nil {
		return err
	}
	c.IsDeleted = false
	c.CreatedAt = now
	return ftsIndex(ctx, tx, c)
}

func softDeleteCard(ctx context.Context, tx *sql.Tx, id, now int64) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE timeline_cards SET is_deleted = 1, updated_at = ? WHERE id = ?`, now, id); err != nil {
		return fmt.Errorf("soft delete card %d: %w", id, err)
	}
	return ftsRemove(ctx, tx, id)
}

// ReplaceRequest is one range reconciliation.
type ReplaceRequest struct {
	FromTs  int64
	ToTs    int64
	BatchID int64
	Cards   []timeline.ActivityCard
	Display timeline.Display
}

// ReplaceResult reports what a reconciliation changed.
type ReplaceResult struct {
	InsertedIDs      []int64
	RemovedIDs       []int64
	RemovedVideoRefs []string
	// DayKeys lists every day touched by an inserted or removed card.
	DayKeys []string
}

// NormalizeCandidates sorts candidates by start and trims each one so it
// begins no earlier than the previous one ends. Candidates left empty are
// dropped. The returned slice never contains two overlapping cards.
func NormalizeCandidates(cards []timeline.ActivityCard) []timeline.ActivityCard {
	sorted := make([]timeline.ActivityCard, len(cards))
	copy(sorted, cards)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].StartTs != sorted[j].StartTs {
			return sorted[i].StartTs < sorted[j].StartTs
		}
		return sorted[i].EndTs > sorted[j].EndTs
	})

	out := make([]timeline.ActivityCard, 0, len(sorted))
	for _, c := range sorted {
		if n := len(out); n > 0 && c.StartTs < out[n-1].EndTs {
			c.StartTs = out[n-1].EndTs
		}
		if c.EndTs <= c.StartTs {
			continue
		}
		out = append(out, c)
	}
	return out
}

// ReplaceCardsInRange atomically swaps the cards of [FromTs, ToTs):
//
//  1. every non-deleted card intersecting the range is soft-deleted, except
//     System cards that belong to a different batch (or to none)
//  2. candidates are normalized, then trimmed where they spill onto live
//     non-System cards outside the range; those cards are never removed
//  3. the candidates are inserted with the batch id and display labels
//
// The FTS projection is updated in the same transaction.
func (s *Store) ReplaceCardsInRange(ctx context.Context, req ReplaceRequest) (*ReplaceResult, error) {
	if req.ToTs <= req.FromTs {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid range [%d, %d)", req.FromTs, req.ToTs))
	}
	cards := NormalizeCandidates(req.Cards)

	return Query(ctx, s.q, func(ctx context.Context, db *sql.DB) (*ReplaceResult, error) {
		res := &ReplaceResult{}
		days := map[string]bool{}

		err := withTx(ctx, db, func(tx *sql.Tx) error {
			now := s.now().Unix()

			rows, err := tx.QueryContext(ctx, `SELECT `+cardColumns+`
				FROM timeline_cards c
				WHERE c.is_deleted = 0 AND c.start_ts < ? AND c.end_ts > ?
				ORDER BY c.start_ts ASC, c.id ASC
			`, req.ToTs, req.FromTs)
			if err != nil {
				return fmt.Errorf("select overlapping cards: %w", err)
			}
			existing, err := scanCards(rows)
			if err != nil {
				return err
			}

			for _, c := range existing {
				if c.IsSystem() && (c.BatchID == nil || *c.BatchID != req.BatchID) {
					continue
				}
				if err := softDeleteCard(ctx, tx, c.ID, now); err != nil {
					return err
				}
				res.RemovedIDs = append(res.RemovedIDs, c.ID)
				if c.VideoRef != nil && *c.VideoRef != "" {
					res.RemovedVideoRefs = append(res.RemovedVideoRefs, *c.VideoRef)
				}
				days[c.DayKey] = true
			}

			cards, err = trimToNeighbours(ctx, tx, cards, req.FromTs, req.ToTs)
			if err != nil {
				return err
			}

			batchID := req.BatchID
			for i := range cards {
				c := &cards[i]
				c.BatchID = &batchID
				req.Display.Apply(c)
				if err := insertCard(ctx, tx, c, now); err != nil {
					return err
				}
				res.InsertedIDs = append(res.InsertedIDs, c.ID)
				days[c.DayKey] = true
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		res.DayKeys = sortedKeys(days)
		return res, nil
	})
}

// trimToNeighbours clips candidates against the live non-System cards that
// survived the range deletion. Every survivor lies wholly before from or at
// or after to, so a candidate loses its head or its tail, never its middle.
func trimToNeighbours(ctx context.Context, tx *sql.Tx, cards []timeline.ActivityCard, from, to int64) ([]timeline.ActivityCard, error) {
	if len(cards) == 0 {
		return cards, nil
	}
	lo, hi := cards[0].StartTs, cards[0].EndTs
	for _, c := range cards[1:] {
		lo = min(lo, c.StartTs)
		hi = max(hi, c.EndTs)
	}
	if lo >= from && hi <= to {
		return cards, nil
	}

	rows, err := tx.QueryContext(ctx, `SELECT `+cardColumns+`
		FROM timeline_cards c
		WHERE c.is_deleted = 0 AND c.category != ? AND c.start_ts < ? AND c.end_ts > ?
		ORDER BY c.start_ts ASC, c.id ASC
	`, timeline.SystemCategory, hi, lo)
	if err != nil {
		return nil, fmt.Errorf("select neighbouring cards: %w", err)
	}
	neighbours, err := scanCards(rows)
	if err != nil {
		return nil, err
	}

	out := cards[:0]
	for _, c := range cards {
		for _, n := range neighbours {
			if !c.Overlaps(n.StartTs, n.EndTs) {
				continue
			}
			if n.EndTs <= from {
				c.StartTs = max(c.StartTs, n.EndTs)
			} else {
				c.EndTs = min(c.EndTs, n.StartTs)
			}
		}
		if c.EndTs > c.StartTs {
			out = append(out, c)
		}
	}
	return out, nil
}

// InsertFailureCard records a System card covering a failed batch. Any
// earlier System card of the same batch is replaced.
func (s *Store) InsertFailureCard(ctx context.Context, card timeline.ActivityCard, display timeline.Display) (*timeline.ActivityCard, error) {
	if card.BatchID == nil {
		return nil, errors.NewInvalidRequest("failure card requires a batch id")
	}
	if card.EndTs <= card.StartTs {
		return nil, errors.NewInvalidRequest("failure card requires a non-empty range")
	}
	card.Category = timeline.SystemCategory
	display.Apply(&card)

	return Query(ctx, s.q, func(ctx context.Context, db *sql.DB) (*timeline.ActivityCard, error) {
		err := withTx(ctx, db, func(tx *sql.Tx) error {
			now := s.now().Unix()
			rows, err := tx.QueryContext(ctx,
				`SELECT id FROM timeline_cards WHERE batch_id = ? AND category = ? AND is_deleted = 0`,
				*card.BatchID, timeline.SystemCategory)
			if err != nil {
				return fmt.Errorf("select previous failure cards: %w", err)
			}
			var ids []int64
			for rows.Next() {
				var id int64
				if err := rows.Scan(&id); err != nil {
					rows.Close()
					return err
				}
				ids = append(ids, id)
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return err
			}
			for _, id := range ids {
				if err := softDeleteCard(ctx, tx, id, now); err != nil {
					return err
				}
			}
			return insertCard(ctx, tx, &card, now)
		})
		if err != nil {
			return nil, err
		}
		return &card, nil
	})
}

// CardFilter narrows ListCards. Zero values mean "no constraint".
type CardFilter struct {
	FromTs         int64
	ToTs           int64
	DayKey         string
	BatchID        int64
	ExcludeSystem  bool
	IncludeDeleted bool
}

// ListCards returns cards ordered by start time.
func (s *Store) ListCards(ctx context.Context, f CardFilter) ([]timeline.ActivityCard, error) {
	return Query(ctx, s.q, func(ctx context.Context, db *sql.DB) ([]timeline.ActivityCard, error) {
		var (
			conds []string
			args  []any
		)
		if !f.IncludeDeleted {
			conds = append(conds, "c.is_deleted = 0")
		}
		if f.ToTs > 0 {
			conds = append(conds, "c.start_ts < ?")
			args = append(args, f.ToTs)
		}
		if f.FromTs > 0 {
			conds = append(conds, "c.end_ts > ?")
			args = append(args, f.FromTs)
		}
		if f.DayKey != "" {
			conds = append(conds, "c.day_key = ?")
			args = append(args, f.DayKey)
		}
		if f.BatchID > 0 {
			conds = append(conds, "c.batch_id = ?")
			args = append(args, f.BatchID)
		}
		if f.ExcludeSystem {
			conds = append(conds, "c.category != ?")
			args = append(args, timeline.SystemCategory)
		}

		query := `SELECT ` + cardColumns + ` FROM timeline_cards c`
		if len(conds) > 0 {
			query += " WHERE " + strings.Join(conds, " AND ")
		}
		query += " ORDER BY c.start_ts ASC, c.id ASC"

		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("list cards: %w", err)
		}
		return scanCards(rows)
	})
}

// GetCard retrieves a card by id, deleted or not.
func (s *Store) GetCard(ctx context.Context, id int64) (*timeline.ActivityCard, error) {
	return Query(ctx, s.q, func(ctx context.Context, db *sql.DB) (*timeline.ActivityCard, error) {
		return getCard(ctx, db, id)
	})
}

// UpdateCardCategory edits category and subcategory of a live card in place.
func (s *Store) UpdateCardCategory(ctx context.Context, id int64, category string, subcategory *string) (*timeline.ActivityCard, error) {
	return s.mutateCard(ctx, id, func(ctx context.Context, tx *sql.Tx, now int64) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE timeline_cards SET category = ?, subcategory = ?, updated_at = ? WHERE id = ?`,
			category, toNullString(subcategory), now, id)
		return err
	})
}

// AttachCardVideo sets the derived video reference of a live card.
func (s *Store) AttachCardVideo(ctx context.Context, id int64, videoRef string) (*timeline.ActivityCard, error) {
	return s.mutateCard(ctx, id, func(ctx context.Context, tx *sql.Tx, now int64) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE timeline_cards SET video_ref = ?, updated_at = ? WHERE id = ?`,
			videoRef, now, id)
		return err
	})
}

// mutateCard applies update to a non-deleted card and re-indexes it.
func (s *Store) mutateCard(ctx context.Context, id int64, update func(ctx context.Context, tx *sql.Tx, now int64) error) (*timeline.ActivityCard, error) {
	return Query(ctx, s.q, func(ctx context.Context, db *sql.DB) (*timeline.ActivityCard, error) {
		var out *timeline.ActivityCard
		err := withTx(ctx, db, func(tx *sql.Tx) error {
			cur, err := getCard(ctx, tx, id)
			if err != nil {
				return err
			}
			if cur.IsDeleted {
				return errors.NewNotFound("card", id)
			}
			if err := update(ctx, tx, s.now().Unix()); err != nil {
				return fmt.Errorf("update card %d: %w", id, err)
			}
			if out, err = getCard(ctx, tx, id); err != nil {
				return err
			}
			if err := ftsRemove(ctx, tx, id); err != nil {
				return err
			}
			return ftsIndex(ctx, tx, out)
		})
		return out, err
	})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
