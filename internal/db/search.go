package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hpungsan/dayloom/internal/timeline"
)

// SearchHit is one full-text match.
type SearchHit struct {
	Card timeline.ActivityCard `json:"card"`
	Rank float64               `json:"rank"`
}

// SearchCards runs a BM25-ranked full-text query over live cards. Each word
// of query is matched as a quoted term so user input never reaches the FTS
// query parser as syntax.
func (s *Store) SearchCards(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	match := sanitizeFTS(query)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	return Query(ctx, s.q, func(ctx context.Context, db *sql.DB) ([]SearchHit, error) {
		rows, err := db.QueryContext(ctx, `
			SELECT `+cardColumns+`, bm25(timeline_cards_fts) AS rank
			FROM timeline_cards_fts
			JOIN timeline_cards c ON c.id = timeline_cards_fts.rowid
			WHERE timeline_cards_fts MATCH ? AND c.is_deleted = 0
			ORDER BY rank ASC, c.start_ts DESC
			LIMIT ?
		`, match, limit)
		if err != nil {
			return nil, fmt.Errorf("search cards: %w", err)
		}
		defer rows.Close()

		var hits []SearchHit
		for rows.Next() {
			var rank float64
			c, err := scanCard(rankScanner{rows: rows, rank: &rank})
			if err != nil {
				return nil, err
			}
			hits = append(hits, SearchHit{Card: *c, Rank: rank})
		}
		return hits, rows.Err()
	})
}

// rankScanner appends the trailing rank column to a card scan.
type rankScanner struct {
	rows *sql.Rows
	rank *float64
}

func (r rankScanner) Scan(dest ...any) error {
	return r.rows.Scan(append(dest, r.rank)...)
}

func sanitizeFTS(query string) string {
	var terms []string
	for _, w := range strings.Fields(query) {
		w = strings.ReplaceAll(w, `"`, "")
		if w != "" {
			terms = append(terms, `"`+w+`"`)
		}
	}
	return strings.Join(terms, " ")
}
