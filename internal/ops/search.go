package ops

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hpungsan/dayloom/internal/db"
	"github.com/hpungsan/dayloom/internal/errors"
	"github.com/hpungsan/dayloom/internal/timeline"
)

// MaxQueryLength bounds search queries in characters.
const MaxQueryLength = 500

// SearchInput contains parameters for the SearchCards operation.
type SearchInput struct {
	Query string // required
	Limit int    // default: 20, max: 100
}

// SearchResultItem is a matching card with its BM25 rank (lower is better).
type SearchResultItem struct {
	timeline.ActivityCard
	Rank float64 `json:"rank"`
}

// SearchOutput contains the result of the SearchCards operation.
type SearchOutput struct {
	Query string             `json:"query"`
	Items []SearchResultItem `json:"items"`
	Sort  string             `json:"sort"`
}

// SearchCards runs a full-text search over live cards' title, summaries,
// category and subcategory.
func SearchCards(ctx context.Context, store *db.Store, input SearchInput) (*SearchOutput, error) {
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return nil, errors.NewInvalidRequest("query is required")
	}
	if utf8.RuneCountInString(query) > MaxQueryLength {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("query exceeds %d characters", MaxQueryLength))
	}

	limit := clampLimit(input.Limit, DefaultSearchLimit, MaxSearchLimit)
	hits, err := store.SearchCards(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	items := make([]SearchResultItem, 0, len(hits))
	for _, h := range hits {
		items = append(items, SearchResultItem{ActivityCard: h.Card, Rank: h.Rank})
	}
	return &SearchOutput{Query: query, Items: items, Sort: "relevance"}, nil
}
