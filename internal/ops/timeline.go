package ops

import (
	"context"
	"sort"
	"time"

	"github.com/hpungsan/dayloom/internal/config"
	"github.com/hpungsan/dayloom/internal/db"
	"github.com/hpungsan/dayloom/internal/timeline"
)

// TimelineInput contains parameters for the ListTimeline operation.
type TimelineInput struct {
	Day            string // YYYY-MM-DD, default: today
	ExcludeSystem  bool
	IncludeDeleted bool
	Now            time.Time // zero means time.Now()
}

// CategoryTotal is the time spent in one category during the day.
type CategoryTotal struct {
	Category string `json:"category"`
	Seconds  int64  `json:"seconds"`
}

// TimelineOutput contains the result of the ListTimeline operation.
type TimelineOutput struct {
	DayKey string                  `json:"day_key"`
	FromTs int64                   `json:"from_ts"`
	ToTs   int64                   `json:"to_ts"`
	Cards  []timeline.ActivityCard `json:"cards"`
	Totals []CategoryTotal         `json:"totals"`
}

// ListTimeline returns the cards overlapping one timeline day, ordered by
// start, with per-category totals clipped to the day. System cards count
// toward no total.
func ListTimeline(ctx context.Context, store *db.Store, cfg *config.Config, input TimelineInput) (*TimelineOutput, error) {
	now := input.Now
	if now.IsZero() {
		now = time.Now()
	}
	day, from, to, err := resolveDay(DisplayFor(cfg), input.Day, now)
	if err != nil {
		return nil, err
	}

	cards, err := store.ListCards(ctx, db.CardFilter{
		FromTs:         from,
		ToTs:           to,
		ExcludeSystem:  input.ExcludeSystem,
		IncludeDeleted: input.IncludeDeleted,
	})
	if err != nil {
		return nil, err
	}
	if cards == nil {
		cards = []timeline.ActivityCard{}
	}

	return &TimelineOutput{
		DayKey: day,
		FromTs: from,
		ToTs:   to,
		Cards:  cards,
		Totals: categoryTotals(cards, from, to),
	}, nil
}

func categoryTotals(cards []timeline.ActivityCard, from, to int64) []CategoryTotal {
	sums := map[string]int64{}
	for _, c := range cards {
		if c.IsSystem() || c.IsDeleted {
			continue
		}
		start, end := max(c.StartTs, from), min(c.EndTs, to)
		if end > start {
			sums[c.Category] += end - start
		}
	}
	out := make([]CategoryTotal, 0, len(sums))
	for cat, sec := range sums {
		out = append(out, CategoryTotal{Category: cat, Seconds: sec})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Seconds != out[j].Seconds {
			return out[i].Seconds > out[j].Seconds
		}
		return out[i].Category < out[j].Category
	})
	return out
}
