// Package ops implements the operator-facing operations over the timeline
// store: day listing, search, export, batch inspection and card edits.
package ops

import (
	"fmt"
	"strings"
	"time"

	"github.com/hpungsan/dayloom/internal/config"
	"github.com/hpungsan/dayloom/internal/errors"
	"github.com/hpungsan/dayloom/internal/timeline"
)

// Pagination limits
const (
	DefaultListLimit   = 50
	MaxListLimit       = 500
	DefaultSearchLimit = 20
	MaxSearchLimit     = 100
)

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// clampLimit applies the default when limit is unset and caps it at max.
func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

// DisplayFor returns the display settings for cfg in the local time zone.
func DisplayFor(cfg *config.Config) timeline.Display {
	return timeline.NewDisplay(cfg.DayStartHour)
}

// resolveDay validates a YYYY-MM-DD day key, defaulting to the day that
// contains now, and returns its [start, end) bounds.
func resolveDay(d timeline.Display, day string, now time.Time) (string, int64, int64, error) {
	day = strings.TrimSpace(day)
	if day == "" {
		day = d.DayKey(now.Unix())
	}
	from, to, err := d.DayBounds(day)
	if err != nil {
		return "", 0, 0, errors.NewInvalidRequest(fmt.Sprintf("day must be YYYY-MM-DD: %q", day))
	}
	return day, from, to, nil
}

// matchCategory returns the configured spelling of category, matched
// case-insensitively against the assignable categories.
func matchCategory(cfg *config.Config, category string) (string, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return "", errors.NewInvalidRequest("category is required")
	}
	if strings.EqualFold(category, timeline.SystemCategory) {
		return "", errors.NewInvalidRequest(fmt.Sprintf("category %q is reserved", timeline.SystemCategory))
	}
	allowed := cfg.AllowedCategories()
	for _, c := range allowed {
		if strings.EqualFold(c, category) {
			return c, nil
		}
	}
	return "", errors.NewInvalidRequest(fmt.Sprintf("unknown category %q; allowed: %v", category, allowed))
}
