package validate

import (
	"math"
	"sort"
	"strings"

	"github.com/hpungsan/dayloom/internal/errors"
	"github.com/hpungsan/dayloom/internal/timeline"
)

// CardWindow is the [StartTs, EndTs) range a card generation call was asked about.
type CardWindow struct {
	StartTs int64
	EndTs   int64
}

// Rejection explains why one candidate card was dropped.
type Rejection struct {
	Index  int
	Reason string
}

// CardResult is the outcome of ParseCards.
type CardResult struct {
	Cards    []timeline.ActivityCard
	Rejected []Rejection
}

// ParseCards validates a card generation response of the form
// {"cards": [{"startTs": 0, "endTs": 0, "category": "", "title": "", ...}]}.
//
// Candidates are dropped individually when their timestamps are not finite,
// the title is empty, the category is not in allowed (System never is), or the
// card does not intersect the window. Inverted bounds are swapped; cards are
// not clamped to the window. Zero surviving cards is an EMPTY_RESULT error.
func ParseCards(text string, window CardWindow, allowed []string) (*CardResult, error) {
	root, err := decodeObject(text)
	if err != nil {
		return nil, errors.NewMalformedResponse("cards: %v", err)
	}
	rawList, ok := root["cards"]
	if !ok {
		return nil, errors.NewMalformedResponse("cards: cards is missing")
	}
	items, ok := rawList.([]any)
	if !ok {
		return nil, errors.NewMalformedResponse("cards: cards is %s, want array", kindOf(rawList))
	}

	res := &CardResult{}
	for i, item := range items {
		card, reason := parseCard(item, window, allowed)
		if reason != "" {
			res.Rejected = append(res.Rejected, Rejection{Index: i, Reason: reason})
			continue
		}
		res.Cards = append(res.Cards, card)
	}

	if len(res.Cards) == 0 {
		e := errors.NewEmptyResult("model returned no valid cards for the window")
		e.Details = map[string]any{"candidates": len(items), "rejected": len(res.Rejected)}
		return nil, e
	}

	sort.SliceStable(res.Cards, func(i, j int) bool {
		if res.Cards[i].StartTs != res.Cards[j].StartTs {
			return res.Cards[i].StartTs < res.Cards[j].StartTs
		}
		return res.Cards[i].EndTs < res.Cards[j].EndTs
	})
	return res, nil
}

func parseCard(item any, window CardWindow, allowed []string) (timeline.ActivityCard, string) {
	var card timeline.ActivityCard

	obj, ok := item.(map[string]any)
	if !ok {
		return card, "not an object"
	}

	startF, err := number(obj, "startTs")
	if err != nil {
		return card, err.Error()
	}
	endF, err := number(obj, "endTs")
	if err != nil {
		return card, err.Error()
	}
	if !unixRange(startF) || !unixRange(endF) {
		return card, "timestamp out of range"
	}
	start, end := int64(math.Floor(startF)), int64(math.Floor(endF))
	if start > end {
		start, end = end, start
	}
	if start == end {
		return card, "empty time range"
	}

	title, _ := obj["title"].(string)
	title = strings.TrimSpace(title)
	if title == "" {
		return card, "title is empty"
	}

	rawCat, _ := obj["category"].(string)
	category, ok := matchCategory(rawCat, allowed)
	if !ok {
		return card, "category not allowed: " + rawCat
	}

	if !(start < window.EndTs && end > window.StartTs) {
		return card, "outside window"
	}

	sub, err := optionalString(obj, "subcategory")
	if err != nil {
		return card, err.Error()
	}
	summary, err := optionalString(obj, "summary")
	if err != nil {
		return card, err.Error()
	}
	detailed, err := optionalString(obj, "detailedSummary")
	if err != nil {
		return card, err.Error()
	}

	card = timeline.ActivityCard{
		StartTs:         start,
		EndTs:           end,
		Category:        category,
		Subcategory:     sub,
		Title:           title,
		Summary:         summary,
		DetailedSummary: detailed,
		Metadata:        appSitesMetadata(obj),
	}
	return card, ""
}

// maxUnixTs bounds card timestamps (year 36812) so float conversion is exact.
const maxUnixTs = 1 << 40

func unixRange(f float64) bool {
	return f > 0 && f < maxUnixTs
}

// matchCategory returns the configured spelling of raw if it is allowed.
func matchCategory(raw string, allowed []string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, timeline.SystemCategory) {
		return "", false
	}
	for _, a := range allowed {
		if strings.EqualFold(a, raw) {
			return a, true
		}
	}
	return "", false
}
