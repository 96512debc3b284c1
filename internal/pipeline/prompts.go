package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hpungsan/dayloom/internal/timeline"
	"github.com/hpungsan/dayloom/internal/validate"
)

func transcriptionPrompt(b *timeline.Batch, frames int, intervalSec int64) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are shown %d screenshots of one person's screen, taken every %d seconds over %d minutes.\n",
		frames, intervalSec, b.Duration()/60)
	sb.WriteString("Treat them as a time-lapse video where screenshot N is at second N (00:00 is the first).\n")
	sb.WriteString("Describe what the person is doing as a list of consecutive observations.\n")
	sb.WriteString("Each observation covers a span of the time-lapse and says concretely which application, document or site is in use.\n\n")
	sb.WriteString("Return JSON only, no prose, in exactly this shape:\n")
	sb.WriteString(`{"observations": [{"start": "MM:SS", "end": "MM:SS", "observation": "...", "appSites": {"primary": "...", "secondary": "..."}}]}`)
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "Timestamps must lie between 00:00 and %s.\n", mmss(int64(frames)))
	return sb.String()
}

// promptCard is the context shape of an existing card.
type promptCard struct {
	StartTs     int64  `json:"startTs"`
	EndTs       int64  `json:"endTs"`
	Start       string `json:"start"`
	End         string `json:"end"`
	Category    string `json:"category"`
	Subcategory string `json:"subcategory,omitempty"`
	Title       string `json:"title"`
	Summary     string `json:"summary,omitempty"`
}

func cardsPrompt(d timeline.Display, win validate.CardWindow, obs []timeline.Observation, existing []timeline.ActivityCard, categories []string) (string, error) {
	ctxCards := make([]promptCard, 0, len(existing))
	for _, c := range existing {
		pc := promptCard{
			StartTs:  c.StartTs,
			EndTs:    c.EndTs,
			Start:    d.Clock(c.StartTs),
			End:      d.Clock(c.EndTs),
			Category: c.Category,
			Title:    c.Title,
		}
		if c.Subcategory != nil {
			pc.Subcategory = *c.Subcategory
		}
		if c.Summary != nil {
			pc.Summary = *c.Summary
		}
		ctxCards = append(ctxCards, pc)
	}
	cardsJSON, err := json.MarshalIndent(ctxCards, "", "  ")
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Build activity cards for the window %d to %d (unix seconds, %s to %s).\n\n",
		win.StartTs, win.EndTs, d.Clock(win.StartTs), d.Clock(win.EndTs))

	sb.WriteString("Observations:\n")
	if len(obs) == 0 {
		sb.WriteString("(none)\n")
	}
	for _, o := range obs {
		fmt.Fprintf(&sb, "- [%d-%d] %s - %s: %s\n", o.StartTs, o.EndTs, d.Clock(o.StartTs), d.Clock(o.EndTs), o.Text)
	}

	sb.WriteString("\nExisting cards in this window:\n")
	sb.Write(cardsJSON)
	sb.WriteString("\n\n")

	sb.WriteString("Rules:\n")
	sb.WriteString("- Cards must not overlap each other.\n")
	sb.WriteString("- A card that overlaps an existing card must either extend it (same startTs, later endTs) or not overlap it at all.\n")
	sb.WriteString("- Every card must overlap the window.\n")
	fmt.Fprintf(&sb, "- category must be one of: %s.\n", strings.Join(categories, ", "))
	sb.WriteString("- title is short and specific; summary is one or two sentences.\n\n")

	sb.WriteString("Return JSON only, no prose, in exactly this shape:\n")
	sb.WriteString(`{"cards": [{"startTs": 0, "endTs": 0, "category": "...", "subcategory": "...", "title": "...", "summary": "...", "detailedSummary": "..."}]}`)
	sb.WriteString("\n")
	return sb.String(), nil
}

func mmss(sec int64) string {
	return fmt.Sprintf("%02d:%02d", sec/60, sec%60)
}
