package pipeline

import (
	"context"

	"github.com/hpungsan/dayloom/internal/config"
	"github.com/hpungsan/dayloom/internal/db"
	"github.com/hpungsan/dayloom/internal/events"
	"github.com/hpungsan/dayloom/internal/gateway"
	"github.com/hpungsan/dayloom/internal/timeline"
	"github.com/hpungsan/dayloom/internal/validate"
)

// cardWindow returns the sliding window [end - CardWindowSec, end) for b.
func cardWindow(cfg *config.Config, b *timeline.Batch) validate.CardWindow {
	start := b.EndTs - int64(cfg.CardWindowSec)
	if cfg.CardWindowSec <= 0 || start >= b.EndTs {
		start = b.StartTs
	}
	return validate.CardWindow{StartTs: start, EndTs: b.EndTs}
}

// generateCards regenerates the cards of the window ending at the batch end
// and reconciles them into the timeline.
func (p *Pipeline) generateCards(ctx context.Context, cfg *config.Config, s gateway.Settings, b *timeline.Batch) error {
	win := cardWindow(cfg, b)

	obs, err := p.store.ObservationsInRange(ctx, win.StartTs, win.EndTs)
	if err != nil {
		return err
	}
	existing, err := p.store.ListCards(ctx, db.CardFilter{
		FromTs:        win.StartTs,
		ToTs:          win.EndTs,
		ExcludeSystem: true,
	})
	if err != nil {
		return err
	}

	allowed := cfg.AllowedCategories()
	display := p.display(cfg)
	prompt, err := cardsPrompt(display, win, obs, existing, allowed)
	if err != nil {
		return err
	}

	resp, err := p.model.GenerateCards(ctx, s, gateway.CardsRequest{
		BatchID:     b.ID,
		Prompt:      prompt,
		WindowStart: win.StartTs,
		WindowEnd:   win.EndTs,
		Categories:  allowed,
	})
	if err != nil {
		return err
	}

	parsed, err := validate.ParseCards(resp.Text, win, allowed)
	if err != nil {
		return err
	}
	for _, r := range parsed.Rejected {
		p.log.Debug("card rejected", "batch_id", b.ID, "index", r.Index, "reason", r.Reason)
	}

	res, err := p.store.ReplaceCardsInRange(ctx, db.ReplaceRequest{
		FromTs:  win.StartTs,
		ToTs:    win.EndTs,
		BatchID: b.ID,
		Cards:   parsed.Cards,
		Display: display,
	})
	if err != nil {
		return err
	}

	p.log.Info("cards reconciled", "batch_id", b.ID, "inserted", len(res.InsertedIDs),
		"removed", len(res.RemovedIDs), "window_start", win.StartTs, "window_end", win.EndTs)
	if len(res.RemovedVideoRefs) > 0 {
		p.log.Info("video references released", "batch_id", b.ID, "refs", res.RemovedVideoRefs)
	}
	for _, day := range res.DayKeys {
		p.sink.TimelineChanged(events.TimelineChanged{DayKey: day})
	}
	return nil
}
