package ops

import (
	"context"
	"strings"

	"github.com/hpungsan/dayloom/internal/config"
	"github.com/hpungsan/dayloom/internal/db"
	"github.com/hpungsan/dayloom/internal/errors"
	"github.com/hpungsan/dayloom/internal/events"
	"github.com/hpungsan/dayloom/internal/timeline"
)

// RecategorizeInput contains parameters for the RecategorizeCard operation.
type RecategorizeInput struct {
	ID          int64
	Category    string
	Subcategory *string // nil clears the subcategory
}

// RecategorizeCard changes the category of a live, model-generated card.
// The category must be one of the configured categories; System cards
// cannot be edited.
func RecategorizeCard(ctx context.Context, store *db.Store, cfg *config.Config, sink events.Sink, input RecategorizeInput) (*timeline.ActivityCard, error) {
	if input.ID <= 0 {
		return nil, errors.NewInvalidRequest("card id is required")
	}
	category, err := matchCategory(cfg, input.Category)
	if err != nil {
		return nil, err
	}
	var sub *string
	if input.Subcategory != nil {
		if s := strings.TrimSpace(*input.Subcategory); s != "" {
			sub = &s
		}
	}

	cur, err := store.GetCard(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	if cur.IsSystem() {
		return nil, errors.NewConflict("system cards cannot be recategorized")
	}

	card, err := store.UpdateCardCategory(ctx, input.ID, category, sub)
	if err != nil {
		return nil, err
	}
	if sink != nil {
		sink.TimelineChanged(events.TimelineChanged{DayKey: card.DayKey})
	}
	return card, nil
}

// AttachVideoInput contains parameters for the AttachVideo operation.
type AttachVideoInput struct {
	ID       int64
	VideoRef string
}

// AttachVideo records the derived video reference of a live card.
func AttachVideo(ctx context.Context, store *db.Store, input AttachVideoInput) (*timeline.ActivityCard, error) {
	if input.ID <= 0 {
		return nil, errors.NewInvalidRequest("card id is required")
	}
	ref := strings.TrimSpace(input.VideoRef)
	if ref == "" {
		return nil, errors.NewInvalidRequest("video_ref is required")
	}
	return store.AttachCardVideo(ctx, input.ID, ref)
}
