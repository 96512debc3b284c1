package ops

import (
	"context"
	"fmt"
	"strings"

	"github.com/hpungsan/dayloom/internal/db"
	"github.com/hpungsan/dayloom/internal/errors"
	"github.com/hpungsan/dayloom/internal/events"
	"github.com/hpungsan/dayloom/internal/timeline"
)

// ListBatchesInput contains parameters for the ListBatches operation.
type ListBatchesInput struct {
	Statuses []string // optional filter
	Limit    int      // default: 50, max: 500
	Offset   int
}

// ListBatchesOutput contains the result of the ListBatches operation.
type ListBatchesOutput struct {
	Items      []timeline.Batch `json:"items"`
	Pagination Pagination       `json:"pagination"`
	Sort       string           `json:"sort"`
}

// ListBatches returns batches newest first.
func ListBatches(ctx context.Context, store *db.Store, input ListBatchesInput) (*ListBatchesOutput, error) {
	statuses, err := parseStatuses(input.Statuses)
	if err != nil {
		return nil, err
	}
	limit := clampLimit(input.Limit, DefaultListLimit, MaxListLimit)
	offset := max(input.Offset, 0)

	items, total, err := store.ListBatches(ctx, db.BatchFilter{Statuses: statuses, Limit: limit, Offset: offset})
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []timeline.Batch{}
	}

	return &ListBatchesOutput{
		Items: items,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(items) < total,
			Total:   total,
		},
		Sort: "start_ts_desc",
	}, nil
}

func parseStatuses(raw []string) ([]timeline.BatchStatus, error) {
	var out []timeline.BatchStatus
	for _, s := range raw {
		st := timeline.BatchStatus(strings.ToLower(strings.TrimSpace(s)))
		if st == "" {
			continue
		}
		if !st.Valid() {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("unknown batch status %q", s))
		}
		out = append(out, st)
	}
	return out, nil
}

// BatchDetail is a batch with everything derived from it.
type BatchDetail struct {
	Batch        timeline.Batch             `json:"batch"`
	Events       []timeline.CaptureEvent    `json:"events"`
	Observations []timeline.Observation     `json:"observations"`
	Cards        []timeline.ActivityCard    `json:"cards"`
	Calls        []timeline.ModelCallRecord `json:"model_calls"`
}

// GetBatch returns one batch with its events, observations, live cards and
// model call records.
func GetBatch(ctx context.Context, store *db.Store, id int64) (*BatchDetail, error) {
	if id <= 0 {
		return nil, errors.NewInvalidRequest("batch id is required")
	}
	b, err := store.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}

	evs, err := store.EventsForBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	inRange, err := store.ObservationsInRange(ctx, b.StartTs, b.EndTs+1)
	if err != nil {
		return nil, err
	}
	obs := []timeline.Observation{}
	for _, o := range inRange {
		if o.BatchID == id {
			obs = append(obs, o)
		}
	}
	cards, err := store.ListCards(ctx, db.CardFilter{BatchID: id})
	if err != nil {
		return nil, err
	}
	calls, err := store.ListModelCalls(ctx, id)
	if err != nil {
		return nil, err
	}

	d := &BatchDetail{Batch: *b, Events: evs, Observations: obs, Cards: cards, Calls: calls}
	if d.Events == nil {
		d.Events = []timeline.CaptureEvent{}
	}
	if d.Cards == nil {
		d.Cards = []timeline.ActivityCard{}
	}
	if d.Calls == nil {
		d.Calls = []timeline.ModelCallRecord{}
	}
	return d, nil
}

// RetryBatch resets a failed batch to pending so the next drain picks it up.
// Only failed batches can be retried.
func RetryBatch(ctx context.Context, store *db.Store, sink events.Sink, id int64) (*timeline.Batch, error) {
	if id <= 0 {
		return nil, errors.NewInvalidRequest("batch id is required")
	}
	b, err := store.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status != timeline.StatusFailed {
		return nil, errors.NewConflict(fmt.Sprintf("batch %d is %s; only failed batches can be retried", id, b.Status))
	}

	b, err = store.UpdateBatchStatus(ctx, id, timeline.StatusPending, nil)
	if err != nil {
		return nil, err
	}
	if sink != nil {
		sink.BatchStatusChanged(events.BatchStatusChanged{BatchID: b.ID, Status: b.Status, Reason: b.Reason})
	}
	return b, nil
}
