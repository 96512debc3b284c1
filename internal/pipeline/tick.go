package pipeline

import (
	"context"
	"fmt"

	"github.com/hpungsan/dayloom/internal/batching"
	"github.com/hpungsan/dayloom/internal/db"
	"github.com/hpungsan/dayloom/internal/events"
	"github.com/hpungsan/dayloom/internal/timeline"
)

// TickResult summarizes one tick.
type TickResult struct {
	// Skipped is true when another tick was already running; this call
	// waited for it and did nothing itself.
	Skipped bool `json:"skipped"`

	EventsConsidered int              `json:"events_considered"`
	Created          []timeline.Batch `json:"created,omitempty"`
	Drain            *DrainResult     `json:"drain,omitempty"`
}

// Tick forms batches from unprocessed events and drains pending batches.
// Concurrent calls share one execution; all but the caller that started it
// get a Skipped result once it finishes.
func (p *Pipeline) Tick(ctx context.Context) (*TickResult, error) {
	ran := false
	v, err, _ := p.tickGroup.Do("tick", func() (any, error) {
		ran = true
		return p.tick(ctx)
	})
	if !ran {
		return &TickResult{Skipped: true}, nil
	}
	res, _ := v.(*TickResult)
	return res, err
}

func (p *Pipeline) tick(ctx context.Context) (*TickResult, error) {
	cfg, err := p.cfg.Current()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	since := p.now().Unix() - int64(cfg.LookbackWindowSec)
	evs, err := p.store.FetchUnprocessedEvents(ctx, since)
	if err != nil {
		return nil, err
	}
	res := &TickResult{EventsConsidered: len(evs)}

	groups := batching.GroupIntoBatches(evs, batching.Rules{
		TargetDurationSec: int64(cfg.TargetBatchDurationSec),
		MaxGapSec:         int64(cfg.MaxBatchGapSec),
	})

	for _, g := range groups {
		end := g.EndTs
		if end <= g.StartTs {
			// Every event shares one timestamp; keep end strictly after start.
			end = g.StartTs + 1
		}
		b, err := p.store.CreateBatch(ctx, db.NewBatch{
			StartTs:        g.StartTs,
			EndTs:          end,
			EventIDs:       g.EventIDs(),
			MinDurationSec: int64(cfg.MinBatchDurationSec),
		})
		if err != nil {
			return res, fmt.Errorf("create batch [%d, %d]: %w", g.StartTs, end, err)
		}
		res.Created = append(res.Created, *b)
		p.sink.BatchStatusChanged(events.BatchStatusChanged{BatchID: b.ID, Status: b.Status, Reason: b.Reason})
		p.log.Info("batch created", "batch_id", b.ID, "status", string(b.Status), "events", b.EventCount,
			"start_ts", b.StartTs, "end_ts", b.EndTs)
	}

	drain, err := p.Drain(ctx)
	res.Drain = drain
	if err != nil {
		return res, err
	}

	p.log.Info("tick complete", "events", len(evs), "batches_created", len(res.Created),
		"batches_processed", len(drain.Processed))
	return res, nil
}
