package pipeline

import (
	"context"
	"fmt"

	"github.com/hpungsan/dayloom/internal/capture"
	"github.com/hpungsan/dayloom/internal/config"
	"github.com/hpungsan/dayloom/internal/events"
	"github.com/hpungsan/dayloom/internal/gateway"
	"github.com/hpungsan/dayloom/internal/timeline"
	"github.com/hpungsan/dayloom/internal/validate"
)

// Outcome is the final status of one drained batch.
type Outcome struct {
	BatchID int64                `json:"batch_id"`
	Status  timeline.BatchStatus `json:"status"`
	Reason  *string              `json:"reason,omitempty"`
}

// DrainResult summarizes one drain.
type DrainResult struct {
	// Skipped is true when another drain was already running.
	Skipped bool `json:"skipped"`

	Processed []Outcome `json:"processed,omitempty"`
	// Failed is set when a batch failed and stopped the drain.
	Failed *Outcome `json:"failed,omitempty"`
}

// Drain processes pending batches, oldest first, until none remain or one
// fails. A failed batch stops the loop; later pending batches wait for the
// next drain.
func (p *Pipeline) Drain(ctx context.Context) (*DrainResult, error) {
	ran := false
	v, err, _ := p.drainGroup.Do("drain", func() (any, error) {
		ran = true
		return p.drain(ctx)
	})
	if !ran {
		return &DrainResult{Skipped: true}, nil
	}
	res, _ := v.(*DrainResult)
	return res, err
}

func (p *Pipeline) drain(ctx context.Context) (*DrainResult, error) {
	res := &DrainResult{}
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		b, err := p.store.NextPendingBatch(ctx)
		if err != nil {
			return res, err
		}
		if b == nil {
			return res, nil
		}

		// A started batch runs to completion or failure.
		status, procErr := p.processBatch(context.WithoutCancel(ctx), b)
		if procErr == nil {
			res.Processed = append(res.Processed, Outcome{BatchID: b.ID, Status: status})
			continue
		}

		failed, err := p.failActive(context.WithoutCancel(ctx), procErr)
		if err != nil {
			return res, err
		}
		res.Failed = failed
		res.Processed = append(res.Processed, *failed)
		return res, nil
	}
}

// processBatch drives one batch through transcription and card generation.
// Any error is returned with the batch still recorded as active.
func (p *Pipeline) processBatch(ctx context.Context, b *timeline.Batch) (status timeline.BatchStatus, err error) {
	id := b.ID
	p.setActive(&id)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing batch %d: %v", id, r)
		}
		if err == nil {
			p.setActive(nil)
		}
	}()

	cfg, err := p.cfg.Current()
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	log := p.log.With("batch_id", b.ID)

	evs, err := p.store.EventsForBatch(ctx, b.ID)
	if err != nil {
		return "", err
	}
	if len(evs) == 0 {
		if err := p.transition(ctx, b.ID, timeline.StatusFailedEmpty, strPtr("no capture events linked")); err != nil {
			return "", err
		}
		return timeline.StatusFailedEmpty, nil
	}

	if err := p.transition(ctx, b.ID, timeline.StatusProcessingTranscribe, nil); err != nil {
		return "", err
	}

	resolver := capture.NewResolver(p.baseDir, cfg.RecordingsDir)
	frames := make([]gateway.Frame, 0, len(evs))
	for _, ev := range evs {
		path, err := resolver.Resolve(ev.ImageRef)
		if err != nil {
			return "", err
		}
		frames = append(frames, gateway.Frame{CapturedAt: ev.CapturedAt, Path: path})
	}

	settings := gateway.SettingsFromConfig(cfg)
	interval := int64(cfg.CaptureIntervalSec)
	resp, err := p.model.Transcribe(ctx, settings, gateway.TranscribeRequest{
		BatchID:     b.ID,
		Prompt:      transcriptionPrompt(b, len(frames), interval),
		Frames:      frames,
		IntervalSec: interval,
	})
	if err != nil {
		return "", err
	}

	obs, err := validate.ParseTranscription(resp.Text, validate.TranscriptionContext{
		BatchID:     b.ID,
		StartTs:     b.StartTs,
		EndTs:       b.EndTs,
		IntervalSec: interval,
		ModelID:     resp.ModelID,
	})
	if err != nil {
		return "", err
	}
	if err := p.store.InsertObservations(ctx, obs); err != nil {
		return "", err
	}
	log.Debug("observations stored", "count", len(obs), "attempts", resp.Attempts)

	if err := p.transition(ctx, b.ID, timeline.StatusTranscribed, strPtr(fmt.Sprintf("%d observations", len(obs)))); err != nil {
		return "", err
	}
	if err := p.transition(ctx, b.ID, timeline.StatusGeneratingCards, nil); err != nil {
		return "", err
	}

	if err := p.generateCards(ctx, cfg, settings, b); err != nil {
		return "", err
	}

	if err := p.transition(ctx, b.ID, timeline.StatusDone, nil); err != nil {
		return "", err
	}
	return timeline.StatusDone, nil
}

// transition persists a status change and emits it.
func (p *Pipeline) transition(ctx context.Context, batchID int64, to timeline.BatchStatus, reason *string) error {
	b, err := p.store.UpdateBatchStatus(ctx, batchID, to, reason)
	if err != nil {
		return err
	}
	p.sink.BatchStatusChanged(events.BatchStatusChanged{BatchID: b.ID, Status: b.Status, Reason: b.Reason})
	p.log.Info("batch status", "batch_id", b.ID, "status", string(b.Status))
	return nil
}

// failActive marks the active batch failed with cause as reason, emits the
// change and records a System failure card over the batch range. The
// active slot is cleared.
func (p *Pipeline) failActive(ctx context.Context, cause error) (*Outcome, error) {
	id, ok := p.ActiveBatch()
	if !ok {
		return nil, cause
	}
	defer p.setActive(nil)

	reason := cause.Error()
	p.log.Error("batch failed", "batch_id", id, "error", reason)

	b, err := p.store.UpdateBatchStatus(ctx, id, timeline.StatusFailed, &reason)
	if err != nil {
		return nil, fmt.Errorf("mark batch %d failed: %w (cause: %v)", id, err, cause)
	}
	p.sink.BatchStatusChanged(events.BatchStatusChanged{BatchID: b.ID, Status: b.Status, Reason: b.Reason})

	cfg, cfgErr := p.cfg.Current()
	if cfgErr != nil {
		cfg = config.DefaultConfig()
	}
	batchID := b.ID
	card, err := p.store.InsertFailureCard(ctx, timeline.ActivityCard{
		BatchID:         &batchID,
		StartTs:         b.StartTs,
		EndTs:           b.EndTs,
		Title:           "Processing failed",
		Summary:         strPtr("This period could not be analyzed."),
		DetailedSummary: &reason,
	}, p.display(cfg))
	if err != nil {
		p.log.Warn("failure card not recorded", "batch_id", b.ID, "error", err)
	} else {
		p.sink.TimelineChanged(events.TimelineChanged{DayKey: card.DayKey})
	}

	return &Outcome{BatchID: b.ID, Status: b.Status, Reason: b.Reason}, nil
}

func strPtr(s string) *string {
	return &s
}
