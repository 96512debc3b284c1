// Package pipeline drives capture events through batching, transcription and
// card generation into the timeline.
package pipeline

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hpungsan/dayloom/internal/config"
	"github.com/hpungsan/dayloom/internal/db"
	"github.com/hpungsan/dayloom/internal/events"
	"github.com/hpungsan/dayloom/internal/gateway"
	"github.com/hpungsan/dayloom/internal/logging"
	"github.com/hpungsan/dayloom/internal/timeline"
)

// Store is the subset of *db.Store the pipeline uses.
type Store interface {
	FetchUnprocessedEvents(ctx context.Context, sinceTs int64) ([]timeline.CaptureEvent, error)
	CreateBatch(ctx context.Context, in db.NewBatch) (*timeline.Batch, error)
	NextPendingBatch(ctx context.Context) (*timeline.Batch, error)
	EventsForBatch(ctx context.Context, batchID int64) ([]timeline.CaptureEvent, error)
	UpdateBatchStatus(ctx context.Context, id int64, to timeline.BatchStatus, reason *string) (*timeline.Batch, error)
	InsertObservations(ctx context.Context, obs []timeline.Observation) error
	ObservationsInRange(ctx context.Context, from, to int64) ([]timeline.Observation, error)
	ListCards(ctx context.Context, f db.CardFilter) ([]timeline.ActivityCard, error)
	ReplaceCardsInRange(ctx context.Context, req db.ReplaceRequest) (*db.ReplaceResult, error)
	InsertFailureCard(ctx context.Context, card timeline.ActivityCard, display timeline.Display) (*timeline.ActivityCard, error)
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Store  Store
	Model  gateway.ModelClient
	Config config.Source
	Sink   events.Sink
	Log    *logging.Logger

	// BaseDir anchors a relative recordings directory.
	BaseDir string
	// Location for day keys and labels; defaults to time.Local.
	Location *time.Location
	// Now defaults to time.Now.
	Now func() time.Time
}

// Pipeline holds the scheduler state: the two single-flight guards and the
// active-batch slot used to attribute failures. Batches are drained strictly
// one at a time, so a single slot suffices.
type Pipeline struct {
	store   Store
	model   gateway.ModelClient
	cfg     config.Source
	sink    events.Sink
	log     *logging.Logger
	baseDir string
	loc     *time.Location
	now     func() time.Time

	tickGroup  singleflight.Group
	drainGroup singleflight.Group

	mu     sync.Mutex
	active *int64
}

// New creates a Pipeline.
func New(d Deps) *Pipeline {
	p := &Pipeline{
		store:   d.Store,
		model:   d.Model,
		cfg:     d.Config,
		sink:    d.Sink,
		log:     d.Log,
		baseDir: d.BaseDir,
		loc:     d.Location,
		now:     d.Now,
	}
	if p.sink == nil {
		p.sink = events.Nop{}
	}
	if p.log == nil {
		p.log = logging.NewNop()
	}
	if p.loc == nil {
		p.loc = time.Local
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.cfg == nil {
		p.cfg = config.Static{}
	}
	return p
}

// ActiveBatch returns the id of the batch being processed, if any.
func (p *Pipeline) ActiveBatch() (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == nil {
		return 0, false
	}
	return *p.active, true
}

func (p *Pipeline) setActive(id *int64) {
	p.mu.Lock()
	p.active = id
	p.mu.Unlock()
}

func (p *Pipeline) display(cfg *config.Config) timeline.Display {
	return timeline.Display{Location: p.loc, DayStartHour: cfg.DayStartHour}
}
