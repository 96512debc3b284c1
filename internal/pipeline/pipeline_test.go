package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/dayloom/internal/config"
	"github.com/hpungsan/dayloom/internal/db"
	"github.com/hpungsan/dayloom/internal/errors"
	"github.com/hpungsan/dayloom/internal/events"
	"github.com/hpungsan/dayloom/internal/gateway"
	"github.com/hpungsan/dayloom/internal/logging"
	"github.com/hpungsan/dayloom/internal/timeline"
	"github.com/hpungsan/dayloom/internal/validate"
)

// base is 2024-03-01 09:00 UTC.
const base int64 = 1709283600

type mockModel struct {
	mock.Mock
}

func (m *mockModel) Transcribe(ctx context.Context, s gateway.Settings, req gateway.TranscribeRequest) (*gateway.Response, error) {
	args := m.Called(ctx, s, req)
	resp, _ := args.Get(0).(*gateway.Response)
	return resp, args.Error(1)
}

func (m *mockModel) GenerateCards(ctx context.Context, s gateway.Settings, req gateway.CardsRequest) (*gateway.Response, error) {
	args := m.Called(ctx, s, req)
	resp, _ := args.Get(0).(*gateway.Response)
	return resp, args.Error(1)
}

type fixture struct {
	p     *Pipeline
	store *db.Store
	model *mockModel
	sink  *events.ChannelSink
	cfg   *config.Config
	dir   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.TargetBatchDurationSec = 900
	cfg.MaxBatchGapSec = 300
	cfg.MinBatchDurationSec = 300
	cfg.CardWindowSec = 3600
	cfg.CaptureIntervalSec = 10
	cfg.Categories = []string{"Work", "Personal"}

	store, err := db.Open(dir, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, os.MkdirAll(filepath.Join(dir, cfg.RecordingsDir), 0o755))

	f := &fixture{
		store: store,
		model: &mockModel{},
		sink:  events.NewChannelSink(256),
		cfg:   cfg,
		dir:   dir,
	}
	f.p = New(Deps{
		Store:    store,
		Model:    f.model,
		Config:   config.Static{Config: cfg},
		Sink:     f.sink,
		Log:      logging.NewNop(),
		BaseDir:  dir,
		Location: time.UTC,
		Now:      func() time.Time { return time.Unix(base+2*60*60, 0) },
	})
	return f
}

// capture writes one frame per timestamp in [from, to] every step seconds
// and registers it as a capture event.
func (f *fixture) capture(t *testing.T, from, to, step int64) {
	t.Helper()
	for ts := from; ts <= to; ts += step {
		ref := fmt.Sprintf("%d.jpg", ts)
		require.NoError(t, os.WriteFile(filepath.Join(f.dir, f.cfg.RecordingsDir, ref), []byte("jpg"), 0o600))
		_, _, err := f.store.InsertCaptureEvent(context.Background(), ts, ref)
		require.NoError(t, err)
	}
}

func (f *fixture) events() []events.Event {
	var out []events.Event
	for {
		select {
		case ev := <-f.sink.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func statusesOf(evs []events.Event, batchID int64) []timeline.BatchStatus {
	var out []timeline.BatchStatus
	for _, ev := range evs {
		if ev.BatchStatus != nil && ev.BatchStatus.BatchID == batchID {
			out = append(out, ev.BatchStatus.Status)
		}
	}
	return out
}

func dayKeysOf(evs []events.Event) []string {
	var out []string
	for _, ev := range evs {
		if ev.Timeline != nil {
			out = append(out, ev.Timeline.DayKey)
		}
	}
	return out
}

func transcription(text string) *gateway.Response {
	return &gateway.Response{
		Text:     fmt.Sprintf(`{"observations":[{"start":"00:00","end":"01:30","observation":%q}]}`, text),
		ModelID:  "test-model",
		Attempts: 1,
	}
}

func cardsResponse(start, end int64, category, title string) *gateway.Response {
	return &gateway.Response{
		Text: fmt.Sprintf(`{"cards":[{"startTs":%d,"endTs":%d,"category":%q,"title":%q,"summary":"s"}]}`,
			start, end, category, title),
		ModelID:  "test-model",
		Attempts: 1,
	}
}

func TestTick_HappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// [base, base+900] closes at the target; the rest is a trailing partial batch.
	f.capture(t, base, base+1800, 60)

	f.model.On("Transcribe", mock.Anything, mock.Anything, mock.MatchedBy(func(r gateway.TranscribeRequest) bool {
		return len(r.Frames) == 16 && r.IntervalSec == 10 && r.Frames[0].CapturedAt == base
	})).Return(transcription("Editing Go code"), nil).Once()
	f.model.On("GenerateCards", mock.Anything, mock.Anything, mock.MatchedBy(func(r gateway.CardsRequest) bool {
		return r.WindowStart == base+900-3600 && r.WindowEnd == base+900 &&
			strings.Contains(r.Prompt, "Editing Go code") && len(r.Categories) == 2
	})).Return(cardsResponse(base, base+900, "work", "Coding"), nil).Once()

	res, err := f.p.Tick(ctx)
	require.NoError(t, err)
	require.False(t, res.Skipped)
	require.Len(t, res.Created, 1)
	require.Equal(t, base, res.Created[0].StartTs)
	require.Equal(t, base+900, res.Created[0].EndTs)
	require.Equal(t, timeline.StatusPending, res.Created[0].Status)

	require.NotNil(t, res.Drain)
	require.Nil(t, res.Drain.Failed)
	require.Equal(t, []Outcome{{BatchID: res.Created[0].ID, Status: timeline.StatusDone}}, res.Drain.Processed)

	batchID := res.Created[0].ID
	b, err := f.store.GetBatch(ctx, batchID)
	require.NoError(t, err)
	require.Equal(t, timeline.StatusDone, b.Status)

	obs, err := f.store.ObservationsInRange(ctx, base, base+900)
	require.NoError(t, err)
	require.Len(t, obs, 1)
	require.Equal(t, base+900, obs[0].EndTs)

	cards, err := f.store.ListCards(ctx, db.CardFilter{})
	require.NoError(t, err)
	require.Len(t, cards, 1)
	require.Equal(t, "Work", cards[0].Category)
	require.Equal(t, "Coding", cards[0].Title)
	require.Equal(t, batchID, *cards[0].BatchID)
	require.Equal(t, "2024-03-01", cards[0].DayKey)
	require.Equal(t, "9:00 AM", cards[0].StartLabel)

	evs := f.events()
	require.Equal(t, []timeline.BatchStatus{
		timeline.StatusPending,
		timeline.StatusProcessingTranscribe,
		timeline.StatusTranscribed,
		timeline.StatusGeneratingCards,
		timeline.StatusDone,
	}, statusesOf(evs, batchID))
	require.Equal(t, []string{"2024-03-01"}, dayKeysOf(evs))

	_, active := f.p.ActiveBatch()
	require.False(t, active)

	// Nothing new to batch: the trailing partial window is still short.
	again, err := f.p.Tick(ctx)
	require.NoError(t, err)
	require.Empty(t, again.Created)
	require.Empty(t, again.Drain.Processed)
	f.model.AssertExpectations(t)
}

func TestTick_SkippedShortNeverReachesModel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.capture(t, base, base+120, 60)      // closed by the gap, 120s < 300s minimum
	f.capture(t, base+600, base+1500, 60) // full 900s batch

	f.model.On("Transcribe", mock.Anything, mock.Anything, mock.Anything).Return(transcription("Reading"), nil).Once()
	f.model.On("GenerateCards", mock.Anything, mock.Anything, mock.Anything).
		Return(cardsResponse(base+600, base+1500, "Personal", "Reading"), nil).Once()

	res, err := f.p.Tick(ctx)
	require.NoError(t, err)
	require.Len(t, res.Created, 2)
	require.Equal(t, timeline.StatusSkippedShort, res.Created[0].Status)
	require.NotNil(t, res.Created[0].Reason)
	require.Equal(t, timeline.StatusPending, res.Created[1].Status)
	require.Len(t, res.Drain.Processed, 1)
	require.Equal(t, res.Created[1].ID, res.Drain.Processed[0].BatchID)

	// Events of the skipped batch are processed and never re-batched.
	unprocessed, err := f.store.FetchUnprocessedEvents(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, unprocessed)
	f.model.AssertExpectations(t)
}

func TestDrain_FailureStopsLoopAndRecordsFailureCard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.capture(t, base, base+1860, 60) // two full batches

	upstream := errors.NewUpstream("transcribe", 3, fmt.Errorf("HTTP 503"))
	f.model.On("Transcribe", mock.Anything, mock.Anything, mock.Anything).Return(nil, upstream).Once()

	res, err := f.p.Tick(ctx)
	require.NoError(t, err)
	require.Len(t, res.Created, 2)
	first, second := res.Created[0].ID, res.Created[1].ID

	require.NotNil(t, res.Drain.Failed)
	require.Equal(t, first, res.Drain.Failed.BatchID)
	require.Equal(t, timeline.StatusFailed, res.Drain.Failed.Status)
	require.Contains(t, *res.Drain.Failed.Reason, "UPSTREAM")

	b, err := f.store.GetBatch(ctx, second)
	require.NoError(t, err)
	require.Equal(t, timeline.StatusPending, b.Status, "drain must stop after a failure")

	cards, err := f.store.ListCards(ctx, db.CardFilter{})
	require.NoError(t, err)
	require.Len(t, cards, 1)
	require.Equal(t, timeline.SystemCategory, cards[0].Category)
	require.Equal(t, first, *cards[0].BatchID)
	require.Equal(t, base, cards[0].StartTs)
	require.Equal(t, base+900, cards[0].EndTs)

	evs := f.events()
	require.Equal(t, []timeline.BatchStatus{
		timeline.StatusPending, timeline.StatusProcessingTranscribe, timeline.StatusFailed,
	}, statusesOf(evs, first))
	require.Contains(t, dayKeysOf(evs), "2024-03-01")

	_, active := f.p.ActiveBatch()
	require.False(t, active)

	// The next drain resumes with the second batch; its cards overlap the
	// failure card of the first batch, which must survive.
	f.model.On("Transcribe", mock.Anything, mock.Anything, mock.Anything).Return(transcription("Email"), nil).Once()
	f.model.On("GenerateCards", mock.Anything, mock.Anything, mock.Anything).
		Return(cardsResponse(base+600, base+1860, "Work", "Email triage"), nil).Once()

	drain, err := f.p.Drain(ctx)
	require.NoError(t, err)
	require.Nil(t, drain.Failed)
	require.Equal(t, []Outcome{{BatchID: second, Status: timeline.StatusDone}}, drain.Processed)

	cards, err = f.store.ListCards(ctx, db.CardFilter{})
	require.NoError(t, err)
	require.Len(t, cards, 2)
	require.Equal(t, timeline.SystemCategory, cards[0].Category)
	require.Equal(t, "Email triage", cards[1].Title)
	f.model.AssertExpectations(t)
}

func TestDrain_EmptyCardsFailsBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.capture(t, base, base+900, 60)

	f.model.On("Transcribe", mock.Anything, mock.Anything, mock.Anything).Return(transcription("Idle"), nil).Once()
	f.model.On("GenerateCards", mock.Anything, mock.Anything, mock.Anything).
		Return(&gateway.Response{Text: `{"cards":[{"startTs":1,"endTs":2,"category":"Work","title":"Out of window"}]}`}, nil).Once()

	res, err := f.p.Tick(ctx)
	require.NoError(t, err)
	require.NotNil(t, res.Drain.Failed)
	require.Contains(t, *res.Drain.Failed.Reason, string(errors.ErrEmptyResult))

	// Observations from the successful transcription are kept.
	obs, err := f.store.ObservationsInRange(ctx, base, base+900)
	require.NoError(t, err)
	require.Len(t, obs, 1)

	evs := f.events()
	statuses := statusesOf(evs, res.Created[0].ID)
	require.Equal(t, timeline.StatusFailed, statuses[len(statuses)-1])
	require.Contains(t, statuses, timeline.StatusGeneratingCards)
}

func TestDrain_MalformedTranscriptionFailsBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.capture(t, base, base+900, 60)

	f.model.On("Transcribe", mock.Anything, mock.Anything, mock.Anything).
		Return(&gateway.Response{Text: `{"observations":"nope"}`}, nil).Once()

	res, err := f.p.Tick(ctx)
	require.NoError(t, err)
	require.NotNil(t, res.Drain.Failed)
	require.Contains(t, *res.Drain.Failed.Reason, string(errors.ErrMalformedResponse))
	f.model.AssertNotCalled(t, "GenerateCards", mock.Anything, mock.Anything, mock.Anything)
}

func TestDrain_MissingFrameFailsBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.capture(t, base, base+900, 60)
	require.NoError(t, os.Remove(filepath.Join(f.dir, f.cfg.RecordingsDir, fmt.Sprintf("%d.jpg", base+60))))

	res, err := f.p.Tick(ctx)
	require.NoError(t, err)
	require.NotNil(t, res.Drain.Failed)
	f.model.AssertNotCalled(t, "Transcribe", mock.Anything, mock.Anything, mock.Anything)
}

func TestDrain_SingleFlight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.capture(t, base, base+900, 60)

	entered := make(chan struct{})
	release := make(chan struct{})
	f.model.On("Transcribe", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).
		Return(transcription("Coding"), nil).Once()
	f.model.On("GenerateCards", mock.Anything, mock.Anything, mock.Anything).
		Return(cardsResponse(base, base+900, "Work", "Coding"), nil).Once()

	type result struct {
		tick *TickResult
		err  error
	}
	leader := make(chan result, 1)
	go func() {
		res, err := f.p.Tick(ctx)
		leader <- result{res, err}
	}()
	<-entered

	id, active := f.p.ActiveBatch()
	require.True(t, active)

	var wg sync.WaitGroup
	var tickRes *TickResult
	var drainRes *DrainResult
	wg.Add(2)
	go func() {
		defer wg.Done()
		tickRes, _ = f.p.Tick(ctx)
	}()
	go func() {
		defer wg.Done()
		drainRes, _ = f.p.Drain(ctx)
	}()
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	require.True(t, tickRes.Skipped)
	require.True(t, drainRes.Skipped)

	got := <-leader
	require.NoError(t, got.err)
	require.False(t, got.tick.Skipped)
	require.Equal(t, []Outcome{{BatchID: id, Status: timeline.StatusDone}}, got.tick.Drain.Processed)
	f.model.AssertExpectations(t)
}

func TestProcessBatch_UsesFreshConfigPerBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.capture(t, base, base+900, 60)

	src := &switchingSource{cfg: f.cfg}
	f.p.cfg = src

	f.model.On("Transcribe", mock.Anything, mock.MatchedBy(func(s gateway.Settings) bool {
		return s.Model == "model-b"
	}), mock.Anything).Return(transcription("Coding"), nil).Once()
	f.model.On("GenerateCards", mock.Anything, mock.Anything, mock.Anything).
		Return(cardsResponse(base, base+900, "Work", "Coding"), nil).Once()

	// The tick snapshot sees model-a; the batch snapshot is taken later.
	src.next = "model-b"
	_, err := f.p.Tick(ctx)
	require.NoError(t, err)
	f.model.AssertExpectations(t)
}

// switchingSource returns the base config, switching the model name after
// the first call.
type switchingSource struct {
	mu    sync.Mutex
	cfg   *config.Config
	calls int
	next  string
}

func (s *switchingSource) Current() (*config.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	cp := *s.cfg
	cp.Model = "model-a"
	if s.calls > 1 {
		cp.Model = s.next
	}
	return &cp, nil
}

func TestScheduler_StartStop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.cfg.TickIntervalSec = 1
	f.capture(t, base, base+900, 60)

	f.model.On("Transcribe", mock.Anything, mock.Anything, mock.Anything).Return(transcription("Coding"), nil).Once()
	f.model.On("GenerateCards", mock.Anything, mock.Anything, mock.Anything).
		Return(cardsResponse(base, base+900, "Work", "Coding"), nil).Once()

	s := NewScheduler(f.p)
	require.NoError(t, s.Start())
	require.True(t, errors.Is(s.Start(), errors.ErrConflict))

	require.Eventually(t, func() bool {
		batches, _, err := f.store.ListBatches(ctx, db.BatchFilter{})
		return err == nil && len(batches) == 1 && batches[0].Status == timeline.StatusDone
	}, 5*time.Second, 20*time.Millisecond)

	s.Stop()
	s.Stop()
	s.Wait()
	f.model.AssertExpectations(t)
}

func TestCardWindow(t *testing.T) {
	cfg := config.DefaultConfig()
	b := &timeline.Batch{StartTs: 1000, EndTs: 5000}

	cfg.CardWindowSec = 3600
	require.Equal(t, int64(1400), cardWindow(cfg, b).StartTs)
	require.Equal(t, int64(5000), cardWindow(cfg, b).EndTs)

	cfg.CardWindowSec = 0
	require.Equal(t, int64(1000), cardWindow(cfg, b).StartTs)
}

func TestCardsPrompt(t *testing.T) {
	d := timeline.Display{Location: time.UTC, DayStartHour: 4}
	sub := "Go"
	prompt, err := cardsPrompt(d, validate.CardWindow{StartTs: base, EndTs: base + 900},
		[]timeline.Observation{{StartTs: base, EndTs: base + 300, Text: "Writing tests"}},
		[]timeline.ActivityCard{{StartTs: base - 600, EndTs: base, Category: "Work", Subcategory: &sub, Title: "Planning"}},
		[]string{"Work", "Personal"})
	require.NoError(t, err)
	require.Contains(t, prompt, "Writing tests")
	require.Contains(t, prompt, `"title": "Planning"`)
	require.Contains(t, prompt, "Work, Personal")
	require.Contains(t, prompt, "9:00 AM")
}
