package batching

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/dayloom/internal/timeline"
)

func events(ts ...int64) []timeline.CaptureEvent {
	out := make([]timeline.CaptureEvent, len(ts))
	for i, t := range ts {
		out[i] = timeline.CaptureEvent{ID: int64(i + 1), CapturedAt: t, ImageRef: "img"}
	}
	return out
}

func TestGroupIntoBatches_Empty(t *testing.T) {
	require.Nil(t, GroupIntoBatches(nil, Rules{TargetDurationSec: 900, MaxGapSec: 300}))
}

func TestGroupIntoBatches_SingleBatch(t *testing.T) {
	const base = int64(1_700_000_000)
	var ts []int64
	for off := int64(0); off <= 1800; off += 300 {
		ts = append(ts, base+off)
	}

	got := GroupIntoBatches(events(ts...), Rules{TargetDurationSec: 1800, MaxGapSec: 300})

	require.Len(t, got, 1)
	require.Equal(t, base, got[0].StartTs)
	require.Equal(t, base+1800, got[0].EndTs)
	require.Len(t, got[0].Events, len(ts))
}

func TestGroupIntoBatches_GapSplitDropsTrailing(t *testing.T) {
	const base = int64(1000)
	rules := Rules{TargetDurationSec: 1800, MaxGapSec: 300}

	got := GroupIntoBatches(events(base, base+10, base+400, base+410), rules)

	require.Len(t, got, 1)
	require.Equal(t, []int64{1, 2}, got[0].EventIDs())
	require.Equal(t, base, got[0].StartTs)
	require.Equal(t, base+10, got[0].EndTs)
}

func TestGroupIntoBatches_DurationSplit(t *testing.T) {
	rules := Rules{TargetDurationSec: 100, MaxGapSec: 60}
	// 0..100 fills the first group, 150 starts a new one, 250 closes it at 100s.
	got := GroupIntoBatches(events(0, 50, 100, 150, 200, 250, 300), rules)

	require.Len(t, got, 2)
	require.Equal(t, int64(0), got[0].StartTs)
	require.Equal(t, int64(100), got[0].EndTs)
	require.Equal(t, int64(150), got[1].StartTs)
	require.Equal(t, int64(250), got[1].EndTs)
}

func TestGroupIntoBatches_TrailingIncompleteDropped(t *testing.T) {
	rules := Rules{TargetDurationSec: 900, MaxGapSec: 300}
	got := GroupIntoBatches(events(0, 200, 400), rules)
	require.Empty(t, got)
}

func TestGroupIntoBatches_DeterministicUnderPermutation(t *testing.T) {
	ts := []int64{0, 30, 60, 400, 430, 460, 900, 1200, 1500, 1800, 2100, 2400, 2700, 3000}
	rules := Rules{TargetDurationSec: 600, MaxGapSec: 300}

	want := GroupIntoBatches(events(ts...), rules)
	require.NotEmpty(t, want)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := events(ts...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		require.Equal(t, want, GroupIntoBatches(shuffled, rules))
	}
}

func TestGroupIntoBatches_DoesNotMutateInput(t *testing.T) {
	in := events(300, 0, 600)
	GroupIntoBatches(in, Rules{TargetDurationSec: 600, MaxGapSec: 300})
	require.Equal(t, int64(300), in[0].CapturedAt)
}
