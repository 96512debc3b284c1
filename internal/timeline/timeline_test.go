package timeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to BatchStatus
		want     bool
	}{
		{StatusPending, StatusProcessingTranscribe, true},
		{StatusPending, StatusFailedEmpty, true},
		{StatusProcessingTranscribe, StatusTranscribed, true},
		{StatusTranscribed, StatusGeneratingCards, true},
		{StatusGeneratingCards, StatusDone, true},
		{StatusGeneratingCards, StatusFailed, true},
		{StatusFailed, StatusPending, true},
		{StatusPending, StatusDone, false},
		{StatusDone, StatusPending, false},
		{StatusSkippedShort, StatusPending, false},
		{BatchStatus("bogus"), StatusPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			require.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestBatchStatus_Terminal(t *testing.T) {
	require.False(t, StatusPending.Terminal())
	require.False(t, StatusTranscribed.Terminal())
	require.True(t, StatusDone.Terminal())
	require.True(t, StatusFailedEmpty.Terminal())
	require.True(t, StatusSkippedShort.Terminal())
}

func TestActivityCard_Overlaps(t *testing.T) {
	c := ActivityCard{StartTs: 1000, EndTs: 2000}

	require.True(t, c.Overlaps(1500, 2500))
	require.True(t, c.Overlaps(0, 1001))
	require.False(t, c.Overlaps(2000, 3000), "end is exclusive")
	require.False(t, c.Overlaps(0, 1000), "start is inclusive only from the card side")
}

func TestDisplay_DayKeyRespectsStartHour(t *testing.T) {
	d := Display{Location: time.UTC, DayStartHour: 4}

	// 2026-03-10 03:30 UTC belongs to the previous day
	early := time.Date(2026, 3, 10, 3, 30, 0, 0, time.UTC).Unix()
	require.Equal(t, "2026-03-09", d.DayKey(early))

	late := time.Date(2026, 3, 10, 4, 0, 0, 0, time.UTC).Unix()
	require.Equal(t, "2026-03-10", d.DayKey(late))
}

func TestDisplay_DayBounds(t *testing.T) {
	d := Display{Location: time.UTC, DayStartHour: 4}

	start, end, err := d.DayBounds("2026-03-10")
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 3, 10, 4, 0, 0, 0, time.UTC).Unix(), start)
	require.Equal(t, start+24*60*60, end)

	_, _, err = d.DayBounds("March 10")
	require.Error(t, err)
}

func TestDisplay_Apply(t *testing.T) {
	d := Display{Location: time.UTC, DayStartHour: 4}
	card := ActivityCard{
		StartTs: time.Date(2026, 3, 10, 9, 5, 0, 0, time.UTC).Unix(),
		EndTs:   time.Date(2026, 3, 10, 13, 30, 0, 0, time.UTC).Unix(),
	}

	d.Apply(&card)

	require.Equal(t, "9:05 AM", card.StartLabel)
	require.Equal(t, "1:30 PM", card.EndLabel)
	require.Equal(t, "2026-03-10", card.DayKey)
}

func TestDisplay_DayKeysBetween(t *testing.T) {
	d := Display{Location: time.UTC, DayStartHour: 0}
	from := time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC).Unix()
	to := time.Date(2026, 3, 11, 1, 0, 0, 0, time.UTC).Unix()

	require.Equal(t, []string{"2026-03-10", "2026-03-11"}, d.DayKeysBetween(from, to))
	require.Equal(t, []string{"2026-03-10"}, d.DayKeysBetween(from, from+60))
}
