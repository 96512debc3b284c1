// Package batching groups capture events into contiguous analysis windows.
package batching

import (
	"sort"

	"github.com/hpungsan/dayloom/internal/timeline"
)

// Rules are the thresholds used to split a stream of events.
type Rules struct {
	TargetDurationSec int64
	MaxGapSec         int64
}

// Group is one proposed batch: a run of events and its covered range.
type Group struct {
	StartTs int64
	EndTs   int64
	Events  []timeline.CaptureEvent
}

// Duration returns EndTs - StartTs.
func (g Group) Duration() int64 {
	return g.EndTs - g.StartTs
}

// EventIDs returns the ids of the group's events in time order.
func (g Group) EventIDs() []int64 {
	ids := make([]int64, len(g.Events))
	for i, ev := range g.Events {
		ids[i] = ev.ID
	}
	return ids
}

// GroupIntoBatches splits events into groups. A group is closed when the
// next event is more than MaxGapSec after the previous one, or would push the
// group past TargetDurationSec. The last group is dropped when it has not yet
// reached TargetDurationSec; it is reconsidered once more events exist.
//
// The input is not modified. Output depends only on the set of events, not
// their order.
func GroupIntoBatches(events []timeline.CaptureEvent, rules Rules) []Group {
	if len(events) == 0 {
		return nil
	}

	sorted := make([]timeline.CaptureEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].CapturedAt != sorted[j].CapturedAt {
			return sorted[i].CapturedAt < sorted[j].CapturedAt
		}
		return sorted[i].ID < sorted[j].ID
	})

	var groups []Group
	cur := Group{StartTs: sorted[0].CapturedAt, EndTs: sorted[0].CapturedAt, Events: []timeline.CaptureEvent{sorted[0]}}
	prev := sorted[0].CapturedAt

	for _, ev := range sorted[1:] {
		gap := ev.CapturedAt - prev
		durationIfAdded := ev.CapturedAt - cur.StartTs
		if gap > rules.MaxGapSec || durationIfAdded > rules.TargetDurationSec {
			groups = append(groups, cur)
			cur = Group{StartTs: ev.CapturedAt, EndTs: ev.CapturedAt, Events: []timeline.CaptureEvent{ev}}
		} else {
			cur.EndTs = ev.CapturedAt
			cur.Events = append(cur.Events, ev)
		}
		prev = ev.CapturedAt
	}
	groups = append(groups, cur)

	if last := groups[len(groups)-1]; last.Duration() < rules.TargetDurationSec {
		groups = groups[:len(groups)-1]
	}
	return groups
}
