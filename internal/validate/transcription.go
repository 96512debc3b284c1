package validate

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/hpungsan/dayloom/internal/errors"
	"github.com/hpungsan/dayloom/internal/timeline"
)

// TranscriptionContext carries what is needed to anchor relative times.
type TranscriptionContext struct {
	BatchID     int64
	StartTs     int64
	EndTs       int64
	IntervalSec int64
	ModelID     string
}

// ParseTranscription validates a transcription response of the form
// {"observations": [{"start": "MM:SS", "end": "MM:SS", "observation": "..."}]}.
//
// Times are relative to the time-lapse shown to the model: each second maps
// to IntervalSec real seconds after StartTs. Both bounds are clamped into
// [StartTs, EndTs] and entries that collapse to an empty range are dropped.
// The result is sorted by start time.
func ParseTranscription(text string, tc TranscriptionContext) ([]timeline.Observation, error) {
	root, err := decodeObject(text)
	if err != nil {
		return nil, errors.NewMalformedResponse("transcription: %v", err)
	}

	rawList, ok := root["observations"]
	if !ok {
		return nil, errors.NewMalformedResponse("transcription: observations is missing")
	}
	items, ok := rawList.([]any)
	if !ok {
		return nil, errors.NewMalformedResponse("transcription: observations is %s, want array", kindOf(rawList))
	}

	var modelID *string
	if tc.ModelID != "" {
		m := tc.ModelID
		modelID = &m
	}

	out := make([]timeline.Observation, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, errors.NewMalformedResponse("transcription: observations[%d] is %s, want object", i, kindOf(item))
		}

		startRel, err := relativeField(obj, "start")
		if err != nil {
			return nil, errors.NewMalformedResponse("transcription: observations[%d]: %v", i, err)
		}
		endRel, err := relativeField(obj, "end")
		if err != nil {
			return nil, errors.NewMalformedResponse("transcription: observations[%d]: %v", i, err)
		}

		textVal, ok := obj["observation"].(string)
		if !ok {
			return nil, errors.NewMalformedResponse("transcription: observations[%d]: observation is %s, want string", i, kindOf(obj["observation"]))
		}
		textVal = strings.TrimSpace(textVal)
		if textVal == "" {
			continue
		}

		start := tc.absolute(startRel)
		end := tc.absolute(endRel)
		if end <= start {
			continue
		}

		out = append(out, timeline.Observation{
			BatchID:  tc.BatchID,
			StartTs:  start,
			EndTs:    end,
			Text:     textVal,
			Metadata: appSitesMetadata(obj),
			ModelID:  modelID,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartTs < out[j].StartTs
	})
	return out, nil
}

// absolute maps a video-relative offset to a unix timestamp clamped into
// the batch. Offsets past the batch end saturate before multiplying.
func (tc TranscriptionContext) absolute(rel int64) int64 {
	if tc.IntervalSec > 0 && rel > (tc.EndTs-tc.StartTs)/tc.IntervalSec+1 {
		return tc.EndTs
	}
	return clamp(tc.StartTs+rel*tc.IntervalSec, tc.StartTs, tc.EndTs)
}

func relativeField(obj map[string]any, key string) (int64, error) {
	raw, ok := obj[key].(string)
	if !ok {
		return 0, fmt.Errorf("%s is %s, want \"MM:SS\" string", key, kindOf(obj[key]))
	}
	sec, err := ParseMMSS(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return sec, nil
}

// MaxMinutes is the largest MM accepted by ParseMMSS.
const MaxMinutes = 99999

// ParseMMSS converts "MM:SS" into seconds. Minutes may exceed 59; seconds may not.
func ParseMMSS(s string) (int64, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 || parts[0] == "" || len(parts[1]) != 2 {
		return 0, fmt.Errorf("malformed time %q", s)
	}
	if !digits(parts[0]) || !digits(parts[1]) {
		return 0, fmt.Errorf("malformed time %q", s)
	}
	minutes, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed time %q", s)
	}
	if minutes > MaxMinutes {
		return 0, fmt.Errorf("malformed time %q: minutes out of range", s)
	}
	seconds, _ := strconv.ParseInt(parts[1], 10, 64)
	if seconds > 59 {
		return 0, fmt.Errorf("malformed time %q: seconds out of range", s)
	}
	return minutes*60 + seconds, nil
}

func digits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
