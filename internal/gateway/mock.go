package gateway

import (
	"encoding/json"
	"fmt"
)

const mockModelID = "mock"

// mockTranscription returns a fixed two-observation payload spanning the batch.
func mockTranscription(req TranscribeRequest) *Response {
	total := int64(len(req.Frames))
	if total < 2 {
		total = 2
	}
	mid := total / 2
	payload := fmt.Sprintf(`{"observations":[`+
		`{"start":"00:00","end":%q,"observation":"Mock: working in an editor"},`+
		`{"start":%q,"end":%q,"observation":"Mock: reading documentation in a browser"}]}`,
		mmss(mid), mmss(mid), mmss(total))
	return &Response{Text: payload, ModelID: mockModelID, Attempts: 1}
}

// mockCards returns one card covering the last part of the requested window.
func mockCards(req CardsRequest) *Response {
	category := "Work"
	if len(req.Categories) > 0 {
		category = req.Categories[0]
	}
	start := req.WindowEnd - 15*60
	if start < req.WindowStart {
		start = req.WindowStart
	}
	end := req.WindowEnd
	if end <= start {
		end = start + 1
	}
	body, _ := json.Marshal(map[string]any{
		"cards": []map[string]any{{
			"startTs":  start,
			"endTs":    end,
			"category": category,
			"title":    "Mock activity",
			"summary":  "Generated without contacting the model.",
		}},
	})
	return &Response{Text: string(body), ModelID: mockModelID, Attempts: 1}
}

func mmss(sec int64) string {
	return fmt.Sprintf("%02d:%02d", sec/60, sec%60)
}
