// Package timeline holds the domain types shared by the analysis pipeline,
// the store and the operator surfaces.
package timeline

// CaptureEvent is one screen capture produced by the capture collaborator.
// Processed is derived from the existence of a batch link and is never stored.
type CaptureEvent struct {
	ID         int64  `json:"id"`
	CapturedAt int64  `json:"captured_at"`
	ImageRef   string `json:"image_ref"`
	Processed  bool   `json:"processed"`
}

// BatchStatus is the state of a batch in the analysis state machine.
type BatchStatus string

const (
	StatusPending              BatchStatus = "pending"
	StatusProcessingTranscribe BatchStatus = "processing_transcribe"
	StatusTranscribed          BatchStatus = "transcribed"
	StatusGeneratingCards      BatchStatus = "generating_cards"
	StatusDone                 BatchStatus = "done"
	StatusFailed               BatchStatus = "failed"
	StatusFailedEmpty          BatchStatus = "failed_empty"
	StatusSkippedShort         BatchStatus = "skipped_short"
)

// Terminal reports whether no automatic progress happens from s.
func (s BatchStatus) Terminal() bool {
	switch s {
	case StatusDone, StatusFailed, StatusFailedEmpty, StatusSkippedShort:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s BatchStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

var transitions = map[BatchStatus]map[BatchStatus]struct{}{
	StatusPending: {
		StatusProcessingTranscribe: {},
		StatusFailedEmpty:          {},
		StatusFailed:               {},
	},
	StatusProcessingTranscribe: {
		StatusTranscribed: {},
		StatusFailed:      {},
	},
	StatusTranscribed: {
		StatusGeneratingCards: {},
		StatusFailed:          {},
	},
	StatusGeneratingCards: {
		StatusDone:   {},
		StatusFailed: {},
	},
	StatusDone:         {},
	StatusFailed:       {StatusPending: {}}, // operator retry only
	StatusFailedEmpty:  {},
	StatusSkippedShort: {},
}

// CanTransition reports whether from -> to is a legal batch transition.
func CanTransition(from, to BatchStatus) bool {
	next, ok := transitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// Batch is a contiguous window of capture events analysed together.
type Batch struct {
	ID         int64       `json:"id"`
	StartTs    int64       `json:"start_ts"`
	EndTs      int64       `json:"end_ts"`
	Status     BatchStatus `json:"status"`
	Reason     *string     `json:"reason,omitempty"`
	EventCount int         `json:"event_count"`
	CreatedAt  int64       `json:"created_at"`
	UpdatedAt  int64       `json:"updated_at"`
}

// Duration returns EndTs - StartTs in seconds.
func (b Batch) Duration() int64 {
	return b.EndTs - b.StartTs
}

// Observation is a model-produced description of a sub-interval of a batch.
type Observation struct {
	ID       int64   `json:"id"`
	BatchID  int64   `json:"batch_id"`
	StartTs  int64   `json:"start_ts"`
	EndTs    int64   `json:"end_ts"`
	Text     string  `json:"text"`
	Metadata *string `json:"metadata,omitempty"`
	ModelID  *string `json:"model_id,omitempty"`
}

// ActivityCard is a titled, categorized timeline entry.
type ActivityCard struct {
	ID              int64   `json:"id"`
	BatchID         *int64  `json:"batch_id,omitempty"`
	StartTs         int64   `json:"start_ts"`
	EndTs           int64   `json:"end_ts"`
	StartLabel      string  `json:"start_label"`
	EndLabel        string  `json:"end_label"`
	DayKey          string  `json:"day_key"`
	Category        string  `json:"category"`
	Subcategory     *string `json:"subcategory,omitempty"`
	Title           string  `json:"title"`
	Summary         *string `json:"summary,omitempty"`
	DetailedSummary *string `json:"detailed_summary,omitempty"`
	Metadata        *string `json:"metadata,omitempty"`
	VideoRef        *string `json:"video_ref,omitempty"`
	IsDeleted       bool    `json:"is_deleted"`
	CreatedAt       int64   `json:"created_at"`
}

// IsSystem reports whether the card was created by the pipeline rather than the model.
func (c ActivityCard) IsSystem() bool {
	return c.Category == SystemCategory
}

// Overlaps reports whether [c.StartTs, c.EndTs) intersects [from, to).
func (c ActivityCard) Overlaps(from, to int64) bool {
	return c.StartTs < to && c.EndTs > from
}

// SystemCategory marks cards created by the pipeline itself (e.g. failure cards).
const SystemCategory = "System"

// CallStatus is the outcome of one model call attempt.
type CallStatus string

const (
	CallSuccess CallStatus = "success"
	CallFailure CallStatus = "failure"
)

// ModelCallRecord is the write-once audit row for one network attempt.
type ModelCallRecord struct {
	ID                 int64      `json:"id"`
	BatchID            *int64     `json:"batch_id,omitempty"`
	CallGroupID        string     `json:"call_group_id"`
	Attempt            int        `json:"attempt"`
	Operation          string     `json:"operation"`
	Status             CallStatus `json:"status"`
	LatencyMs          *int64     `json:"latency_ms,omitempty"`
	HTTPStatus         *int       `json:"http_status,omitempty"`
	RedactedRequestURL string     `json:"redacted_request_url"`
	RequestBody        *string    `json:"request_body,omitempty"`
	ResponseBody       *string    `json:"response_body,omitempty"`
	ErrorKind          *string    `json:"error_kind,omitempty"`
	ErrorMessage       *string    `json:"error_message,omitempty"`
	CreatedAt          int64      `json:"created_at"`
}
