package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/hpungsan/dayloom/internal/errors"
	"github.com/hpungsan/dayloom/internal/logging"
	"github.com/hpungsan/dayloom/internal/timeline"
)

const (
	maxResponseBytes  = 16 << 20
	verboseBodyLimit  = 64 << 10
	errorBodyLimit    = 2 << 10
	errorMessageLimit = 512
)

// Transcribe sends the batch frames with the transcription prompt.
func (c *Client) Transcribe(ctx context.Context, s Settings, req TranscribeRequest) (*Response, error) {
	if s.Mock {
		c.log.Debug("mock transcription", "batch_id", req.BatchID, "frames", len(req.Frames))
		return mockTranscription(req), nil
	}
	body, err := frameRequest(req.Prompt, req.Frames)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return c.call(ctx, s, OpTranscribe, req.BatchID, body)
}

// GenerateCards sends the card generation prompt.
func (c *Client) GenerateCards(ctx context.Context, s Settings, req CardsRequest) (*Response, error) {
	if s.Mock {
		c.log.Debug("mock card generation", "batch_id", req.BatchID, "window_start", req.WindowStart, "window_end", req.WindowEnd)
		return mockCards(req), nil
	}
	return c.call(ctx, s, OpGenerateCards, req.BatchID, textRequest(req.Prompt))
}

// call runs one logical operation: up to MaxAttempts attempts with
// exponential backoff between them. Every non-2xx status and every transport
// error or timeout consumes an attempt.
func (c *Client) call(ctx context.Context, s Settings, op Operation, batchID int64, body generateRequest) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("encode request: %w", err))
	}

	maxAttempts := s.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	groupID := newCallGroupID(c.now())
	log := c.log.With("operation", string(op), "batch_id", batchID, "call_group_id", groupID)

	attempt := 0
	operation := func() (*Response, error) {
		attempt++
		return c.attempt(ctx, s, op, batchID, groupID, attempt, payload)
	}

	maxInterval := s.BaseDelay << uint(maxAttempts)
	bo := &backoff.ExponentialBackOff{
		InitialInterval:     s.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         maxInterval,
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(maxAttempts)),
		backoff.WithMaxElapsedTime(time.Duration(maxAttempts)*(s.Timeout+maxInterval)+time.Minute),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn("model call attempt failed, retrying", "attempt", attempt, "next_delay", next.String(), "error", err.Error())
		}),
	)
	if err != nil {
		log.Error("model call failed", "attempts", attempt, "error", err.Error())
		return nil, errors.NewUpstream(string(op), attempt, err)
	}
	resp.Attempts = attempt
	log.Info("model call succeeded", "attempts", attempt)
	return resp, nil
}

func (c *Client) attempt(ctx context.Context, s Settings, op Operation, batchID int64, groupID string, n int, payload []byte) (*Response, error) {
	rawURL := s.endpoint() + "?key=" + url.QueryEscape(s.APIKey)

	rec := &timeline.ModelCallRecord{
		CallGroupID:        groupID,
		Attempt:            n,
		Operation:          string(op),
		RedactedRequestURL: logging.RedactURL(rawURL),
	}
	if batchID != 0 {
		id := batchID
		rec.BatchID = &id
	}
	if s.Verbose {
		rec.RequestBody = clip(string(payload), verboseBodyLimit)
	}

	attemptCtx := ctx
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	start := c.now()
	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, rawURL, bytes.NewReader(payload))
	if err != nil {
		err = redactErr(err)
		c.recordFailure(ctx, rec, start, "transport", err)
		return nil, backoff.Permanent(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		err = redactErr(err)
		kind := "transport"
		if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			kind = "timeout"
		}
		c.recordFailure(ctx, rec, start, kind, err)
		return nil, err
	}
	defer httpResp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	status := httpResp.StatusCode
	rec.HTTPStatus = &status

	if status < 200 || status >= 300 {
		herr := &HTTPError{StatusCode: status, Body: string(clipBytes(raw, errorMessageLimit))}
		limit := errorBodyLimit
		if s.Verbose {
			limit = verboseBodyLimit
		}
		rec.ResponseBody = clip(string(raw), limit)
		c.recordFailure(ctx, rec, start, "http", herr)
		return nil, herr
	}
	if readErr != nil {
		kind := "transport"
		if stderrors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			kind = "timeout"
		}
		c.recordFailure(ctx, rec, start, kind, readErr)
		return nil, readErr
	}

	text, modelVersion := extractText(raw)
	if modelVersion == "" {
		modelVersion = s.Model
	}
	if s.Verbose {
		rec.ResponseBody = clip(string(raw), verboseBodyLimit)
	}
	rec.Status = timeline.CallSuccess
	rec.LatencyMs = latency(c.now(), start)
	c.record(ctx, rec)

	c.log.Debug("model call attempt", "operation", string(op), "attempt", n, "http_status", status, "latency_ms", *rec.LatencyMs, "request_url", rawURL)
	return &Response{Text: text, ModelID: modelVersion}, nil
}

func (c *Client) recordFailure(ctx context.Context, rec *timeline.ModelCallRecord, start time.Time, kind string, err error) {
	rec.Status = timeline.CallFailure
	rec.LatencyMs = latency(c.now(), start)
	rec.ErrorKind = &kind
	rec.ErrorMessage = clip(err.Error(), errorMessageLimit)
	c.record(ctx, rec)
}

// record writes the audit row. Failing to write it never fails the call.
func (c *Client) record(ctx context.Context, rec *timeline.ModelCallRecord) {
	rec.CreatedAt = c.now().Unix()
	if c.recorder == nil {
		return
	}
	if err := c.recorder.RecordModelCall(context.WithoutCancel(ctx), rec); err != nil {
		c.log.Warn("record model call", "call_group_id", rec.CallGroupID, "attempt", rec.Attempt, "error", err.Error())
	}
}

// redactErr scrubs credentials from the URL embedded in net/http errors.
func redactErr(err error) error {
	var ue *url.Error
	if stderrors.As(err, &ue) {
		ue.URL = logging.RedactURL(ue.URL)
	}
	return err
}

func latency(now, start time.Time) *int64 {
	ms := now.Sub(start).Milliseconds()
	return &ms
}

func clip(s string, limit int) *string {
	if len(s) > limit {
		s = s[:limit]
	}
	return &s
}

func clipBytes(b []byte, limit int) []byte {
	if len(b) > limit {
		return b[:limit]
	}
	return b
}
