package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/dayloom/internal/errors"
	"github.com/hpungsan/dayloom/internal/logging"
	"github.com/hpungsan/dayloom/internal/timeline"
)

type memRecorder struct {
	mu   sync.Mutex
	recs []timeline.ModelCallRecord
}

func (m *memRecorder) RecordModelCall(_ context.Context, rec *timeline.ModelCallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, *rec)
	return nil
}

func (m *memRecorder) all() []timeline.ModelCallRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]timeline.ModelCallRecord(nil), m.recs...)
}

func settings(baseURL string) Settings {
	return Settings{
		BaseURL:     baseURL,
		APIKey:      "super-secret",
		Model:       "test-model",
		Timeout:     2 * time.Second,
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
	}
}

func okBody(text string) string {
	b, _ := json.Marshal(map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{"parts": []any{map[string]any{"text": text}}},
		}},
		"modelVersion": "test-model-001",
	})
	return string(b)
}

func TestGenerateCards_Success(t *testing.T) {
	var gotPath, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("key")
		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "application/json", req.GenerationConfig.ResponseMimeType)
		_, _ = w.Write([]byte(okBody(`{"cards":[]}`)))
	}))
	defer srv.Close()

	rec := &memRecorder{}
	c := New(rec, logging.NewNop())

	resp, err := c.GenerateCards(context.Background(), settings(srv.URL), CardsRequest{BatchID: 4, Prompt: "p"})
	require.NoError(t, err)
	require.Equal(t, `{"cards":[]}`, resp.Text)
	require.Equal(t, "test-model-001", resp.ModelID)
	require.Equal(t, 1, resp.Attempts)
	require.Equal(t, "/v1beta/models/test-model:generateContent", gotPath)
	require.Equal(t, "super-secret", gotKey)

	recs := rec.all()
	require.Len(t, recs, 1)
	require.Equal(t, timeline.CallSuccess, recs[0].Status)
	require.Equal(t, string(OpGenerateCards), recs[0].Operation)
	require.Equal(t, int64(4), *recs[0].BatchID)
	require.NotContains(t, recs[0].RedactedRequestURL, "super-secret")
	require.Nil(t, recs[0].RequestBody, "bodies are only kept in verbose mode")
}

func TestCall_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(okBody(`{"ok":true}`)))
	}))
	defer srv.Close()

	rec := &memRecorder{}
	c := New(rec, logging.NewNop())

	resp, err := c.GenerateCards(context.Background(), settings(srv.URL), CardsRequest{Prompt: "p"})
	require.NoError(t, err)
	require.Equal(t, 3, resp.Attempts)

	recs := rec.all()
	require.Len(t, recs, 3)
	for i, r := range recs {
		require.Equal(t, i+1, r.Attempt)
		require.Equal(t, recs[0].CallGroupID, r.CallGroupID)
	}
	require.Equal(t, timeline.CallFailure, recs[0].Status)
	require.Equal(t, "http", *recs[0].ErrorKind)
	require.Equal(t, http.StatusServiceUnavailable, *recs[0].HTTPStatus)
	require.Nil(t, recs[0].BatchID)
	require.Equal(t, timeline.CallSuccess, recs[2].Status)
}

func TestCall_ExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	rec := &memRecorder{}
	c := New(rec, logging.NewNop())

	_, err := c.GenerateCards(context.Background(), settings(srv.URL), CardsRequest{Prompt: "p"})
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.ErrUpstream))
	require.EqualValues(t, 3, calls.Load())
	require.Len(t, rec.all(), 3)
	require.NotContains(t, err.Error(), "super-secret")

	var herr *HTTPError
	require.ErrorAs(t, err, &herr)
	require.Equal(t, http.StatusBadRequest, herr.StatusCode)
}

func TestCall_TimeoutCountsAsAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	rec := &memRecorder{}
	c := New(rec, logging.NewNop())
	s := settings(srv.URL)
	s.Timeout = 20 * time.Millisecond
	s.MaxAttempts = 2

	_, err := c.GenerateCards(context.Background(), s, CardsRequest{Prompt: "p"})
	require.True(t, errors.Is(err, errors.ErrUpstream))
	require.NotContains(t, err.Error(), "super-secret")

	recs := rec.all()
	require.Len(t, recs, 2)
	require.Equal(t, "timeout", *recs[0].ErrorKind)
	require.NotContains(t, *recs[0].ErrorMessage, "super-secret")
}

func TestTranscribe_InlinesFrames(t *testing.T) {
	dir := t.TempDir()
	framePath := filepath.Join(dir, "1700000000.png")
	require.NoError(t, os.WriteFile(framePath, []byte("png-bytes"), 0o600))

	var parts []part
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		parts = req.Contents[0].Parts
		_, _ = w.Write([]byte(okBody(`{"observations":[]}`)))
	}))
	defer srv.Close()

	rec := &memRecorder{}
	c := New(rec, logging.NewNop())
	s := settings(srv.URL)
	s.Verbose = true

	_, err := c.Transcribe(context.Background(), s, TranscribeRequest{
		BatchID: 1,
		Prompt:  "describe",
		Frames:  []Frame{{CapturedAt: 1700000000, Path: framePath}},
	})
	require.NoError(t, err)
	require.Len(t, parts, 2)
	require.Equal(t, "describe", parts[0].Text)
	require.Equal(t, "image/png", parts[1].InlineData.MimeType)

	recs := rec.all()
	require.Len(t, recs, 1)
	require.NotNil(t, recs[0].RequestBody)
	require.NotNil(t, recs[0].ResponseBody)
}

func TestTranscribe_MissingFrameFailsWithoutNetwork(t *testing.T) {
	rec := &memRecorder{}
	c := New(rec, logging.NewNop())

	_, err := c.Transcribe(context.Background(), settings("http://127.0.0.1:1"), TranscribeRequest{
		Frames: []Frame{{Path: filepath.Join(t.TempDir(), "missing.jpg")}},
	})
	require.True(t, errors.Is(err, errors.ErrInternal))
	require.Empty(t, rec.all())
}

func TestMockMode_BypassesNetwork(t *testing.T) {
	c := New(nil, logging.NewNop(), WithHTTPClient(&http.Client{
		Transport: roundTripperFunc(func(*http.Request) (*http.Response, error) {
			t.Fatal("mock mode must not perform network I/O")
			return nil, nil
		}),
	}))
	s := settings("http://unused")
	s.Mock = true

	tr, err := c.Transcribe(context.Background(), s, TranscribeRequest{Frames: make([]Frame, 6)})
	require.NoError(t, err)
	require.Contains(t, tr.Text, "observations")
	require.Equal(t, mockModelID, tr.ModelID)

	cards, err := c.GenerateCards(context.Background(), s, CardsRequest{WindowStart: 0, WindowEnd: 3600, Categories: []string{"Coding"}})
	require.NoError(t, err)
	require.True(t, strings.Contains(cards.Text, `"category":"Coding"`))
	require.True(t, strings.Contains(cards.Text, `"startTs":2700`))
}

type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }
