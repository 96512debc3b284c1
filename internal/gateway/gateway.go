// Package gateway performs the two model operations (transcription and card
// generation) against a generateContent-style HTTP endpoint with bounded
// retry, per-attempt timeouts and an audit record per attempt.
package gateway

import (
	"context"
	"crypto/rand"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/dayloom/internal/config"
	"github.com/hpungsan/dayloom/internal/logging"
	"github.com/hpungsan/dayloom/internal/timeline"
)

// Operation names a logical model operation.
type Operation string

const (
	OpTranscribe    Operation = "transcribe"
	OpGenerateCards Operation = "generate_cards"
)

// Settings is the per-batch configuration snapshot the gateway runs with.
type Settings struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	Verbose     bool
	Mock        bool
}

// SettingsFromConfig extracts gateway settings from a config snapshot.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		BaseURL:     cfg.ModelBaseURL,
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		Timeout:     cfg.RequestTimeout(),
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay(),
		Verbose:     cfg.VerboseLogging,
		Mock:        cfg.MockModel,
	}
}

// Frame is one capture image sent with a transcription request.
type Frame struct {
	CapturedAt int64
	Path       string
}

// TranscribeRequest asks the model to describe a batch of frames.
type TranscribeRequest struct {
	BatchID     int64
	Prompt      string
	Frames      []Frame
	IntervalSec int64
}

// CardsRequest asks the model to produce activity cards for a window.
type CardsRequest struct {
	BatchID     int64
	Prompt      string
	WindowStart int64
	WindowEnd   int64
	Categories  []string
}

// Response is the raw text returned by the model. Validating it is the caller's job.
type Response struct {
	Text     string
	ModelID  string
	Attempts int
}

// ModelClient is the interface the pipeline depends on.
type ModelClient interface {
	Transcribe(ctx context.Context, s Settings, req TranscribeRequest) (*Response, error)
	GenerateCards(ctx context.Context, s Settings, req CardsRequest) (*Response, error)
}

// Recorder persists one ModelCallRecord per attempt.
type Recorder interface {
	RecordModelCall(ctx context.Context, rec *timeline.ModelCallRecord) error
}

// Client is the HTTP implementation of ModelClient.
type Client struct {
	httpClient *http.Client
	recorder   Recorder
	log        *logging.Logger
	now        func() time.Time
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the transport; tests use it to avoid the network.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithClock overrides time.Now for latency and record timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New creates a Client. recorder may be nil.
func New(recorder Recorder, log *logging.Logger, opts ...Option) *Client {
	if log == nil {
		log = logging.NewNop()
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	c := &Client{
		httpClient: &http.Client{Transport: tr},
		recorder:   recorder,
		log:        log,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newCallGroupID(now time.Time) string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}

func (s Settings) endpoint() string {
	base := strings.TrimRight(strings.TrimSpace(s.BaseURL), "/")
	return base + "/v1beta/models/" + s.Model + ":generateContent"
}
