package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hpungsan/dayloom/internal/timeline"
)

// Config holds application configuration.
type Config struct {
	// TickIntervalSec is the scheduler period.
	TickIntervalSec int `json:"tick_interval_sec" yaml:"tick_interval_sec"`

	// LookbackWindowSec bounds how far back unprocessed capture events are considered.
	LookbackWindowSec int `json:"lookback_window_sec" yaml:"lookback_window_sec"`

	// TargetBatchDurationSec is the span a batch grows to before it is closed.
	// A trailing batch shorter than this is held back until more events arrive.
	TargetBatchDurationSec int `json:"target_batch_duration_sec" yaml:"target_batch_duration_sec"`

	// MaxBatchGapSec splits a batch when two consecutive captures are further apart.
	MaxBatchGapSec int `json:"max_batch_gap_sec" yaml:"max_batch_gap_sec"`

	// MinBatchDurationSec is the shortest batch that is sent to the model.
	// Shorter batches are recorded as skipped_short.
	MinBatchDurationSec int `json:"min_batch_duration_sec" yaml:"min_batch_duration_sec"`

	// CardWindowSec is the sliding window (ending at the batch end) regenerated per batch.
	CardWindowSec int `json:"card_window_sec" yaml:"card_window_sec"`

	// CaptureIntervalSec is the real-world time between captures. One second of
	// model-relative time equals one capture interval.
	CaptureIntervalSec int `json:"capture_interval_sec" yaml:"capture_interval_sec"`

	// Model identifies the model used for both operations.
	Model string `json:"model" yaml:"model"`

	// ModelBaseURL is the inference endpoint root.
	ModelBaseURL string `json:"model_base_url,omitempty" yaml:"model_base_url,omitempty"`

	// APIKey is normally supplied via DAYLOOM_API_KEY rather than the file.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// RequestTimeoutSec bounds each network attempt.
	RequestTimeoutSec int `json:"request_timeout_sec" yaml:"request_timeout_sec"`

	// MaxAttempts is the per-operation attempt budget.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// RetryBaseDelayMs is the first backoff delay; it doubles per retry.
	RetryBaseDelayMs int `json:"retry_base_delay_ms" yaml:"retry_base_delay_ms"`

	// MockModel bypasses the network and returns canned payloads. Never enabled implicitly.
	MockModel bool `json:"mock_model,omitempty" yaml:"mock_model,omitempty"`

	// VerboseLogging enables debug logs and full request/response bodies in model call records.
	VerboseLogging bool `json:"verbose_logging,omitempty" yaml:"verbose_logging,omitempty"`

	// Categories lists the categories the model may assign.
	Categories []string `json:"categories,omitempty" yaml:"categories,omitempty"`

	// DayStartHour is the local hour at which a timeline day begins.
	DayStartHour int `json:"day_start_hour" yaml:"day_start_hour"`

	// RecordingsDir is where capture image references are resolved.
	// Relative paths are resolved against the base directory.
	RecordingsDir string `json:"recordings_dir,omitempty" yaml:"recordings_dir,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level,omitempty" yaml:"log_level,omitempty"`

	// LogMode selects "production" (JSON) or "development" (console) encoding.
	LogMode string `json:"log_mode,omitempty" yaml:"log_mode,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default. Writes are serialized by the store queue regardless.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty" yaml:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty" yaml:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty" yaml:"disabled_tools,omitempty"`
}

// DefaultCategories are the categories offered to the model when none are configured.
var DefaultCategories = []string{"Work", "Personal", "Distraction", "Idle"}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		TickIntervalSec:        60,
		LookbackWindowSec:      24 * 60 * 60,
		TargetBatchDurationSec: 15 * 60,
		MaxBatchGapSec:         5 * 60,
		MinBatchDurationSec:    5 * 60,
		CardWindowSec:          60 * 60,
		CaptureIntervalSec:     10,
		Model:                  "gemini-2.5-flash",
		ModelBaseURL:           "https://generativelanguage.googleapis.com",
		RequestTimeoutSec:      120,
		MaxAttempts:            3,
		RetryBaseDelayMs:       500,
		Categories:             append([]string(nil), DefaultCategories...),
		DayStartHour:           4,
		RecordingsDir:          "recordings",
		LogLevel:               "info",
		LogMode:                "development",
	}
}

// TickInterval returns the scheduler period as a duration.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalSec) * time.Second
}

// RequestTimeout returns the per-attempt timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// RetryBaseDelay returns the first backoff delay as a duration.
func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMs) * time.Millisecond
}

// AllowedCategories returns the model-assignable categories. The System
// category is reserved for pipeline-created cards and always removed.
func (c *Config) AllowedCategories() []string {
	out := make([]string, 0, len(c.Categories))
	for _, cat := range c.Categories {
		if !strings.EqualFold(cat, timeline.SystemCategory) {
			out = append(out, cat)
		}
	}
	return out
}

// Load loads configuration from baseDir/config.json (or config.yaml) and
// applies environment overrides. Returns default config if no file exists.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFile(findConfigFile(baseDir))
	if err != nil {
		return nil, err
	}
	applyEnv(cfg)
	return cfg, nil
}

// findConfigFile returns the first config file present in baseDir.
// Falls back to config.json so a missing file yields defaults.
func findConfigFile(baseDir string) string {
	for _, name := range []string{"config.json", "config.yaml", "config.yml"} {
		p := filepath.Join(baseDir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return filepath.Join(baseDir, "config.json")
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
// The returned set holds the top-level keys present in the file.
func loadFileRaw(configPath string) (*Config, map[string]bool, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil, nil
		}
		return nil, nil, err
	}

	cfg := &Config{}
	keys := map[string]bool{}
	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, nil, err
		}
		var raw map[string]yaml.Node
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, nil, err
		}
		for k := range raw {
			keys[k] = true
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, nil, err
		}
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, nil, err
		}
		for k := range raw {
			keys[k] = true
		}
	}

	return cfg, keys, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, keys, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	merged := Merge(DefaultConfig(), cfg)
	keepExplicitZeros(merged, cfg, keys)
	return merged, nil
}

// intFields maps each integer setting's file key to its field.
func (c *Config) intFields() map[string]*int {
	return map[string]*int{
		"tick_interval_sec":         &c.TickIntervalSec,
		"lookback_window_sec":       &c.LookbackWindowSec,
		"target_batch_duration_sec": &c.TargetBatchDurationSec,
		"max_batch_gap_sec":         &c.MaxBatchGapSec,
		"min_batch_duration_sec":    &c.MinBatchDurationSec,
		"card_window_sec":           &c.CardWindowSec,
		"capture_interval_sec":      &c.CaptureIntervalSec,
		"request_timeout_sec":       &c.RequestTimeoutSec,
		"max_attempts":              &c.MaxAttempts,
		"retry_base_delay_ms":       &c.RetryBaseDelayMs,
		"day_start_hour":            &c.DayStartHour,
		"db_max_open_conns":         &c.DBMaxOpenConns,
		"db_max_idle_conns":         &c.DBMaxIdleConns,
	}
}

// keepExplicitZeros restores integer settings the file sets to 0, which
// Merge otherwise treats as absent.
func keepExplicitZeros(merged, file *Config, keys map[string]bool) {
	fileFields := file.intFields()
	for key, field := range merged.intFields() {
		if keys[key] && *fileFields[key] == 0 {
			*field = 0
		}
	}
}

// applyEnv overlays environment variables onto cfg.
func applyEnv(cfg *Config) {
	if key := firstEnv("DAYLOOM_API_KEY", "GEMINI_API_KEY"); key != "" {
		cfg.APIKey = key
	}
	if model := os.Getenv("DAYLOOM_MODEL"); model != "" {
		cfg.Model = model
	}
	if base := os.Getenv("DAYLOOM_MODEL_BASE_URL"); base != "" {
		cfg.ModelBaseURL = base
	}
	if v, ok := envBool("DAYLOOM_MOCK_MODEL"); ok {
		cfg.MockModel = v
	}
	if v, ok := envBool("DAYLOOM_VERBOSE"); ok {
		cfg.VerboseLogging = v
	}
	if level := os.Getenv("DAYLOOM_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := strings.TrimSpace(os.Getenv(n)); v != "" {
			return v
		}
	}
	return ""
}

func envBool(name string) (bool, bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated,
// except Categories where a non-empty overlay replaces the base list.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.TickIntervalSec = pickInt(overlay.TickIntervalSec, base.TickIntervalSec)
	result.LookbackWindowSec = pickInt(overlay.LookbackWindowSec, base.LookbackWindowSec)
	result.TargetBatchDurationSec = pickInt(overlay.TargetBatchDurationSec, base.TargetBatchDurationSec)
	result.MaxBatchGapSec = pickInt(overlay.MaxBatchGapSec, base.MaxBatchGapSec)
	result.MinBatchDurationSec = pickInt(overlay.MinBatchDurationSec, base.MinBatchDurationSec)
	result.CardWindowSec = pickInt(overlay.CardWindowSec, base.CardWindowSec)
	result.CaptureIntervalSec = pickInt(overlay.CaptureIntervalSec, base.CaptureIntervalSec)
	result.RequestTimeoutSec = pickInt(overlay.RequestTimeoutSec, base.RequestTimeoutSec)
	result.MaxAttempts = pickInt(overlay.MaxAttempts, base.MaxAttempts)
	result.RetryBaseDelayMs = pickInt(overlay.RetryBaseDelayMs, base.RetryBaseDelayMs)
	result.DayStartHour = pickInt(overlay.DayStartHour, base.DayStartHour)
	result.DBMaxOpenConns = pickInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = pickInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns)

	result.Model = pickString(overlay.Model, base.Model)
	result.ModelBaseURL = pickString(overlay.ModelBaseURL, base.ModelBaseURL)
	result.APIKey = pickString(overlay.APIKey, base.APIKey)
	result.RecordingsDir = pickString(overlay.RecordingsDir, base.RecordingsDir)
	result.LogLevel = pickString(overlay.LogLevel, base.LogLevel)
	result.LogMode = pickString(overlay.LogMode, base.LogMode)

	// Booleans: overlay wins if true, else base
	result.MockModel = base.MockModel || overlay.MockModel
	result.VerboseLogging = base.VerboseLogging || overlay.VerboseLogging

	result.Categories = mergeStringSlice(nil, base.Categories)
	if cats := mergeStringSlice(nil, overlay.Categories); len(cats) > 0 {
		result.Categories = cats
	}
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

func pickInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

func pickString(overlay, base string) string {
	if strings.TrimSpace(overlay) != "" {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}

// Source yields a fresh configuration snapshot on every call.
type Source interface {
	Current() (*Config, error)
}

// FileSource re-reads the config file from BaseDir on each Current call,
// so edits take effect at the next tick or batch without a restart.
type FileSource struct {
	BaseDir string
}

// Current implements Source.
func (s FileSource) Current() (*Config, error) {
	return Load(s.BaseDir)
}

// Static is a Source that always returns a copy of the same config. Used in tests
// and for one-shot CLI invocations.
type Static struct {
	Config *Config
}

// Current implements Source.
func (s Static) Current() (*Config, error) {
	if s.Config == nil {
		return DefaultConfig(), nil
	}
	cp := *s.Config
	cp.Categories = append([]string(nil), s.Config.Categories...)
	cp.DisabledTools = append([]string(nil), s.Config.DisabledTools...)
	return &cp, nil
}
