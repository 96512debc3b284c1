package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hpungsan/dayloom/internal/timeline"
)

func TestLoad_DefaultWhenMissing(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	def := DefaultConfig()
	if cfg.TargetBatchDurationSec != def.TargetBatchDurationSec {
		t.Fatalf("TargetBatchDurationSec = %d, want %d", cfg.TargetBatchDurationSec, def.TargetBatchDurationSec)
	}
	if cfg.MaxAttempts != 3 {
		t.Fatalf("MaxAttempts = %d, want 3", cfg.MaxAttempts)
	}
	if cfg.MockModel {
		t.Fatal("MockModel must never default to true")
	}
}

func TestLoad_OverridesFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{"max_batch_gap_sec": 120, "model": "test-model"}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MaxBatchGapSec != 120 {
		t.Fatalf("MaxBatchGapSec = %d, want 120", cfg.MaxBatchGapSec)
	}
	if cfg.Model != "test-model" {
		t.Fatalf("Model = %q, want %q", cfg.Model, "test-model")
	}
	// Untouched fields keep defaults
	if cfg.CardWindowSec != 3600 {
		t.Fatalf("CardWindowSec = %d, want 3600", cfg.CardWindowSec)
	}
}

func TestLoad_YAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := "tick_interval_sec: 30\ncategories:\n  - Coding\n  - Meetings\n"
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.TickInterval() != 30*time.Second {
		t.Fatalf("TickInterval() = %v, want 30s", cfg.TickInterval())
	}
	if len(cfg.Categories) != 2 || cfg.Categories[0] != "Coding" {
		t.Fatalf("Categories = %v, want [Coding Meetings]", cfg.Categories)
	}
}

func TestLoad_ExplicitZeroOverridesDefault(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"json", "config.json", `{"day_start_hour": 0, "min_batch_duration_sec": 0}`},
		{"yaml", "config.yaml", "day_start_hour: 0\nmin_batch_duration_sec: 0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			if err := os.WriteFile(filepath.Join(tmpDir, tt.file), []byte(tt.content), 0600); err != nil {
				t.Fatalf("WriteFile() error = %v", err)
			}

			cfg, err := Load(tmpDir)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if cfg.DayStartHour != 0 {
				t.Errorf("DayStartHour = %d, want 0", cfg.DayStartHour)
			}
			if cfg.MinBatchDurationSec != 0 {
				t.Errorf("MinBatchDurationSec = %d, want 0", cfg.MinBatchDurationSec)
			}
			// Absent keys keep defaults
			if cfg.CardWindowSec != 3600 {
				t.Errorf("CardWindowSec = %d, want 3600", cfg.CardWindowSec)
			}
		})
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{not json}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := Load(tmpDir); err == nil {
		t.Fatalf("Load() expected error, got nil")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("DAYLOOM_API_KEY", "secret-key")
	t.Setenv("DAYLOOM_MOCK_MODEL", "true")
	t.Setenv("DAYLOOM_MODEL", "env-model")

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.APIKey != "secret-key" {
		t.Errorf("APIKey = %q, want %q", cfg.APIKey, "secret-key")
	}
	if !cfg.MockModel {
		t.Error("MockModel = false, want true")
	}
	if cfg.Model != "env-model" {
		t.Errorf("Model = %q, want %q", cfg.Model, "env-model")
	}
}

func TestMerge_ScalarsAndSlices(t *testing.T) {
	base := DefaultConfig()
	base.DisabledTools = []string{"batch_retry"}
	overlay := &Config{
		MaxAttempts:   5,
		DisabledTools: []string{" pipeline_tick ", "batch_retry"},
	}

	got := Merge(base, overlay)

	if got.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", got.MaxAttempts)
	}
	if got.RequestTimeoutSec != base.RequestTimeoutSec {
		t.Errorf("RequestTimeoutSec = %d, want %d", got.RequestTimeoutSec, base.RequestTimeoutSec)
	}
	if len(got.DisabledTools) != 2 {
		t.Fatalf("DisabledTools = %v, want 2 deduplicated entries", got.DisabledTools)
	}
	if len(got.Categories) != len(DefaultCategories) {
		t.Errorf("Categories = %v, want defaults", got.Categories)
	}
}

func TestAllowedCategories_ExcludesSystem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Categories = []string{"Work", "system", "Idle"}

	got := cfg.AllowedCategories()
	if len(got) != 2 {
		t.Fatalf("AllowedCategories() = %v, want [Work Idle]", got)
	}
	for _, c := range got {
		if c == "system" || c == timeline.SystemCategory {
			t.Fatalf("AllowedCategories() leaked %q", c)
		}
	}
}

func TestFileSource_ReReadsEachCall(t *testing.T) {
	tmpDir := t.TempDir()
	src := FileSource{BaseDir: tmpDir}

	first, err := src.Current()
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if first.CardWindowSec != 3600 {
		t.Fatalf("CardWindowSec = %d, want 3600", first.CardWindowSec)
	}

	configPath := filepath.Join(tmpDir, "config.json")
	if err := os.WriteFile(configPath, []byte(`{"card_window_sec": 1800}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	second, err := src.Current()
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if second.CardWindowSec != 1800 {
		t.Fatalf("CardWindowSec = %d, want 1800 after edit", second.CardWindowSec)
	}
	if first.CardWindowSec != 3600 {
		t.Fatal("earlier snapshot must not change")
	}
}

func TestStatic_ReturnsCopy(t *testing.T) {
	cfg := DefaultConfig()
	src := Static{Config: cfg}

	snap, err := src.Current()
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	snap.MaxAttempts = 99
	snap.Categories[0] = "Mutated"

	if cfg.MaxAttempts == 99 || cfg.Categories[0] == "Mutated" {
		t.Fatal("Static.Current must return an independent copy")
	}
}
