// Package capture is the boundary to the screen capture collaborator:
// resolving stored image references and registering captured frames.
package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/hpungsan/dayloom/internal/errors"
	"github.com/hpungsan/dayloom/internal/timeline"
)

// Resolver maps image references to readable file paths.
type Resolver struct {
	// Root is the directory relative references are resolved against.
	Root string
}

// NewResolver resolves recordingsDir against baseDir when it is relative.
func NewResolver(baseDir, recordingsDir string) Resolver {
	if recordingsDir == "" || filepath.IsAbs(recordingsDir) {
		return Resolver{Root: recordingsDir}
	}
	return Resolver{Root: filepath.Join(baseDir, recordingsDir)}
}

// Path returns the file path for ref. Relative references may not escape Root.
func (r Resolver) Path(ref string) (string, error) {
	if ref == "" {
		return "", errors.NewInvalidRequest("empty image reference")
	}
	if filepath.IsAbs(ref) {
		return filepath.Clean(ref), nil
	}
	p := filepath.Join(r.Root, ref)
	rel, err := filepath.Rel(r.Root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.NewInvalidRequest(fmt.Sprintf("image reference escapes recordings dir: %s", ref))
	}
	return p, nil
}

// Resolve returns a readable path for ref, failing if the file is missing.
func (r Resolver) Resolve(ref string) (string, error) {
	p, err := r.Path(ref)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(p)
	if err != nil {
		return "", fmt.Errorf("image %s: %w", ref, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("image %s is a directory", ref)
	}
	return p, nil
}

// EventWriter registers capture events; *db.Store implements it.
type EventWriter interface {
	InsertCaptureEvent(ctx context.Context, capturedAt int64, imageRef string) (*timeline.CaptureEvent, bool, error)
}

// ImportResult summarizes an ImportDir run.
type ImportResult struct {
	Imported int      `json:"imported"`
	Existing int      `json:"existing"`
	Skipped  []string `json:"skipped,omitempty"`
}

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true}

// ImportDir registers every image in Root named <unix-seconds>.<ext> as a
// capture event. Files are processed in timestamp order; files with other
// names are reported in Skipped. Importing the same file twice is a no-op.
func (r Resolver) ImportDir(ctx context.Context, w EventWriter) (*ImportResult, error) {
	entries, err := os.ReadDir(r.Root)
	if err != nil {
		return nil, fmt.Errorf("read recordings dir: %w", err)
	}

	type frame struct {
		ts   int64
		name string
	}
	var frames []frame
	res := &ImportResult{}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if !imageExts[ext] {
			res.Skipped = append(res.Skipped, name)
			continue
		}
		ts, err := strconv.ParseInt(strings.TrimSuffix(name, filepath.Ext(name)), 10, 64)
		if err != nil || ts <= 0 {
			res.Skipped = append(res.Skipped, name)
			continue
		}
		frames = append(frames, frame{ts: ts, name: name})
	}

	sort.Slice(frames, func(i, j int) bool {
		if frames[i].ts != frames[j].ts {
			return frames[i].ts < frames[j].ts
		}
		return frames[i].name < frames[j].name
	})

	for _, f := range frames {
		_, inserted, err := w.InsertCaptureEvent(ctx, f.ts, f.name)
		if err != nil {
			return res, fmt.Errorf("register %s: %w", f.name, err)
		}
		if inserted {
			res.Imported++
		} else {
			res.Existing++
		}
	}
	return res, nil
}
