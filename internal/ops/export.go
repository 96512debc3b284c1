package ops

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/yuin/goldmark"

	"github.com/hpungsan/dayloom/internal/config"
	"github.com/hpungsan/dayloom/internal/db"
	"github.com/hpungsan/dayloom/internal/errors"
	"github.com/hpungsan/dayloom/internal/timeline"
)

// ExportFormat selects the output of ExportDay.
type ExportFormat string

const (
	FormatMarkdown ExportFormat = "markdown"
	FormatHTML     ExportFormat = "html"
)

// ExportInput contains parameters for the ExportDay operation.
type ExportInput struct {
	Day    string       // YYYY-MM-DD, default: today
	Path   string       // optional, default: <base>/exports/<day>-<ulid>.<ext>
	Format ExportFormat // default: markdown, or inferred from Path
	Now    time.Time    // zero means time.Now()
}

// ExportOutput contains the result of the ExportDay operation.
type ExportOutput struct {
	Path       string       `json:"path"`
	Format     ExportFormat `json:"format"`
	DayKey     string       `json:"day_key"`
	Count      int          `json:"count"`
	ExportedAt int64        `json:"exported_at"`
}

// ExportDay writes one day's timeline as markdown, or as HTML rendered from
// that markdown, into the exports directory under baseDir.
func ExportDay(ctx context.Context, store *db.Store, cfg *config.Config, baseDir string, input ExportInput) (*ExportOutput, error) {
	now := input.Now
	if now.IsZero() {
		now = time.Now()
	}
	exportsDir := filepath.Join(baseDir, "exports")

	tl, err := ListTimeline(ctx, store, cfg, TimelineInput{Day: input.Day, Now: now})
	if err != nil {
		return nil, err
	}

	format := input.Format
	exportPath := input.Path
	if exportPath == "" {
		if format == "" {
			format = FormatMarkdown
		}
		ext := ".md"
		if format == FormatHTML {
			ext = ".html"
		}
		exportPath = filepath.Join(exportsDir, fmt.Sprintf("%s-%s%s", tl.DayKey, ulid.Make().String(), ext))
	}

	pathFormat, err := ValidateExportPath(exportPath, exportsDir)
	if err != nil {
		return nil, err
	}
	if format == "" {
		format = pathFormat
	}
	if format != pathFormat {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("format %q does not match extension of %s", format, exportPath))
	}

	md := RenderDayMarkdown(tl, DisplayFor(cfg))
	content := []byte(md)
	if format == FormatHTML {
		content, err = renderHTML(tl.DayKey, md)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
	}

	if err := os.MkdirAll(exportsDir, 0700); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
	}
	if err := writeAtomic(exportPath, content); err != nil {
		return nil, err
	}

	return &ExportOutput{
		Path:       exportPath,
		Format:     format,
		DayKey:     tl.DayKey,
		Count:      len(tl.Cards),
		ExportedAt: now.Unix(),
	}, nil
}

// writeAtomic writes content to a temp file next to path, then renames it
// into place so an existing export survives a failed write.
func writeAtomic(path string, content []byte) error {
	tempPath := path + "." + strings.ToLower(ulid.Make().String()) + ".tmp"
	file, err := openFileNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return errors.NewInternal(fmt.Errorf("failed to create export file: %w", err))
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	if _, err := file.Write(content); err != nil {
		return errors.NewInternal(err)
	}
	if err := file.Sync(); err != nil {
		return errors.NewInternal(err)
	}
	// Close before rename (required on Windows; fine elsewhere).
	if err := file.Close(); err != nil {
		return errors.NewInternal(fmt.Errorf("failed to close export file: %w", err))
	}
	file = nil

	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return errors.NewInternal(fmt.Errorf("export path is a symlink"))
	}

	// On Windows os.Rename fails if the destination exists; the existing
	// file is preserved rather than deleted first.
	if err := os.Rename(tempPath, path); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(path); statErr == nil {
				return errors.NewInvalidRequest("export destination already exists; choose a new path")
			}
		}
		return errors.NewInternal(fmt.Errorf("failed to finalize export: %w", err))
	}
	success = true
	return nil
}

// RenderDayMarkdown renders a day's cards as markdown.
func RenderDayMarkdown(tl *TimelineOutput, d timeline.Display) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Timeline for %s\n\n", tl.DayKey)

	if len(tl.Cards) == 0 {
		sb.WriteString("_No activity recorded._\n")
		return sb.String()
	}

	if len(tl.Totals) > 0 {
		sb.WriteString("## Totals\n\n")
		for _, t := range tl.Totals {
			fmt.Fprintf(&sb, "- **%s**: %s\n", escapeMarkdown(t.Category), formatDuration(t.Seconds))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Activities\n")
	for _, c := range tl.Cards {
		category := c.Category
		if c.Subcategory != nil && *c.Subcategory != "" {
			category += " / " + *c.Subcategory
		}
		fmt.Fprintf(&sb, "\n### %s - %s: %s\n\n", d.Clock(c.StartTs), d.Clock(c.EndTs), escapeMarkdown(c.Title))
		fmt.Fprintf(&sb, "*%s*, %s\n", escapeMarkdown(category), formatDuration(c.EndTs-c.StartTs))
		if c.Summary != nil && *c.Summary != "" {
			fmt.Fprintf(&sb, "\n%s\n", escapeMarkdown(*c.Summary))
		}
		if c.DetailedSummary != nil && *c.DetailedSummary != "" {
			fmt.Fprintf(&sb, "\n> %s\n", strings.ReplaceAll(escapeMarkdown(*c.DetailedSummary), "\n", "\n> "))
		}
	}
	return sb.String()
}

func renderHTML(day, md string) ([]byte, error) {
	var body bytes.Buffer
	if err := goldmark.Convert([]byte(md), &body); err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}
	var out bytes.Buffer
	fmt.Fprintf(&out, "<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>Timeline for %s</title>\n</head>\n<body>\n",
		html.EscapeString(day))
	out.Write(body.Bytes())
	out.WriteString("</body>\n</html>\n")
	return out.Bytes(), nil
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`, "*", `\*`, "_", `\_`, "`", "\\`", "#", `\#`, "[", `\[`, "]", `\]`, "<", "&lt;", ">", "&gt;",
)

// escapeMarkdown neutralizes model-written text so it renders literally.
func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(strings.TrimSpace(s))
}

func formatDuration(sec int64) string {
	d := time.Duration(sec) * time.Second
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	switch {
	case h > 0 && m > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case h > 0:
		return fmt.Sprintf("%dh", h)
	default:
		return fmt.Sprintf("%dm", m)
	}
}
