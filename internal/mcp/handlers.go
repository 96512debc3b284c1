package mcp

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/dayloom/internal/config"
	"github.com/hpungsan/dayloom/internal/db"
	"github.com/hpungsan/dayloom/internal/errors"
	"github.com/hpungsan/dayloom/internal/events"
	"github.com/hpungsan/dayloom/internal/ops"
	"github.com/hpungsan/dayloom/internal/pipeline"
)

// Ticker runs one pipeline tick.
type Ticker interface {
	Tick(ctx context.Context) (*pipeline.TickResult, error)
}

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	store   *db.Store
	cfg     config.Source
	sink    events.Sink
	ticker  Ticker
	baseDir string
}

// NewHandlers creates a new Handlers instance. ticker may be nil, in which
// case pipeline_tick reports an error.
func NewHandlers(store *db.Store, cfg config.Source, sink events.Sink, ticker Ticker, baseDir string) *Handlers {
	if sink == nil {
		sink = events.Nop{}
	}
	return &Handlers{store: store, cfg: cfg, sink: sink, ticker: ticker, baseDir: baseDir}
}

// Request types for each tool

// TimelineListRequest represents the arguments for timeline_list.
type TimelineListRequest struct {
	Day           string `json:"day,omitempty"`
	ExcludeSystem bool   `json:"exclude_system,omitempty"`
}

// TimelineSearchRequest represents the arguments for timeline_search.
type TimelineSearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// TimelineExportRequest represents the arguments for timeline_export.
type TimelineExportRequest struct {
	Day    string `json:"day,omitempty"`
	Format string `json:"format,omitempty"`
	Path   string `json:"path,omitempty"`
}

// BatchListRequest represents the arguments for batch_list.
type BatchListRequest struct {
	Status string `json:"status,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// IDRequest represents the arguments of tools addressing one row.
type IDRequest struct {
	ID int64 `json:"id"`
}

// CardRecategorizeRequest represents the arguments for card_recategorize.
type CardRecategorizeRequest struct {
	ID          int64   `json:"id"`
	Category    string  `json:"category"`
	Subcategory *string `json:"subcategory,omitempty"`
}

// CardAttachVideoRequest represents the arguments for card_attach_video.
type CardAttachVideoRequest struct {
	ID       int64  `json:"id"`
	VideoRef string `json:"video_ref"`
}

// Handler implementations

// HandleTimelineList handles the timeline_list tool call.
func (h *Handlers) HandleTimelineList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[TimelineListRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	cfg, err := h.cfg.Current()
	if err != nil {
		return errorResult(errors.NewInternal(err)), nil
	}

	result, err := ops.ListTimeline(ctx, h.store, cfg, ops.TimelineInput{
		Day:           input.Day,
		ExcludeSystem: input.ExcludeSystem,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleTimelineSearch handles the timeline_search tool call.
func (h *Handlers) HandleTimelineSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[TimelineSearchRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.SearchCards(ctx, h.store, ops.SearchInput{Query: input.Query, Limit: input.Limit})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleTimelineExport handles the timeline_export tool call.
func (h *Handlers) HandleTimelineExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[TimelineExportRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	format, err := parseFormat(input.Format)
	if err != nil {
		return errorResult(err), nil
	}
	cfg, err := h.cfg.Current()
	if err != nil {
		return errorResult(errors.NewInternal(err)), nil
	}

	result, err := ops.ExportDay(ctx, h.store, cfg, h.baseDir, ops.ExportInput{
		Day:    input.Day,
		Path:   input.Path,
		Format: format,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleBatchList handles the batch_list tool call.
func (h *Handlers) HandleBatchList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[BatchListRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	var statuses []string
	if input.Status != "" {
		statuses = strings.Split(input.Status, ",")
	}
	result, err := ops.ListBatches(ctx, h.store, ops.ListBatchesInput{
		Statuses: statuses,
		Limit:    input.Limit,
		Offset:   input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleBatchGet handles the batch_get tool call.
func (h *Handlers) HandleBatchGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.GetBatch(ctx, h.store, input.ID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleBatchRetry handles the batch_retry tool call.
func (h *Handlers) HandleBatchRetry(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.RetryBatch(ctx, h.store, h.sink, input.ID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleCardRecategorize handles the card_recategorize tool call.
func (h *Handlers) HandleCardRecategorize(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CardRecategorizeRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	cfg, err := h.cfg.Current()
	if err != nil {
		return errorResult(errors.NewInternal(err)), nil
	}

	result, err := ops.RecategorizeCard(ctx, h.store, cfg, h.sink, ops.RecategorizeInput{
		ID:          input.ID,
		Category:    input.Category,
		Subcategory: input.Subcategory,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleCardAttachVideo handles the card_attach_video tool call.
func (h *Handlers) HandleCardAttachVideo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CardAttachVideoRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.AttachVideo(ctx, h.store, ops.AttachVideoInput{ID: input.ID, VideoRef: input.VideoRef})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandlePipelineTick handles the pipeline_tick tool call.
func (h *Handlers) HandlePipelineTick(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if h.ticker == nil {
		return errorResult(errors.NewConflict("pipeline is not available in this process")), nil
	}
	result, err := h.ticker.Tick(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

func parseFormat(s string) (ops.ExportFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "markdown", "md":
		return ops.FormatMarkdown, nil
	case "html":
		return ops.FormatHTML, nil
	default:
		return "", errors.NewInvalidRequest("format must be markdown or html")
	}
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are not exposed.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if e, ok := errors.As(err); ok {
		errorObj := map[string]any{
			"code":    e.Code,
			"message": e.Message,
			"status":  e.Status,
		}
		if e.Code == errors.ErrInternal {
			errorObj["message"] = "an internal error occurred"
		} else if e.Details != nil {
			errorObj["details"] = e.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
