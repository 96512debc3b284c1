package mcp

import "github.com/mark3labs/mcp-go/mcp"

var timelineListToolDef = mcp.NewTool("timeline_list",
	mcp.WithDescription("List the activity cards of one timeline day with per-category totals. System cards mark periods whose analysis failed."),
	mcp.WithString("day",
		mcp.Description("Day as YYYY-MM-DD. Default: today"),
	),
	mcp.WithBoolean("exclude_system",
		mcp.Description("Omit System (failure) cards. Default: false"),
	),
)

var timelineSearchToolDef = mcp.NewTool("timeline_search",
	mcp.WithDescription("Full-text search over card titles, summaries, categories and subcategories. Results are ranked by relevance."),
	mcp.WithString("query",
		mcp.Required(),
		mcp.Description("Words to search for"),
	),
	mcp.WithNumber("limit",
		mcp.Description("Maximum results (default 20, max 100)"),
	),
)

var timelineExportToolDef = mcp.NewTool("timeline_export",
	mcp.WithDescription("Export one day's timeline as markdown or HTML into the exports directory."),
	mcp.WithString("day",
		mcp.Description("Day as YYYY-MM-DD. Default: today"),
	),
	mcp.WithString("format",
		mcp.Description("markdown (default) or html"),
	),
	mcp.WithString("path",
		mcp.Description("Destination file directly inside the exports directory. Default: generated name"),
	),
)

var batchListToolDef = mcp.NewTool("batch_list",
	mcp.WithDescription("List analysis batches, newest first."),
	mcp.WithString("status",
		mcp.Description("Comma-separated statuses to include, e.g. failed,pending"),
	),
	mcp.WithNumber("limit",
		mcp.Description("Maximum results (default 50, max 500)"),
	),
	mcp.WithNumber("offset",
		mcp.Description("Results to skip"),
	),
)

var batchGetToolDef = mcp.NewTool("batch_get",
	mcp.WithDescription("Show one batch with its capture events, observations, cards and model call records."),
	mcp.WithNumber("id",
		mcp.Required(),
		mcp.Description("Batch id"),
	),
)

var batchRetryToolDef = mcp.NewTool("batch_retry",
	mcp.WithDescription("Reset a failed batch to pending so the next tick processes it again."),
	mcp.WithNumber("id",
		mcp.Required(),
		mcp.Description("Batch id"),
	),
)

var cardRecategorizeToolDef = mcp.NewTool("card_recategorize",
	mcp.WithDescription("Change the category and subcategory of a card. The category must be one of the configured categories."),
	mcp.WithNumber("id",
		mcp.Required(),
		mcp.Description("Card id"),
	),
	mcp.WithString("category",
		mcp.Required(),
		mcp.Description("New category"),
	),
	mcp.WithString("subcategory",
		mcp.Description("New subcategory. Omit to clear"),
	),
)

var cardAttachVideoToolDef = mcp.NewTool("card_attach_video",
	mcp.WithDescription("Record the video reference rendered for a card."),
	mcp.WithNumber("id",
		mcp.Required(),
		mcp.Description("Card id"),
	),
	mcp.WithString("video_ref",
		mcp.Required(),
		mcp.Description("Video reference"),
	),
)

var pipelineTickToolDef = mcp.NewTool("pipeline_tick",
	mcp.WithDescription("Form batches from new captures and process all pending batches now. Returns immediately with skipped=true if a tick is already running."),
)
