package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/dayloom/internal/capture"
	"github.com/hpungsan/dayloom/internal/config"
	"github.com/hpungsan/dayloom/internal/errors"
	"github.com/hpungsan/dayloom/internal/ops"
	"github.com/hpungsan/dayloom/internal/pipeline"
)

// newCLIApp creates the CLI application with all commands. e may be nil
// when only help or version output is needed.
func newCLIApp(e *env) *cli.App {
	app := &cli.App{
		Name:    "dayloom",
		Usage:   "Turn periodic screen captures into a categorized daily timeline",
		Version: Version,
		Commands: []*cli.Command{
			runCmd(e),
			tickCmd(e),
			drainCmd(e),
			importCmd(e),
			timelineCmd(e),
			searchCmd(e),
			batchesCmd(e),
			recategorizeCmd(e),
			attachVideoCmd(e),
			exportCmd(e),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// runCmd creates the run command.
func runCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run the analysis scheduler until interrupted",
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			sched := pipeline.NewScheduler(e.pipeline)
			if err := sched.Start(); err != nil {
				return outputError(err)
			}
			e.log.Info("scheduler running", "base_dir", e.baseDir)

			<-ctx.Done()
			sched.Stop()
			sched.Wait()
			e.log.Info("scheduler stopped")
			return nil
		},
	}
}

// tickCmd creates the tick command.
func tickCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "tick",
		Usage: "Batch new captures and process pending batches once",
		Action: func(c *cli.Context) error {
			output, err := e.pipeline.Tick(c.Context)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// drainCmd creates the drain command.
func drainCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "drain",
		Usage: "Process pending batches without creating new ones",
		Action: func(c *cli.Context) error {
			output, err := e.pipeline.Drain(c.Context)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// importCmd creates the import command.
func importCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Register capture images (<unix-seconds>.jpg|png|webp) from the recordings directory",
		Action: func(c *cli.Context) error {
			cfg, err := currentConfig(e.cfg)
			if err != nil {
				return outputError(err)
			}
			output, err := capture.NewResolver(e.baseDir, cfg.RecordingsDir).ImportDir(c.Context, e.store)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// timelineCmd creates the timeline command.
func timelineCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "timeline",
		Usage: "Show the cards of one day",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "day", Aliases: []string{"d"}, Usage: "Day (YYYY-MM-DD), default: today"},
			&cli.BoolFlag{Name: "exclude-system", Usage: "Hide pipeline failure cards"},
			&cli.BoolFlag{Name: "include-deleted", Usage: "Include soft-deleted cards"},
			&cli.BoolFlag{Name: "markdown", Usage: "Print markdown instead of JSON"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := currentConfig(e.cfg)
			if err != nil {
				return outputError(err)
			}
			output, err := ops.ListTimeline(c.Context, e.store, cfg, ops.TimelineInput{
				Day:            c.String("day"),
				ExcludeSystem:  c.Bool("exclude-system"),
				IncludeDeleted: c.Bool("include-deleted"),
			})
			if err != nil {
				return outputError(err)
			}
			if c.Bool("markdown") {
				_, err := fmt.Fprint(os.Stdout, ops.RenderDayMarkdown(output, ops.DisplayFor(cfg)))
				return err
			}
			return outputJSON(output)
		},
	}
}

// searchCmd creates the search command.
func searchCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Full-text search over card titles and summaries",
		ArgsUsage: "<query>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultSearchLimit, Usage: "Max results"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.SearchCards(c.Context, e.store, ops.SearchInput{
				Query: strings.Join(c.Args().Slice(), " "),
				Limit: c.Int("limit"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// batchesCmd creates the batches command and its subcommands.
func batchesCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "batches",
		Usage: "Inspect and retry analysis batches",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List batches newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "status", Aliases: []string{"s"}, Usage: "Comma-separated statuses"},
					&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Max results"},
					&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Usage: "Skip first N results"},
				},
				Action: func(c *cli.Context) error {
					output, err := ops.ListBatches(c.Context, e.store, ops.ListBatchesInput{
						Statuses: parseList(c.String("status")),
						Limit:    c.Int("limit"),
						Offset:   c.Int("offset"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "show",
				Usage:     "Show a batch with its events, observations, cards and model calls",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					id, err := parseID(c.Args().First())
					if err != nil {
						return outputError(err)
					}
					output, err := ops.GetBatch(c.Context, e.store, id)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
			{
				Name:      "retry",
				Usage:     "Move a failed batch back to pending",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					id, err := parseID(c.Args().First())
					if err != nil {
						return outputError(err)
					}
					output, err := ops.RetryBatch(c.Context, e.store, e.sink, id)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(output)
				},
			},
		},
	}
}

// recategorizeCmd creates the recategorize command.
func recategorizeCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "recategorize",
		Usage:     "Change the category of a card",
		ArgsUsage: "<card-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "category", Aliases: []string{"c"}, Required: true, Usage: "New category"},
			&cli.StringFlag{Name: "subcategory", Usage: "New subcategory (omit to clear)"},
		},
		Action: func(c *cli.Context) error {
			id, err := parseID(c.Args().First())
			if err != nil {
				return outputError(err)
			}
			cfg, err := currentConfig(e.cfg)
			if err != nil {
				return outputError(err)
			}
			input := ops.RecategorizeInput{ID: id, Category: c.String("category")}
			if c.IsSet("subcategory") {
				sub := c.String("subcategory")
				input.Subcategory = &sub
			}
			output, err := ops.RecategorizeCard(c.Context, e.store, cfg, e.sink, input)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// attachVideoCmd creates the attach-video command.
func attachVideoCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "attach-video",
		Usage:     "Attach a timelapse video reference to a card",
		ArgsUsage: "<card-id> <video-ref>",
		Action: func(c *cli.Context) error {
			id, err := parseID(c.Args().Get(0))
			if err != nil {
				return outputError(err)
			}
			output, err := ops.AttachVideo(c.Context, e.store, ops.AttachVideoInput{ID: id, VideoRef: c.Args().Get(1)})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// exportCmd creates the export command.
func exportCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export one day as markdown or HTML into the exports directory",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "day", Aliases: []string{"d"}, Usage: "Day (YYYY-MM-DD), default: today"},
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Usage: "markdown|html (default: from path, else markdown)"},
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Output file path (default: <base>/exports/<day>-<id>.<ext>)"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := currentConfig(e.cfg)
			if err != nil {
				return outputError(err)
			}
			format, err := parseFormat(c.String("format"))
			if err != nil {
				return outputError(err)
			}
			output, err := ops.ExportDay(c.Context, e.store, cfg, e.baseDir, ops.ExportInput{
				Day:    c.String("day"),
				Path:   c.String("path"),
				Format: format,
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// Helper functions

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if e, ok := errors.As(err); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", e.Code, e.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

func currentConfig(src config.Source) (*config.Config, error) {
	cfg, err := src.Current()
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("load config: %w", err))
	}
	return cfg, nil
}

// parseList splits a comma-separated string, dropping empty entries.
func parseList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// parseID parses a positive row id.
func parseID(s string) (int64, error) {
	if s == "" {
		return 0, errors.NewInvalidRequest("id is required")
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.NewInvalidRequest(fmt.Sprintf("invalid id: %s", s))
	}
	return id, nil
}

// parseFormat maps a --format value to an export format.
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

