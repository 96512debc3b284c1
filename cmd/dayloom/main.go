package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/hpungsan/dayloom/internal/config"
	"github.com/hpungsan/dayloom/internal/db"
	"github.com/hpungsan/dayloom/internal/events"
	"github.com/hpungsan/dayloom/internal/gateway"
	"github.com/hpungsan/dayloom/internal/logging"
	"github.com/hpungsan/dayloom/internal/mcp"
	"github.com/hpungsan/dayloom/internal/pipeline"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// eventBuffer is how many undelivered pipeline events the MCP feed holds.
const eventBuffer = 256

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"run": true, "tick": true, "drain": true, "import": true,
	"timeline": true, "search": true, "batches": true,
	"recategorize": true, "attach-video": true, "export": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	return false
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
       _             _
    __| | __ _ _   _| | ___   ___  _ __ ___
   / _' |/ _' | | | | |/ _ \ / _ \| '_ ' _ \
  | (_| | (_| | |_| | | (_) | (_) | | | | | |
   \__,_|\__,_|\__, |_|\___/ \___/|_| |_| |_|
               |___/

  Screen captures in, daily timeline out

  Usage: dayloom <command> [options]
         dayloom --help

  MCP server mode requires piped input.`)
}

// baseDirectory returns DAYLOOM_HOME, or ~/.dayloom when unset.
func baseDirectory() (string, error) {
	if dir := os.Getenv("DAYLOOM_HOME"); dir != "" {
		return dir, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".dayloom"), nil
}

// env is everything a command needs, built once per process.
type env struct {
	baseDir  string
	store    *db.Store
	cfg      config.Source
	log      *logging.Logger
	sink     events.Sink
	model    gateway.ModelClient
	pipeline *pipeline.Pipeline
}

// newEnv opens the store under baseDir and wires the pipeline around it.
// model may be nil, in which case the HTTP gateway is used. Events always go
// to the log and additionally to each of extra.
func newEnv(baseDir string, src config.Source, log *logging.Logger, model gateway.ModelClient, extra ...events.Sink) (*env, error) {
	cfg, err := src.Current()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	store, err := db.Open(baseDir, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if model == nil {
		model = gateway.New(store, log)
	}
	var sink events.Sink = events.LogSink{Log: log}
	if len(extra) > 0 {
		sink = append(events.Multi{sink}, extra...)
	}
	e := &env{
		baseDir: baseDir,
		store:   store,
		cfg:     src,
		log:     log,
		sink:    sink,
		model:   model,
	}
	e.pipeline = pipeline.New(pipeline.Deps{
		Store:   store,
		Model:   model,
		Config:  src,
		Sink:    sink,
		Log:     log,
		BaseDir: baseDir,
	})
	return e, nil
}

func (e *env) Close() error {
	return e.store.Close()
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before DB init (no DB needed)
	if isHelpOrVersion() {
		app := newCLIApp(nil)
		if err := app.Run(os.Args); err != nil {
			fatal("%v", err)
		}
		return
	}

	// A missing .env file is fine; real environment variables still apply.
	_ = godotenv.Load()

	baseDir, err := baseDirectory()
	if err != nil {
		fatal("%v", err)
	}
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		fatal("failed to create %s: %v", baseDir, err)
	}

	src := config.FileSource{BaseDir: baseDir}
	cfg, err := src.Current()
	if err != nil {
		fatal("failed to load config: %v", err)
	}
	log, err := logging.New(logging.Options{Mode: cfg.LogMode, Level: cfg.LogLevel, Verbose: cfg.VerboseLogging})
	if err != nil {
		fatal("failed to build logger: %v", err)
	}
	defer log.Sync()

	// MCP clients receive pipeline events as notifications.
	var feed *events.ChannelSink
	var extra []events.Sink
	if !isCLIMode() {
		feed = events.NewChannelSink(eventBuffer)
		extra = append(extra, feed)
	}

	e, err := newEnv(baseDir, src, log, nil, extra...)
	if err != nil {
		fatal("%v", err)
	}
	defer e.Close()

	// CLI mode: known subcommand
	if isCLIMode() {
		app := newCLIApp(e)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			e.Close()
			os.Exit(1)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'dayloom --help' for usage.\n")
		e.Close()
		os.Exit(1)
	}

	// MCP server mode (default)
	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		log.Warn("ignoring unknown disabled tools", "tools", unknown)
	}
	h := mcp.NewHandlers(e.store, e.cfg, e.sink, e.pipeline, e.baseDir)
	err = mcp.Run(h, cfg.DisabledTools, Version, feed)
	if n := feed.Dropped(); n > 0 {
		log.Warn("dropped pipeline events for slow MCP clients", "count", n)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		e.Close()
		os.Exit(1)
	}
}
