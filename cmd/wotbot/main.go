// Wotbot is a chat assistant gateway.
//
// It accepts inbound user messages over HTTP, drives one of three
// OpenAI-compatible backend protocols with a bounded tool-calling
// loop, and returns replies pre-split into message-sized chunks.
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	wotbot serve              Start the API server
//	wotbot send <text>        Send a single message (for testing)
//	wotbot version            Print version and build information
//	wotbot -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/yishaik/wotbot/internal/api"
	"github.com/yishaik/wotbot/internal/buildinfo"
	"github.com/yishaik/wotbot/internal/config"
	"github.com/yishaik/wotbot/internal/engine"
	"github.com/yishaik/wotbot/internal/events"
	"github.com/yishaik/wotbot/internal/llm"
	"github.com/yishaik/wotbot/internal/mcp"
	"github.com/yishaik/wotbot/internal/sandbox"
	"github.com/yishaik/wotbot/internal/session"
	"github.com/yishaik/wotbot/internal/tools"
	"github.com/yishaik/wotbot/internal/usage"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run], which
// keeps os.Exit, os.Stdout, and os.Args out of the application logic
// so the lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the wotbot command. Arguments are
// parsed by hand: the flag package relies on package-level globals,
// which makes it impossible to call run() concurrently from tests, and
// the argument surface is small enough that manual parsing is clearer
// than a CLI framework.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "send":
		if len(cmdArgs) == 0 {
			return errors.New("usage: wotbot send <text>")
		}
		return runSend(ctx, stdout, configPath, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Wotbot - Chat Assistant Gateway")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: wotbot [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  send         Send a single message (for testing)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	return nil
}

// runSend handles the "wotbot send <text>" subcommand. It boots a
// minimal engine (in-memory sessions, no usage store, no API server)
// and processes one message, printing each reply segment to stdout.
func runSend(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	logger := newLogger(stdout, slog.LevelWarn, "text")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	deps, cleanup := buildDeps(cfg, logger, nil)
	defer cleanup()

	eng, err := buildEngine(cfg, logger, nil, deps, nil)
	if err != nil {
		return err
	}

	replies := eng.Converse(ctx, "cli-test", strings.Join(args, " "))
	for _, r := range replies {
		fmt.Fprintln(stdout, r)
	}
	return nil
}

// runServe handles the "wotbot serve" subcommand: load config, open
// the usage database, assemble the tool registry and engine, start the
// API server, and block until a shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting wotbot", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure now that the desired level and format are known. The
	// initial Info-level text logger covers only the startup banner.
	{
		level := slog.LevelInfo
		if cfg.LogLevel != "" {
			// Already validated by config.Validate().
			level, _ = config.ParseLogLevel(cfg.LogLevel)
		}
		logger = newLogger(stdout, level, cfg.LogFormat)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"backend", cfg.Backend,
		"model", cfg.OpenAI.Model,
	)

	for _, dir := range []string{cfg.DataDir, cfg.LogsDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.New()

	deps, cleanup := buildDeps(cfg, logger, bus)
	defer cleanup()

	// Usage database. Optional in principle, but serve always runs
	// with it so the /v1/usage endpoint has data.
	usagePath := filepath.Join(cfg.DataDir, "usage.db")
	usageStore, err := usage.NewStore(usagePath)
	if err != nil {
		return fmt.Errorf("open usage database %s: %w", usagePath, err)
	}
	defer usageStore.Close()
	logger.Info("usage database opened", "path", usagePath)

	eng, err := buildEngine(cfg, logger, bus, deps, usageStore)
	if err != nil {
		return err
	}

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, eng, logger)
	server.SetMCP(deps.MCP)
	server.SetUsage(usageStore)
	server.SetBus(bus)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Start(ctx)
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", "error", err)
		}
	}

	logger.Info("wotbot stopped")
	return nil
}

// buildDeps assembles the tool collaborators. The returned cleanup
// closes the MCP manager's stdio subprocesses.
func buildDeps(cfg *config.Config, logger *slog.Logger, bus *events.Bus) (tools.Deps, func()) {
	runner := sandbox.New(sandbox.Config{
		Timeout:   cfg.Sandbox.Timeout(),
		MemoryMB:  cfg.Sandbox.MemoryMB,
		PythonBin: cfg.Sandbox.PythonBin,
		NodeBin:   cfg.Sandbox.NodeBin,
	}, logger, bus)

	httpTool := tools.NewHTTPTool(cfg.HTTPTool.AllowDomains, cfg.HTTPTool.Timeout(), logger)

	specs := make([]mcp.ServerSpec, 0, len(cfg.MCP.Servers))
	for _, s := range cfg.MCP.Servers {
		specs = append(specs, mcp.ServerSpec{URL: s.URL, Command: s.Command, Args: s.Args})
	}
	manager := mcp.NewManager(specs, cfg.MCP.Token, cfg.MCP.Timeout(), logger)

	deps := tools.Deps{
		Sandbox: runner,
		HTTP:    httpTool,
		MCP:     manager,
		Files:   &tools.FileTools{LogsDir: cfg.LogsDir, ConfigDir: cfg.ConfigDir},
		Restarter: &tools.Restarter{
			FlagDir: cfg.DataDir,
			Logger:  logger,
		},
		Logger: logger,
		Bus:    bus,
	}
	return deps, manager.Close
}

// buildEngine constructs the LLM client for the configured backend and
// wires the conversation engine around it.
func buildEngine(cfg *config.Config, logger *slog.Logger, bus *events.Bus, deps tools.Deps, usageStore *usage.Store) (*engine.Engine, error) {
	opts := llm.Options{
		APIKey:      cfg.OpenAI.APIKey,
		BaseURL:     cfg.OpenAI.BaseURL,
		Model:       cfg.OpenAI.Model,
		Temperature: cfg.OpenAI.Temperature,
		MaxTokens:   cfg.OpenAI.MaxTokens,
		Logger:      logger,
	}

	engOpts := engine.Options{
		Config:   cfg,
		Sessions: session.NewStore(),
		Tools:    tools.NewRegistry(deps),
		Usage:    usageStore,
		Bus:      bus,
		Logger:   logger,
	}

	switch cfg.Backend {
	case config.BackendChat, "":
		engOpts.Client = llm.NewChatClient(opts)
	case config.BackendResponses:
		engOpts.Client = llm.NewResponsesClient(opts)
	case config.BackendAssistants:
		engOpts.Assistants = llm.NewAssistantsClient(llm.AssistantsConfig{
			Options:         opts,
			AssistantID:     cfg.OpenAI.AssistantID,
			PollInterval:    cfg.OpenAI.PollInterval(),
			PollMaxAttempts: cfg.OpenAI.PollMaxAttempts,
		})
	default:
		return nil, fmt.Errorf("unknown backend: %q", cfg.Backend)
	}

	return engine.New(engOpts), nil
}

func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty, that exact path is used (and must exist).
// Otherwise [config.FindConfig] searches the default locations.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
