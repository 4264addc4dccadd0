// CoFina is a conversational financial assistant for young
// professionals. It combines a guarded LLM control loop with a guided
// onboarding flow, a sqlite-backed profile store, financial
// calculators, and a keyword-scored knowledge base.
//
// Usage:
//
//	cofina serve              Start the API server
//	cofina chat               Interactive chat in the terminal
//	cofina initdb             Create the sqlite schema
//	cofina ingest <file.md>   Import a markdown document into the knowledge base
//	cofina version            Print version and build information
//	cofina -o json version    Output version information as JSON
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/cofina-ai/cofina-agent/internal/agent"
	"github.com/cofina-ai/cofina-agent/internal/api"
	"github.com/cofina-ai/cofina-agent/internal/buildinfo"
	"github.com/cofina-ai/cofina-agent/internal/config"
	"github.com/cofina-ai/cofina-agent/internal/guardrail"
	"github.com/cofina-ai/cofina-agent/internal/kb"
	"github.com/cofina-ai/cofina-agent/internal/llm"
	"github.com/cofina-ai/cofina-agent/internal/products"
	"github.com/cofina-ai/cofina-agent/internal/registration"
	"github.com/cofina-ai/cofina-agent/internal/session"
	"github.com/cofina-ai/cofina-agent/internal/store"
	"github.com/cofina-ai/cofina-agent/internal/tools"
	"github.com/cofina-ai/cofina-agent/internal/verifier"
)

// main constructs the OS-level environment and delegates to run so the
// full lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand: the flag
// package relies on package-level globals, which makes it impossible to
// call run() concurrently from tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
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
	case "chat":
		return runChat(ctx, stdout, configPath)
	case "initdb":
		return runInitDB(stdout, configPath)
	case "ingest":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: cofina ingest <file.md>")
		}
		return runIngest(ctx, stdout, configPath, cmdArgs[0])
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "CoFina - Conversational Financial Assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: cofina [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  chat         Interactive chat in the terminal")
	fmt.Fprintln(w, "  initdb       Create the sqlite schema")
	fmt.Fprintln(w, "  ingest       Import markdown docs into the knowledge base")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/cofina/config.yaml, /etc/cofina/config.yaml")
	return nil
}

func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
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

// app bundles everything a running command needs, so serve and chat
// share one construction path.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	db       *store.Store
	kb       *kb.Store
	sessions *session.Store
	orch     *agent.Orchestrator
}

func (a *app) Close() {
	a.kb.Close()
	a.db.Close()
}

func buildApp(stdout io.Writer, configPath string) (*app, error) {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	level := slog.LevelInfo
	if cfg.LogLevel != "" {
		level, err = config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return nil, err
		}
	}
	logger := newLogger(stdout, level, "text")
	logger.Info("config loaded", "path", cfgPath)

	db, err := store.Open(filepath.Join(cfg.DataDir, "cofina.db"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	knowledge, err := kb.Open(filepath.Join(cfg.DataDir, "knowledge.db"))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open knowledge base: %w", err)
	}

	client := llm.NewOpenAI(cfg.Model.BaseURL, cfg.Model.APIKey)

	var v *verifier.Verifier
	if cfg.Agent.VerifyAnswers {
		v = verifier.New(verifier.NewLLMJudge(client, cfg.Model.Name), logger)
		v.SetTimeout(cfg.JudgeTimeout())
	}

	sessions := session.NewStore(cfg.Agent.MaxHistory, func() *registration.Machine {
		return registration.New(db, logger)
	})
	orch := agent.New(agent.Options{
		Client:   client,
		Model:    cfg.Model.Name,
		Registry: tools.NewRegistry(db, products.NewClient(cfg.Products.APIURL, cfg.Products.APIKey), knowledge),
		Scorer:   guardrail.NewScorer(cfg.SessionTTL()),
		Sessions: sessions,
		Verifier: v,
		Audit:    db,
		MaxTurns: cfg.Agent.MaxTurns,
		Logger:   logger,
	})

	return &app{cfg: cfg, logger: logger, db: db, kb: knowledge, sessions: sessions, orch: orch}, nil
}

func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(stdout, configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	a.logger.Info("starting", "build", buildinfo.String())

	srv := api.NewServer(a.cfg.Listen.Address, a.cfg.Listen.Port, a.orch, a.logger)

	// Idle conversations are dropped after the auth TTL so the session
	// map cannot grow without bound.
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := a.sessions.Sweep(a.cfg.SessionTTL()); n > 0 {
					a.logger.Info("swept idle sessions", "count", n)
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runChat(ctx context.Context, stdout io.Writer, configPath string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(stdout, configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Fprintln(stdout, "CoFina ready. Type your message, or 'exit' to quit.")

	scanner := bufio.NewScanner(os.Stdin)
	sessionID := ""
	for {
		fmt.Fprint(stdout, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}

		turn, err := a.orch.RunTurn(ctx, sessionID, line)
		if err != nil {
			return fmt.Errorf("chat: %w", err)
		}
		sessionID = turn.SessionID
		fmt.Fprintln(stdout, turn.Reply)
	}
}

func runInitDB(stdout io.Writer, configPath string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	dbPath := filepath.Join(cfg.DataDir, "cofina.db")
	db, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	db.Close()
	fmt.Fprintf(stdout, "created %s\n", dbPath)

	kbPath := filepath.Join(cfg.DataDir, "knowledge.db")
	knowledge, err := kb.Open(kbPath)
	if err != nil {
		return fmt.Errorf("init knowledge base: %w", err)
	}
	knowledge.Close()
	fmt.Fprintf(stdout, "created %s\n", kbPath)
	return nil
}

func runIngest(ctx context.Context, stdout io.Writer, configPath string, filePath string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open %s: %w", filePath, err)
	}
	defer f.Close()

	knowledge, err := kb.Open(filepath.Join(cfg.DataDir, "knowledge.db"))
	if err != nil {
		return fmt.Errorf("open knowledge base: %w", err)
	}
	defer knowledge.Close()

	source := strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
	n, err := knowledge.Ingest(ctx, source, f)
	if err != nil {
		return fmt.Errorf("ingest %s: %w", filePath, err)
	}
	fmt.Fprintf(stdout, "ingested %d sections from %s\n", n, filePath)
	return nil
}
