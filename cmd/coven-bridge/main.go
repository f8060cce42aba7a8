// ABOUTME: Entry point for the coven-bridge session tools
// ABOUTME: Inspects and maintains the durable session store used by platform adapters

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/coven-bridge/internal/config"
	"github.com/2389/coven-bridge/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                 _          _     _
  ___ _____   _____ _ __        | |__  _ __(_) __| | __ _  ___
 / __/ _ \ \ / / _ \ '_ \ _____ | '_ \| '__| |/ _' |/ _' |/ _ \
| (_| (_) \ V /  __/ | | |_____|| |_) | |  | | (_| | (_| |  __/
 \___\___/ \_/ \___|_| |_|      |_.__/|_|  |_|\__,_|\__, |\___|
                                                    |___/
`

// getConfigPath returns the path to the bridge config file.
// Priority: COVEN_BRIDGE_CONFIG env var > XDG_CONFIG_HOME/coven/bridge.yaml > ~/.config/coven/bridge.yaml
func getConfigPath() string {
	if envPath := os.Getenv("COVEN_BRIDGE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "bridge.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven", "bridge.yaml")
}

// getDataPath returns the path to the coven data directory.
// Priority: XDG_DATA_HOME/coven > ~/.local/share/coven
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "coven")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: coven-bridge <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  init                    Create a new config file interactively")
		fmt.Println("  sessions                List active session records")
		fmt.Println("  history <platform-id>   Show inactive sessions for a platform")
		fmt.Println("  clean                   Soft-delete stale records, prune old history")
		fmt.Println("  clear --force           Remove every session record")
		fmt.Println("  version                 Print the version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "init":
		err = runInit()
	case "sessions":
		err = runSessions(ctx)
	case "history":
		err = runHistory(ctx)
	case "clean":
		err = runClean(ctx)
	case "clear":
		err = runClear(ctx)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func openStore() (*config.Config, store.Store, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	return cfg, s, nil
}

func runSessions(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	_, s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	records, err := s.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading sessions: %w", err)
	}

	if len(records) == 0 {
		fmt.Println("No active sessions.")
		return nil
	}

	green := color.New(color.FgGreen)
	for _, rec := range records {
		green.Print("  ▶ ")
		fmt.Printf("%s\n", rec.Key())
		gray.Print("      started by: ")
		fmt.Printf("@%s\n", rec.StartedBy)
		gray.Print("      workdir:    ")
		fmt.Printf("%s\n", rec.WorkingDir)
		gray.Print("      last seen:  ")
		fmt.Printf("%s\n", rec.LastActivityAt.Local().Format("2006-01-02 15:04"))
		if rec.TimeoutPostID != "" {
			gray.Print("      state:      ")
			color.New(color.FgYellow).Println("timed out, resumable")
		}
		if rec.ResumeFailCount > 0 {
			gray.Print("      resume:     ")
			fmt.Printf("%d failed attempt(s)\n", rec.ResumeFailCount)
		}
	}
	fmt.Printf("\n%d active session(s)\n", len(records))
	return nil
}

func runHistory(ctx context.Context) error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: coven-bridge history <platform-id>")
	}
	platformID := os.Args[2]

	_, s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	records, err := s.GetHistory(ctx, platformID, nil)
	if err != nil {
		return fmt.Errorf("loading history: %w", err)
	}

	if len(records) == 0 {
		fmt.Printf("No history for %s.\n", platformID)
		return nil
	}

	gray := color.New(color.FgHiBlack)
	for _, rec := range records {
		fmt.Printf("  %s", rec.Key())
		if rec.Title != "" {
			gray.Printf("  %s", rec.Title)
		}
		fmt.Println()
		gray.Printf("      last activity %s", rec.LastActivityAt.Local().Format("2006-01-02 15:04"))
		if rec.CleanedAt != nil {
			gray.Printf(", cleaned %s", rec.CleanedAt.Local().Format("2006-01-02 15:04"))
		}
		fmt.Println()
	}
	return nil
}

func runClean(ctx context.Context) error {
	cfg, s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	logger := setupLogger(cfg.Logging)
	green := color.New(color.FgGreen)

	keys, err := s.CleanStale(ctx, cfg.Sessions.StaleAge)
	if err != nil {
		return fmt.Errorf("sweeping stale sessions: %w", err)
	}
	green.Printf("  ✓ Soft-deleted %d stale session(s)\n", len(keys))
	for _, key := range keys {
		fmt.Printf("      %s\n", key)
	}

	removed, err := s.CleanHistory(ctx, cfg.Sessions.Retention)
	if err != nil {
		return fmt.Errorf("pruning history: %w", err)
	}
	green.Printf("  ✓ Removed %d expired history record(s)\n", removed)

	logger.Info("store cleaned",
		"stale_soft_deleted", len(keys),
		"history_removed", removed,
		"stale_age", cfg.Sessions.StaleAge,
		"retention", cfg.Sessions.Retention,
	)
	return nil
}

func runClear(ctx context.Context) error {
	if len(os.Args) < 3 || os.Args[2] != "--force" {
		return fmt.Errorf("clear removes every session record; pass --force to confirm")
	}

	_, s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Clear(ctx); err != nil {
		return fmt.Errorf("clearing store: %w", err)
	}
	color.New(color.FgGreen).Println("  ✓ Store cleared")
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("coven-bridge configuration setup")
	fmt.Println("================================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "bridge.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	fmt.Println("\n--- Session Configuration ---")
	maxConcurrent := prompt(reader, "Max concurrent sessions", "10")
	idleTimeout := prompt(reader, "Idle timeout", "4h")

	fmt.Println("\n--- Agent Configuration ---")
	workspaceBase := prompt(reader, "Isolated workspace base directory", filepath.Join(defaultDataPath, "workspaces"))
	mcpConfig := prompt(reader, "MCP config path (leave empty for none)", "")

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# coven-bridge configuration\n")
	cfg.WriteString("# Generated by coven-bridge init\n\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("sessions:\n")
	cfg.WriteString(fmt.Sprintf("  max_concurrent: %s\n", maxConcurrent))
	cfg.WriteString("  resume_fail_limit: 3\n")
	cfg.WriteString(fmt.Sprintf("  idle_timeout: \"%s\"\n", idleTimeout))
	cfg.WriteString("  warning_window: \"15m\"\n")
	cfg.WriteString("  sweep_interval: \"1m\"\n")
	cfg.WriteString("  stale_age: \"168h\"\n")
	cfg.WriteString("  retention: \"720h\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("streaming:\n")
	cfg.WriteString("  soft_limit: 3000\n")
	cfg.WriteString("  hard_limit: 16000\n")
	cfg.WriteString("  lookahead: 600\n")
	cfg.WriteString("  debounce: \"750ms\"\n")
	cfg.WriteString("  typing_interval: \"8s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("agent:\n")
	if mcpConfig != "" {
		cfg.WriteString(fmt.Sprintf("  mcp_config: \"%s\"\n", mcpConfig))
	}
	cfg.WriteString(fmt.Sprintf("  workspace_base: \"%s\"\n", workspaceBase))
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}
