// ABOUTME: Entry point for the parlor-web chat front end
// ABOUTME: Resolves backend configuration, bootstraps the client, and serves HTTP

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/parlorhq/parlor-web/internal/backend"
	"github.com/parlorhq/parlor-web/internal/bootstrap"
	"github.com/parlorhq/parlor-web/internal/config"
	"github.com/parlorhq/parlor-web/internal/localstore"
	"github.com/parlorhq/parlor-web/internal/relay"
	"github.com/parlorhq/parlor-web/internal/settings"
	"github.com/parlorhq/parlor-web/internal/theme"
	"github.com/parlorhq/parlor-web/internal/web"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                     _
 _ __   __ _ _ __| | ___  _ __
| '_ \ / _' | '__| |/ _ \| '__|
| |_) | (_| | |  | | (_) | |
| .__/ \__,_|_|  |_|\___/|_|
|_|
`

// getDataPath returns the default local data directory.
// Priority: XDG_DATA_HOME/parlor > ~/.local/share/parlor
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "parlor")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: parlor-web <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                 Start the web front end")
		fmt.Println("  reset-config          Clear the saved backend configuration")
		fmt.Println("  set-setup-password    Protect the setup wizard with a password")
		fmt.Println("  health                Check server health")
		fmt.Println("  version               Print the version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, os.Args[2:])
	case "reset-config":
		err = runResetConfig(ctx)
	case "set-setup-password":
		err = runSetSetupPassword(ctx)
	case "health":
		err = runHealth(ctx)
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

func loadConfig() (*config.Config, string, error) {
	path, err := config.ResolvePath()
	if err != nil {
		return nil, "", err
	}
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		return config.Default(), path + " (not found, using defaults)", nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func openStore(cfg *config.Config) (*localstore.Store, error) {
	dataDir := cfg.Data.Dir
	if dataDir == "" {
		dataDir = getDataPath()
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	return localstore.Open(filepath.Join(dataDir, "parlor.db"))
}

func runServe(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("serve", flag.ExitOnError)
	backendURL := flags.String("backend-url", "", "override the backend URL for this run")
	backendKey := flags.String("backend-key", "", "override the backend public key for this run")
	forceInit := flags.Bool("force-init", false, "skip the cached configuration and revalidate")
	resetConfig := flags.Bool("reset-config", false, "clear the cached configuration before starting")
	if err := flags.Parse(args); err != nil {
		return err
	}

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	// Startup info
	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:      %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:        %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Environment: %s\n", cfg.Backend.Environment)
	fmt.Println()

	logger.Info("starting parlor-web",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"environment", cfg.Backend.Environment,
	)

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("opening local store: %w", err)
	}
	defer store.Close()

	configCache := backend.NewConfigCache(store, cfg.Backend.Environment)
	resolver := backend.NewResolver(configCache, cfg.Backend.Environment,
		backend.WithStaticRef(cfg.Backend.StaticConfig),
		backend.WithOverrides(backend.Overrides{
			URL:         *backendURL,
			AnonKey:     *backendKey,
			ForceInit:   *forceInit,
			ResetConfig: *resetConfig,
		}))
	manager := backend.NewManager(store)
	machine := bootstrap.NewMachine()
	settingsSvc := settings.New(manager, store)
	themes, err := theme.NewController(settingsSvc)
	if err != nil {
		return fmt.Errorf("loading theme presets: %w", err)
	}
	relayClient := relay.NewClient(relay.SettingsEndpoint(settingsSvc))
	orchestrator := bootstrap.NewOrchestrator(machine, resolver, manager, configCache, settingsSvc)

	var monitorOpts []bootstrap.MonitorOption
	if cfg.Monitor.HealInterval > 0 {
		monitorOpts = append(monitorOpts, bootstrap.WithInterval(cfg.Monitor.HealInterval))
	}
	monitor := bootstrap.NewMonitor(resolver, manager, store, monitorOpts...)

	server, err := web.New([]byte(cfg.Session.Secret), web.Deps{
		Machine:      machine,
		Orchestrator: orchestrator,
		Manager:      manager,
		ConfigCache:  configCache,
		Store:        store,
		Settings:     settingsSvc,
		Theme:        themes,
		Relay:        relayClient,
		Environment:  cfg.Backend.Environment,
	})
	if err != nil {
		return fmt.Errorf("creating web server: %w", err)
	}
	if cfg.Session.Secret == "" {
		logger.Warn("no session secret configured, sessions will not survive restarts")
	}

	mux := http.NewServeMux()
	server.RegisterRoutes(mux)

	// Bootstrap in the background so the progress page is reachable
	// immediately. A NEEDS_SETUP outcome is not an error at startup; the
	// setup wizard takes over.
	go func() {
		bootCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if err := orchestrator.Bootstrap(bootCtx); err != nil {
			logger.Warn("initial bootstrap did not complete", "error", err)
		}
	}()

	monitor.Start()
	defer monitor.Stop()

	httpServer := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := manager.Destroy(shutdownCtx); err != nil {
		logger.Warn("client teardown failed", "error", err)
	}
	return nil
}

func runResetConfig(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("opening local store: %w", err)
	}
	defer store.Close()

	configCache := backend.NewConfigCache(store, cfg.Backend.Environment)
	configCache.Invalidate(ctx)
	if _, err := store.DeletePrefix(ctx, localstore.PrefixAuthToken); err != nil {
		return fmt.Errorf("clearing auth tokens: %w", err)
	}
	if err := store.Delete(ctx, localstore.KeySettingsCache); err != nil {
		return fmt.Errorf("clearing settings cache: %w", err)
	}

	fmt.Println("Saved backend configuration cleared.")
	return nil
}

func runSetSetupPassword(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("opening local store: %w", err)
	}
	defer store.Close()

	fmt.Print("Setup password: ")
	reader := bufio.NewReader(os.Stdin)
	password, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}
	password = strings.TrimSpace(password)

	if err := web.SetSetupPassword(ctx, store, password); err != nil {
		return err
	}

	fmt.Println("Setup password saved. The setup wizard now requires it.")
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	addr := cfg.Server.HTTPAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	url := fmt.Sprintf("http://%s/healthz", addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Println(strings.TrimSpace(string(body)))
	return nil
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

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
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

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
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
