package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/modelbench/internal/api"
	"github.com/kalambet/modelbench/internal/config"
	"github.com/kalambet/modelbench/internal/gateway"
	"github.com/kalambet/modelbench/internal/proxy"
	"github.com/kalambet/modelbench/internal/reconcile"
	"github.com/kalambet/modelbench/internal/registry"
	"github.com/kalambet/modelbench/internal/session"
	"github.com/kalambet/modelbench/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the modelbench server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

func init() {
	startCmd.Flags().Bool("mcp", false, "also serve MCP over stdio")
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running modelbench server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show modelbench server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "modelbench.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func loadSeed(path string) (registry.Seed, error) {
	if path == "" {
		return registry.DefaultSeed(), nil
	}
	return registry.LoadSeed(path)
}

func newProvider(ctx context.Context, cfg config.Config) (gateway.Provider, error) {
	switch cfg.Agent.Provider {
	case config.ProviderOpenRouter:
		client := proxy.NewClient(cfg.OpenRouter.APIKey)
		if cfg.OpenRouter.BaseURL != "" {
			client = proxy.NewClientWithBaseURL(cfg.OpenRouter.APIKey, cfg.OpenRouter.BaseURL)
		}
		return gateway.NewOpenRouter(client, cfg.Agent.Model), nil
	case config.ProviderGemini:
		g, err := gateway.NewGemini(ctx, gateway.GeminiConfig{
			APIKey:  cfg.Gemini.APIKey,
			Model:   cfg.Agent.Model,
			BaseURL: cfg.Gemini.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		return g, nil
	}
	return nil, fmt.Errorf("unknown agent provider %q", cfg.Agent.Provider)
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "modelbench version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	// Refuse to start twice on the same port.
	pidPath := pidFilePath(config.DataDir())
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("modelbench is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("modelbench is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	seed, err := loadSeed(cfg.Registry.SeedFile)
	if err != nil {
		return fmt.Errorf("loading registry seed: %w", err)
	}
	store := registry.New(seed)
	logger.Info("registry loaded", "models", len(seed.Models), "approvals", len(seed.Approvals), "datasets", len(seed.Datasets))

	journal, err := storage.Open()
	if err != nil {
		return fmt.Errorf("opening turn journal: %w", err)
	}
	defer func() {
		if err := journal.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing journal: %v\n", err)
		}
	}()

	provider, err := newProvider(ctx, cfg)
	if err != nil {
		return fmt.Errorf("creating agent provider: %w", err)
	}
	gw := gateway.New(provider, gateway.Options{
		HistoryWindow: cfg.Agent.HistoryWindow,
		Timeout:       cfg.AgentTimeout(),
		Logger:        logger,
	})
	sessions := session.NewManager(gw, reconcile.New(store, logger), session.Options{
		Journal: journal,
		Logger:  logger,
		Strict:  cfg.Present.Strict,
	})

	handler := api.NewHandler(api.Deps{
		Sessions: sessions,
		Registry: store,
		Journal:  journal,
		Token:    cfg.Server.Token,
		Logger:   logger,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "modelbench listening on %s (provider %s)\n", addr, cfg.Agent.Provider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Sessions: sessions, Registry: store})
		stdioSrv := server.NewStdioServer(mcpSrv)
		g.Go(func() error {
			if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
		slog.Info("MCP server started (stdio transport)")
	}

	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func stopServer() error {
	pidPath := pidFilePath(config.DataDir())
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("modelbench is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop modelbench (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to modelbench (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.LoadUnchecked()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}
	client.httpClient = &http.Client{Timeout: 2 * time.Second}

	resp, err := client.get(ctx, "/health")
	running := err == nil && resp.StatusCode == http.StatusOK
	switch {
	case err != nil:
		printStatus("Server", "stopped")
	case running:
		printStatus("Server", "running on port %d", cfg.Server.Port)
	default:
		printStatus("Server", "error (HTTP %d)", resp.StatusCode)
	}
	if resp != nil {
		resp.Body.Close()
	}

	model := cfg.Agent.Model
	if model == "" {
		model = "(provider default)"
	}
	printStatus("Provider", "%s", cfg.Agent.Provider)
	printStatus("Model", "%s", model)
	printStatus("History", "%d turns", cfg.Agent.HistoryWindow)
	if err := cfg.Validate(); err != nil {
		printStatus("Config", "%v", err)
	}

	if running {
		var stats api.TurnStats
		if resp, err := client.get(ctx, "/v1/turns/stats"); err == nil && decodeJSON(resp, &stats) == nil {
			printStatus("Turns", "%d", stats.Total)
		}
		var sessions []session.Info
		if resp, err := client.get(ctx, "/v1/sessions"); err == nil && decodeJSON(resp, &sessions) == nil {
			printStatus("Sessions", "%d", len(sessions))
		}
	}

	printStatus("Data dir", "%s", config.DataDir())
	return nil
}
