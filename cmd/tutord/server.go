package main

import (
	"context"
	"encoding/json"
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

	"github.com/kalambet/tutord/internal/api"
	"github.com/kalambet/tutord/internal/chat"
	"github.com/kalambet/tutord/internal/composer"
	"github.com/kalambet/tutord/internal/config"
	"github.com/kalambet/tutord/internal/gateway"
	"github.com/kalambet/tutord/internal/illustrate"
	"github.com/kalambet/tutord/internal/ingest"
	"github.com/kalambet/tutord/internal/intent"
	"github.com/kalambet/tutord/internal/metrics"
	"github.com/kalambet/tutord/internal/objectstore"
	"github.com/kalambet/tutord/internal/quiz"
	"github.com/kalambet/tutord/internal/retrieval"
	"github.com/kalambet/tutord/internal/social"
	"github.com/kalambet/tutord/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tutord HTTP server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running tutord server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tutord server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadUnchecked()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		versions, err := store.AppliedMigrations()
		if err != nil {
			return fmt.Errorf("reading migrations: %w", err)
		}
		printSuccess("%s schema at version %d (%d migrations applied)", store.Driver(), lastVersion(versions), len(versions))
		return nil
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadUnchecked()
		if err != nil {
			return err
		}
		setupLogging(cfg.Log.Level)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close()

		deps := api.MCPDeps{Store: a.store, Retriever: a.retriever, Social: a.social}
		if a.gateway.Configured() {
			deps.Quiz = a.quiz
		}
		stdio := server.NewStdioServer(api.NewMCPServer(deps))
		slog.Info("MCP server started (stdio transport)")
		if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("MCP stdio server: %w", err)
		}
		return nil
	},
}

// app holds the wired components shared by serve and mcp.
type app struct {
	store     *storage.Store
	objects   objectstore.Store
	metrics   *metrics.Recorder
	gateway   *gateway.Client
	retriever *retrieval.Retriever
	chat      *chat.Orchestrator
	quiz      *quiz.Generator
	ingest    *ingest.Service
	social    *social.Service
}

func buildApp(ctx context.Context, cfg config.Config) (*app, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	objects, err := objectstore.Open(ctx, objectstore.Options{
		Backend:        cfg.ObjectStore.Backend,
		Bucket:         cfg.ObjectStore.Bucket,
		LocalDir:       cfg.ObjectStore.LocalDir,
		SupabaseURL:    cfg.ObjectStore.SupabaseURL,
		SupabaseKey:    cfg.ObjectStore.SupabaseKey,
		GCSCredentials: cfg.ObjectStore.GCSCredentials,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("opening object store: %w", err)
	}

	rec := metrics.NewRecorder()
	gw := gateway.NewClient(gateway.Options{
		APIKey:     cfg.Gateway.APIKey,
		BaseURL:    cfg.Gateway.BaseURL,
		ChatModel:  cfg.Gateway.ChatModel,
		ImageModel: cfg.Gateway.ImageModel,
		Metrics:    rec,
	})
	retriever := retrieval.NewRetriever(store, cfg.Retrieval.ChunkLimit, rec)

	deps := chat.Deps{
		Gateway:   gw,
		Store:     store,
		Retriever: retriever,
		Composer:  composer.New(cfg.Retrieval.MaxContextTokens),
		Metrics:   rec,
	}
	if cfg.Images.Enabled {
		deps.Classifier = intent.NewClassifier(gw)
		deps.Illustrator = illustrate.New(gw, cfg.Images.Concurrency)
	}

	return &app{
		store:     store,
		objects:   objects,
		metrics:   rec,
		gateway:   gw,
		retriever: retriever,
		chat:      chat.New(deps),
		quiz:      quiz.NewGenerator(gw, store, rec),
		ingest:    ingest.NewService(store, objects, &http.Client{Timeout: 60 * time.Second}, rec),
		social:    social.NewService(store),
	}, nil
}

func (a *app) close() {
	if c, ok := a.objects.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			slog.Warn("closing object store", "error", err)
		}
	}
	if err := a.store.Close(); err != nil {
		slog.Warn("closing storage", "error", err)
	}
}

func openStore(cfg config.Config) (*storage.Store, error) {
	var (
		store *storage.Store
		err   error
	)
	switch strings.ToLower(cfg.Storage.Driver) {
	case "postgres":
		store, err = storage.OpenPostgres(cfg.Storage.DatabaseURL)
	default:
		store, err = storage.Open(cfg.Storage.DataDir)
	}
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return store, nil
}

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

func lastVersion(versions []int) int {
	if len(versions) == 0 {
		return 0
	}
	return versions[len(versions)-1]
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "tutord.pid")
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

func serverAddr(cfg config.Config) string {
	return net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
}

func runServer() error {
	fmt.Fprintln(os.Stderr, versionLine())

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)
	if cfg.Auth.JWTSecret == "" {
		slog.Warn("no JWT secret configured, requests are not authenticated")
	}

	addr := serverAddr(cfg)
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get("http://" + addr + "/health"); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("tutord is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("tutord is already running on %s", addr)
		return fmt.Errorf("server already running on %s", addr)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	srv := &http.Server{
		Addr: addr,
		Handler: api.NewHandler(api.Deps{
			Store:     a.store,
			Chat:      a.chat,
			Quiz:      a.quiz,
			Ingest:    a.ingest,
			Social:    a.social,
			Metrics:   a.metrics,
			JWTSecret: cfg.Auth.JWTSecret,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("tutord listening", "addr", addr, "storage", a.store.Driver(), "object_store", cfg.ObjectStore.Backend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.LoadUnchecked()
	if err != nil {
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		return fmt.Errorf("tutord is not running (no PID file): %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("could not find process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		removePIDFile(pidPath)
		return fmt.Errorf("could not stop tutord (PID %d): %w", pid, err)
	}

	printSuccess("Sent stop signal to tutord (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.LoadUnchecked()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	base := "http://" + serverAddr(cfg)
	client := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := client.Get(base + "/health")
	switch {
	case err != nil:
		printStatus("Server", "stopped")
	case resp.StatusCode == http.StatusOK:
		resp.Body.Close()
		running = true
		printStatus("Server", "running on %s", serverAddr(cfg))
	default:
		resp.Body.Close()
		printStatus("Server", "error (HTTP %d)", resp.StatusCode)
	}

	printStatus("Storage", "%s", cfg.Storage.Driver)
	printStatus("Objects", "%s (%s)", cfg.ObjectStore.Backend, cfg.ObjectStore.Bucket)
	printStatus("Chat model", "%s", cfg.Gateway.ChatModel)
	printStatus("Image model", "%s", imagesLabel(cfg))
	printStatus("Gateway key", "%s", setLabel(cfg.Gateway.APIKey != ""))
	printStatus("JWT auth", "%s", setLabel(cfg.Auth.JWTSecret != ""))

	if running {
		if statsResp, err := client.Get(base + "/stats"); err == nil {
			var stats struct {
				Latency []metrics.Summary `json:"latency"`
			}
			if json.NewDecoder(statsResp.Body).Decode(&stats) == nil {
				for _, s := range stats.Latency {
					printStatus(s.Name, "%d calls, p50 %.0fms, p95 %.0fms", s.Count, s.P50Ms, s.P95Ms)
				}
			}
			statsResp.Body.Close()
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func imagesLabel(cfg config.Config) string {
	if !cfg.Images.Enabled {
		return "disabled"
	}
	return cfg.Gateway.ImageModel
}

func setLabel(set bool) string {
	if set {
		return "set"
	}
	return "not set"
}
