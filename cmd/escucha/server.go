package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
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

	"github.com/ibarra/escucha/internal/api"
	"github.com/ibarra/escucha/internal/assistant"
	"github.com/ibarra/escucha/internal/chunker"
	"github.com/ibarra/escucha/internal/composer"
	"github.com/ibarra/escucha/internal/config"
	"github.com/ibarra/escucha/internal/engine"
	"github.com/ibarra/escucha/internal/guard"
	"github.com/ibarra/escucha/internal/ingest"
	"github.com/ibarra/escucha/internal/lesson"
	"github.com/ibarra/escucha/internal/retrieval"
	"github.com/ibarra/escucha/internal/storage"
	"github.com/ibarra/escucha/internal/transcript"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the escucha server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running escucha server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show escucha system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "escucha.pid")
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

// buildEngine selects the inference backend from config.
func buildEngine(cfg config.EngineConfig) (engine.Engine, error) {
	switch cfg.Backend {
	case "ollama":
		return engine.NewOllamaEngine(cfg.BaseURL), nil
	case "openai":
		return engine.NewOpenAIEngine(cfg.APIKey, cfg.BaseURL)
	}
	return nil, fmt.Errorf("unknown engine backend %q", cfg.Backend)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "escucha version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("escucha is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("escucha is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Check inference engine readiness.
	eng, err := buildEngine(cfg.Engine)
	if err != nil {
		return err
	}
	if err := engine.EnsureReady(ctx, eng, cfg.Engine.ChatModel, cfg.Engine.EmbedModel, os.Stderr); err != nil {
		return err
	}

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Build the retrieval and generation pipeline.
	embedder := retrieval.NewEmbedder(eng, cfg.Engine.EmbedModel, cfg.Engine.EmbedDim)
	vectorStore := retrieval.NewSQLiteStore(store.DB(), cfg.Engine.EmbedDim)
	retriever := retrieval.NewRetriever(embedder, vectorStore, float32(cfg.Retrieval.MinScore))
	assembler := composer.New(cfg.Retrieval.MaxContextTokens, cfg.Retrieval.FallbackToBase)

	var filter guard.Filter = guard.Noop{}
	if cfg.Guard.BaseURL != "" {
		filter = guard.NewClient(cfg.Guard.BaseURL)
		slog.Info("content filter enabled", "base_url", cfg.Guard.BaseURL)
	}
	generator := assistant.NewGenerator(eng, filter, cfg.Engine.ChatModel, 0)
	orchestrator := assistant.NewOrchestrator(store, vectorStore, retriever, assembler, generator, cfg.Retrieval.TopK)

	structurer := lesson.NewStructurer(eng, cfg.Engine.ChatModel)
	source := transcript.NewClient(cfg.Transcript.BaseURL)

	// Build HTTP handler and server.
	appHandler := api.NewAppHandler(api.AppDeps{
		Store:        store,
		Orchestrator: orchestrator,
		Source:       source,
		Structurer:   structurer,
		Vectors:      vectorStore,
		Languages:    cfg.Transcript.Languages,
		Token:        cfg.Server.APIToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: appHandler,
	}

	// Start ingest worker.
	policy := chunker.Policy{MaxChars: cfg.Chunking.MaxChars, OverlapChars: cfg.Chunking.OverlapChars}
	worker := ingest.NewWorker(store, embedder, vectorStore, policy, 500*time.Millisecond)
	go worker.Run(ctx)

	// Build and start MCP server (stdio transport in a goroutine).
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:        store,
		Orchestrator: orchestrator,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "escucha listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("escucha is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop escucha (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to escucha (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on %s", serverURL)
		} else {
			printStatus("Server", "unhealthy (status %d)", resp.StatusCode)
		}
	}

	eng, err := buildEngine(cfg.Engine)
	if err != nil {
		printStatus("Engine", "misconfigured: %v", err)
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if eng.IsRunning(ctx) {
		printStatus("Engine", "reachable (%s backend)", cfg.Engine.Backend)
	} else {
		printStatus("Engine", "unreachable at %s", cfg.Engine.BaseURL)
	}

	return nil
}
