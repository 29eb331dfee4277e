package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kinemalab/kinema/internal/api"
	"github.com/kinemalab/kinema/internal/config"
	"github.com/kinemalab/kinema/internal/lesson"
	"github.com/kinemalab/kinema/internal/mistral"
	"github.com/kinemalab/kinema/internal/probe"
	"github.com/kinemalab/kinema/internal/quiz"
	"github.com/kinemalab/kinema/internal/render"
	"github.com/kinemalab/kinema/internal/retry"
	"github.com/kinemalab/kinema/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the kinema server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running kinema server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show kinema system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "kinema.pid")
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

func runServer() error {
	fmt.Fprintf(os.Stderr, "kinema version %s\n", version)

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
			printWarning("kinema is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("kinema is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Check the Mistral API is reachable before accepting work.
	model := mistral.NewWithBaseURL(cfg.Mistral.APIKey, cfg.Mistral.BaseURL)
	if err := model.Ping(ctx); err != nil {
		return fmt.Errorf("checking Mistral API: %w", err)
	}
	slog.Info("Mistral API reachable", "model", cfg.Mistral.Model)

	if _, err := exec.LookPath(cfg.Render.Binary); err != nil {
		printWarning("render binary %q not found in PATH; lesson generation will fail until it is installed", cfg.Render.Binary)
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

	// Build the lesson service.
	renderer := render.New(render.Config{
		Binary:      cfg.Render.Binary,
		ScriptDir:   cfg.Render.ScriptDir,
		MediaDir:    cfg.Render.MediaDir,
		ArtifactDir: cfg.Render.ArtifactDir,
		Timeout:     cfg.Render.Timeout,
	})
	registry := quiz.NewRegistry()
	prober := probe.New(cfg.Probe.Interval, cfg.Probe.Timeout)
	baseURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)

	svc := lesson.NewService(lesson.Deps{
		Model:     model,
		ModelName: cfg.Mistral.Model,
		Renderer:  renderer,
		Prober:    prober,
		Registry:  registry,
		History:   store,
		Retry: retry.Policy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			Unit:        cfg.Retry.BackoffUnit,
			Cap:         cfg.Retry.BackoffCap,
		},
		BaseURL: baseURL,
	})

	// Build HTTP handler and server.
	handler := api.NewRouter(api.Deps{
		Lessons:   svc,
		Registry:  registry,
		History:   store,
		VideoDir:  cfg.Render.ArtifactDir,
		ModelName: cfg.Mistral.Model,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Build and start MCP server (stdio transport in a goroutine).
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Lessons: svc,
		History: store,
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
		fmt.Fprintf(os.Stderr, "kinema listening on %s\n", addr)
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
	cfg, err := config.LoadUnvalidated()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("kinema is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop kinema (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to kinema (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.LoadUnvalidated()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	// Check server health.
	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	var health struct {
		Status    string `json:"status"`
		LiveTasks int    `json:"live_tasks"`
	}
	running := false
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		if resp.StatusCode == 200 {
			running = true
			json.NewDecoder(resp.Body).Decode(&health)
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
		resp.Body.Close()
	}

	// Check Mistral API reachability.
	if cfg.Mistral.APIKey == "" {
		printStatus("Mistral API", "no API key configured")
	} else {
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := mistral.NewWithBaseURL(cfg.Mistral.APIKey, cfg.Mistral.BaseURL).Ping(pingCtx); err != nil {
			printStatus("Mistral API", "not reachable")
		} else {
			printStatus("Mistral API", "reachable at %s", cfg.Mistral.BaseURL)
		}
		cancel()
	}

	printStatus("Model", "%s", cfg.Mistral.Model)

	if _, err := exec.LookPath(cfg.Render.Binary); err != nil {
		printStatus("Render binary", "%s (not found in PATH)", cfg.Render.Binary)
	} else {
		printStatus("Render binary", "%s", cfg.Render.Binary)
	}

	// Show open quizzes and lesson counts if the server is running.
	if running {
		printStatus("Open quizzes", "%d", health.LiveTasks)
		histResp, err := client.Get(serverURL + "/history?limit=100")
		if err == nil {
			var lessons []json.RawMessage
			if json.NewDecoder(histResp.Body).Decode(&lessons) == nil {
				printStatus("Lessons", "%s", countLabel(len(lessons), 100))
			}
			histResp.Body.Close()
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
