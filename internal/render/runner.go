// Package render drives the external Manim process that turns a generated
// scene script into a video artifact.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrRenderFailed reports a non-zero exit from the renderer.
	ErrRenderFailed = errors.New("manim render failed")
	// ErrNoOutput reports a clean exit that still left no video behind.
	ErrNoOutput = errors.New("manim produced no output file")
)

const (
	sceneName      = "GeneratedScene"
	scriptFileName = "latest.py"

	// Manim writes -ql output under <media>/videos/<script-stem>/480p15/.
	qualitySubdir = "480p15"

	DefaultBinary  = "manim"
	DefaultQuality = "-ql"
	DefaultTimeout = 5 * time.Minute
)

// Config holds the runner's paths and limits.
type Config struct {
	Binary      string
	QualityFlag string
	ScriptDir   string
	MediaDir    string
	ArtifactDir string
	Timeout     time.Duration
}

// Runner invokes manim and collects rendered artifacts.
type Runner struct {
	cfg Config
}

// New returns a Runner. Zero-valued Config fields fall back to defaults;
// directory fields are required.
func New(cfg Config) *Runner {
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	if cfg.QualityFlag == "" {
		cfg.QualityFlag = DefaultQuality
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Runner{cfg: cfg}
}

// Render writes the script to disk, runs manim on it, and moves the output
// into the artifact directory under a unique name. Returns the bare artifact
// file name.
func (r *Runner) Render(ctx context.Context, script string) (string, error) {
	if strings.TrimSpace(script) == "" {
		return "", fmt.Errorf("%w: empty scene script", ErrRenderFailed)
	}

	if err := os.MkdirAll(r.cfg.ScriptDir, 0o755); err != nil {
		return "", fmt.Errorf("creating script directory: %w", err)
	}
	scriptPath := filepath.Join(r.cfg.ScriptDir, scriptFileName)
	if err := os.WriteFile(scriptPath, []byte(script), 0o644); err != nil {
		return "", fmt.Errorf("writing scene script: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.cfg.Binary, r.cfg.QualityFlag, "--media_dir", r.cfg.MediaDir, scriptPath, sceneName)
	var stderr bytes.Buffer
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%w: %v: %s", ErrRenderFailed, err, tail(stderr.String(), 400))
	}
	slog.Debug("manim render finished", "elapsed", time.Since(start))

	// The output location is fixed by the script name and quality flag.
	stem := strings.TrimSuffix(scriptFileName, ".py")
	produced := filepath.Join(r.cfg.MediaDir, "videos", stem, qualitySubdir, sceneName+".mp4")
	if _, err := os.Stat(produced); err != nil {
		return "", fmt.Errorf("%w: expected %s", ErrNoOutput, produced)
	}

	if err := os.MkdirAll(r.cfg.ArtifactDir, 0o755); err != nil {
		return "", fmt.Errorf("creating artifact directory: %w", err)
	}
	name := fmt.Sprintf("%s_%s.mp4", sceneName, uuid.New().String()[:8])
	if err := os.Rename(produced, filepath.Join(r.cfg.ArtifactDir, name)); err != nil {
		return "", fmt.Errorf("moving rendered artifact: %w", err)
	}
	return name, nil
}

// tail returns the last n bytes of s, trimmed.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
