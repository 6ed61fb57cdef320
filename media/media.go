// Package media turns a source clip into an uploadable file: yt-dlp fetches
// it and ffmpeg optionally normalises its loudness.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"clipsync/clip"
	"clipsync/internal/logging"
)

// Config configures the transformer.
type Config struct {
	// YtdlpPath defaults to "yt-dlp" from PATH.
	YtdlpPath string
	// FfmpegPath defaults to "ffmpeg" from PATH.
	FfmpegPath string
	// WorkDir receives downloaded and normalised files.
	WorkDir string
	// Format is a yt-dlp format selector.
	Format string
	// NormalizeAudio runs an EBU R128 loudnorm pass after download.
	NormalizeAudio bool
}

// Artifact is a prepared file ready for upload.
type Artifact struct {
	Path       string
	Normalized bool
}

// runner executes a command and returns its stdout and stderr.
type runner func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

// Transformer prepares candidates for upload.
type Transformer struct {
	cfg Config
	run runner
	log *logging.Logger
}

// New creates a transformer.
func New(cfg Config, log *logging.Logger) *Transformer {
	if cfg.YtdlpPath == "" {
		cfg.YtdlpPath = "yt-dlp"
	}
	if cfg.FfmpegPath == "" {
		cfg.FfmpegPath = "ffmpeg"
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(os.TempDir(), "clipsync")
	}
	if cfg.Format == "" {
		cfg.Format = "best[ext=mp4]/bestvideo[ext=mp4]+bestaudio[ext=m4a]/best"
	}
	return &Transformer{cfg: cfg, run: execRun, log: log.With("media")}
}

func execRun(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Prepare downloads c and, when configured, normalises its audio.
func (t *Transformer) Prepare(ctx context.Context, c clip.Candidate) (Artifact, error) {
	if c.URL == "" {
		return Artifact{}, fmt.Errorf("prepare %s: %w: no clip url", c.ID, clip.ErrRejected)
	}
	if err := os.MkdirAll(t.cfg.WorkDir, 0o755); err != nil {
		return Artifact{}, fmt.Errorf("prepare %s: %w: create work dir: %w", c.ID, clip.ErrFatal, err)
	}

	path, err := t.download(ctx, c)
	if err != nil {
		return Artifact{}, fmt.Errorf("prepare %s: %w", c.ID, err)
	}
	art := Artifact{Path: path}
	if !t.cfg.NormalizeAudio {
		return art, nil
	}

	normalized, err := t.normalize(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			os.Remove(path)
			return Artifact{}, fmt.Errorf("prepare %s: %w", c.ID, classifyExec(ctx, err, nil))
		}
		t.log.Warn("clip %s: loudness normalisation failed, uploading original: %v", c.ID, err)
		return art, nil
	}
	os.Remove(path)
	return Artifact{Path: normalized, Normalized: true}, nil
}

// Cleanup removes a prepared file.
func (t *Transformer) Cleanup(a Artifact) {
	if a.Path == "" {
		return
	}
	if err := os.Remove(a.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		t.log.Debug("remove %s: %v", a.Path, err)
	}
}

func (t *Transformer) download(ctx context.Context, c clip.Candidate) (string, error) {
	template := filepath.Join(t.cfg.WorkDir, sanitizeFilename(c.ID)+".%(ext)s")
	args := []string{
		"-o", template,
		"--no-warnings",
		"--no-playlist",
		"--no-progress",
		"--merge-output-format", "mp4",
		"--print", "after_move:filepath",
		"-f", t.cfg.Format,
		c.URL,
	}

	stdout, stderr, err := t.run(ctx, t.cfg.YtdlpPath, args...)
	if err != nil {
		return "", fmt.Errorf("yt-dlp: %w", classifyExec(ctx, err, stderr))
	}

	path := lastPath(string(stdout))
	if path == "" {
		return "", fmt.Errorf("yt-dlp: %w: no output file reported", clip.ErrTransient)
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("yt-dlp: %w: %w", clip.ErrTransient, err)
	}
	return path, nil
}

func (t *Transformer) normalize(ctx context.Context, in string) (string, error) {
	out := strings.TrimSuffix(in, filepath.Ext(in)) + ".norm.mp4"
	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", in,
		"-af", "loudnorm=I=-14:TP=-1.5:LRA=11",
		"-c:v", "copy",
		"-c:a", "aac", "-b:a", "192k",
		out,
	}
	if _, stderr, err := t.run(ctx, t.cfg.FfmpegPath, args...); err != nil {
		os.Remove(out)
		return "", fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(string(stderr)))
	}
	return out, nil
}

// lastPath returns the last non-empty stdout line, which --print
// after_move:filepath guarantees to be the final file.
func lastPath(stdout string) string {
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

// transientMarkers are yt-dlp stderr fragments for failures worth retrying.
var transientMarkers = []string{
	"HTTP Error 429",
	"HTTP Error 5",
	"timed out",
	"Connection reset",
	"Temporary failure in name resolution",
	"Unable to download webpage",
}

// classifyExec maps a subprocess failure onto a clip failure class. A missing
// binary fails every candidate alike and is fatal.
func classifyExec(ctx context.Context, err error, stderr []byte) error {
	msg := strings.TrimSpace(string(stderr))
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", clip.ErrTransient, context.DeadlineExceeded)
	case errors.Is(err, exec.ErrNotFound):
		return fmt.Errorf("%w: %w", clip.ErrFatal, err)
	}
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %w: %s", clip.ErrTransient, err, msg)
		}
	}
	if msg != "" {
		return fmt.Errorf("%w: %w: %s", clip.ErrRejected, err, msg)
	}
	return fmt.Errorf("%w: %w", clip.ErrRejected, err)
}

// sanitizeFilename replaces characters that are invalid in filenames.
func sanitizeFilename(s string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "*", "_", "?", "_", "\"", "_", "<", "_", ">", "_", "|", "_")
	return replacer.Replace(s)
}
