// cmd/test-transcribe runs the transcription tool adapter and artifact search
// against a local file or URL, without instance metadata, object storage or
// host shutdown.
//
// Usage:
//
//	./test-transcribe -input talk.mp3
//	./test-transcribe -input https://www.youtube.com/watch?v=... -out ./out -device cpu
//	./test-transcribe -input talk.wav -token $HUGGING_FACE_TOKEN -v
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lmittmann/tint"

	"github.com/tendant/simple-transcriber/internal/locator"
	"github.com/tendant/simple-transcriber/internal/transcribe"
)

func main() {
	input := flag.String("input", "", "Input media file or http(s) URL (required)")
	outDir := flag.String("out", "", "Output directory (default: <input>_transcript next to the input)")
	bin := flag.String("bin", transcribe.DefaultBinary, "Transcription CLI to run")
	device := flag.String("device", "", "Device passed to the tool (e.g. cpu, cuda, insane)")
	token := flag.String("token", os.Getenv("HUGGING_FACE_TOKEN"), "Credential token enabling diarization")
	noDiarize := flag.Bool("no-diarize", false, "Do not request speaker diarization")
	pattern := flag.String("pattern", transcribe.DefaultArtifactPattern, "Artifact file pattern")
	timeout := flag.Duration("timeout", 2*time.Hour, "Transcription timeout")
	verbose := flag.Bool("v", false, "Verbose output")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level, TimeFormat: time.Kitchen}))

	if *input == "" {
		fmt.Fprintln(os.Stderr, "Error: -input flag is required")
		flag.Usage()
		os.Exit(2)
	}

	source, defaultOut, err := resolveSource(*input)
	if err != nil {
		fatal(logger, "resolve input", err, "input", *input)
	}
	if *outDir == "" {
		*outDir = defaultOut
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		fatal(logger, "create output directory", err, "out", *outDir)
	}

	tool := transcribe.NewTool(transcribe.ToolConfig{
		Binary: *bin,
		Device: *device,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	})
	if err := tool.Available(); err != nil {
		fatal(logger, "transcription tool not available", err, "tool", *bin)
	}
	logger.Debug("using tool", "tool", tool.Name(), "source", source, "out", *outDir)

	opts := transcribe.Options{Diarize: !*noDiarize, Token: *token}
	if opts.Diarize && opts.Token == "" {
		logger.Warn("no token provided, the tool will skip diarization")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	start := time.Now()
	cmdLog, err := tool.Transcribe(ctx, source, *outDir, opts)
	duration := time.Since(start).Round(time.Millisecond)
	if err != nil {
		fatal(logger, "transcription failed", err, "exit_code", cmdLog.ExitCode, "duration", duration)
	}
	logger.Info("transcription finished", "duration", duration, "command", strings.Join(append([]string{cmdLog.Command}, cmdLog.Args...), " "))

	artifact, err := transcribe.FindArtifact(*outDir, *pattern)
	if err != nil {
		fatal(logger, "locate transcript", err, "out", *outDir)
	}
	info, err := os.Stat(artifact)
	if err != nil {
		fatal(logger, "stat transcript", err, "artifact", artifact)
	}
	logger.Info("transcript ready", "artifact", artifact, "size", formatBytes(info.Size()))

	if *verbose {
		printPreview(artifact, 800)
	}
}

// resolveSource accepts URLs as-is and local files by absolute path.
// Storage references need credentials and are not supported here.
func resolveSource(input string) (source, defaultOut string, err error) {
	loc := locator.Parse(input)
	switch loc.Kind {
	case locator.URLRef:
		return loc.Raw, filepath.Join(".", "transcript_"+time.Now().Format("20060102-150405")), nil
	case locator.StorageRef:
		return "", "", fmt.Errorf("%s references are only handled by the runner", loc.Scheme)
	}

	abs, err := filepath.Abs(input)
	if err != nil {
		return "", "", err
	}
	if _, err := os.Stat(abs); err != nil {
		return "", "", err
	}
	base := strings.TrimSuffix(abs, filepath.Ext(abs))
	return abs, base + "_transcript", nil
}

func printPreview(path string, limit int64) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Println(strings.Repeat("-", 40))
	_, _ = io.Copy(os.Stdout, io.LimitReader(f, limit))
	fmt.Println()
	fmt.Println(strings.Repeat("-", 40))
}

// formatBytes formats bytes into human-readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func fatal(logger *slog.Logger, msg string, err error, attrs ...any) {
	attrs = append(attrs, "err", err)
	logger.Error(msg, attrs...)
	os.Exit(1)
}
