// Package transcribe drives the external transcription CLI and locates the
// text artifacts it leaves behind.
package transcribe

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// DefaultBinary is the transcription CLI invoked when none is configured.
const DefaultBinary = "transcribe-anything"

// Options tunes a single transcription run.
type Options struct {
	// Diarize requests speaker attribution. The tool only diarizes when it
	// also receives a credential token.
	Diarize bool
	Token   string
}

// Transcriber turns a media source into files under outputDir. The layout of
// those files is owned by the implementation.
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, source, outputDir string, opts Options) (CommandLog, error)
}

// ToolConfig configures the CLI adapter.
type ToolConfig struct {
	Binary    string
	Device    string
	ExtraArgs []string
	// Stdout and Stderr, when set, receive the tool's live output.
	Stdout io.Writer
	Stderr io.Writer
}

// Tool runs a transcribe-anything compatible CLI:
//
//	<binary> <source> --output_dir <dir> [--device <d>] [--hf_token <t>] [extra...]
type Tool struct {
	binary    string
	device    string
	extraArgs []string
	runner    commandRunner
}

func NewTool(cfg ToolConfig) *Tool {
	bin := cfg.Binary
	if bin == "" {
		bin = DefaultBinary
	}
	return &Tool{
		binary:    bin,
		device:    cfg.Device,
		extraArgs: cfg.ExtraArgs,
		runner:    &execRunner{Stdout: cfg.Stdout, Stderr: cfg.Stderr},
	}
}

func (t *Tool) Name() string { return t.binary }

// Available reports whether the binary can be found.
func (t *Tool) Available() error {
	if _, err := exec.LookPath(t.binary); err != nil {
		return fmt.Errorf("%s not found in PATH: %w", t.binary, err)
	}
	return nil
}

// Transcribe runs the tool once. A non-zero exit is returned as *ToolError;
// no retry is attempted.
func (t *Tool) Transcribe(ctx context.Context, source, outputDir string, opts Options) (CommandLog, error) {
	if strings.TrimSpace(source) == "" {
		return CommandLog{}, &ToolError{Message: "source is required"}
	}
	if strings.TrimSpace(outputDir) == "" {
		return CommandLog{}, &ToolError{Message: "output directory is required"}
	}

	args := t.buildArgs(source, outputDir, opts)
	res, err := t.runner.Run(ctx, t.binary, args...)
	log := CommandLog{
		Command:  t.binary,
		Args:     args,
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
	}.Redacted(opts.Token)
	if err != nil {
		msg := "transcription tool failed"
		if ctx.Err() != nil {
			msg = "transcription tool interrupted"
		}
		return log, &ToolError{Message: msg, CommandLog: log, Err: err}
	}
	return log, nil
}

func (t *Tool) buildArgs(source, outputDir string, opts Options) []string {
	args := []string{source, "--output_dir", outputDir}
	if t.device != "" {
		args = append(args, "--device", t.device)
	}
	if opts.Diarize && opts.Token != "" {
		args = append(args, "--hf_token", opts.Token)
	}
	return append(args, t.extraArgs...)
}

// ToolError is a transcription failure with the command context attached.
type ToolError struct {
	Message    string
	CommandLog CommandLog
	Err        error
}

func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	if e.CommandLog.Command == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (cmd=%s exit=%d)", e.Message, e.CommandLog.Command, e.CommandLog.ExitCode)
}

func (e *ToolError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
