package transcribe

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"sync"
)

// maxCapturedOutput bounds how much of each stream a CommandLog keeps.
const maxCapturedOutput = 64 << 10

// CommandLog captures one external command invocation.
type CommandLog struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exit_code"`
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
}

// Redacted returns a copy with every occurrence of secret replaced in Args.
func (l CommandLog) Redacted(secret string) CommandLog {
	if secret == "" {
		return l
	}
	args := make([]string, len(l.Args))
	for i, a := range l.Args {
		if a == secret {
			a = "***"
		}
		args[i] = a
	}
	l.Args = args
	return l
}

type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

// execRunner runs commands via os/exec, keeping the tail of each stream and
// mirroring them to Stdout/Stderr when set.
type execRunner struct {
	Stdout io.Writer
	Stderr io.Writer
}

func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	stdout := &tailBuffer{max: maxCapturedOutput}
	stderr := &tailBuffer{max: maxCapturedOutput}
	cmd.Stdout = tee(stdout, r.Stdout)
	cmd.Stderr = tee(stderr, r.Stderr)

	err := cmd.Run()
	result := commandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

func tee(buf io.Writer, mirror io.Writer) io.Writer {
	if mirror == nil {
		return buf
	}
	return io.MultiWriter(buf, mirror)
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
