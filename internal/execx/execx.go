// Package execx runs external tools with bounded output capture and
// deadline enforcement. Engines, the transcriber, and the media ingester
// all shell out through this package so that argv construction, timeout
// mapping, and failure classification stay testable without a real binary.
package execx

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// ErrTimeout is returned (wrapped) when a command is killed because its
// deadline elapsed. Callers map it to their own timeout error kinds.
var ErrTimeout = errors.New("command timed out")

// stderrCap bounds how much stderr is retained. Tools like whisper and
// yt-dlp emit progress spam; only the tail matters for diagnostics.
const stderrCap = 32 * 1024

// Command describes a single external invocation.
type Command struct {
	Path    string        // resolved binary path
	Args    []string      // argv[1:]
	Dir     string        // working directory; empty inherits the process cwd
	Env     []string      // KEY=VALUE pairs appended to the parent environment
	Stdin   io.Reader     // optional stdin
	Timeout time.Duration // 0 means no deadline beyond ctx
}

// Result captures the outcome of a completed invocation. A non-zero
// ExitCode is not an error at this layer; callers decide what it means.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   string
	Duration time.Duration
	TimedOut bool
}

// StderrTail returns up to n trailing non-empty stderr lines joined with
// "; ". Useful for folding tool output into a single error message.
func (r *Result) StderrTail(n int) string {
	if r == nil || r.Stderr == "" || n <= 0 {
		return ""
	}
	lines := strings.Split(strings.TrimRight(r.Stderr, "\r\n"), "\n")
	var kept []string
	for i := len(lines) - 1; i >= 0 && len(kept) < n; i-- {
		line := strings.TrimSpace(strings.TrimRight(lines[i], "\r"))
		if line == "" {
			continue
		}
		kept = append([]string{line}, kept...)
	}
	return strings.Join(kept, "; ")
}

// Runner executes commands. The zero value is usable; tests swap in a
// stub via the RunFunc field on consumers that accept a Runner.
type Runner struct{}

// Run executes cmd and waits for it to finish.
//
// The returned error is non-nil only when the command could not be
// started, the deadline elapsed (errors.Is(err, ErrTimeout)), or the
// context was cancelled. A process that starts and exits non-zero yields
// a nil error with Result.ExitCode set, so callers can apply their own
// status mapping with the captured stderr tail at hand.
func (Runner) Run(ctx context.Context, cmd Command) (*Result, error) {
	return Run(ctx, cmd)
}

// RunFunc adapts a plain function to the runner shape used by consumers.
type RunFunc func(ctx context.Context, cmd Command) (*Result, error)

// Run implements the runner shape.
func (f RunFunc) Run(ctx context.Context, cmd Command) (*Result, error) {
	return f(ctx, cmd)
}

// Run executes cmd with the package-level defaults. See Runner.Run.
func Run(ctx context.Context, cmd Command) (*Result, error) {
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	if cmd.Stdin != nil {
		c.Stdin = cmd.Stdin
	}

	var stdout bytes.Buffer
	stderr := newTailBuffer(stderrCap)
	c.Stdout = &stdout
	c.Stderr = stderr

	started := time.Now()
	err := c.Run()
	res := &Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.String(),
		Duration: time.Since(started),
	}

	if err == nil {
		return res, nil
	}

	// Deadline kills surface as the wait error; report them uniformly so
	// callers do not have to distinguish signal deaths from ctx errors.
	if ctx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
		res.ExitCode = -1
		return res, ErrTimeout
	}
	if ctx.Err() != nil {
		res.ExitCode = -1
		return res, ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}

	// Start failure: binary missing, not executable, bad working dir.
	return nil, err
}

// tailBuffer keeps the trailing cap bytes written to it. Writes never
// fail, so a noisy tool cannot wedge the process it feeds.
type tailBuffer struct {
	mu  sync.Mutex
	cap int
	buf []byte
}

func newTailBuffer(capBytes int) *tailBuffer {
	return &tailBuffer{cap: capBytes}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(p) >= t.cap {
		t.buf = append(t.buf[:0], p[len(p)-t.cap:]...)
		return len(p), nil
	}
	if overflow := len(t.buf) + len(p) - t.cap; overflow > 0 {
		t.buf = t.buf[overflow:]
	}
	t.buf = append(t.buf, p...)
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
