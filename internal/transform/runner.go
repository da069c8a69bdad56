// Package transform runs the external on-disk transformations that
// normalize a dataset's layout before it is loaded.
package transform

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Purpose names a transformation. Scripts are selected by purpose.
type Purpose string

const (
	PurposeRewrite      Purpose = "rewrite"
	PurposeUnraw        Purpose = "unraw"
	PurposeTranspose    Purpose = "transpose"
	PurposeSample       Purpose = "sample"
	PurposeSortBySample Purpose = "sort-by-sample"
	PurposePack         Purpose = "pack"
	PurposeFilter10x    Purpose = "filter-10x"
)

// Purposes lists every known purpose.
var Purposes = []Purpose{
	PurposeRewrite, PurposeUnraw, PurposeTranspose, PurposeSample,
	PurposeSortBySample, PurposePack, PurposeFilter10x,
}

// ParsePurpose validates s.
func ParsePurpose(s string) (Purpose, error) {
	for _, p := range Purposes {
		if string(p) == s {
			return p, nil
		}
	}
	names := make([]string, len(Purposes))
	for i, p := range Purposes {
		names[i] = string(p)
	}
	return "", fmt.Errorf("unknown transformation %q, expected one of %s", s, strings.Join(names, ", "))
}

var (
	// ErrTransformFailed is matched by every ExitError.
	ErrTransformFailed = errors.New("transformation failed")
	// ErrNoRunner is returned when a transformation is needed but no runner
	// is configured.
	ErrNoRunner = errors.New("no transformation runner configured")
)

// ExitError reports a transformation that exited with a non-zero status.
type ExitError struct {
	Purpose  Purpose
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s transformation exited with status %d", e.Purpose, e.ExitCode)
	if e.Stderr != "" {
		msg += ":\n" + e.Stderr
	}
	return msg
}

func (e *ExitError) Unwrap() error { return ErrTransformFailed }

// Runner invokes a transformation reading input and writing output.
type Runner interface {
	Run(ctx context.Context, purpose Purpose, input, output string, extra ...string) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, purpose Purpose, input, output string, extra ...string) error

func (f RunnerFunc) Run(ctx context.Context, purpose Purpose, input, output string, extra ...string) error {
	return f(ctx, purpose, input, output, extra...)
}

// maxStderr bounds the captured standard error.
const maxStderr = 64 * 1024

// ScriptRunner runs <Python> <ScriptsDir>/<purpose>.py <input> <output>
// [extra...]. Programs overrides the command of a purpose with a standalone
// executable.
type ScriptRunner struct {
	Python     string
	ScriptsDir string
	Programs   map[Purpose]string
	// Timeout bounds a single invocation when positive.
	Timeout time.Duration
}

// Command returns the argument vector for a purpose.
func (r *ScriptRunner) Command(purpose Purpose, input, output string, extra ...string) []string {
	var argv []string
	if prog, ok := r.Programs[purpose]; ok && prog != "" {
		argv = []string{prog}
	} else {
		python := r.Python
		if python == "" {
			python = "python3"
		}
		argv = []string{python, filepath.Join(r.ScriptsDir, string(purpose)+".py")}
	}
	argv = append(argv, input, output)
	return append(argv, extra...)
}

// Run blocks until the process exits. Standard output is forwarded to the
// log line by line.
func (r *ScriptRunner) Run(ctx context.Context, purpose Purpose, input, output string, extra ...string) error {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	argv := r.Command(purpose, input, output, extra...)
	log := slog.Default().With("component", "transform", "purpose", string(purpose))
	log.Info("running transformation", "command", strings.Join(argv, " "))

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr := &tailBuffer{max: maxStderr}
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s transformation: %w", purpose, err)
	}
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimRight(scanner.Text(), "\r"); line != "" {
			log.Info(line)
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s transformation interrupted: %w", purpose, ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ExitError{Purpose: purpose, ExitCode: exitErr.ExitCode(), Stderr: strings.TrimSpace(stderr.String())}
		}
		return fmt.Errorf("%s transformation failed: %w", purpose, err)
	}
	log.Info("transformation completed", "output", output, "elapsed", time.Since(start).Round(time.Millisecond).String())
	return nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf bytes.Buffer
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(p)
	t.buf.Write(p)
	if over := t.buf.Len() - t.max; over > 0 {
		t.buf.Next(over)
	}
	return n, nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
