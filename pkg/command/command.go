// Package command runs external programs as scheduler work.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	logx "stripesd/pkg/logx"
)

const (
	defaultWaitDelay = 5 * time.Second
	defaultTailBytes = 2048
)

// Spec describes one invocation. Argv[0] is resolved through PATH.
type Spec struct {
	Argv []string
	Dir  string
	Env  []string // appended to the current environment

	// Timeout bounds a single run. 0 means only the caller's context applies.
	Timeout time.Duration

	// WaitDelay bounds how long Run waits for output pipes after the process
	// is killed. 0 means defaultWaitDelay.
	WaitDelay time.Duration

	// TailBytes of combined output are kept for the error. 0 means defaultTailBytes.
	TailBytes int
}

// ExitError is returned when the process ran and failed.
type ExitError struct {
	Argv []string
	Code int
	Tail string
	Err  error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s: exit %d", e.Argv[0], e.Code)
	if t := strings.TrimSpace(e.Tail); t != "" {
		msg += ": " + t
	}
	return msg
}

func (e *ExitError) Unwrap() error { return e.Err }

// Run executes spec and waits. Cancelling ctx kills the process, and the
// returned error then wraps ctx.Err().
func Run(ctx context.Context, spec Spec) error {
	if len(spec.Argv) == 0 || strings.TrimSpace(spec.Argv[0]) == "" {
		return errors.New("command: empty argv")
	}
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	cmd.WaitDelay = spec.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = defaultWaitDelay
	}
	n := spec.TailBytes
	if n <= 0 {
		n = defaultTailBytes
	}
	out := newTail(n)
	cmd.Stdout = out
	cmd.Stderr = out

	log := logx.FromContext(ctx)
	start := time.Now()
	log.Debug("command starting", logx.String("cmd", spec.Argv[0]), logx.Int("args", len(spec.Argv)-1))
	err := cmd.Run()
	took := time.Since(start)
	if err == nil {
		log.Debug("command finished", logx.String("cmd", spec.Argv[0]), logx.Duration("took", took))
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", spec.Argv[0], ctxErr)
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return &ExitError{Argv: spec.Argv, Code: ee.ExitCode(), Tail: out.String(), Err: err}
	}
	return fmt.Errorf("%s: %w", spec.Argv[0], err)
}

// Work adapts spec to the scheduler's work signature.
func Work(spec Spec) func(ctx context.Context) error {
	return func(ctx context.Context) error { return Run(ctx, spec) }
}

// tail keeps the last max bytes written to it.
type tail struct {
	mu  sync.Mutex
	max int
	buf bytes.Buffer
}

func newTail(max int) *tail { return &tail{max: max} }

func (t *tail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(p)
	if len(p) > t.max {
		p = p[len(p)-t.max:]
	}
	if over := t.buf.Len() + len(p) - t.max; over > 0 {
		t.buf.Next(over)
	}
	t.buf.Write(p)
	return n, nil
}

func (t *tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
