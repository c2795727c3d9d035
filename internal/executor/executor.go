// Package executor runs external programs (ssh, rsync, tar, gcloud) and
// captures their output. Everything that shells out goes through Runner so
// the callers can be tested with a scripted fake.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Command describes one process invocation.
type Command struct {
	Name  string
	Args  []string
	Dir   string
	Env   map[string]string
	Stdin string
	// Stream copies stdout/stderr to these writers as well as capturing it.
	Stream io.Writer
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// ExitError is returned when the process ran but exited non-zero.
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	stderr := strings.TrimSpace(e.Stderr)
	if stderr == "" {
		return fmt.Sprintf("%s: exit status %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%s: exit status %d: %s", e.Command, e.ExitCode, stderr)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

func (r *ExecRunner) Run(ctx context.Context, c Command) (*Result, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range c.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	if c.Stdin != "" {
		cmd.Stdin = strings.NewReader(c.Stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if c.Stream != nil {
		cmd.Stdout = io.MultiWriter(&stdout, c.Stream)
		cmd.Stderr = io.MultiWriter(&stderr, c.Stream)
	}

	start := time.Now()
	err := cmd.Run()
	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	slog.Debug("exec", "cmd", c.Name, "args", len(c.Args), "took", result.Duration, "error", err)

	if err == nil {
		return result, nil
	}

	// context errors take precedence over the kill signal they caused
	if ctxErr := ctx.Err(); ctxErr != nil {
		result.ExitCode = -1
		return result, fmt.Errorf("%s: %w", c.Name, ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, &ExitError{Command: c.Name, ExitCode: result.ExitCode, Stderr: result.Stderr}
	}

	result.ExitCode = -1
	return result, fmt.Errorf("%s: %w", c.Name, err)
}

// ExitCode extracts the exit status from an error returned by a Runner, or
// -1 when the process never produced one.
func ExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode
	}
	return -1
}
