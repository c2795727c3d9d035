// Package remote is the request/response channel to the VM. Each request is
// one `ssh` invocation in batch mode. Connecting is bounded by the remote
// timeout, a whole command by the longer command timeout.
package remote

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/orchnova/vmsync/internal/config"
	"github.com/orchnova/vmsync/internal/executor"
)

// ssh reserves 255 for its own failures (connect, auth, host key).
const sshFailureExit = 255

// UnreachableError means the VM could not be asked anything: the connection
// timed out or authentication failed. Callers treat it as "no remote view".
type UnreachableError struct {
	Host string
	Err  error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("remote %s unreachable: %v", e.Host, e.Err)
}

func (e *UnreachableError) Unwrap() error {
	return e.Err
}

func IsUnreachable(err error) bool {
	var unreachable *UnreachableError
	return errors.As(err, &unreachable)
}

type Channel struct {
	runner executor.Runner
	cfg    config.RemoteConfig
}

func NewChannel(runner executor.Runner, cfg config.RemoteConfig) *Channel {
	return &Channel{runner: runner, cfg: cfg}
}

func (c *Channel) Host() string {
	return c.cfg.Host
}

func (c *Channel) Target() string {
	return c.cfg.Target()
}

// Options are the ssh flags shared by direct invocations and rsync's -e.
func (c *Channel) Options() []string {
	connectTimeout := int(c.cfg.Timeout / time.Second)
	if connectTimeout < 1 {
		connectTimeout = 1
	}
	opts := []string{
		"-o", "BatchMode=yes",
		"-o", "ConnectTimeout=" + strconv.Itoa(connectTimeout),
	}
	if c.cfg.Port != 0 && c.cfg.Port != 22 {
		opts = append(opts, "-p", strconv.Itoa(c.cfg.Port))
	}
	if c.cfg.IdentityFile != "" {
		opts = append(opts, "-i", c.cfg.IdentityFile)
	}
	return opts
}

// RsyncShell is the value for rsync's -e flag.
func (c *Channel) RsyncShell() string {
	return "ssh " + strings.Join(c.Options(), " ")
}

// Exec runs script on the VM through the login shell and returns its output.
// Connection-level failures become *UnreachableError; a script that ran and
// failed is returned as the underlying *executor.ExitError. A script still
// running at the command timeout is a plain error, since the VM answered.
func (c *Channel) Exec(ctx context.Context, script string) (*executor.Result, error) {
	timeout := c.cfg.CommandTimeout
	if timeout < c.cfg.Timeout {
		timeout = c.cfg.Timeout
	}
	res, err := c.exec(ctx, script, timeout)
	if err != nil && !IsUnreachable(err) && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return res, fmt.Errorf("remote command exceeded %s: %w", timeout, err)
	}
	return res, err
}

// Ping checks the channel with a no-op command under the connect timeout.
func (c *Channel) Ping(ctx context.Context) error {
	_, err := c.exec(ctx, "true", c.cfg.Timeout)
	if err != nil && !IsUnreachable(err) && errors.Is(err, context.DeadlineExceeded) {
		return &UnreachableError{Host: c.cfg.Host, Err: err}
	}
	return err
}

func (c *Channel) exec(ctx context.Context, script string, timeout time.Duration) (*executor.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(c.Options(), c.Target(), script)
	res, err := c.runner.Run(ctx, executor.Command{Name: "ssh", Args: args})
	if err == nil {
		return res, nil
	}

	if executor.ExitCode(err) == sshFailureExit {
		return res, &UnreachableError{Host: c.cfg.Host, Err: err}
	}
	// parent cancellation is not a reachability verdict
	if errors.Is(err, context.Canceled) {
		return res, err
	}
	return res, fmt.Errorf("remote exec: %w", err)
}

// Quote single-quotes s for a POSIX shell.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
