package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/orchnova/vmsync/internal/config"
	"github.com/orchnova/vmsync/internal/executor"
	"github.com/orchnova/vmsync/internal/executor/executortest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.RemoteConfig {
	return config.RemoteConfig{Host: "vm.internal", User: "dev", Port: 2222, Root: "/srv/app", IdentityFile: "/keys/id", Timeout: 5 * time.Second}
}

func TestChannel_Options(t *testing.T) {
	ch := NewChannel(executortest.New(), testConfig())
	assert.Equal(t, []string{
		"-o", "BatchMode=yes",
		"-o", "ConnectTimeout=5",
		"-p", "2222",
		"-i", "/keys/id",
	}, ch.Options())
	assert.Equal(t, "ssh -o BatchMode=yes -o ConnectTimeout=5 -p 2222 -i /keys/id", ch.RsyncShell())
	assert.Equal(t, "dev@vm.internal", ch.Target())
}

func TestChannel_Exec(t *testing.T) {
	fake := executortest.New().On("ssh", executortest.Stdout("ok\n"), "dev@vm.internal", "echo ok")
	ch := NewChannel(fake, testConfig())

	res, err := ch.Exec(context.Background(), "echo ok")
	require.NoError(t, err)
	assert.Equal(t, "ok\n", res.Stdout)
	require.Len(t, fake.Calls, 1)
	args := fake.Calls[0].Args
	assert.Equal(t, "echo ok", args[len(args)-1])
}

func TestChannel_Exec_Unreachable(t *testing.T) {
	cases := map[string]error{
		"auth failure": &executor.ExitError{Command: "ssh", ExitCode: 255, Stderr: "Permission denied (publickey)."},
		"timeout":      context.DeadlineExceeded,
	}
	for name, failure := range cases {
		t.Run(name, func(t *testing.T) {
			fake := executortest.New().On("ssh", executortest.Fail(failure))
			err := NewChannel(fake, testConfig()).Ping(context.Background())
			require.Error(t, err)
			assert.True(t, IsUnreachable(err))

			var unreachable *UnreachableError
			require.True(t, errors.As(err, &unreachable))
			assert.Equal(t, "vm.internal", unreachable.Host)
		})
	}
}

func TestChannel_Exec_ScriptFailureIsNotUnreachable(t *testing.T) {
	fake := executortest.New().On("ssh", executortest.Fail(&executor.ExitError{Command: "ssh", ExitCode: 2}))
	_, err := NewChannel(fake, testConfig()).Exec(context.Background(), "ls /missing")
	require.Error(t, err)
	assert.False(t, IsUnreachable(err))
	assert.Equal(t, 2, executor.ExitCode(err))
}

// deadlineRunner records how much time each command was given.
type deadlineRunner struct {
	budgets []time.Duration
}

func (r *deadlineRunner) Run(ctx context.Context, _ executor.Command) (*executor.Result, error) {
	deadline, ok := ctx.Deadline()
	if ok {
		r.budgets = append(r.budgets, time.Until(deadline))
	}
	return &executor.Result{}, nil
}

func TestChannel_CommandTimeoutOutlastsConnectTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.CommandTimeout = 10 * time.Minute
	runner := &deadlineRunner{}
	ch := NewChannel(runner, cfg)

	_, err := ch.Exec(context.Background(), "find .")
	require.NoError(t, err)
	require.NoError(t, ch.Ping(context.Background()))

	require.Len(t, runner.budgets, 2)
	assert.Greater(t, runner.budgets[0], cfg.Timeout)
	assert.LessOrEqual(t, runner.budgets[1], cfg.Timeout)
	assert.Contains(t, ch.Options(), "ConnectTimeout=5")
}

func TestChannel_Exec_SlowCommandIsNotUnreachable(t *testing.T) {
	fake := executortest.New().On("ssh", executortest.Fail(context.DeadlineExceeded))
	_, err := NewChannel(fake, testConfig()).Exec(context.Background(), "tar czf /tmp/x.tar.gz .")
	require.Error(t, err)
	assert.False(t, IsUnreachable(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQuote(t *testing.T) {
	assert.Equal(t, "''", Quote(""))
	assert.Equal(t, "'/srv/my app'", Quote("/srv/my app"))
	assert.Equal(t, `'it'\''s'`, Quote("it's"))
}
