package lock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLock_SecondAcquireFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "vmsync.lock")

	first := New(path)
	require.NoError(t, first.Acquire("run-1"))
	defer first.Release()

	second := New(path)
	err := second.Acquire("run-2")
	require.ErrorIs(t, err, ErrLocked)
	assert.Contains(t, err.Error(), "run-1")
}

func TestLock_ReleaseRemovesOwner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vmsync.lock")
	l := New(path)

	require.NoError(t, l.Acquire("run-1"))
	owner, err := ReadOwner(path + ".owner")
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), owner.PID)
	assert.Equal(t, "run-1", owner.RunID)
	assert.False(t, owner.StartedAt.IsZero())

	require.NoError(t, l.Release())
	assert.NoFileExists(t, path+".owner")

	// lock is free again
	again := New(path)
	require.NoError(t, again.Acquire("run-2"))
	require.NoError(t, again.Release())
}

func TestLock_ReleaseUnheld(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "vmsync.lock"))
	assert.NoError(t, l.Release())
}

func TestLock_Holder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vmsync.lock")
	l := New(path)

	_, held := New(path).Holder()
	assert.False(t, held)

	require.NoError(t, l.Acquire("run-9"))
	defer l.Release()

	owner, held := New(path).Holder()
	assert.True(t, held)
	assert.Equal(t, "run-9", owner.RunID)
}
