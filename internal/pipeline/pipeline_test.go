package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/orchnova/vmsync/internal/backup"
	"github.com/orchnova/vmsync/internal/journal"
	"github.com/orchnova/vmsync/internal/lock"
	"github.com/orchnova/vmsync/internal/planner"
	"github.com/orchnova/vmsync/internal/remote"
	"github.com/orchnova/vmsync/internal/snapshot"
	"github.com/orchnova/vmsync/internal/state"
	"github.com/orchnova/vmsync/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type file struct {
	hash  string
	mtime int64
}

func snap(side snapshot.Side, files map[string]file) *snapshot.Snapshot {
	s := snapshot.New(side, "/"+string(side))
	for p, f := range files {
		s.Add(&snapshot.FileRecord{RelPath: p, Hash: f.hash, ModifiedAt: f.mtime})
	}
	return s
}

// fakeCollector returns its results in order, repeating the last one.
type fakeCollector struct {
	snaps  []*snapshot.Snapshot
	errs   []error
	calls  int
	resets int
}

func (c *fakeCollector) Reset() { c.resets++ }

func (c *fakeCollector) Collect(context.Context) (*snapshot.Snapshot, error) {
	i := min(c.calls, len(c.snaps)-1)
	c.calls++
	var err error
	if i < len(c.errs) {
		err = c.errs[i]
	}
	return c.snaps[i], err
}

type fakeArchiver struct {
	side  snapshot.Side
	err   error
	calls int
}

func (a *fakeArchiver) Archive(context.Context) (*backup.Archive, error) {
	a.calls++
	if a.err != nil {
		return nil, &backup.ArchiveError{Side: a.side, Err: a.err}
	}
	return &backup.Archive{Side: a.side, Path: "/backups/" + string(a.side) + ".tar.gz"}, nil
}

type fakeTransfer struct {
	dirs []planner.Direction
	err  error
}

func (t *fakeTransfer) Transfer(_ context.Context, dir planner.Direction) error {
	t.dirs = append(t.dirs, dir)
	return t.err
}

type fakeUploader struct {
	keys []string
}

func (u *fakeUploader) Key(name string) string { return "vm/" + name }

func (u *fakeUploader) Upload(_ context.Context, _, key string) (string, error) {
	u.keys = append(u.keys, key)
	return "https://bucket/" + key, nil
}

type harness struct {
	deps     Deps
	local    *fakeCollector
	remote   *fakeCollector
	archives []*fakeArchiver
	transfer *fakeTransfer
	marker   string
}

func newHarness(t *testing.T, local, remoteSnap *snapshot.Snapshot, remoteErr error) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{
		local:    &fakeCollector{snaps: []*snapshot.Snapshot{local}},
		remote:   &fakeCollector{snaps: []*snapshot.Snapshot{remoteSnap}, errs: []error{remoteErr}},
		archives: []*fakeArchiver{{side: snapshot.Local}, {side: snapshot.Remote}},
		transfer: &fakeTransfer{},
		marker:   filepath.Join(dir, "last_sync"),
	}
	h.deps = Deps{
		Lock:       lock.New(filepath.Join(dir, "vmsync.lock")),
		Local:      h.local,
		Remote:     h.remote,
		Planner:    planner.New(nil),
		Archivers:  []backup.Archiver{h.archives[0], h.archives[1]},
		Transfer:   h.transfer,
		MarkerPath: h.marker,
		Now:        func() time.Time { return time.Unix(1_800_000_000, 0) },
	}
	return h
}

func (h *harness) archiveCalls() int {
	return h.archives[0].calls + h.archives[1].calls
}

func TestRun_Unreachable(t *testing.T) {
	local := snap(snapshot.Local, map[string]file{"a.py": {"1", 10}})
	h := newHarness(t, local, nil, &remote.UnreachableError{Host: "vm", Err: context.DeadlineExceeded})

	report, err := Run(context.Background(), h.deps, Options{BackupAlways: true})
	require.NoError(t, err)
	assert.Equal(t, planner.ReasonRemoteUnreachable, report.Decision.Reason)
	assert.Zero(t, h.archiveCalls())
	assert.Empty(t, h.transfer.dirs)
	assert.NoFileExists(t, h.marker)
}

func TestRun_RemoteFailureIsFatal(t *testing.T) {
	local := snap(snapshot.Local, map[string]file{"a.py": {"1", 10}})
	h := newHarness(t, local, nil, errors.New("find: permission denied"))

	_, err := Run(context.Background(), h.deps, Options{})
	require.Error(t, err)
	assert.Empty(t, h.transfer.dirs)
}

func TestRun_IdenticalNoTransfer(t *testing.T) {
	files := map[string]file{"a.py": {"1", 10}}
	h := newHarness(t, snap(snapshot.Local, files), snap(snapshot.Remote, files), nil)

	report, err := Run(context.Background(), h.deps, Options{BackupAlways: true})
	require.NoError(t, err)
	assert.Equal(t, planner.ReasonIdentical, report.Decision.Reason)
	assert.Empty(t, h.transfer.dirs)
	assert.Equal(t, 2, h.archiveCalls())
	assert.NoFileExists(t, h.marker)

	h = newHarness(t, snap(snapshot.Local, files), snap(snapshot.Remote, files), nil)
	_, err = Run(context.Background(), h.deps, Options{BackupAlways: false})
	require.NoError(t, err)
	assert.Zero(t, h.archiveCalls())
}

func TestRun_ArchiveFailureBlocksTransfer(t *testing.T) {
	local := snap(snapshot.Local, map[string]file{"a.py": {"2", 20}})
	remoteSnap := snap(snapshot.Remote, map[string]file{"a.py": {"1", 10}})
	h := newHarness(t, local, remoteSnap, nil)
	h.archives[1].err = errors.New("disk full")

	_, err := Run(context.Background(), h.deps, Options{})
	var archiveErr *backup.ArchiveError
	require.ErrorAs(t, err, &archiveErr)
	assert.Equal(t, snapshot.Remote, archiveErr.Side)
	assert.Empty(t, h.transfer.dirs)
	assert.NoFileExists(t, h.marker)
}

func TestRun_DryRun(t *testing.T) {
	local := snap(snapshot.Local, map[string]file{"a.py": {"2", 20}})
	remoteSnap := snap(snapshot.Remote, map[string]file{"a.py": {"1", 10}})
	h := newHarness(t, local, remoteSnap, nil)

	report, err := Run(context.Background(), h.deps, Options{DryRun: true, BackupAlways: true})
	require.NoError(t, err)
	assert.Equal(t, planner.LocalToRemote, report.Decision.Direction)
	assert.True(t, report.DryRun)
	assert.Zero(t, h.archiveCalls())
	assert.Empty(t, h.transfer.dirs)
}

func TestRun_SuccessWritesMarker(t *testing.T) {
	local := snap(snapshot.Local, map[string]file{"a.py": {"2", 20}, "b.md": {"3", 5}})
	stale := snap(snapshot.Remote, map[string]file{"a.py": {"1", 10}})
	synced := snap(snapshot.Remote, map[string]file{"a.py": {"2", 20}, "b.md": {"3", 5}})

	h := newHarness(t, local, stale, nil)
	h.remote.snaps = []*snapshot.Snapshot{stale, synced}
	up := &fakeUploader{}
	h.deps.Uploader = up

	j, err := journal.Open("")
	require.NoError(t, err)
	defer j.Close()
	h.deps.Journal = j

	report, err := Run(context.Background(), h.deps, Options{Upload: true})
	require.NoError(t, err)
	assert.Equal(t, []planner.Direction{planner.LocalToRemote}, h.transfer.dirs)
	assert.True(t, report.Transferred)
	assert.True(t, report.Verified)
	assert.Len(t, report.Archives, 2)
	assert.Equal(t, []string{"vm/local.tar.gz"}, up.keys)
	assert.Equal(t, []string{"https://bucket/vm/local.tar.gz"}, report.Uploads)

	marker, err := state.Read(h.marker)
	require.NoError(t, err)
	assert.Equal(t, state.LaptopToVM, marker.Direction)
	assert.Equal(t, report.RunID, marker.RunID)
	assert.EqualValues(t, 1_800_000_000, marker.LastSync.Unix())

	n, err := j.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	runs, err := j.Runs(5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, report.RunID, runs[0].RunID)

	// verify re-hashed the local tree instead of trusting cached hashes
	assert.Equal(t, 1, h.local.resets)

	// lock was released
	require.NoError(t, h.deps.Lock.Acquire("next"))
	require.NoError(t, h.deps.Lock.Release())
}

func TestRun_VerifyMismatch(t *testing.T) {
	local := snap(snapshot.Local, map[string]file{"a.py": {"2", 20}})
	stale := snap(snapshot.Remote, map[string]file{"a.py": {"1", 10}})
	h := newHarness(t, local, stale, nil)

	_, err := Run(context.Background(), h.deps, Options{})
	var transferErr *transfer.TransferError
	require.ErrorAs(t, err, &transferErr)
	assert.Contains(t, err.Error(), "a.py")
	assert.NoFileExists(t, h.marker)
}

func TestRun_TransferFailure(t *testing.T) {
	local := snap(snapshot.Local, map[string]file{"a.py": {"1", 10}})
	remoteSnap := snap(snapshot.Remote, map[string]file{"a.py": {"2", 20}})
	h := newHarness(t, local, remoteSnap, nil)
	h.transfer.err = &transfer.TransferError{Direction: planner.RemoteToLocal, Err: errors.New("rsync exit 23")}

	_, err := Run(context.Background(), h.deps, Options{})
	var transferErr *transfer.TransferError
	require.ErrorAs(t, err, &transferErr)
	assert.Equal(t, 2, h.archiveCalls())
	assert.NoFileExists(t, h.marker)
}

func TestRun_Locked(t *testing.T) {
	files := map[string]file{"a.py": {"1", 10}}
	h := newHarness(t, snap(snapshot.Local, files), snap(snapshot.Remote, files), nil)

	holder := lock.New(h.deps.Lock.(*lock.Lock).Path())
	require.NoError(t, holder.Acquire("other"))
	defer holder.Release()

	_, err := Run(context.Background(), h.deps, Options{})
	assert.ErrorIs(t, err, lock.ErrLocked)
	assert.Zero(t, h.local.calls)
}

func TestRun_ThreeWayConflict(t *testing.T) {
	j, err := journal.Open("")
	require.NoError(t, err)
	defer j.Close()
	require.NoError(t, j.Replace([]*snapshot.FileRecord{{RelPath: "a.py", Hash: "base", ModifiedAt: 1}}))

	local := snap(snapshot.Local, map[string]file{"a.py": {"mine", 20}})
	remoteSnap := snap(snapshot.Remote, map[string]file{"a.py": {"theirs", 30}})
	h := newHarness(t, local, remoteSnap, nil)
	h.deps.Journal = j

	report, err := Run(context.Background(), h.deps, Options{ThreeWay: true, BackupAlways: true})
	require.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, []string{"a.py"}, report.Decision.Conflicts)
	assert.Empty(t, h.transfer.dirs)
	assert.Zero(t, h.archiveCalls())

	// without three-way the heuristic picks the newer side
	h = newHarness(t, local, remoteSnap, nil)
	h.deps.Journal = j
	h.remote.snaps = []*snapshot.Snapshot{remoteSnap, snap(snapshot.Remote, map[string]file{"a.py": {"theirs", 30}})}
	h.local.snaps = []*snapshot.Snapshot{local, snap(snapshot.Local, map[string]file{"a.py": {"theirs", 30}})}
	report, err = Run(context.Background(), h.deps, Options{})
	require.NoError(t, err)
	assert.Equal(t, planner.RemoteToLocal, report.Decision.Direction)
}

func TestRun_ThreeWayOneSidedDeletionKeepsBase(t *testing.T) {
	j, err := journal.Open("")
	require.NoError(t, err)
	defer j.Close()
	require.NoError(t, j.Replace([]*snapshot.FileRecord{
		{RelPath: "a.py", Hash: "a", ModifiedAt: 10},
		{RelPath: "b.py", Hash: "b", ModifiedAt: 10},
	}))

	local := snap(snapshot.Local, map[string]file{"a.py": {"a", 10}})
	remoteSnap := snap(snapshot.Remote, map[string]file{"a.py": {"a", 10}, "b.py": {"b", 10}})

	for run := 1; run <= 2; run++ {
		h := newHarness(t, local, remoteSnap, nil)
		h.deps.Journal = j

		report, err := Run(context.Background(), h.deps, Options{ThreeWay: true, BackupAlways: true})
		require.ErrorIs(t, err, ErrConflict, "run %d", run)
		assert.Equal(t, []string{"b.py"}, report.Decision.Conflicts, "run %d", run)
		assert.Empty(t, h.transfer.dirs, "run %d", run)

		n, err := j.Count()
		require.NoError(t, err)
		assert.Equal(t, 2, n, "run %d", run)
	}
}
