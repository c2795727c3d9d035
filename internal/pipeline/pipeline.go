// Package pipeline runs one sync end to end: lock, snapshot both sides,
// decide, back up, transfer, verify, record.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/orchnova/vmsync/internal/backup"
	"github.com/orchnova/vmsync/internal/journal"
	"github.com/orchnova/vmsync/internal/planner"
	"github.com/orchnova/vmsync/internal/remote"
	"github.com/orchnova/vmsync/internal/snapshot"
	"github.com/orchnova/vmsync/internal/state"
	"github.com/orchnova/vmsync/internal/transfer"
)

// ErrConflict is returned when three-way detection finds work on both sides.
// Nothing is archived or transferred.
var ErrConflict = errors.New("both sides changed since the last sync")

type Locker interface {
	Acquire(runID string) error
	Release() error
}

// Journal is the merge-base store used by three-way mode.
type Journal interface {
	Base() (*snapshot.Snapshot, error)
	Replace(records []*snapshot.FileRecord) error
	RecordRun(run journal.Run) error
}

type Uploader interface {
	Key(name string) string
	Upload(ctx context.Context, filePath, key string) (string, error)
}

type Deps struct {
	Lock      Locker
	Local     snapshot.Collector
	Remote    snapshot.Collector
	Planner   *planner.Planner
	Archivers []backup.Archiver
	Transfer  transfer.Transferer
	// Journal and Uploader are optional.
	Journal    Journal
	Uploader   Uploader
	MarkerPath string
	Now        func() time.Time
}

type Options struct {
	DryRun   bool
	ThreeWay bool
	// BackupAlways archives both sides even when nothing will be transferred.
	BackupAlways bool
	Upload       bool
}

type Timing struct {
	Stage    string
	Duration time.Duration
}

type Report struct {
	RunID       string
	Started     time.Time
	Duration    time.Duration
	Decision    planner.SyncDecision
	Local       *snapshot.Snapshot
	Remote      *snapshot.Snapshot
	RemoteErr   error
	Archives    []*backup.Archive
	Uploads     []string
	Transferred bool
	Verified    bool
	DryRun      bool
	Timings     []Timing
}

func (r *Report) track(stage string, start time.Time) {
	r.Timings = append(r.Timings, Timing{Stage: stage, Duration: time.Since(start)})
}

// Run executes one sync. An unreachable remote is reported through
// Report.Decision, not as an error.
func Run(ctx context.Context, deps Deps, opts Options) (*Report, error) {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	report := &Report{RunID: uuid.NewString(), Started: now(), DryRun: opts.DryRun}
	defer func() { report.Duration = time.Since(report.Started) }()

	log := slog.With("run", report.RunID)

	if deps.Lock != nil {
		if err := deps.Lock.Acquire(report.RunID); err != nil {
			return report, err
		}
		defer func() {
			if err := deps.Lock.Release(); err != nil {
				log.Warn("lock release", "error", err)
			}
		}()
	}

	start := time.Now()
	local, err := deps.Local.Collect(ctx)
	if err != nil {
		return report, fmt.Errorf("local snapshot: %w", err)
	}
	report.Local = local
	report.track("snapshot-local", start)

	start = time.Now()
	remoteSnap, remoteErr := deps.Remote.Collect(ctx)
	if remoteErr != nil && !remote.IsUnreachable(remoteErr) {
		return report, fmt.Errorf("remote snapshot: %w", remoteErr)
	}
	report.Remote, report.RemoteErr = remoteSnap, remoteErr
	report.track("snapshot-remote", start)

	decision, err := decide(deps, opts, local, remoteSnap, remoteErr)
	if err != nil {
		return report, err
	}
	report.Decision = decision
	log.Info("decision", "direction", decision.Direction, "reason", decision.Reason,
		"local", local.Len(), "remote", remoteSnap.Len())

	switch {
	case decision.Reason == planner.ReasonRemoteUnreachable:
		log.Warn("remote unreachable, nothing to do", "error", remoteErr)
		return report, nil
	case decision.Reason == planner.ReasonConflict:
		return report, fmt.Errorf("%w: %d paths", ErrConflict, len(decision.Conflicts))
	case opts.DryRun:
		return report, nil
	case decision.IsNoop():
		if opts.BackupAlways {
			if err := archive(ctx, deps, opts, report); err != nil {
				return report, err
			}
		}
		return report, nil
	}

	if err := archive(ctx, deps, opts, report); err != nil {
		return report, err
	}

	start = time.Now()
	if err := deps.Transfer.Transfer(ctx, decision.Direction); err != nil {
		return report, err
	}
	report.Transferred = true
	report.track("transfer", start)

	start = time.Now()
	common, err := verify(ctx, deps, decision.Direction)
	if err != nil {
		return report, err
	}
	report.Verified = true
	report.track("verify", start)

	if err := record(deps, report, common, now()); err != nil {
		return report, err
	}
	log.Info("sync complete", "direction", decision.Direction, "files", len(common))
	return report, nil
}

func decide(deps Deps, opts Options, local, remoteSnap *snapshot.Snapshot, remoteErr error) (planner.SyncDecision, error) {
	if !opts.ThreeWay || deps.Journal == nil {
		return deps.Planner.ResolveDirection(local, remoteSnap, remoteErr), nil
	}
	base, err := deps.Journal.Base()
	if err != nil {
		return planner.SyncDecision{}, fmt.Errorf("merge base: %w", err)
	}
	return deps.Planner.ResolveThreeWay(local, remoteSnap, base, remoteErr), nil
}

func archive(ctx context.Context, deps Deps, opts Options, report *Report) error {
	start := time.Now()
	for _, a := range deps.Archivers {
		arc, err := a.Archive(ctx)
		if err != nil {
			return err
		}
		if arc != nil {
			report.Archives = append(report.Archives, arc)
		}
	}
	report.track("backup", start)

	if !opts.Upload || deps.Uploader == nil {
		return nil
	}
	start = time.Now()
	for _, arc := range report.Archives {
		if arc.Side != snapshot.Local {
			continue
		}
		url, err := deps.Uploader.Upload(ctx, arc.Path, deps.Uploader.Key(filepath.Base(arc.Path)))
		if err != nil {
			return &backup.ArchiveError{Side: arc.Side, Err: fmt.Errorf("upload: %w", err)}
		}
		report.Uploads = append(report.Uploads, url)
	}
	report.track("upload", start)
	return nil
}

// cacheResetter is implemented by collectors that reuse hashes between runs.
type cacheResetter interface {
	Reset()
}

// verify re-snapshots both sides and returns the records both now agree on.
func verify(ctx context.Context, deps Deps, dir planner.Direction) ([]*snapshot.FileRecord, error) {
	// rsync -a keeps source mtimes, so cached hashes cannot be trusted here
	if r, ok := deps.Local.(cacheResetter); ok {
		r.Reset()
	}
	local, err := deps.Local.Collect(ctx)
	if err != nil {
		return nil, &transfer.TransferError{Direction: dir, Err: fmt.Errorf("verify local snapshot: %w", err)}
	}
	remoteSnap, err := deps.Remote.Collect(ctx)
	if err != nil {
		return nil, &transfer.TransferError{Direction: dir, Err: fmt.Errorf("verify remote snapshot: %w", err)}
	}

	src, dst := local, remoteSnap
	if dir == planner.RemoteToLocal {
		src, dst = remoteSnap, local
	}
	if bad := transfer.Verify(src, dst); len(bad) > 0 {
		return nil, &transfer.TransferError{Direction: dir, Err: fmt.Errorf("verify: %d paths differ after transfer: %v", len(bad), head(bad, 10))}
	}

	var common []*snapshot.FileRecord
	for _, p := range local.Paths() {
		l, _ := local.Get(p)
		if r, ok := remoteSnap.Get(p); ok && r.Hash == l.Hash {
			common = append(common, l)
		}
	}
	return common, nil
}

func record(deps Deps, report *Report, common []*snapshot.FileRecord, at time.Time) error {
	label, err := state.DirectionLabel(report.Decision.Direction)
	if err != nil {
		return err
	}
	if deps.MarkerPath != "" {
		marker := state.Marker{LastSync: at.UTC(), Direction: label, RunID: report.RunID}
		if err := state.Write(deps.MarkerPath, marker); err != nil {
			return fmt.Errorf("record marker: %w", err)
		}
	}
	if deps.Journal == nil {
		return nil
	}
	if err := deps.Journal.Replace(common); err != nil {
		return fmt.Errorf("record merge base: %w", err)
	}
	if err := deps.Journal.RecordRun(journal.Run{RunID: report.RunID, Direction: label, Files: len(common)}); err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

func head(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
