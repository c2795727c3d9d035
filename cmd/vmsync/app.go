package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/orchnova/vmsync/internal/backup"
	"github.com/orchnova/vmsync/internal/config"
	"github.com/orchnova/vmsync/internal/executor"
	"github.com/orchnova/vmsync/internal/filter"
	"github.com/orchnova/vmsync/internal/journal"
	"github.com/orchnova/vmsync/internal/lock"
	"github.com/orchnova/vmsync/internal/pipeline"
	"github.com/orchnova/vmsync/internal/planner"
	"github.com/orchnova/vmsync/internal/remote"
	"github.com/orchnova/vmsync/internal/snapshot"
	"github.com/orchnova/vmsync/internal/storage"
	"github.com/orchnova/vmsync/internal/transfer"
)

// app holds the collaborators built from one config.
type app struct {
	cfg     *config.Config
	runner  executor.Runner
	channel *remote.Channel
	filter  *filter.Filter
}

func newApp(cfg *config.Config, runner executor.Runner) *app {
	return &app{
		cfg:     cfg,
		runner:  runner,
		channel: remote.NewChannel(runner, cfg.Remote),
		filter:  filter.New(cfg.Filter),
	}
}

func (a *app) localArchiver() *backup.LocalArchiver {
	b := a.cfg.Backup
	return backup.NewLocalArchiver(a.cfg.LocalRoot, b.LocalDir, b.Prefix, b.Retention, a.filter)
}

func (a *app) remoteArchiver() *backup.RemoteArchiver {
	b := a.cfg.Backup
	return backup.NewRemoteArchiver(a.channel, a.cfg.Remote.Root, b.RemoteDir, b.Prefix, b.Retention, a.filter)
}

// uploader returns nil when no bucket is configured.
func (a *app) uploader(ctx context.Context) (*storage.Uploader, error) {
	if !a.cfg.Storage.Enabled() {
		return nil, nil
	}
	return storage.NewS3Uploader(ctx, a.cfg.Storage)
}

// deps wires the sync pipeline. The journal is always kept current so
// three-way mode has a base the first time it is switched on.
func (a *app) deps(ctx context.Context, j *journal.Journal, upload bool) (pipeline.Deps, error) {
	deps := pipeline.Deps{
		Lock:       lock.New(a.cfg.LockPath()),
		Local:      snapshot.NewLocalCollector(a.cfg.LocalRoot, a.filter),
		Remote:     snapshot.NewRemoteCollector(a.channel, a.cfg.Remote.Root, a.filter),
		Planner:    planner.New(a.filter.IsSource),
		Archivers:  []backup.Archiver{a.localArchiver(), a.remoteArchiver()},
		Transfer:   transfer.NewRsyncTransfer(a.runner, a.channel, a.cfg.LocalRoot, a.cfg.Remote.Root, a.filter),
		MarkerPath: a.cfg.MarkerPath(),
	}
	if j != nil {
		deps.Journal = j
	}
	if upload {
		up, err := a.uploader(ctx)
		if err != nil {
			return deps, fmt.Errorf("storage: %w", err)
		}
		if up == nil {
			slog.Warn("upload requested but storage.bucket is not set")
		} else {
			deps.Uploader = up
		}
	}
	return deps, nil
}
