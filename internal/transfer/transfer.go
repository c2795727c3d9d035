// Package transfer copies one whole root onto the other with rsync.
// Overwritten files are moved into a timestamped directory on the
// destination; nothing is ever deleted.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/orchnova/vmsync/internal/executor"
	"github.com/orchnova/vmsync/internal/filter"
	"github.com/orchnova/vmsync/internal/planner"
	"github.com/orchnova/vmsync/internal/remote"
	"github.com/orchnova/vmsync/internal/snapshot"
)

var ErrNoopTransfer = errors.New("transfer called with noop direction")

// TransferError is fatal. Pre-transfer archives are left in place.
type TransferError struct {
	Direction planner.Direction
	Err       error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer %s failed: %v", e.Direction, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

type Transferer interface {
	Transfer(ctx context.Context, dir planner.Direction) error
}

type RsyncTransfer struct {
	runner     executor.Runner
	channel    *remote.Channel
	localRoot  string
	remoteRoot string
	filter     *filter.Filter

	now func() time.Time
}

func NewRsyncTransfer(runner executor.Runner, ch *remote.Channel, localRoot, remoteRoot string, f *filter.Filter) *RsyncTransfer {
	return &RsyncTransfer{
		runner:     runner,
		channel:    ch,
		localRoot:  localRoot,
		remoteRoot: remoteRoot,
		filter:     f,
		now:        time.Now,
	}
}

func withSlash(p string) string {
	return strings.TrimRight(p, "/") + "/"
}

// Args builds the rsync argument list for dir. Excluded paths never leave
// either side.
func (t *RsyncTransfer) Args(dir planner.Direction) ([]string, error) {
	remoteSpec := t.channel.Target() + ":" + withSlash(t.remoteRoot)
	localSpec := withSlash(t.localRoot)

	var src, dst, dstRoot string
	switch dir {
	case planner.LocalToRemote:
		src, dst, dstRoot = localSpec, remoteSpec, t.remoteRoot
	case planner.RemoteToLocal:
		src, dst, dstRoot = remoteSpec, localSpec, t.localRoot
	default:
		return nil, ErrNoopTransfer
	}

	stamp := t.now().UTC().Format("20060102-150405")
	args := []string{
		"-a",
		"--checksum",
		"--itemize-changes",
		"--backup",
		"--backup-dir=" + strings.TrimRight(dstRoot, "/") + "/" + filter.BackupDir + "/" + stamp,
	}
	if t.filter != nil {
		args = append(args, t.filter.RsyncExcludes()...)
	}
	args = append(args, "-e", t.channel.RsyncShell(), src, dst)
	return args, nil
}

func (t *RsyncTransfer) Transfer(ctx context.Context, dir planner.Direction) error {
	args, err := t.Args(dir)
	if err != nil {
		return &TransferError{Direction: dir, Err: err}
	}

	slog.Info("transfer", "direction", dir, "local", t.localRoot, "remote", t.channel.Target()+":"+t.remoteRoot)
	res, err := t.runner.Run(ctx, executor.Command{Name: "rsync", Args: args})
	if err != nil {
		return &TransferError{Direction: dir, Err: err}
	}

	changed := 0
	for _, line := range strings.Split(res.Stdout, "\n") {
		if len(line) > 1 && (line[0] == '<' || line[0] == '>') && line[1] == 'f' {
			changed++
		}
	}
	slog.Info("transfer complete", "direction", dir, "files", changed, "took", res.Duration)
	return nil
}

// Verify lists source paths that are missing from dst or differ in content.
func Verify(src, dst *snapshot.Snapshot) []string {
	var bad []string
	for _, p := range src.Paths() {
		rec, _ := src.Get(p)
		other, ok := dst.Get(p)
		if !ok || other.Hash != rec.Hash {
			bad = append(bad, p)
		}
	}
	return bad
}
