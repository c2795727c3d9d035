// Package lock keeps two vmsync runs from touching the same roots at once.
package lock

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/orchnova/vmsync/internal/utils"
)

var ErrLocked = errors.New("another vmsync run holds the lock")

// Owner describes the process holding the lock. It is written beside the
// lock file so a blocked run can report who is in the way.
type Owner struct {
	PID       int
	Host      string
	StartedAt time.Time
	RunID     string
}

func (o Owner) String() string {
	return fmt.Sprintf("pid %d on %s since %s (run %s)", o.PID, o.Host, o.StartedAt.Format(time.RFC3339), o.RunID)
}

type Lock struct {
	flock *flock.Flock
	path  string
}

func New(path string) *Lock {
	return &Lock{flock: flock.New(path), path: path}
}

func (l *Lock) Path() string {
	return l.path
}

func (l *Lock) ownerPath() string {
	return l.path + ".owner"
}

// Acquire takes the lock without blocking and records runID as the owner.
func (l *Lock) Acquire(runID string) error {
	if err := utils.EnsureParent(l.path); err != nil {
		return fmt.Errorf("lock dir: %w", err)
	}

	locked, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("lock %s: %w", l.path, err)
	}
	if !locked {
		if owner, err := ReadOwner(l.ownerPath()); err == nil {
			return fmt.Errorf("%w: %s", ErrLocked, owner)
		}
		return ErrLocked
	}

	host, _ := os.Hostname()
	owner := Owner{PID: os.Getpid(), Host: host, StartedAt: time.Now().UTC(), RunID: runID}
	if err := writeOwner(l.ownerPath(), owner); err != nil {
		l.flock.Unlock()
		return fmt.Errorf("lock owner: %w", err)
	}
	slog.Debug("lock acquired", "path", l.path, "run", runID)
	return nil
}

// Release drops the lock and removes the owner file. Releasing an unheld
// lock is a no-op.
func (l *Lock) Release() error {
	if !l.flock.Locked() {
		return nil
	}
	if err := os.Remove(l.ownerPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("lock owner remove", "error", err)
	}
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("unlock %s: %w", l.path, err)
	}
	slog.Debug("lock released", "path", l.path)
	return nil
}

// Holder reports the current owner without taking the lock. ok is false
// when nobody holds it.
func (l *Lock) Holder() (owner Owner, ok bool) {
	if !utils.FileExists(l.path) {
		return Owner{}, false
	}
	probe := flock.New(l.path)
	locked, err := probe.TryLock()
	if err != nil {
		return Owner{}, false
	}
	if locked {
		probe.Unlock()
		return Owner{}, false
	}
	owner, err = ReadOwner(l.ownerPath())
	if err != nil {
		return Owner{}, true
	}
	return owner, true
}

func writeOwner(path string, o Owner) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "pid=%d\n", o.PID)
	fmt.Fprintf(&sb, "host=%s\n", o.Host)
	fmt.Fprintf(&sb, "started_at=%d\n", o.StartedAt.Unix())
	fmt.Fprintf(&sb, "run_id=%s\n", o.RunID)
	return os.WriteFile(path, []byte(sb.String()), 0o644)
}

// ReadOwner parses an owner file.
func ReadOwner(path string) (Owner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Owner{}, err
	}
	var o Owner
	for _, line := range strings.Split(string(data), "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			o.PID, _ = strconv.Atoi(value)
		case "host":
			o.Host = value
		case "started_at":
			if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
				o.StartedAt = time.Unix(secs, 0).UTC()
			}
		case "run_id":
			o.RunID = value
		}
	}
	return o, nil
}
