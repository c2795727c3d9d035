// Package backup archives a sync root before anything overwrites it and
// keeps the newest few archives per side.
package backup

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/orchnova/vmsync/internal/snapshot"
)

const (
	archiveExt  = ".tar.gz"
	stampLayout = "20060102-150405"
	DefaultKeep = 7
)

// ArchiveError aborts a run before any transfer.
type ArchiveError struct {
	Side snapshot.Side
	Err  error
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("%s backup failed: %v", e.Side, e.Err)
}

func (e *ArchiveError) Unwrap() error {
	return e.Err
}

type Archive struct {
	Side      snapshot.Side
	Path      string
	Size      int64
	Files     int
	CreatedAt time.Time
	// Pruned lists archives removed by retention after this one was written.
	Pruned []string
}

type Archiver interface {
	Archive(ctx context.Context) (*Archive, error)
}

// ArchiveName is `<prefix>-YYYYMMDD-HHMMSS.tar.gz` in UTC.
func ArchiveName(prefix string, t time.Time) string {
	return prefix + "-" + t.UTC().Format(stampLayout) + archiveExt
}

func namePattern(prefix string) *regexp.Regexp {
	return regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) + `-(\d{8}-\d{6})(?:-(\d+))?` + regexp.QuoteMeta(archiveExt) + `$`)
}

// archiveKey orders archives of one prefix. Archives written in the same
// second share a stamp and are told apart by their -N suffix; the unsuffixed
// one was written first.
type archiveKey struct {
	modTime time.Time
	stamp   string
	seq     int
}

func parseArchiveKey(pattern *regexp.Regexp, name string, modTime time.Time) (archiveKey, bool) {
	m := pattern.FindStringSubmatch(name)
	if m == nil {
		return archiveKey{}, false
	}
	key := archiveKey{modTime: modTime, stamp: m[1]}
	if m[2] != "" {
		seq, err := strconv.Atoi(m[2])
		if err != nil {
			return archiveKey{}, false
		}
		key.seq = seq
	}
	return key, true
}

// newestFirst sorts by mtime, then stamp, then suffix, all descending.
func newestFirst(x, y archiveKey) int {
	if c := y.modTime.Compare(x.modTime); c != 0 {
		return c
	}
	if y.stamp != x.stamp {
		if y.stamp > x.stamp {
			return 1
		}
		return -1
	}
	return y.seq - x.seq
}

func keepCount(n int) int {
	if n <= 0 {
		return DefaultKeep
	}
	return n
}
