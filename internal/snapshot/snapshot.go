// Package snapshot enumerates the files under a sync root on either machine.
package snapshot

import (
	"context"
	"maps"
	"slices"

	"github.com/orchnova/vmsync/internal/remote"
)

type Side string

const (
	Local  Side = "local"
	Remote Side = "remote"
)

// UnreachableError is returned by remote collection when the VM cannot be
// reached. It is recoverable: the caller proceeds without a remote snapshot.
type UnreachableError = remote.UnreachableError

type FileRecord struct {
	RelPath    string `json:"path" db:"path"`
	Hash       string `json:"hash" db:"hash"`
	ModifiedAt int64  `json:"modified_at" db:"modified_at"`
	Size       int64  `json:"size" db:"size"`
}

type Snapshot struct {
	Side    Side
	Root    string
	Records map[string]*FileRecord
}

func New(side Side, root string) *Snapshot {
	return &Snapshot{Side: side, Root: root, Records: make(map[string]*FileRecord)}
}

func (s *Snapshot) Add(rec *FileRecord) {
	s.Records[rec.RelPath] = rec
}

func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Records)
}

// Get is nil-safe so callers can treat a missing snapshot as empty.
func (s *Snapshot) Get(relPath string) (*FileRecord, bool) {
	if s == nil {
		return nil, false
	}
	rec, ok := s.Records[relPath]
	return rec, ok
}

// Paths returns the record keys in lexical order.
func (s *Snapshot) Paths() []string {
	if s == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(s.Records))
}

// TotalSize sums the record sizes.
func (s *Snapshot) TotalSize() int64 {
	var total int64
	if s == nil {
		return 0
	}
	for _, rec := range s.Records {
		total += rec.Size
	}
	return total
}

// NewestModified returns the largest ModifiedAt among records accepted by
// keep, or 0 when none are.
func (s *Snapshot) NewestModified(keep func(relPath string) bool) int64 {
	var newest int64
	if s == nil {
		return 0
	}
	for path, rec := range s.Records {
		if keep != nil && !keep(path) {
			continue
		}
		if rec.ModifiedAt > newest {
			newest = rec.ModifiedAt
		}
	}
	return newest
}

// Collector produces a snapshot of one side.
type Collector interface {
	Collect(ctx context.Context) (*Snapshot, error)
}
