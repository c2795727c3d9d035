package snapshot

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/orchnova/vmsync/internal/filter"
	"github.com/orchnova/vmsync/internal/utils"
)

// LocalCollector walks a directory on this machine. Hashes from the previous
// Collect are reused when a file's size and mtime are unchanged.
type LocalCollector struct {
	root   string
	filter *filter.Filter
	cache  map[string]*FileRecord
}

func NewLocalCollector(root string, f *filter.Filter) *LocalCollector {
	return &LocalCollector{root: root, filter: f, cache: make(map[string]*FileRecord)}
}

// Reset drops the cached hashes so the next Collect reads every file. A
// transfer can replace content while keeping size and mtime.
func (c *LocalCollector) Reset() {
	c.cache = make(map[string]*FileRecord)
}

func (c *LocalCollector) Collect(ctx context.Context) (*Snapshot, error) {
	snap := New(Local, c.root)

	err := filepath.WalkDir(c.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return fmt.Errorf("walk: %w", walkErr)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(c.root, path)
		if err != nil {
			return fmt.Errorf("walk rel path: %w", err)
		}
		rel = utils.NormPath(rel)

		if d.IsDir() {
			if rel != "." && c.filter.SkipDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() || !c.filter.Included(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			slog.Warn("snapshot stat", "path", path, "error", err)
			return nil
		}

		rec := &FileRecord{
			RelPath:    rel,
			ModifiedAt: info.ModTime().Unix(),
			Size:       info.Size(),
		}

		if prev, ok := c.cache[rel]; ok && prev.Size == rec.Size && prev.ModifiedAt == rec.ModifiedAt {
			rec.Hash = prev.Hash
		} else {
			hash, err := utils.FileHash(path)
			if err != nil {
				slog.Warn("snapshot hash", "path", path, "error", err)
				return nil
			}
			rec.Hash = hash
		}

		snap.Add(rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("local snapshot %s: %w", c.root, err)
	}

	c.cache = snap.Records
	slog.Debug("local snapshot", "root", c.root, "files", snap.Len())
	return snap, nil
}
