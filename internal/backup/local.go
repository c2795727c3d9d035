package backup

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/orchnova/vmsync/internal/filter"
	"github.com/orchnova/vmsync/internal/snapshot"
	"github.com/orchnova/vmsync/internal/utils"
)

// LocalArchiver writes gzip'd tarballs of the local root. Backups honour the
// exclude rules but not the include list, so every file type is kept.
type LocalArchiver struct {
	Root      string
	Dir       string
	Prefix    string
	Retention int
	Filter    *filter.Filter

	now func() time.Time
}

func NewLocalArchiver(root, dir, prefix string, retention int, f *filter.Filter) *LocalArchiver {
	return &LocalArchiver{Root: root, Dir: dir, Prefix: prefix, Retention: retention, Filter: f, now: time.Now}
}

func (a *LocalArchiver) Archive(ctx context.Context) (*Archive, error) {
	arc, err := a.archive(ctx)
	if err != nil {
		return nil, &ArchiveError{Side: snapshot.Local, Err: err}
	}
	return arc, nil
}

func (a *LocalArchiver) archive(ctx context.Context) (*Archive, error) {
	if !utils.DirExists(a.Root) {
		return nil, fmt.Errorf("root %s: %w", a.Root, os.ErrNotExist)
	}
	if err := utils.EnsureDir(a.Dir); err != nil {
		return nil, fmt.Errorf("backup dir: %w", err)
	}

	created := a.now().UTC()
	path := uniquePath(a.Dir, ArchiveName(a.Prefix, created))

	tmp := path + ".partial"
	files, err := a.write(ctx, tmp)
	if err != nil {
		os.Remove(tmp)
		return nil, err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("finalize archive: %w", err)
	}
	// retention orders by mtime; pin it to the archive's logical time
	if err := os.Chtimes(path, created, created); err != nil {
		return nil, fmt.Errorf("archive mtime: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}

	pruned, err := PruneLocal(a.Dir, a.Prefix, a.Retention)
	if err != nil {
		return nil, err
	}

	slog.Info("backup", "side", snapshot.Local, "archive", path, "files", files, "pruned", len(pruned))
	return &Archive{
		Side:      snapshot.Local,
		Path:      path,
		Size:      info.Size(),
		Files:     files,
		CreatedAt: created,
		Pruned:    pruned,
	}, nil
}

func (a *LocalArchiver) write(ctx context.Context, dest string) (int, error) {
	out, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("create archive: %w", err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)
	files := 0

	err = filepath.WalkDir(a.Root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(a.Root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if a.Filter != nil && a.Filter.SkipDir(rel) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if a.Filter != nil && a.Filter.Excluded(rel) {
			return nil
		}
		if err := addFile(tw, path, rel); err != nil {
			return err
		}
		files++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk %s: %w", a.Root, err)
	}

	if err := tw.Close(); err != nil {
		return 0, fmt.Errorf("close tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		return 0, fmt.Errorf("close gzip: %w", err)
	}
	if err := out.Close(); err != nil {
		return 0, fmt.Errorf("close archive: %w", err)
	}
	return files, nil
}

func addFile(tw *tar.Writer, path, rel string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = rel
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

// uniquePath appends -N when two archives land in the same second.
func uniquePath(dir, name string) string {
	path := filepath.Join(dir, name)
	if !utils.FileExists(path) {
		return path
	}
	base := strings.TrimSuffix(name, archiveExt)
	for i := 1; ; i++ {
		path = filepath.Join(dir, base+"-"+strconv.Itoa(i)+archiveExt)
		if !utils.FileExists(path) {
			return path
		}
	}
}

// PruneLocal deletes all but the newest keep archives in dir whose names
// match prefix. Newest is by modification time, then by the stamp and -N
// suffix in the name.
func PruneLocal(dir, prefix string, keep int) ([]string, error) {
	keep = keepCount(keep)
	pattern := namePattern(prefix)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list backups: %w", err)
	}

	type candidate struct {
		name string
		key  archiveKey
	}
	var archives []candidate
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		key, ok := parseArchiveKey(pattern, e.Name(), info.ModTime())
		if !ok {
			continue
		}
		archives = append(archives, candidate{name: e.Name(), key: key})
	}
	if len(archives) <= keep {
		return nil, nil
	}

	slices.SortFunc(archives, func(x, y candidate) int {
		return newestFirst(x.key, y.key)
	})

	var pruned []string
	for _, c := range archives[keep:] {
		path := filepath.Join(dir, c.name)
		if err := os.Remove(path); err != nil {
			return pruned, fmt.Errorf("prune %s: %w", c.name, err)
		}
		pruned = append(pruned, path)
	}
	return pruned, nil
}

// List returns the local archives matching prefix, newest first.
func List(dir, prefix string) ([]*Archive, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list backups: %w", err)
	}
	pattern := namePattern(prefix)
	type listed struct {
		arc *Archive
		key archiveKey
	}
	var found []listed
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		key, ok := parseArchiveKey(pattern, e.Name(), info.ModTime())
		if !ok {
			continue
		}
		found = append(found, listed{
			arc: &Archive{
				Side:      snapshot.Local,
				Path:      filepath.Join(dir, e.Name()),
				Size:      info.Size(),
				CreatedAt: info.ModTime().UTC(),
			},
			key: key,
		})
	}
	slices.SortFunc(found, func(x, y listed) int {
		return newestFirst(x.key, y.key)
	})
	out := make([]*Archive, len(found))
	for i, l := range found {
		out[i] = l.arc
	}
	return out, nil
}
