package backup

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/orchnova/vmsync/internal/filter"
	"github.com/orchnova/vmsync/internal/remote"
	"github.com/orchnova/vmsync/internal/snapshot"
)

// RemoteArchiver runs tar on the VM and prunes old archives there. It only
// ever deletes files in Dir whose names match Prefix.
type RemoteArchiver struct {
	Channel   *remote.Channel
	Root      string
	Dir       string
	Prefix    string
	Retention int
	Filter    *filter.Filter

	now func() time.Time
}

func NewRemoteArchiver(ch *remote.Channel, root, dir, prefix string, retention int, f *filter.Filter) *RemoteArchiver {
	return &RemoteArchiver{Channel: ch, Root: root, Dir: dir, Prefix: prefix, Retention: retention, Filter: f, now: time.Now}
}

// Script archives Root into Dir and prints `size<TAB>path<TAB>pruned...`.
// A name already taken in the same second gets a -N suffix. A missing root
// prints nothing.
func (a *RemoteArchiver) Script(name string) string {
	root := remote.Quote(a.Root)
	dirPath := strings.TrimRight(a.Dir, "/")
	dir := remote.Quote(dirPath)
	prefix := remote.Quote(a.Prefix)
	base := strings.TrimSuffix(name, archiveExt)

	var excludes []string
	if a.Filter != nil {
		for _, ex := range a.Filter.TarExcludes() {
			excludes = append(excludes, remote.Quote(ex))
		}
	}
	tarCmd := `tar czf "$dest"`
	if len(excludes) > 0 {
		tarCmd += " " + strings.Join(excludes, " ")
	}
	tarCmd += " -C " + root + " ."

	unique := fmt.Sprintf(
		`dest=%s; n=0; while [ -e "$dest" ]; do n=$((n+1)); dest=%s-$n%s; done`,
		remote.Quote(dirPath+"/"+name), remote.Quote(dirPath+"/"+base), archiveExt,
	)

	// one line per archive: mtime stamp seq name, newest first
	listing := fmt.Sprintf(
		`for f in %s/%s-*%s; do [ -f "$f" ] || continue; b=${f##*/}; s=${b#%s-}; s=${s%%%s}; n=0; `+
			`case $s in *-*-*) n=${s##*-}; s=${s%%-*};; esac; `+
			`printf '%%s %%s %%s %%s\n' "$(stat -c %%Y -- "$f")" "$s" "$n" "$b"; done | `+
			`grep -E '^[0-9]+ [0-9]{8}-[0-9]{6} [0-9]+ ' | sort -k1,1nr -k2,2r -k3,3nr`,
		dir, prefix, archiveExt, prefix, archiveExt,
	)
	prune := fmt.Sprintf(
		`old=$(%s | tail -n +%d | cut -d' ' -f4); for b in $old; do rm -f -- %s/"$b"; done`,
		listing, keepCount(a.Retention)+1, dir,
	)

	return fmt.Sprintf(
		`set -e; [ -d %s ] || exit 0; mkdir -p %s; %s; %s; %s; printf '%%s\t%%s\t%%s\n' "$(stat -c %%s -- "$dest")" "$dest" "$(echo $old)"`,
		root, dir, unique, tarCmd, prune,
	)
}

func (a *RemoteArchiver) Archive(ctx context.Context) (*Archive, error) {
	created := a.now().UTC()
	name := ArchiveName(a.Prefix, created)

	res, err := a.Channel.Exec(ctx, a.Script(name))
	if err != nil {
		return nil, &ArchiveError{Side: snapshot.Remote, Err: err}
	}

	out := strings.TrimSpace(res.Stdout)
	if out == "" {
		slog.Info("backup skipped, remote root missing", "root", a.Root)
		return nil, nil
	}

	fields := strings.SplitN(out, "\t", 3)
	if len(fields) < 2 {
		return nil, &ArchiveError{Side: snapshot.Remote, Err: fmt.Errorf("unexpected archive output %q", out)}
	}
	size, err := strconv.ParseInt(strings.TrimSpace(fields[0]), 10, 64)
	if err != nil {
		return nil, &ArchiveError{Side: snapshot.Remote, Err: fmt.Errorf("parse archive size %q: %w", fields[0], err)}
	}
	path := strings.TrimSpace(fields[1])

	var pruned []string
	if len(fields) == 3 {
		for _, p := range strings.Fields(fields[2]) {
			pruned = append(pruned, strings.TrimRight(a.Dir, "/")+"/"+p)
		}
	}

	slog.Info("backup", "side", snapshot.Remote, "archive", path, "pruned", len(pruned))
	return &Archive{
		Side:      snapshot.Remote,
		Path:      path,
		Size:      size,
		CreatedAt: created,
		Pruned:    pruned,
	}, nil
}
