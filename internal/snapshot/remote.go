package snapshot

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/orchnova/vmsync/internal/filter"
	"github.com/orchnova/vmsync/internal/remote"
)

// listing prints one `md5<TAB>mtime<TAB>size<TAB>path` line per file. md5sum
// and stat -c are GNU coreutils, which the VM image ships.
const listingLoop = `for f; do printf '%s\t%s\t%s\t%s\n' "$(md5sum < "$f" | cut -d' ' -f1)" "$(stat -c %Y "$f")" "$(stat -c %s "$f")" "${f#./}"; done`

// RemoteCollector lists the VM's root over the remote channel and applies
// the same filter as the local side.
type RemoteCollector struct {
	channel *remote.Channel
	root    string
	filter  *filter.Filter
}

func NewRemoteCollector(ch *remote.Channel, root string, f *filter.Filter) *RemoteCollector {
	return &RemoteCollector{channel: ch, root: root, filter: f}
}

// Script is the shell command sent to the VM. A missing root lists nothing
// so the first push into a fresh VM works.
func (c *RemoteCollector) Script() string {
	root := remote.Quote(c.root)
	find := "find . " + c.filter.FindPrune(remote.Quote) + " -type f -exec sh -c " + remote.Quote(listingLoop) + " _ {} +"
	return fmt.Sprintf("[ -d %s ] || exit 0; cd %s && %s", root, root, find)
}

func (c *RemoteCollector) Collect(ctx context.Context) (*Snapshot, error) {
	res, err := c.channel.Exec(ctx, c.Script())
	if err != nil {
		if remote.IsUnreachable(err) {
			return nil, err
		}
		return nil, fmt.Errorf("remote snapshot %s: %w", c.root, err)
	}

	snap, skipped := ParseListing(res.Stdout, c.root, c.filter)
	if skipped > 0 {
		slog.Warn("remote snapshot skipped malformed lines", "count", skipped)
	}
	slog.Debug("remote snapshot", "root", c.root, "files", snap.Len())
	return snap, nil
}

// ParseListing turns the listing output into a remote snapshot, dropping
// paths the filter rejects. It returns the number of unparseable lines.
func ParseListing(out, root string, f *filter.Filter) (*Snapshot, int) {
	snap := New(Remote, root)
	skipped := 0

	scanner := bufio.NewScanner(strings.NewReader(out))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		rec, ok := parseLine(line)
		if !ok {
			skipped++
			continue
		}
		if !f.Included(rec.RelPath) {
			continue
		}
		snap.Add(rec)
	}
	return snap, skipped
}

func parseLine(line string) (*FileRecord, bool) {
	parts := strings.SplitN(line, "\t", 4)
	if len(parts) != 4 {
		return nil, false
	}
	hash, mtimeStr, sizeStr, rel := parts[0], parts[1], parts[2], parts[3]
	if len(hash) != 32 || rel == "" {
		return nil, false
	}
	mtime, err := strconv.ParseInt(mtimeStr, 10, 64)
	if err != nil {
		return nil, false
	}
	size, err := strconv.ParseInt(sizeStr, 10, 64)
	if err != nil {
		return nil, false
	}
	return &FileRecord{RelPath: strings.TrimPrefix(rel, "./"), Hash: hash, ModifiedAt: mtime, Size: size}, true
}
