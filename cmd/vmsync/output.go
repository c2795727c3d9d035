package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/orchnova/vmsync/internal/backup"
	"github.com/orchnova/vmsync/internal/pipeline"
	"github.com/orchnova/vmsync/internal/planner"
)

const maxListed = 5

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
)

func describeDirection(d planner.Direction) string {
	switch d {
	case planner.LocalToRemote:
		return "laptop → vm"
	case planner.RemoteToLocal:
		return "vm → laptop"
	}
	return "none"
}

func describeReason(r planner.Reason) string {
	switch r {
	case planner.ReasonRemoteUnreachable:
		return "VM unreachable, skipping"
	case planner.ReasonIdentical:
		return "already in sync"
	case planner.ReasonLocalNewer:
		return "local has the newest source file"
	case planner.ReasonRemoteNewer:
		return "VM has the newest source file"
	case planner.ReasonTie:
		return "newest files tie, local wins"
	case planner.ReasonConflict:
		return "both sides changed, or a file was deleted on one side, since the last sync"
	}
	return string(r)
}

func age(unix int64) string {
	if unix == 0 {
		return "-"
	}
	return humanize.Time(time.Unix(unix, 0))
}

func sample(paths []string) string {
	if len(paths) == 0 {
		return dimStyle.Render("-")
	}
	shown := paths
	if len(shown) > maxListed {
		shown = shown[:maxListed]
	}
	out := strings.Join(shown, "\n")
	if extra := len(paths) - len(shown); extra > 0 {
		out += "\n" + dimStyle.Render(fmt.Sprintf("… %d more", extra))
	}
	return out
}

// planTable renders the diff as a bordered table.
func planTable(d *planner.DiffResult) string {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		Headers("", "files", "paths").
		Row("only local", fmt.Sprint(d.OnlyInLocal.Cardinality()), sample(d.SortedOnlyInLocal())).
		Row("only vm", fmt.Sprint(d.OnlyInRemote.Cardinality()), sample(d.SortedOnlyInRemote())).
		Row("changed", fmt.Sprint(d.Changed.Cardinality()), sample(d.SortedChanged())).
		String()
}

func printReport(w io.Writer, r *pipeline.Report) {
	d := r.Decision
	fmt.Fprintf(w, "run        %s\n", dimStyle.Render(r.RunID))
	if r.Local != nil {
		fmt.Fprintf(w, "local      %d files, %s, newest %s\n", r.Local.Len(), humanize.IBytes(uint64(r.Local.TotalSize())), age(d.LocalNewest))
	}
	if r.Remote != nil {
		fmt.Fprintf(w, "vm         %d files, %s, newest %s\n", r.Remote.Len(), humanize.IBytes(uint64(r.Remote.TotalSize())), age(d.RemoteNewest))
	}
	if d.Direction == "" {
		return
	}

	direction := describeDirection(d.Direction)
	switch d.Reason {
	case planner.ReasonRemoteUnreachable, planner.ReasonConflict:
		direction = yellow(direction)
	case planner.ReasonIdentical:
		direction = green(direction)
	default:
		direction = cyan(direction)
	}
	fmt.Fprintf(w, "direction  %s (%s)\n", direction, describeReason(d.Reason))

	if d.Diff != nil && !d.Diff.IsEmpty() {
		fmt.Fprintln(w, planTable(d.Diff))
	}
	if len(d.Conflicts) > 0 {
		fmt.Fprintln(w, red("conflicts:"))
		for _, p := range d.Conflicts {
			fmt.Fprintf(w, "  %s\n", p)
		}
	}
	for _, a := range r.Archives {
		printArchive(w, a)
	}
	for _, u := range r.Uploads {
		fmt.Fprintf(w, "uploaded   %s\n", u)
	}

	switch {
	case r.DryRun:
		fmt.Fprintln(w, dimStyle.Render("dry run: nothing archived or copied"))
	case r.Transferred && r.Verified:
		fmt.Fprintf(w, "%s in %s\n", green("synced"), r.Duration.Round(time.Millisecond))
	}
}

func printArchive(w io.Writer, a *backup.Archive) {
	fmt.Fprintf(w, "backup     %-6s %s (%s)", a.Side, a.Path, humanize.IBytes(uint64(a.Size)))
	if len(a.Pruned) > 0 {
		fmt.Fprintf(w, ", pruned %d", len(a.Pruned))
	}
	fmt.Fprintln(w)
}
