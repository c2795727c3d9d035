package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/orchnova/vmsync/internal/backup"
	"github.com/orchnova/vmsync/internal/config"
	"github.com/orchnova/vmsync/internal/executor"
	"github.com/orchnova/vmsync/internal/gitstatus"
	"github.com/orchnova/vmsync/internal/journal"
	"github.com/orchnova/vmsync/internal/lock"
	"github.com/orchnova/vmsync/internal/remote"
	"github.com/orchnova/vmsync/internal/state"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newStatusCmd())
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the last sync, lock holder, VM reachability and git state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.ValidateSync(); err != nil {
				return err
			}
			cmd.SilenceUsage = true
			out := cmd.OutOrStdout()

			printMarker(out, cfg)
			printLock(out, cfg)
			printHistory(out, cfg)

			ch := remote.NewChannel(executor.NewExecRunner(), cfg.Remote)
			if err := ch.Ping(cmd.Context()); err != nil {
				fmt.Fprintf(out, "vm           %s %s\n", red("unreachable"), dimStyle.Render(err.Error()))
			} else {
				fmt.Fprintf(out, "vm           %s %s\n", green("reachable"), ch.Target())
			}

			// git state is advisory; failures never fail the command
			if st, err := gitstatus.Inspect(cfg.LocalRoot); err != nil {
				slog.Debug("git status", "root", cfg.LocalRoot, "error", err)
			} else {
				fmt.Fprintf(out, "git          %s\n", st.Summary())
			}
			return nil
		},
	}
}

func printMarker(out io.Writer, cfg *config.Config) {
	m, err := state.Read(cfg.MarkerPath())
	switch {
	case errors.Is(err, state.ErrNoMarker):
		fmt.Fprintf(out, "last sync    %s\n", dimStyle.Render("never"))
	case err != nil:
		fmt.Fprintf(out, "last sync    %s\n", yellow(err.Error()))
	default:
		fmt.Fprintf(out, "last sync    %s (%s) %s\n", humanize.Time(m.LastSync), m.Direction, dimStyle.Render(m.RunID))
	}

	archives, err := backup.List(cfg.Backup.LocalDir, cfg.Backup.Prefix)
	if err == nil && len(archives) > 0 {
		fmt.Fprintf(out, "backups      %d local, newest %s\n", len(archives), humanize.Time(archives[0].CreatedAt))
	}
}

func printLock(out io.Writer, cfg *config.Config) {
	owner, held := lock.New(cfg.LockPath()).Holder()
	if !held {
		fmt.Fprintf(out, "lock         %s\n", dimStyle.Render("free"))
		return
	}
	fmt.Fprintf(out, "lock         %s %s\n", yellow("held"), owner)
}

func printHistory(out io.Writer, cfg *config.Config) {
	j, err := journal.Open(cfg.JournalPath())
	if err != nil {
		slog.Debug("journal open", "error", err)
		return
	}
	defer j.Close()

	n, _ := j.Count()
	fmt.Fprintf(out, "merge base   %d files\n", n)
	runs, err := j.Runs(3)
	if err != nil {
		return
	}
	for _, r := range runs {
		fmt.Fprintf(out, "  %s  %-13s %4d files  %s\n", humanize.Time(time.Unix(r.FinishedAt, 0)), r.Direction, r.Files, dimStyle.Render(r.RunID))
	}
}
