package main

import (
	"github.com/orchnova/vmsync/internal/executor"
	"github.com/orchnova/vmsync/internal/journal"
	"github.com/orchnova/vmsync/internal/pipeline"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newSyncCmd())
	rootCmd.AddCommand(newPlanCmd())
}

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Back up both sides, then copy the newer tree over the older one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			threeWay, _ := cmd.Flags().GetBool("three-way")
			upload, _ := cmd.Flags().GetBool("upload")
			return runSync(cmd, pipeline.Options{
				DryRun:       dryRun,
				ThreeWay:     threeWay || cfg.Sync.ThreeWay,
				BackupAlways: cfg.Backup.Always,
				Upload:       upload || cfg.Storage.UploadBackups,
			})
		},
	}
	cmd.Flags().BoolP("dry-run", "n", false, "decide and report without backing up or copying")
	cmd.Flags().Bool("three-way", false, "detect edits on both sides against the last synced state")
	cmd.Flags().Bool("upload", false, "upload the local backup archive to storage")
	return cmd
}

func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what sync would do",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			threeWay, _ := cmd.Flags().GetBool("three-way")
			return runSync(cmd, pipeline.Options{DryRun: true, ThreeWay: threeWay || cfg.Sync.ThreeWay})
		},
	}
	cmd.Flags().Bool("three-way", false, "detect edits on both sides against the last synced state")
	return cmd
}

func runSync(cmd *cobra.Command, opts pipeline.Options) error {
	if err := cfg.ValidateSync(); err != nil {
		return err
	}
	cmd.SilenceUsage = true
	showHeader()

	j, err := journal.Open(cfg.JournalPath())
	if err != nil {
		return err
	}
	defer j.Close()

	a := newApp(cfg, executor.NewExecRunner())
	deps, err := a.deps(cmd.Context(), j, opts.Upload)
	if err != nil {
		return err
	}

	report, err := pipeline.Run(cmd.Context(), deps, opts)
	if report != nil {
		printReport(cmd.OutOrStdout(), report)
	}
	return err
}
