package main

import (
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/orchnova/vmsync/internal/backup"
	"github.com/orchnova/vmsync/internal/executor"
	"github.com/orchnova/vmsync/internal/snapshot"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newBackupCmd())
}

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive both sync roots and prune old archives",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.ValidateSync(); err != nil {
				return err
			}
			cmd.SilenceUsage = true

			localOnly, _ := cmd.Flags().GetBool("local-only")
			upload, _ := cmd.Flags().GetBool("upload")
			list, _ := cmd.Flags().GetBool("list")
			out := cmd.OutOrStdout()

			if list {
				archives, err := backup.List(cfg.Backup.LocalDir, cfg.Backup.Prefix)
				if err != nil {
					return err
				}
				for _, a := range archives {
					fmt.Fprintf(out, "%s  %8s  %s\n", a.CreatedAt.Local().Format("2006-01-02 15:04:05"), humanize.IBytes(uint64(a.Size)), a.Path)
				}
				return nil
			}

			a := newApp(cfg, executor.NewExecRunner())
			archivers := []backup.Archiver{a.localArchiver()}
			if !localOnly {
				archivers = append(archivers, a.remoteArchiver())
			}

			var local *backup.Archive
			for _, archiver := range archivers {
				arc, err := archiver.Archive(cmd.Context())
				if err != nil {
					return err
				}
				if arc == nil {
					fmt.Fprintln(out, yellow("vm root missing, nothing to archive"))
					continue
				}
				printArchive(out, arc)
				if arc.Side == snapshot.Local {
					local = arc
				}
			}

			if !(upload || cfg.Storage.UploadBackups) || local == nil {
				return nil
			}
			up, err := a.uploader(cmd.Context())
			if err != nil {
				return err
			}
			if up == nil {
				return fmt.Errorf("upload requested but storage.bucket is not set")
			}
			url, err := up.Upload(cmd.Context(), local.Path, up.Key(filepath.Base(local.Path)))
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "uploaded   %s\n", url)
			return nil
		},
	}
	cmd.Flags().Bool("local-only", false, "archive only the local root")
	cmd.Flags().Bool("upload", false, "upload the local archive to storage")
	cmd.Flags().Bool("list", false, "list local archives instead of creating one")
	return cmd
}
