package main

import (
	"fmt"

	"github.com/orchnova/vmsync/internal/proof"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newProofCmd())
}

func newProofCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proof",
		Short: "Ask the deployed service for a task receipt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.ValidateProof(); err != nil {
				return err
			}
			cmd.SilenceUsage = true

			task, _ := cmd.Flags().GetString("task")
			deployment, _ := cmd.Flags().GetString("deployment")
			if deployment == "" {
				deployment = cfg.Deploy.Service
			}

			c := proof.NewClient(nil, cfg.Proof.URL)
			receipt, err := c.Request(cmd.Context(), c.NewTask(task, cfg.Proof.Agent, deployment))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "cloud_sql.event_id   %s\n", receipt.Receipts.CloudSQL.EventID)
			fmt.Fprintf(out, "gcs.artifact_path    %s\n", receipt.Receipts.GCS.ArtifactPath)
			return nil
		},
	}
	cmd.Flags().StringP("task", "t", "", "task description to record")
	cmd.Flags().String("deployment", "", "deployment name (defaults to deploy.service)")
	cmd.MarkFlagRequired("task")
	return cmd
}
