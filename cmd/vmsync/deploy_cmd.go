package main

import (
	"fmt"
	"log/slog"

	"github.com/orchnova/vmsync/internal/deploy"
	"github.com/orchnova/vmsync/internal/executor"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newDeployCmd())
}

func newDeployCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy the local root to Cloud Run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.ValidateDeploy(); err != nil {
				return err
			}
			cmd.SilenceUsage = true
			showHeader()

			req, err := deploy.RequestFromConfig(cfg.Deploy, cfg.LocalRoot)
			if err != nil {
				return err
			}
			d := deploy.NewDeployer(executor.NewExecRunner(), nil)
			res, err := d.Deploy(cmd.Context(), req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", green("deployed"), res.URL)

			if skip, _ := cmd.Flags().GetBool("skip-health"); skip {
				return nil
			}
			health, err := d.Probe(cmd.Context(), res.URL)
			if err != nil {
				slog.Warn("health probe failed", "url", res.URL, "error", err)
				fmt.Fprintln(out, yellow("health   unknown"))
				return nil
			}
			status := health.Status
			if health.Healthy() {
				status = green(status)
			} else {
				status = yellow(status)
			}
			fmt.Fprintf(out, "health   %s\n", status)
			for name, s := range health.Services {
				fmt.Fprintf(out, "  %-14s %s\n", name, s)
			}
			return nil
		},
	}
	cmd.Flags().Bool("skip-health", false, "do not probe /health after deploying")
	return cmd
}
