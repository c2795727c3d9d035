package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/orchnova/vmsync/internal/config"
	"github.com/orchnova/vmsync/internal/logging"
	"github.com/orchnova/vmsync/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	red    = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green  = color.New(color.FgHiGreen).SprintFunc()
	yellow = color.New(color.FgHiYellow).SprintFunc()
	cyan   = color.New(color.FgHiCyan).SprintFunc()
)

var (
	v        = viper.New()
	cfg      *config.Config
	closeLog = func() error { return nil }
)

var rootCmd = &cobra.Command{
	Use:           "vmsync",
	Short:         "Keep a project tree in step between this machine and a VM",
	Version:       version.Detailed(),
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		return setup(cmd)
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeLog()
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.SortFlags = false
	pf.StringP("config", "c", config.DefaultConfigPath, "vmsync config file")
	pf.StringP("local-root", "l", "", "local sync root")
	pf.String("remote-host", "", "VM host name or address")
	pf.String("remote-root", "", "sync root on the VM")
	pf.BoolP("verbose", "v", false, "debug logging")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", red("error:"), err)
		closeLog()
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command) error {
	if err := loadConfig(cmd, v); err != nil {
		return err
	}
	loaded, err := config.Load(v)
	if err != nil {
		return err
	}
	cfg = loaded

	level := slog.LevelInfo
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	closer, err := logging.Setup(logging.Options{LogFile: cfg.LogPath(), Level: level})
	if err != nil {
		return err
	}
	closeLog = closer
	slog.Debug("config", "path", cfg.Path, "local_root", cfg.LocalRoot, "remote", cfg.Remote.Target()+":"+cfg.Remote.Root)
	return nil
}

func loadConfig(cmd *cobra.Command, v *viper.Viper) error {
	config.SetDefaults(v)

	configFilePath, _ := cmd.Flags().GetString("config")
	v.SetConfigFile(configFilePath)
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		var notFound viper.ConfigFileNotFoundError
		if !enoent && !errors.As(err, &notFound) {
			return fmt.Errorf("config read '%s': %w", configFilePath, err)
		}
	}

	v.BindPFlag("local_root", cmd.Flags().Lookup("local-root"))
	v.BindPFlag("remote.host", cmd.Flags().Lookup("remote-host"))
	v.BindPFlag("remote.root", cmd.Flags().Lookup("remote-root"))

	v.SetEnvPrefix("VMSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return nil
}

func showHeader() {
	color.New(color.FgHiCyan, color.Bold).Println("vmsync " + version.Short())
}
