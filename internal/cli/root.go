// Package cli implements the drover command line interface.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/drover-sh/drover/internal/buildinfo"
	"github.com/drover-sh/drover/internal/config"
	"github.com/drover-sh/drover/internal/model"
)

var (
	flagConfig  string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:           "drover",
	Short:         "Drive interactive shells over pty and ssh",
	Long:          "drover runs commands against interactive shells, local or remote,\nwaiting on prompts and collecting output as it goes.",
	Version:       buildinfo.String(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate("{{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default ~/.config/drover/drover.json)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "verbose logging")
}

func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "drover:", err)
		return err
	}
	return nil
}

func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if flagVerbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func loadConfig() (model.Config, error) {
	return config.Load(flagConfig)
}
