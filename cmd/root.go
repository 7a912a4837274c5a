// Package cmd implements the duskq CLI using the cobra framework.
package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"firestige.xyz/duskq/internal/daemon"
)

// cliLog is the operator-facing logger for the client binary, distinct
// from the daemon's structured slog output.
var cliLog = logrus.New()

// Global flags.
var configFile string

// rootCmd is the base command when duskq is invoked without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "duskq",
	Short: "duskq - a single-host task queue daemon and client",
	Long: `duskq lets you enqueue arbitrary shell commands and have them executed
asynchronously, in parallel, across named task groups with configurable
concurrency.

Run "duskq daemon" to start the daemon in the foreground; every other
subcommand is a client that talks to a running daemon over its socket.`,
	Version: daemon.Version,
}

// Execute runs the root command. Called once from main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cliLog.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/duskq/config.yml",
		"config file path")
}

// exitWithError logs msg (and err, if present) and exits 1: 0 is success,
// 1 is any failure response or local error.
func exitWithError(msg string, err error) {
	if err != nil {
		cliLog.WithError(err).Error(msg)
	} else {
		cliLog.Error(msg)
	}
	os.Exit(1)
}
