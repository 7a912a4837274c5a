// Package cmd implements the duskq CLI.
package cmd

import (
	"github.com/spf13/cobra"

	"firestige.xyz/duskq/internal/daemon"
)

// daemonCmd runs the daemon in the foreground: it assembles every
// component (internal/daemon.New) and blocks in Run until a shutdown
// signal or request arrives. This is duskqd's entrypoint, reached here as
// a subcommand rather than a separate binary so the client and daemon
// share one build.
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the duskq daemon in the foreground",
	Long: `Run the duskq daemon process in the foreground.

The daemon loads its configuration, restores persisted task state, starts
the Scheduler Loop and Connection Handler (and the External Ingress
Bridge, if enabled), then blocks until SIGTERM/SIGINT or a daemon_shutdown
request. SIGHUP reloads the configuration without stopping the daemon.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := daemon.New(configFile)
		if err != nil {
			return err
		}
		if err := d.Start(); err != nil {
			return err
		}
		return d.Run()
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
