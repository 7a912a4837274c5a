package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/duskq/internal/wire"
)

var shutdownEmergency bool

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Ask the daemon to shut down",
	Run: func(cmd *cobra.Command, args []string) {
		kind := wire.ShutdownGraceful
		if shutdownEmergency {
			kind = wire.ShutdownEmergency
		}
		resp := dispatch(wire.Request{Kind: wire.KindDaemonShutdown, ShutdownKind: kind})
		fmt.Println(resp.Message)
	},
}

func init() {
	shutdownCmd.Flags().BoolVar(&shutdownEmergency, "emergency", false, "exit with a nonzero status instead of a graceful one")
	rootCmd.AddCommand(shutdownCmd)
}
