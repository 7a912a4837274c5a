package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/duskq/internal/wire"
)

var (
	pauseGroup string
	pauseAll   bool
	pauseWait  bool
)

var pauseCmd = &cobra.Command{
	Use:   "pause [id]...",
	Short: "Pause groups or stop running tasks",
	Long:  `Pause the selected groups (stops spawning new tasks) and STOP-signal their currently running tasks.`,
	Run: func(cmd *cobra.Command, args []string) {
		sel := parseSelection(args, pauseGroup, pauseAll)
		resp := dispatch(wire.Request{Kind: wire.KindPause, Selection: sel, Wait: pauseWait})
		fmt.Println(resp.Message)
	},
}

func init() {
	addSelectionFlags(pauseCmd, &pauseGroup, &pauseAll)
	pauseCmd.Flags().BoolVar(&pauseWait, "wait", false, "wait for running tasks to finish instead of signalling them")
	rootCmd.AddCommand(pauseCmd)
}
