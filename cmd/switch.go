package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"firestige.xyz/duskq/internal/wire"
)

var switchCmd = &cobra.Command{
	Use:   "switch <id1> <id2>",
	Short: "Swap the queue positions of two tasks",
	Long:  `Exchanges the ids of two Queued or Stashed tasks. Dependencies on either id are rewritten accordingly.`,
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		id1, err := strconv.Atoi(args[0])
		if err != nil {
			exitWithError("task ids must be integers", err)
		}
		id2, err := strconv.Atoi(args[1])
		if err != nil {
			exitWithError("task ids must be integers", err)
		}
		resp := dispatch(wire.Request{Kind: wire.KindSwitch, TaskID1: id1, TaskID2: id2})
		fmt.Println(resp.Message)
	},
}

func init() {
	rootCmd.AddCommand(switchCmd)
}
