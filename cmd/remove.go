package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"firestige.xyz/duskq/internal/wire"
)

var removeCmd = &cobra.Command{
	Use:   "remove <id>...",
	Short: "Remove tasks from the queue",
	Long:  `Remove one or more tasks. A task with dependents, or currently Running/Paused, cannot be removed.`,
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ids := make([]int, 0, len(args))
		for _, a := range args {
			id, err := strconv.Atoi(a)
			if err != nil {
				exitWithError("task ids must be integers", err)
			}
			ids = append(ids, id)
		}
		resp := dispatch(wire.Request{Kind: wire.KindRemove, Ids: ids})
		fmt.Println(resp.Message)
	},
}

func init() {
	rootCmd.AddCommand(removeCmd)
}
