package cmd

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"firestige.xyz/duskq/internal/wire"
)

var logLines int

var logCmd = &cobra.Command{
	Use:   "log [id]...",
	Short: "Show task metadata and log output",
	Run: func(cmd *cobra.Command, args []string) {
		ids := make([]int, 0, len(args))
		for _, a := range args {
			id, err := strconv.Atoi(a)
			if err != nil {
				exitWithError("task ids must be integers", err)
			}
			ids = append(ids, id)
		}

		resp := dispatch(wire.Request{Kind: wire.KindLog, Ids: ids, Lines: logLines})

		sortedIDs := make([]int, 0, len(resp.Logs))
		for id := range resp.Logs {
			sortedIDs = append(sortedIDs, id)
		}
		sort.Ints(sortedIDs)

		for _, id := range sortedIDs {
			entry := resp.Logs[id]
			fmt.Printf("--- task %d: %s (%s) ---\n", id, entry.Task.OriginalCommand, entry.Task.Status)
			if len(entry.Output) > 0 {
				fmt.Println(string(entry.Output))
			}
		}
	},
}

func init() {
	logCmd.Flags().IntVar(&logLines, "lines", 0, "number of trailing log lines to include (0 = metadata only)")
	rootCmd.AddCommand(logCmd)
}
