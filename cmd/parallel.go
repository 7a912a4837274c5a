package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"firestige.xyz/duskq/internal/wire"
)

var parallelGroup string

var parallelCmd = &cobra.Command{
	Use:   "parallel <n>",
	Short: "Set a group's maximum parallel tasks",
	Long:  `Sets parallel_tasks for a group; 0 means unlimited. Takes effect on the scheduler's next tick.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 0 {
			exitWithError(fmt.Sprintf("invalid parallel task count %q", args[0]), nil)
		}
		resp := dispatch(wire.Request{Kind: wire.KindParallel, Group: parallelGroup, ParallelTasks: n})
		fmt.Println(resp.Message)
	},
}

func init() {
	parallelCmd.Flags().StringVarP(&parallelGroup, "group", "g", "", "group to change (default: \"default\")")
	rootCmd.AddCommand(parallelCmd)
}
