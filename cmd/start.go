package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/duskq/internal/wire"
)

var (
	startGroup string
	startAll   bool
)

var startCmd = &cobra.Command{
	Use:   "start [id]...",
	Short: "Resume a paused group, or force-start specific tasks",
	Long: `With no arguments or --all, resumes every paused group and its paused
tasks; with --group, resumes that group and its paused tasks. With task ids,
resumes the named paused tasks and forces the named Queued tasks to start
immediately regardless of group parallelism or group pause.`,
	Run: func(cmd *cobra.Command, args []string) {
		sel := parseSelection(args, startGroup, startAll)
		resp := dispatch(wire.Request{Kind: wire.KindStart, Selection: sel})
		fmt.Println(resp.Message)
	},
}

func init() {
	addSelectionFlags(startCmd, &startGroup, &startAll)
	rootCmd.AddCommand(startCmd)
}
