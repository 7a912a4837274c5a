package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/duskq/internal/wire"
)

var (
	killGroup  string
	killAll    bool
	killSignal string
)

var killCmd = &cobra.Command{
	Use:   "kill [id]...",
	Short: "Terminate running tasks, or send them a signal",
	Long: `With no --signal, terminates the selected tasks and pauses their groups so
replacements don't spawn. With --signal, delivers that signal to the
selected tasks' process groups without pausing anything.`,
	Run: func(cmd *cobra.Command, args []string) {
		sel := parseSelection(args, killGroup, killAll)
		resp := dispatch(wire.Request{Kind: wire.KindKill, Selection: sel, Signal: killSignal})
		fmt.Println(resp.Message)
	},
}

func init() {
	addSelectionFlags(killCmd, &killGroup, &killAll)
	killCmd.Flags().StringVarP(&killSignal, "signal", "s", "", "signal to send (e.g. TERM, KILL, HUP); terminate if omitted")
	rootCmd.AddCommand(killCmd)
}
