// Package cmd implements the duskq CLI.
package cmd

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"firestige.xyz/duskq/internal/wire"
)

var statusGroup string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long:  `Query the daemon for every task and group, and print them as a table.`,
	Run: func(cmd *cobra.Command, args []string) {
		resp := dispatch(wire.Request{Kind: wire.KindStatus, Group: statusGroup})
		printStatus(resp.State)
	},
}

func init() {
	statusCmd.Flags().StringVarP(&statusGroup, "group", "g", "", "restrict to one group")
	rootCmd.AddCommand(statusCmd)
}

func printStatus(state *wire.StateView) {
	if state == nil {
		fmt.Println("no tasks.")
		return
	}

	ids := make([]int, 0, len(state.Tasks))
	for id := range state.Tasks {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tGROUP\tSTATUS\tRESULT\tCOMMAND")
	for _, id := range ids {
		t := state.Tasks[id]
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", t.ID, t.Group, t.Status, t.Result, t.OriginalCommand)
	}
	w.Flush()

	names := make([]string, 0, len(state.Groups))
	for name := range state.Groups {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println()
	gw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(gw, "GROUP\tSTATUS\tPARALLEL")
	for _, name := range names {
		g := state.Groups[name]
		fmt.Fprintf(gw, "%s\t%s\t%d\n", g.Name, g.Status, g.ParallelTasks)
	}
	gw.Flush()
}
