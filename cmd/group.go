package cmd

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"firestige.xyz/duskq/internal/wire"
)

var groupParallelTasks int

var groupCmd = &cobra.Command{
	Use:   "group",
	Short: "List, add, or remove task groups",
	Run: func(cmd *cobra.Command, args []string) {
		resp := dispatch(wire.Request{Kind: wire.KindGroup, GroupOp: wire.GroupList})
		printGroups(resp.Groups)
	},
}

var groupAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a new group",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		resp := dispatch(wire.Request{Kind: wire.KindGroup, GroupOp: wire.GroupAdd, Group: args[0], ParallelTasks: groupParallelTasks})
		fmt.Println(resp.Message)
	},
}

var groupRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a group (must have no tasks)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		resp := dispatch(wire.Request{Kind: wire.KindGroup, GroupOp: wire.GroupRemove, Group: args[0]})
		fmt.Println(resp.Message)
	},
}

func init() {
	groupAddCmd.Flags().IntVarP(&groupParallelTasks, "parallel", "p", 0, "parallel task limit (0 = unlimited)")
	groupCmd.AddCommand(groupAddCmd, groupRemoveCmd)
	rootCmd.AddCommand(groupCmd)
}

func printGroups(groups map[string]wire.GroupView) {
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "GROUP\tSTATUS\tPARALLEL")
	for _, name := range names {
		g := groups[name]
		fmt.Fprintf(w, "%s\t%s\t%s\n", g.Name, g.Status, strconv.Itoa(g.ParallelTasks))
	}
	w.Flush()
}
