package cmd

import (
	"strconv"

	"github.com/spf13/cobra"

	"firestige.xyz/duskq/internal/wire"
)

// addSelectionFlags registers the --group/--all flags shared by every
// selection-based command (start, pause, kill); positional args are
// parsed as task ids by parseSelection.
func addSelectionFlags(cmd *cobra.Command, group *string, all *bool) {
	cmd.Flags().StringVarP(group, "group", "g", "", "apply to every task in this group")
	cmd.Flags().BoolVar(all, "all", false, "apply to every task")
}

// parseSelection resolves a task Selection from positional id arguments
// plus the --group/--all flags: --all wins over --group, which wins over
// positional ids. With nothing
// supplied at all it defaults to SelectionAll, matching pueue's bare
// `start`/`pause`/`kill` behavior of acting on the whole daemon.
func parseSelection(args []string, group string, all bool) wire.Selection {
	if all || (len(args) == 0 && group == "") {
		return wire.Selection{Kind: wire.SelectionAll}
	}
	if group != "" {
		return wire.Selection{Kind: wire.SelectionGroup, Group: group}
	}
	ids := make([]int, 0, len(args))
	for _, a := range args {
		id, err := strconv.Atoi(a)
		if err != nil {
			exitWithError("task ids must be integers", err)
		}
		ids = append(ids, id)
	}
	return wire.Selection{Kind: wire.SelectionIds, Ids: ids}
}
