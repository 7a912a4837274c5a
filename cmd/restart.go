package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"firestige.xyz/duskq/internal/wire"
)

var (
	restartInPlace        bool
	restartStashed        bool
	restartStartImmediate bool
)

var restartCmd = &cobra.Command{
	Use:   "restart <id>...",
	Short: "Restart one or more Done tasks",
	Long: `Restarts the given Done tasks in place, reusing their task id and
created_at while resetting status/result. Each task's existing
original_command/path/label/priority are resubmitted unchanged. With
--in-place=false, each task is instead added as a new task with the same
command, path, environment, group, dependencies, priority and label.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ids := make([]int, 0, len(args))
		for _, a := range args {
			id, err := strconv.Atoi(a)
			if err != nil {
				exitWithError("task ids must be integers", err)
			}
			ids = append(ids, id)
		}

		status := dispatch(wire.Request{Kind: wire.KindStatus})
		if !restartInPlace {
			for _, id := range ids {
				t, ok := status.State.Tasks[id]
				if !ok {
					exitWithError(fmt.Sprintf("task %d does not exist", id), nil)
				}
				resp := dispatch(wire.Request{Kind: wire.KindAdd, OriginalCommand: t.OriginalCommand, Path: t.Path,
					Envs: t.Envs, Group: t.Group, Dependencies: t.Dependencies, Priority: t.Priority, Label: t.Label,
					Stashed: restartStashed, StartImmediate: restartStartImmediate})
				fmt.Printf("New task added (id %d).\n", resp.TaskID)
			}
			return
		}
		items := make([]wire.RestartItem, 0, len(ids))
		for _, id := range ids {
			t, ok := status.State.Tasks[id]
			if !ok {
				exitWithError(fmt.Sprintf("task %d does not exist", id), nil)
			}
			items = append(items, wire.RestartItem{
				TaskID:          t.ID,
				OriginalCommand: t.OriginalCommand,
				Path:            t.Path,
				Label:           t.Label,
				Priority:        t.Priority,
			})
		}

		resp := dispatch(wire.Request{
			Kind:           wire.KindRestart,
			RestartItems:   items,
			InPlace:        restartInPlace,
			Stashed:        restartStashed,
			StartImmediate: restartStartImmediate,
		})
		fmt.Println(resp.Message)
	},
}

func init() {
	restartCmd.Flags().BoolVar(&restartInPlace, "in-place", true, "reuse the existing task id instead of adding a new one")
	restartCmd.Flags().BoolVar(&restartStashed, "stashed", false, "restart into Stashed instead of Queued")
	restartCmd.Flags().BoolVar(&restartStartImmediate, "immediate", false, "start immediately regardless of group parallelism")
	rootCmd.AddCommand(restartCmd)
}
