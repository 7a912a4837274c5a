package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/duskq/internal/wire"
)

var (
	addGroup          string
	addDependencies   []int
	addPriority       int
	addLabel          string
	addStashed        bool
	addDelay          string
	addStartImmediate bool
	addWorkingDir     string
	addEnvs           []string
)

var addCmd = &cobra.Command{
	Use:   "add -- <command>",
	Short: "Enqueue a shell command",
	Long: `Enqueue a shell command as a new task. Everything after "--" is joined
with spaces and run through the configured shell.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runAdd(strings.Join(args, " "))
	},
}

func init() {
	addCmd.Flags().StringVarP(&addGroup, "group", "g", "", "task group (default: \"default\")")
	addCmd.Flags().IntSliceVarP(&addDependencies, "after", "a", nil, "task ids this task depends on")
	addCmd.Flags().IntVar(&addPriority, "priority", 0, "scheduling priority, higher runs first")
	addCmd.Flags().StringVarP(&addLabel, "label", "l", "", "human-readable label")
	addCmd.Flags().BoolVar(&addStashed, "stashed", false, "add in Stashed state instead of Queued")
	addCmd.Flags().StringVar(&addDelay, "delay", "", "enqueue after this duration (implies --stashed)")
	addCmd.Flags().BoolVar(&addStartImmediate, "immediate", false, "start immediately regardless of group parallelism")
	addCmd.Flags().StringVarP(&addWorkingDir, "working-directory", "w", "", "working directory (default: current directory)")
	addCmd.Flags().StringArrayVarP(&addEnvs, "env", "e", nil, "environment variable KEY=VALUE, may be repeated")
	rootCmd.AddCommand(addCmd)
}

func runAdd(command string) {
	envs := make(map[string]string, len(addEnvs))
	for _, kv := range addEnvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			exitWithError(fmt.Sprintf("invalid --env %q, expected KEY=VALUE", kv), nil)
		}
		envs[k] = v
	}

	var enqueueAt *time.Time
	stashed := addStashed
	if addDelay != "" {
		d, err := time.ParseDuration(addDelay)
		if err != nil {
			exitWithError(fmt.Sprintf("invalid --delay %q", addDelay), err)
		}
		t := time.Now().Add(d)
		enqueueAt = &t
		stashed = true
	}

	path := addWorkingDir
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			exitWithError("failed to determine current directory", err)
		}
		path = wd
	}

	resp := dispatch(wire.Request{
		Kind:            wire.KindAdd,
		OriginalCommand: command,
		Path:            path,
		Envs:            envs,
		Group:           addGroup,
		Dependencies:    addDependencies,
		Priority:        addPriority,
		Label:           addLabel,
		Stashed:         stashed,
		EnqueueAt:       enqueueAt,
		StartImmediate:  addStartImmediate,
	})

	msg := "New task added (id " + strconv.Itoa(resp.TaskID) + ")."
	if resp.GroupIsPaused {
		msg += " The group is currently paused."
	}
	fmt.Println(msg)
}
