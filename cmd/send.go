package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"firestige.xyz/duskq/internal/wire"
)

var sendNoNewline bool

var sendCmd = &cobra.Command{
	Use:   "send <id> <input>",
	Short: "Write input to a running task's stdin",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			exitWithError("task id must be an integer", err)
		}
		input := args[1]
		if !sendNoNewline {
			input += "\n"
		}
		resp := dispatch(wire.Request{Kind: wire.KindSend, TaskID: id, Input: input})
		fmt.Println(resp.Message)
	},
}

func init() {
	sendCmd.Flags().BoolVar(&sendNoNewline, "no-newline", false, "don't append a trailing newline to input")
	rootCmd.AddCommand(sendCmd)
}
