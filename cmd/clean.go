package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/duskq/internal/wire"
)

var (
	cleanGroup          string
	cleanSuccessfulOnly bool
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove Done tasks from the queue",
	Run: func(cmd *cobra.Command, args []string) {
		resp := dispatch(wire.Request{
			Kind:           wire.KindClean,
			Group:          cleanGroup,
			SuccessfulOnly: cleanSuccessfulOnly,
		})
		fmt.Println(resp.Message)
	},
}

func init() {
	cleanCmd.Flags().StringVarP(&cleanGroup, "group", "g", "", "restrict to one group")
	cleanCmd.Flags().BoolVar(&cleanSuccessfulOnly, "successful-only", false, "only remove Done tasks that succeeded")
	rootCmd.AddCommand(cleanCmd)
}
