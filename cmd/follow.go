package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"firestige.xyz/duskq/internal/wire"
)

var followLines int

var followCmd = &cobra.Command{
	Use:   "follow <id>",
	Short: "Stream a task's log output until it finishes",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			exitWithError("task id must be an integer", err)
		}

		cfg := loadClientConfig()
		c, err := dial(cfg)
		if err != nil {
			exitWithError("failed to connect to daemon", err)
		}
		defer c.Close()

		if err := c.streamLog(wire.Request{Kind: wire.KindStreamLog, Ids: []int{id}, Lines: followLines}, os.Stdout); err != nil {
			exitWithError("follow failed", err)
		}
	},
}

func init() {
	followCmd.Flags().IntVar(&followLines, "lines", 10, "number of trailing lines to show before following")
	rootCmd.AddCommand(followCmd)
}

// streamLog sends req (expected to be a StreamLog request) and writes
// every chunk it receives to w until the daemon marks the stream Done
// or the connection closes.
func (c *client) streamLog(req wire.Request, w *os.File) error {
	if err := wire.WriteRequest(c.conn, req); err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	for {
		resp, err := wire.ReadResponse(c.conn)
		if err != nil {
			return fmt.Errorf("read stream chunk: %w", err)
		}
		if resp.Kind == wire.RespFailure {
			return fmt.Errorf("%s", resp.Message)
		}
		if len(resp.Chunk) > 0 {
			w.Write(resp.Chunk)
		}
		if resp.Done {
			return nil
		}
	}
}
