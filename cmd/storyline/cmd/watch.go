package cmd

import (
	"github.com/spf13/cobra"

	"github.com/storyline-ai/storyline/internal/tui"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Open the run dashboard",
	Long: `Open the terminal dashboard against a running storyline server.

The dashboard follows the default run unless --run is given, streams
live updates over SSE, and lets you pause, resume, abort, and reset the
run, filter the activity log, and preview or copy the final post.`,
	RunE: runWatch,
}

var (
	watchAddr  string
	watchRunID string
)

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVar(&watchAddr, "addr", "",
		"Server address (default from config, e.g. http://127.0.0.1:8844)")
	watchCmd.Flags().StringVar(&watchRunID, "run", "",
		"Run ID to follow (default: the server's default run)")
}

func runWatch(_ *cobra.Command, _ []string) error {
	addr, err := resolveServerAddr(watchAddr)
	if err != nil {
		return err
	}

	return tui.Run(tui.NewClient(addr), watchRunID)
}
