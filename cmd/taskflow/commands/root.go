package commands

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "taskflow",
	Short: "Taskflow - realtime Kanban board server",
	Long: `Taskflow serves the board REST API and the websocket endpoint that keeps
every open board in sync: task and column changes, comments, activity and
who is editing what.

Set REDIS_URL to share room traffic between several instances.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute runs the command tree. Errors are returned to main for printing.
func Execute() error {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

func SetVersion(v string) {
	rootCmd.Version = v
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, tokenCmd)
}
