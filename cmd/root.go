package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/taskhive/apiserver/internal/logger"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "apiserver",
	Short: "Multi-user task manager API server",
	Long: `apiserver is the backend for a multi-user task manager with
stateless JWT authentication. Every task belongs to exactly one
account and is only visible to that account.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.Init()
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
