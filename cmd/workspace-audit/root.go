package main

import (
	"os"

	"github.com/open-sspm/workspace-audit/internal/logging"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "workspace-audit",
	Short:         "Audit Google Drive and Gmail for risky sharing and senders.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setCommandExecutionContext(commandExecutionContext{
			CommandPath:       cmd.CommandPath(),
			UsesStructuredLog: commandUsesStructuredLogging(cmd),
		})
		_, err := logging.BootstrapFromEnv(logging.BootstrapOptions{
			Command: cmd.CommandPath(),
			Writer:  os.Stderr,
		})
		return err
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(serveCmd, scanCmd, assetsCmd, statsCmd, actionCmd, connectionsCmd, activityCmd, migrateCmd)
}
