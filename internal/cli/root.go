package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	appVersion = "dev"
	appCommit  = "none"
	appDate    = "unknown"
)

// SetVersionInfo sets the version information injected via ldflags.
func SetVersionInfo(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

var rootCmd = &cobra.Command{
	Use:   "tmsync",
	Short: "Bidirectional TaskMaster and Jira synchronization",
	Long: `tmsync keeps a TaskMaster tasks.json file and a Jira project in step.

Tasks carrying a sync tag (cc-dev:, atlassian: or jira:) are pushed to Jira
as issues; issue changes are pulled back into the task file. The run command
watches the task file and syncs on every change.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "tmsync %s\ncommit: %s\nbuilt:  %s\n", appVersion, appCommit, appDate)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// commandContext returns the command's context, or a background context
// when the command is invoked directly.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// requireSync returns an error explaining why sync commands cannot run.
func requireSync() error {
	if SyncSvc != nil {
		return nil
	}
	if SyncErr != nil {
		return fmt.Errorf("sync is unavailable: %w", SyncErr)
	}
	return fmt.Errorf("sync service not initialized")
}
