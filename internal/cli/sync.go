package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/tmsync/internal/core"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a one-off sync",
	Long: `Sync a single tag, task or issue, or run a full cycle over every tag.

Only tasks carrying a sync tag are pushed to Jira. A task whose sync is
already in flight is skipped.`,
}

var syncTagCmd = &cobra.Command{
	Use:   "tag <name>",
	Short: "Push every syncable task in a tag to Jira",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireSync(); err != nil {
			return err
		}
		result, err := SyncSvc.SyncTag(commandContext(cmd), args[0])
		if err != nil {
			return fmt.Errorf("syncing tag %s: %w", args[0], err)
		}
		printTagResult(cmd.OutOrStdout(), result)
		if result.Failed > 0 {
			return fmt.Errorf("%d task(s) in tag %s failed to sync", result.Failed, result.Tag)
		}
		return nil
	},
}

var syncTaskCmd = &cobra.Command{
	Use:   "task <id>",
	Short: "Push one task to Jira",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireSync(); err != nil {
			return err
		}
		tag, err := SyncSvc.SyncTask(commandContext(cmd), args[0])
		if err != nil {
			return fmt.Errorf("syncing task %s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Synced task %s (tag %s)\n", args[0], tag)
		return nil
	},
}

var syncIssueCmd = &cobra.Command{
	Use:   "issue <key>",
	Short: "Pull one Jira issue back into its task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireSync(); err != nil {
			return err
		}
		if err := SyncSvc.SyncIssue(commandContext(cmd), args[0]); err != nil {
			return fmt.Errorf("syncing issue %s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Synced issue %s\n", args[0])
		return nil
	},
}

var syncAllCmd = &cobra.Command{
	Use:   "all",
	Short: "Run a full sync cycle over every tag",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireSync(); err != nil {
			return err
		}
		results, err := SyncSvc.SyncAll(commandContext(cmd))
		if err != nil {
			return fmt.Errorf("running sync cycle: %w", err)
		}
		out := cmd.OutOrStdout()
		if len(results) == 0 {
			fmt.Fprintln(out, "No tags to sync.")
			return nil
		}
		failed := 0
		for _, r := range results {
			printTagResult(out, r)
			failed += r.Failed
		}
		if failed > 0 {
			return fmt.Errorf("%d task(s) failed to sync", failed)
		}
		return nil
	},
}

func printTagResult(w io.Writer, r core.TagSyncResult) {
	if r.Skipped {
		fmt.Fprintf(w, "%-20s skipped\n", r.Tag)
		return
	}
	fmt.Fprintf(w, "%-20s processed %d, failed %d\n", r.Tag, r.Processed, r.Failed)
}

func init() {
	syncCmd.AddCommand(syncTagCmd)
	syncCmd.AddCommand(syncTaskCmd)
	syncCmd.AddCommand(syncIssueCmd)
	syncCmd.AddCommand(syncAllCmd)
	rootCmd.AddCommand(syncCmd)
}
