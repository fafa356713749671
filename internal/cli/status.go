package cli

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/tmsync/internal/storage"
)

var (
	statusTag    string
	statusFailed bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last sync outcome of every task",
	Long: `Show the sync ledger grouped by tag: the Jira issue each task maps to,
when it last synced and, for failing tasks, the last error.

Filter to one tag with --tag, or to failing tasks with --failed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if SyncState == nil {
			return fmt.Errorf("sync state not initialized")
		}

		records, err := SyncState.Filter(storage.SyncStateFilter{Tag: statusTag, FailedOnly: statusFailed})
		if err != nil {
			return fmt.Errorf("reading sync state: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(records) == 0 {
			fmt.Fprintln(out, "No sync records found.")
			return nil
		}

		grouped := make(map[string][]storage.SyncRecord)
		for _, r := range records {
			grouped[r.Tag] = append(grouped[r.Tag], r)
		}
		tags := make([]string, 0, len(grouped))
		for tag := range grouped {
			tags = append(tags, tag)
		}
		sort.Strings(tags)

		for _, tag := range tags {
			printStatusGroup(out, tag, grouped[tag])
			fmt.Fprintln(out)
		}
		return nil
	},
}

// printStatusGroup prints a table of ledger records under a tag heading.
func printStatusGroup(w io.Writer, tag string, records []storage.SyncRecord) {
	if tag == "" {
		tag = "(untagged)"
	}
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("== %s (%d) ==", tag, len(records))))
	fmt.Fprintf(w, "  %-10s %-12s %-5s %-20s %s\n", "TASK", "ISSUE", "DIR", "LAST SYNCED", "STATE")
	for _, r := range records {
		issue := r.IssueKey
		if issue == "" {
			issue = "-"
		}
		fmt.Fprintf(w, "  %-10s %-12s %-5s %-20s %s\n", r.TaskID, issue, r.Direction, formatSynced(r.LastSynced), recordState(r))
	}
}

func recordState(r storage.SyncRecord) string {
	if !r.Failed() {
		return syncedStyle.Render("ok")
	}
	return failedStyle.Render(fmt.Sprintf("failing x%d: %s", r.Failures, r.LastError))
}

func formatSynced(t time.Time) string {
	if t.IsZero() {
		return mutedStyle.Render("never")
	}
	return t.UTC().Format("2006-01-02 15:04 UTC")
}

func init() {
	statusCmd.Flags().StringVar(&statusTag, "tag", "", "Only show tasks in this tag")
	statusCmd.Flags().BoolVar(&statusFailed, "failed", false, "Only show tasks whose last sync failed")
	rootCmd.AddCommand(statusCmd)
}
