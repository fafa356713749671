package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/tmsync/internal/observability"
)

var (
	metricsJSON  bool
	metricsSince string
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Display sync metrics",
	Long: `Display aggregated sync metrics derived from the event log.

Metrics include tag, task and issue sync counts, failures per task and
tag, the success rate and the time of the last full cycle.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if MetricsCalc == nil {
			return fmt.Errorf("metrics calculator not initialized")
		}

		since := strings.TrimSpace(metricsSince)
		if since == "" {
			since = "7d"
		}
		sinceTime, err := observability.ParseSince(since, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("parsing --since: %w", err)
		}

		metrics, err := MetricsCalc.Calculate(sinceTime)
		if err != nil {
			return fmt.Errorf("calculating metrics: %w", err)
		}

		out := cmd.OutOrStdout()
		if metricsJSON {
			data, err := json.MarshalIndent(metrics, "", "  ")
			if err != nil {
				return fmt.Errorf("formatting metrics as JSON: %w", err)
			}
			fmt.Fprintln(out, string(data))
			return nil
		}

		fmt.Fprintf(out, "Metrics (since %s)\n\n", sinceTime.Format("2006-01-02 15:04"))
		fmt.Fprintf(out, "  %-24s %d\n", "Events recorded:", metrics.EventCount)
		fmt.Fprintf(out, "  %-24s %d\n", "Sync cycles:", metrics.Cycles)
		fmt.Fprintf(out, "  %-24s %d\n", "Tags synced:", metrics.TagsSynced)
		fmt.Fprintf(out, "  %-24s %d\n", "Tasks pushed:", metrics.TasksSynced)
		fmt.Fprintf(out, "  %-24s %d\n", "Issues pulled:", metrics.IssuesSynced)
		fmt.Fprintf(out, "  %-24s %d\n", "Task failures:", metrics.TaskErrors)
		fmt.Fprintf(out, "  %-24s %d\n", "Issue failures:", metrics.IssueErrors)
		fmt.Fprintf(out, "  %-24s %d\n", "Tag failures:", metrics.TagErrors)
		fmt.Fprintf(out, "  %-24s %.1f%%\n", "Success rate:", metrics.SuccessRate())

		if len(metrics.ErrorsByTask) > 0 {
			fmt.Fprintln(out, "\n  Failures by task:")
			for _, id := range sortedCountKeys(metrics.ErrorsByTask) {
				fmt.Fprintf(out, "    %-20s %d\n", id+":", metrics.ErrorsByTask[id])
			}
		}

		if len(metrics.ErrorsByTag) > 0 {
			fmt.Fprintln(out, "\n  Failures by tag:")
			for _, tag := range sortedCountKeys(metrics.ErrorsByTag) {
				fmt.Fprintf(out, "    %-20s %d\n", tag+":", metrics.ErrorsByTag[tag])
			}
		}

		if metrics.LastCycle != nil {
			fmt.Fprintf(out, "\n  %-24s %s\n", "Last cycle:", metrics.LastCycle.Format(time.RFC3339))
		}
		if metrics.OldestEvent != nil {
			fmt.Fprintf(out, "  %-24s %s\n", "Oldest event:", metrics.OldestEvent.Format(time.RFC3339))
		}
		if metrics.NewestEvent != nil {
			fmt.Fprintf(out, "  %-24s %s\n", "Newest event:", metrics.NewestEvent.Format(time.RFC3339))
		}

		return nil
	},
}

func sortedCountKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func init() {
	metricsCmd.Flags().BoolVar(&metricsJSON, "json", false, "Output metrics as JSON")
	metricsCmd.Flags().StringVar(&metricsSince, "since", "7d", "Time window for metrics (e.g. 7d, 24h, 30m)")
	rootCmd.AddCommand(metricsCmd)
}
