package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	tmmcp "github.com/valter-silva-au/tmsync/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "MCP server commands",
	Long:  "Commands for running the tmsync MCP (Model Context Protocol) server.",
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tmsync MCP server on stdio",
	Long: `Start the tmsync MCP server on stdio transport.

The server exposes sync operations as MCP tools that AI coding assistants
can call: sync_task, sync_tag, sync_issue, sync_all, get_sync_status,
get_metrics, get_alerts.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		srv := newMCPServer()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("running MCP server: %w", err)
		}
		return nil
	},
}

// newMCPServer builds the server from the package-level services. Tools
// whose service is missing report an error result when called.
func newMCPServer() *tmmcp.Server {
	return tmmcp.NewServer(tmmcp.Deps{
		Sync:        SyncSvc,
		Status:      SyncState,
		MetricsCalc: MetricsCalc,
		AlertEngine: AlertEngine,
	}, appVersion)
}

func init() {
	mcpCmd.AddCommand(mcpServeCmd)
	rootCmd.AddCommand(mcpCmd)
}
