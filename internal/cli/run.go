package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/tmsync/internal/observability"
	"golang.org/x/sync/errgroup"
)

// signalBuffer is the bus subscription size for the event recorder.
const signalBuffer = 256

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch the task file and sync continuously",
	Long: `Run the sync loop: an initial full sync (unless sync.initial_sync is
false), then a debounced sync cycle after every change to the task file.

Every sync signal is appended to the event log. When metrics.listen_addr is set a
Prometheus endpoint is served at /metrics. Stops on SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Engine == nil {
			return requireSyncEngine()
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runSync(ctx, cmd.OutOrStdout())
	},
}

func requireSyncEngine() error {
	if SyncErr != nil {
		return fmt.Errorf("sync is unavailable: %w", SyncErr)
	}
	return fmt.Errorf("sync engine not initialized")
}

// runSync starts the engine, the watcher, the signal recorder and the
// optional metrics server, and blocks until ctx is done.
func runSync(ctx context.Context, out io.Writer) error {
	g, ctx := errgroup.WithContext(ctx)

	if Recorder != nil {
		signals := Engine.Bus().SubscribeAll(signalBuffer)
		g.Go(func() error { return Recorder.Run(ctx, signals) })
	}

	// The watcher runs before the initial sync so edits made during it
	// trigger a follow-up cycle.
	if Watcher != nil {
		if err := Watcher.Start(ctx); err != nil {
			return fmt.Errorf("starting task file watcher: %w", err)
		}
		defer Watcher.Stop()
	}
	if err := Engine.Start(ctx); err != nil {
		return fmt.Errorf("starting sync engine: %w", err)
	}
	if Config != nil {
		fmt.Fprintf(out, "Watching %s\n", Config.TasksFile)
	}

	if Config != nil && Config.MetricsAddr != "" && Registry != nil {
		srv := &http.Server{
			Addr:              Config.MetricsAddr,
			Handler:           metricsMux(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serving metrics: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		fmt.Fprintf(out, "Serving metrics on %s/metrics\n", Config.MetricsAddr)
	}

	g.Go(func() error {
		<-ctx.Done()
		Engine.Stop()
		return nil
	})

	return g.Wait()
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler(Registry))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

func init() {
	rootCmd.AddCommand(runCmd)
}
