package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/fsa-maps/internal/config"
	"github.com/sells-group/fsa-maps/internal/fetcher"
	"github.com/sells-group/fsa-maps/internal/ingest"
)

var (
	refreshOffline      bool
	refreshVerboseSkips bool
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Download the FHRS feed and replace the stored snapshot",
	Long:  "Fetches the FHRS CSV (falling back to the local cache when the download fails), reloads every business and records the run's metadata.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if refreshOffline {
			cfg.Feed.URL = ""
		}
		if refreshVerboseSkips {
			cfg.Refresh.VerboseSkips = true
		}
		return runRefresh(ctx, cfg, os.Stdout)
	},
}

func init() {
	refreshCmd.Flags().BoolVar(&refreshOffline, "offline", false, "skip the download and load the cached CSV")
	refreshCmd.Flags().BoolVar(&refreshVerboseSkips, "verbose-skips", false, "log every skipped row at debug level")
	rootCmd.AddCommand(refreshCmd)
}

// newRefresher wires the feed source and loader for c against st.
func newRefresher(c *config.Config, st ingest.Store, metrics *ingest.Metrics) *ingest.Refresher {
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:    c.Feed.UserAgent,
		Timeout:      c.Feed.Timeout(),
		MaxRetries:   c.Feed.MaxRetries,
		RateLimiters: fetcher.HostLimiter(c.Feed.URL, c.Feed.RequestsPerMinute),
	})
	source := ingest.NewFeedSource(f, c.Feed.URL, c.Feed.CachePath, c.Feed.Timeout())
	return ingest.NewRefresher(st, source, ingest.Options{
		BatchSize:    c.Refresh.BatchSize,
		VerboseSkips: c.Refresh.VerboseSkips,
		Metrics:      metrics,
	})
}

func runRefresh(ctx context.Context, c *config.Config, out io.Writer) error {
	st, err := openStore(ctx, c, "refresh")
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	report, err := newRefresher(c, st, nil).Run(ctx)
	if err != nil {
		return eris.Wrapf(err, "refresh %s", report.RunID)
	}
	printRefreshSummary(out, report)
	return nil
}

func printRefreshSummary(out io.Writer, r *ingest.Report) {
	m := r.Metadata
	duration := 0.0
	if m.ImportDuration != nil {
		duration = *m.ImportDuration
	}
	_, _ = fmt.Fprintf(out, "refresh complete: source=%s imported=%d skipped=%d total=%d duration=%.1fs\n",
		m.Source, m.ImportedRecords, m.SkippedRecords, m.TotalRecords, duration)
	for reason, n := range r.SkipReasons {
		_, _ = fmt.Fprintf(out, "  skipped %d: %s\n", n, reason)
	}
}
