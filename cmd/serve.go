package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/fsa-maps/internal/api"
	"github.com/sells-group/fsa-maps/internal/config"
	"github.com/sells-group/fsa-maps/internal/ingest"
	"github.com/sells-group/fsa-maps/internal/monitoring"
	"github.com/sells-group/fsa-maps/internal/query"
	"github.com/sells-group/fsa-maps/internal/store"
	"github.com/sells-group/fsa-maps/internal/tiles"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long:  "Serves businesses and refresh metadata under /api. When refresh.interval is set, refreshes the data in the background.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		st, err := openStore(ctx, cfg, "serve")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		return runServer(ctx, cfg, st)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// newServer builds the HTTP server and, when the config asks for one, the
// background refresh scheduler.
func newServer(c *config.Config, st store.Store) (*http.Server, *ingest.Scheduler) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := ingest.NewMetrics(reg)

	svc := query.NewService(st)
	tileCache := tiles.NewCache(c.Server.TileCacheEntries, time.Duration(c.Server.TileCacheTTLSecs)*time.Second)

	handler := api.NewRouter(api.Options{
		Queries:        svc,
		Health:         st,
		AllowedOrigins: c.Server.AllowedOrigins,
		RateLimitRPS:   c.Server.RateLimitRPS,
		RateLimitBurst: c.Server.RateLimitBurst,
		Gatherer:       reg,
		Tiles:          tiles.NewHandler(svc, tileCache, c.Server.TileMinZoom),
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", c.Server.Port),
		Handler:      handler,
		ReadTimeout:  time.Duration(c.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(c.Server.WriteTimeoutSecs) * time.Second,
	}

	var sched *ingest.Scheduler
	if c.Refresh.Interval > 0 || c.Refresh.OnStart {
		sched = ingest.NewScheduler(newRefresher(c, st, metrics), c.Refresh.Interval, c.Refresh.OnStart)
	}
	return srv, sched
}

func runServer(ctx context.Context, c *config.Config, st store.Store) error {
	srv, sched := newServer(c, st)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zap.L().Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if sched != nil {
		g.Go(func() error {
			return sched.Run(gctx)
		})
	}
	if c.Monitoring.Enabled {
		checker := monitoring.NewChecker(monitoring.NewCollector(st), monitoring.NewAlerter(c.Monitoring), c.Monitoring)
		g.Go(func() error {
			checker.Run(gctx)
			return nil
		})
	}

	return g.Wait()
}
