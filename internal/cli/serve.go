package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/kmpindex/pkg/buildinfo"
	"github.com/matzehuels/kmpindex/pkg/discovery"
	"github.com/matzehuels/kmpindex/pkg/observability"
	"github.com/matzehuels/kmpindex/pkg/schedule"
	"github.com/matzehuels/kmpindex/pkg/store"
)

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// serveCommand creates the serve command.
func (c *CLI) serveCommand() *cobra.Command {
	var (
		addr        string
		noIndex     bool
		noDiscovery bool
		noSync      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run indexing workers, scheduled discovery and sync jobs",
		Long: `Run the pipeline continuously: indexing workers drain the queue,
discovery runs on its interval and the sync jobs refresh owners,
repositories and generated metadata.

Operational endpoints:
  GET /healthz   process is up
  GET /readyz    database is reachable
  GET /queue     queue statistics and failing requests
  GET /stats     counters since start (indexing, jobs, cache, upstream calls)
  GET /version   build information

Any number of serve processes can share one database.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := c.conf()
			if addr == "" {
				addr = cfg.Server.Addr
			}

			a, err := c.openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			counters, err := observability.NewCounters()
			if err != nil {
				return err
			}
			defer counters.Shutdown(context.WithoutCancel(ctx))
			observability.SetPipelineHooks(counters)
			observability.SetCacheHooks(counters)
			observability.SetHTTPHooks(counters)
			defer observability.Reset()

			sched := schedule.New(c.Logger)
			if !noDiscovery {
				co, err := a.coordinator(nil)
				if err != nil {
					return err
				}
				if err := sched.Add(discoveryJob(co, cfg.Discovery.Interval, c.Logger)); err != nil {
					return err
				}
			}
			if !noSync {
				steps := a.syncSteps()
				names := make([]string, 0, len(steps))
				for name := range steps {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					err := sched.Add(schedule.Job{
						Name:     name,
						Interval: cfg.Sync.Interval,
						Jitter:   cfg.Sync.Jitter,
						Run:      schedule.Repeat(cfg.Sync.Batch, steps[name]),
					})
					if err != nil {
						return err
					}
				}
			}

			srv := &http.Server{
				Addr:              addr,
				Handler:           newOpsRouter(a.store, counters, c.Logger),
				ReadHeaderTimeout: 5 * time.Second,
			}

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				c.Logger.Info("ops server listening", "addr", addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("ops server: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			if !noIndex {
				ix := a.newIndexer()
				g.Go(func() error {
					c.Logger.Info("indexing workers started", "workers", cfg.Indexer.Workers)
					return ix.Run(ctx, cfg.Indexer.Workers, cfg.Indexer.Idle)
				})
			}

			printInfo("Scheduled jobs: %s", strings.Join(sched.Jobs(), ", "))
			sched.Start(ctx)
			err = g.Wait()
			sched.Stop()
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "ops endpoint address (default server.addr)")
	cmd.Flags().BoolVar(&noIndex, "no-index", false, "do not run indexing workers")
	cmd.Flags().BoolVar(&noDiscovery, "no-discovery", false, "do not schedule discovery")
	cmd.Flags().BoolVar(&noSync, "no-sync", false, "do not schedule sync jobs")

	return cmd
}

// discoveryJob runs the coordinator once per interval. A run in which any
// discoverer failed counts as a failed job run.
func discoveryJob(co *discovery.Coordinator, interval time.Duration, logger *log.Logger) schedule.Job {
	return schedule.Job{
		Name:      "discovery",
		Interval:  interval,
		Jitter:    interval / 10,
		Immediate: true,
		Run: func(ctx context.Context) error {
			report, err := co.Run(ctx)
			if err != nil {
				return err
			}
			t := report.Totals()
			logger.Info("discovery finished", "run", report.RunID, "discovered", t.Discovered, "enqueued", t.Enqueued)
			if failed := report.Failed(); len(failed) > 0 {
				return fmt.Errorf("discoverers failed: %s", strings.Join(failed, ", "))
			}
			return nil
		},
	}
}

// =============================================================================
// Ops Endpoints
// =============================================================================

// pinger is the part of the store the readiness probe needs.
type pinger interface {
	Ping(ctx context.Context) error
}

// opsStore is what the ops endpoints read.
type opsStore interface {
	pinger
	store.Queue
}

// newOpsRouter builds the router for the operational endpoints.
func newOpsRouter(st opsStore, counters *observability.Counters, logger *log.Logger) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := st.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	r.Get("/queue", func(w http.ResponseWriter, r *http.Request) {
		snap, err := snapshotQueue(r.Context(), st, 20)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})
	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, counters.Snapshot())
	})
	r.Get("/version", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version": buildinfo.Version,
			"commit":  buildinfo.Commit,
			"date":    buildinfo.Date,
		})
	})
	return r
}

// requestLogger logs each request at debug level.
func requestLogger(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
