package main

import (
	"context"
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

	"github.com/sells-group/dropout-risk/internal/api"
	"github.com/sells-group/dropout-risk/internal/bundle"
	"github.com/sells-group/dropout-risk/internal/monitoring"
	"github.com/sells-group/dropout-risk/internal/scorer"
	"github.com/sells-group/dropout-risk/internal/store"
)

const shutdownTimeout = 15 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scoring API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort > 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		norm, err := initNormalizer(cfg.Model)
		if err != nil {
			return err
		}

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics := monitoring.NewMetrics(reg)
		sc := scorer.New(norm, scorer.WithObserver(metrics))

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		reload := func(ctx context.Context, path string) error {
			mv, err := sc.Reload(ctx, path)
			if err != nil {
				return err
			}
			if err := st.RecordModelVersion(ctx, mv); err != nil {
				zap.L().Warn("serve: record model version", zap.Error(err))
			}
			return nil
		}

		// The server starts without a bundle; /predict answers 503 until a
		// reload succeeds.
		if err := reload(ctx, cfg.Model.Path); err != nil {
			zap.L().Warn("serve: no model loaded at startup",
				zap.String("path", cfg.Model.Path),
				zap.Error(err),
			)
		}

		if cfg.Model.Watch {
			w := bundle.NewWatcher(cfg.Model.Path, reload)
			go func() {
				if err := w.Run(ctx); err != nil {
					zap.L().Error("serve: model watcher stopped", zap.Error(err))
				}
			}()
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           newAPI(sc, st, reg).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("serve: shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server",
			zap.Int("port", cfg.Server.Port),
			zap.String("store", cfg.Store.Driver),
			zap.Bool("watch", cfg.Model.Watch),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func newAPI(sc *scorer.Scorer, st store.Store, reg *prometheus.Registry) *api.Server {
	return api.New(api.Deps{
		Scorer: sc,
		Store:  st,
		Collector: monitoring.NewCollector(st, func() (string, bool) {
			mv, ok := sc.Active()
			return mv.Version, ok
		}),
		Gatherer:  reg,
		Server:    cfg.Server,
		Train:     cfg.Train,
		ModelPath: cfg.Model.Path,
	})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
