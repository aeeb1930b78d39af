package cmd

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
	"github.com/spf13/cobra"

	"github.com/PhucNguyen204/sigma-detect/internal/endpoints"
	"github.com/PhucNguyen204/sigma-detect/internal/logger"
	"github.com/PhucNguyen204/sigma-detect/internal/server"
	"github.com/PhucNguyen204/sigma-detect/internal/store"
	"github.com/PhucNguyen204/sigma-detect/pkg/engine"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the ingest, rules and condition API over HTTP",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "listen address (overrides server.addr)")
}

func newRegistry() (*prometheus.Registry, *engine.Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg, engine.NewMetrics(reg)
}

// openStore returns nil when the database is disabled.
func openStore(ctx context.Context) (*store.Store, error) {
	if !cfg.Database.Enabled {
		return nil, nil
	}
	st, err := store.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.Database.Migrations != "" {
		err = st.RunMigrations(ctx, cfg.Database.Migrations)
	} else {
		err = st.EnsureSchema(ctx)
	}
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return st, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cmd.Flags().Changed("addr") {
		cfg.Server.Addr, _ = cmd.Flags().GetString("addr")
	}

	reg, metrics := newRegistry()
	rs, fm, err := loadRuleset(metrics)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	srvCfg := server.Config{
		FieldMapping:  fm,
		EngineOptions: engineOptions(metrics),
		Endpoints:     endpoints.New(24 * time.Hour),
		Gatherer:      reg,
	}
	if st != nil {
		defer st.Close()
		srvCfg.Store = st
	}
	app := server.NewAppServer(rs.Engine, rs.Skipped, srvCfg)

	go func() {
		t := time.NewTicker(time.Hour)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n := srvCfg.Endpoints.Cleanup(0); n > 0 {
					logger.Infof("Removed %d stale endpoints", n)
				}
			}
		}
	}()

	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           app.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("sigma-detect listening on %s", cfg.Server.Addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Infof("Shutting down HTTP server")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(sctx)
}
