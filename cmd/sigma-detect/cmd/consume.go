package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/PhucNguyen204/sigma-detect/internal/endpoints"
	inputkafka "github.com/PhucNguyen204/sigma-detect/internal/input/kafka"
	inputredis "github.com/PhucNguyen204/sigma-detect/internal/input/redis"
	"github.com/PhucNguyen204/sigma-detect/internal/logger"
	"github.com/PhucNguyen204/sigma-detect/internal/pipeline"
)

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Evaluate events from a Redis list or Kafka topic",
	RunE:  runConsume,
}

func init() {
	rootCmd.AddCommand(consumeCmd)
	consumeCmd.Flags().String("mode", "", "input mode: redis or kafka (overrides input.mode)")
	consumeCmd.Flags().String("metrics-addr", "", "serve /metrics on this address when set")
}

func newSource() (pipeline.Source, error) {
	switch cfg.Input.Mode {
	case "redis":
		r := cfg.Input.Redis
		return inputredis.NewConsumer(inputredis.Config{
			Addr:         r.Addr,
			Password:     r.Password,
			DB:           r.DB,
			Key:          r.Key,
			BlockTimeout: r.BlockTimeout,
		})
	case "kafka":
		k := cfg.Input.Kafka
		return inputkafka.NewConsumer(inputkafka.Config{
			Brokers:   k.Brokers,
			Topic:     k.Topic,
			Group:     k.Group,
			FromStart: k.FromStart,
		})
	}
	return nil, fmt.Errorf("unknown input mode %q", cfg.Input.Mode)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// checkSource fails fast when the input can report its connectivity.
func checkSource(ctx context.Context, src pipeline.Source) error {
	p, ok := src.(pinger)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		return fmt.Errorf("input %s unreachable: %w", cfg.Input.Mode, err)
	}
	return nil
}

func runConsume(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cmd.Flags().Changed("mode") {
		cfg.Input.Mode, _ = cmd.Flags().GetString("mode")
	}

	reg, metrics := newRegistry()
	rs, _, err := loadRuleset(metrics)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}

	src, err := newSource()
	if err != nil {
		return err
	}
	if err := checkSource(ctx, src); err != nil {
		_ = src.Close()
		return err
	}

	var sink pipeline.Sink
	st, err := openStore(ctx)
	if err != nil {
		_ = src.Close()
		return err
	}
	if st != nil {
		defer st.Close()
		sink = st
	}

	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		msrv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := msrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf("Metrics server: %v", err)
			}
		}()
		defer msrv.Close()
	}

	p := pipeline.New(src, rs.Engine, sink, pipeline.Options{
		Workers:       cfg.Pipeline.Workers,
		BatchSize:     cfg.Pipeline.BatchSize,
		FlushInterval: cfg.Pipeline.FlushInterval,
		Endpoints:     endpoints.New(24 * time.Hour),
	})
	defer func() {
		if err := p.Close(); err != nil {
			logger.Errorf("Failed to close input: %v", err)
		}
	}()

	logger.Infof("Consuming from %s", cfg.Input.Mode)
	if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
