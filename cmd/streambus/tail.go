package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/klikkai/streambus"
	"github.com/klikkai/streambus/observer/prom"
)

func newTailCommand(a *app) *cobra.Command {
	var (
		group       string
		metricsAddr string
		maxEvents   int
		fail        bool
	)
	cmd := &cobra.Command{
		Use:   "tail <pattern>",
		Short: "Consume a pattern and print each event as a JSON line",
		Long: `Subscribe to a pattern through the configured consumer group and print
every delivered event as one JSON line. Patterns are exact types, "prefix.*"
or "*" for every event.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg := a.cfg.Bus()
			if group != "" {
				cfg.Consumer.Group = group
			}
			if metricsAddr == "" {
				metricsAddr = a.cfg.Metrics.Addr
			}

			var obs []streambus.Observer
			var srv *http.Server
			if metricsAddr != "" {
				reg := prometheus.NewRegistry()
				reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
				obs = append(obs, prom.New(reg, a.cfg.Metrics.Namespace))
				srv = serveMetrics(a, metricsAddr, reg)
				defer shutdownMetrics(srv)
			}

			bus, err := a.newBus(a, cfg, obs...)
			if err != nil {
				return fmt.Errorf("failed to build bus: %w", err)
			}
			defer closeBus(bus, cmd.ErrOrStderr())
			if err := bus.Connect(ctx); err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			out := newLineWriter(cmd)
			seen := 0
			var mu sync.Mutex
			_, err = bus.Subscribe(ctx, args[0], func(_ context.Context, evt *streambus.Event) error {
				if fail {
					return fmt.Errorf("tail: rejected %s", evt.ID)
				}
				if err := out.write(evt); err != nil {
					return err
				}
				mu.Lock()
				defer mu.Unlock()
				seen++
				if maxEvents > 0 && seen >= maxEvents {
					cancel()
				}
				return nil
			})
			if err != nil {
				return err
			}
			a.logger.Info().Str("pattern", args[0]).Str("group", cfg.Consumer.Group).Msg("tailing")

			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&group, "group", "", "Consumer group (defaults to the configured group)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	cmd.Flags().IntVar(&maxEvents, "max", 0, "Exit after this many events (0 means run until interrupted)")
	cmd.Flags().BoolVar(&fail, "fail", false, "Fail every event to exercise retries and the dead letter queue")
	return cmd
}

type lineWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newLineWriter(cmd *cobra.Command) *lineWriter {
	return &lineWriter{enc: json.NewEncoder(cmd.OutOrStdout())}
}

func (w *lineWriter) write(evt *streambus.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(evt)
}

func serveMetrics(a *app, addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
		}
	}()
	return srv
}

func shutdownMetrics(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
