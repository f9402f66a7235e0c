package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xlog/adapter/zerolog"

	"github.com/klikkai/streambus"
	"github.com/klikkai/streambus/adapter/redisstream"
	"github.com/klikkai/streambus/internal/config"
)

// app holds state shared by all subcommands.
type app struct {
	configPath string
	debug      bool
	timeout    time.Duration

	cfg    *config.Config
	logger *xlog.Logger

	// newBus builds an unconnected bus. Replaced in tests.
	newBus func(a *app, cfg streambus.Config, obs ...streambus.Observer) (*streambus.Bus, error)
}

func main() {
	if err := newRootCommand(&app{newBus: redisBus}).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "streambus",
		Short: "Publish, tail and inspect streambus event streams",
		Long: `streambus is a command line client for the streambus event bus on Redis Streams.
It publishes events, tails a pattern through a consumer group, and inspects
partitions, pending entries and dead letters.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.init,
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to a YAML config file (STREAMBUS_* env vars override it)")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", 10*time.Second, "Timeout for one-shot commands")

	root.AddCommand(newPublishCommand(a))
	root.AddCommand(newTailCommand(a))
	root.AddCommand(newDLQCommand(a))
	root.AddCommand(newInfoCommand(a))
	root.AddCommand(newHealthCommand(a))
	return root
}

func (a *app) init(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	level := logLevel(cfg.Log.Level)
	if a.debug {
		level = xlog.LevelDebug
	}
	a.logger = zerolog.Use(zerolog.Config{
		MinLevel:          level,
		Console:           cfg.Log.Console,
		ConsoleTimeFormat: time.RFC3339,
		Writer:            cmd.ErrOrStderr(),
	}).With(xlog.Str("app", "streambus-cli"))
	return nil
}

func logLevel(s string) xlog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return xlog.LevelDebug
	case "warn", "warning":
		return xlog.LevelWarn
	case "error":
		return xlog.LevelError
	default:
		return xlog.LevelInfo
	}
}

func redisBus(a *app, cfg streambus.Config, obs ...streambus.Observer) (*streambus.Bus, error) {
	return streambus.NewBusBuilder().
		WithConfig(cfg).
		WithStore(redisstream.StoreName, nil).
		WithLogger(a.logger).
		WithObserver(obs...).
		Build()
}

// connect builds a bus from the loaded config and connects it.
func (a *app) connect(ctx context.Context, obs ...streambus.Observer) (*streambus.Bus, error) {
	bus, err := a.newBus(a, a.cfg.Bus(), obs...)
	if err != nil {
		return nil, fmt.Errorf("failed to build bus: %w", err)
	}
	if err := bus.Connect(ctx); err != nil {
		_ = bus.Disconnect(context.Background())
		return nil, err
	}
	return bus, nil
}

func (a *app) oneShot(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), a.timeout)
}

func closeBus(bus *streambus.Bus, w io.Writer) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := bus.Disconnect(ctx); err != nil {
		fmt.Fprintf(w, "disconnect: %v\n", err)
	}
}
