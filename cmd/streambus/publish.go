package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/klikkai/streambus"
)

func newPublishCommand(a *app) *cobra.Command {
	var (
		correlationID string
		stream        string
		meta          []string
	)
	cmd := &cobra.Command{
		Use:   "publish <event-type> <json-data>",
		Short: "Publish one event",
		Long: `Publish one event. The data argument must be valid JSON and is embedded
in the envelope as is.

Example:
  streambus publish order.created '{"id":42}' --meta source=cli`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !json.Valid([]byte(args[1])) {
				return fmt.Errorf("data is not valid JSON: %s", args[1])
			}
			metadata, err := parseMeta(meta)
			if err != nil {
				return err
			}

			ctx, cancel := a.oneShot(cmd)
			defer cancel()
			bus, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer closeBus(bus, cmd.ErrOrStderr())

			opts := []streambus.PublishOption{streambus.WithMetadata(metadata)}
			if correlationID != "" {
				opts = append(opts, streambus.WithCorrelationID(correlationID))
			}
			if stream != "" {
				opts = append(opts, streambus.WithStream(stream))
			}
			id, err := bus.Publish(ctx, args[0], json.RawMessage(args[1]), opts...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVar(&correlationID, "correlation-id", "", "Correlation id (generated when empty)")
	cmd.Flags().StringVar(&stream, "stream", "", "Explicit stream key instead of the derived one")
	cmd.Flags().StringArrayVar(&meta, "meta", nil, "Metadata as key=value (repeatable)")
	return cmd
}

func parseMeta(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid metadata %q, expected key=value", p)
		}
		out[k] = v
	}
	return out, nil
}
