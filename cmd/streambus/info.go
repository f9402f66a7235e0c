package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/klikkai/streambus"
)

func newInfoCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info <pattern>",
		Short: "Show partition, consumer group and pending details for a pattern",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.oneShot(cmd)
			defer cancel()
			bus, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer closeBus(bus, cmd.ErrOrStderr())

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Stream: %s\n", bus.StreamKey(args[0]))
			info, err := bus.StreamInfo(ctx, args[0])
			if errors.Is(err, streambus.ErrNotFound) {
				fmt.Fprintln(out, "Stream does not exist yet")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Length: %d\n", info.Length)
			fmt.Fprintf(out, "First entry: %s\n", info.FirstEntryID)
			fmt.Fprintf(out, "Last entry: %s\n", info.LastEntryID)

			groups, err := bus.ConsumerGroups(ctx, args[0])
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "GROUP\tCONSUMERS\tPENDING\tLAG\tLAST DELIVERED")
			for _, g := range groups {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\n", g.Name, g.Consumers, g.Pending, g.Lag, g.LastDeliveredID)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			pending, err := bus.PendingMessages(ctx, args[0])
			if errors.Is(err, streambus.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Pending in %s: %d\n", bus.Config().Consumer.Group, pending.Count)
			for _, p := range pending.Entries {
				fmt.Fprintf(out, "  %s consumer=%s idle=%s deliveries=%d\n", p.ID, p.Consumer, p.Idle, p.DeliveryCount)
			}
			return nil
		},
	}
}
