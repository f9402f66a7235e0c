package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newDLQCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and reprocess dead letters",
	}
	cmd.AddCommand(newDLQListCommand(a))
	cmd.AddCommand(newDLQReprocessCommand(a))
	return cmd
}

func newDLQListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list <pattern>",
		Short: "List dead letters of the partition a pattern maps to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.oneShot(cmd)
			defer cancel()
			bus, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer closeBus(bus, cmd.ErrOrStderr())

			records, err := bus.DeadLetters(ctx, args[0])
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No dead letters")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tORIGINAL ID\tSTREAM\tFAILED AT\tERROR")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					r.ID, r.OriginalMessageID, r.OriginalStream,
					r.Timestamp.Format(time.RFC3339), r.Error.Message)
			}
			return tw.Flush()
		},
	}
}

func newDLQReprocessCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reprocess <pattern> <dead-letter-id>",
		Short: "Republish a dead letter to its original stream and remove it from the queue",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.oneShot(cmd)
			defer cancel()
			bus, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer closeBus(bus, cmd.ErrOrStderr())

			id, err := bus.ReprocessDeadLetter(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reprocessed %s as %s\n", args[1], id)
			return nil
		},
	}
}
