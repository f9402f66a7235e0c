package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newHealthCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check connectivity to the store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := a.oneShot(cmd)
			defer cancel()
			bus, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer closeBus(bus, cmd.ErrOrStderr())

			h := bus.HealthCheck(ctx)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Status: %s\n", h.Status)
			fmt.Fprintf(out, "Connected: %t\n", h.Connected)
			fmt.Fprintf(out, "Consumer: %s\n", bus.ConsumerName())
			if h.Message != "" {
				fmt.Fprintf(out, "Message: %s\n", h.Message)
			}
			if h.Status == "unhealthy" {
				return fmt.Errorf("bus is unhealthy")
			}
			return nil
		},
	}
}
