package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("daemon unreachable: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Daemon:            running (pid %d)\n", status.PID)
			fmt.Fprintf(out, "Uptime:            %s\n", time.Since(status.StartedAt).Round(time.Second))
			fmt.Fprintf(out, "Database:          %s\n", status.DatabasePath)
			fmt.Fprintf(out, "Active jobs:       %d\n", status.ActiveJobs)
			fmt.Fprintf(out, "Running workflows: %d\n", status.RunningWorkflows)
			fmt.Fprintf(out, "Event subscribers: %d\n", status.Subscribers)
			return nil
		},
	}
}
