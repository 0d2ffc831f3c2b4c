package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"sceneforge/internal/jobs"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and control generation jobs",
	}
	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	jobsCmd.AddCommand(newJobsCancelCommand(ctx))
	jobsCmd.AddCommand(newJobsClearCommand(ctx))
	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List jobs, most recent first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			list, err := client.ListJobs(cmd.Context())
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
				return nil
			}

			rows := make([][]string, 0, len(list))
			for _, job := range list {
				rows = append(rows, []string{
					job.ID,
					job.ScriptID,
					string(job.Type),
					string(job.Status),
					fmt.Sprintf("%d/%d", job.Progress.Completed, job.Progress.Total),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Script", "Type", "Status", "Progress"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
			))
			return nil
		},
	}
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job with its items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			job, err := client.GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Job:      %s\n", job.ID)
			fmt.Fprintf(out, "Script:   %s\n", job.ScriptID)
			fmt.Fprintf(out, "Type:     %s\n", job.Type)
			fmt.Fprintf(out, "Status:   %s\n", job.Status)
			fmt.Fprintf(out, "Progress: %d/%d\n", job.Progress.Completed, job.Progress.Total)
			if job.Error != "" {
				fmt.Fprintf(out, "Error:    %s\n", job.Error)
			}

			rows := make([][]string, 0, len(job.Items))
			for _, item := range job.Items {
				rows = append(rows, []string{
					strconv.Itoa(item.Index),
					item.SceneID,
					itemOutcome(item),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"#", "Scene", "Outcome"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}
}

func itemOutcome(item jobs.Item) string {
	switch {
	case item.Error != "":
		return "error: " + item.Error
	case item.ResultURL != "":
		return item.ResultURL
	default:
		return "pending"
	}
}

func newJobsCancelCommand(ctx *commandContext) *cobra.Command {
	var script bool
	cmd := &cobra.Command{
		Use:   "cancel <job-id | script-id>",
		Short: "Cancel a job, or all jobs for a script with --script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if script {
				count, err := client.CancelScript(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Cancellation requested for %d job(s)\n", count)
				return nil
			}
			cancelled, err := client.CancelJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if cancelled {
				fmt.Fprintln(out, "Cancellation requested")
			} else {
				fmt.Fprintln(out, "Job not found or already finished")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&script, "script", false, "Treat the argument as a script id and cancel all of its jobs")
	return cmd
}

func newJobsClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove finished jobs from the registry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			removed, err := client.ClearCompleted(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d job(s)\n", removed)
			return nil
		},
	}
}
