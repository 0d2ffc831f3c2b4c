package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newWorkflowsCommand(ctx *commandContext) *cobra.Command {
	workflowsCmd := &cobra.Command{
		Use:   "workflows",
		Short: "Inspect and control generation workflows",
	}
	workflowsCmd.AddCommand(newWorkflowsListCommand(ctx))
	workflowsCmd.AddCommand(newWorkflowsShowCommand(ctx))
	workflowsCmd.AddCommand(newWorkflowsResumeCommand(ctx))
	return workflowsCmd
}

func newWorkflowsListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list <script-id>",
		Short: "List a script's workflows, most recent first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			workflows, err := client.ListWorkflows(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(workflows) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No workflows")
				return nil
			}

			rows := make([][]string, 0, len(workflows))
			for _, wf := range workflows {
				rows = append(rows, []string{
					wf.ID,
					wf.Title,
					wf.ProjectKind,
					wf.Status,
					fmt.Sprintf("%d/%d", wf.CurrentStepIndex, len(wf.Steps)),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Title", "Kind", "Status", "Step"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
			))
			return nil
		},
	}
}

func newWorkflowsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <workflow-id>",
		Short: "Show one workflow with its steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			wf, err := client.GetWorkflow(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Workflow: %s\n", wf.ID)
			fmt.Fprintf(out, "Script:   %s\n", wf.ScriptID)
			fmt.Fprintf(out, "Title:    %s\n", wf.Title)
			fmt.Fprintf(out, "Kind:     %s\n", wf.ProjectKind)
			fmt.Fprintf(out, "Status:   %s\n", wf.Status)
			if wf.Error != "" {
				fmt.Fprintf(out, "Error:    %s\n", wf.Error)
			}

			rows := make([][]string, 0, len(wf.Steps))
			for i, step := range wf.Steps {
				detail := ""
				if step.Error != "" {
					detail = step.Error
				}
				rows = append(rows, []string{
					strconv.Itoa(i + 1),
					step.DisplayName,
					step.Status,
					strconv.Itoa(step.Progress) + "%",
					detail,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"#", "Step", "Status", "Progress", "Detail"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
}

func newWorkflowsResumeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <script-id>",
		Short: "Resume pipeline execution for a script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			resp, err := client.ResumeWorkflow(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Resumed workflow %s for script %s\n", resp.WorkflowID, resp.ScriptID)
			return nil
		},
	}
}
