package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/pkg/schema"
)

var workflowCmd = &cobra.Command{
	Use:     "workflow",
	Aliases: []string{"wf"},
	Short:   "Manage stored workflows",
}

var workflowImportCmd = &cobra.Command{
	Use:   "import <file>...",
	Short: "Store workflow definition files (YAML or JSON)",
	Long: `Validates and stores each definition. A definition without an id gets a
generated one. An existing workflow with the same id is replaced only with --replace.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		replace, _ := cmd.Flags().GetBool("replace")
		force, _ := cmd.Flags().GetBool("force")

		return withApp(cmd, func(a *app) error {
			ctx := cmd.Context()
			for _, path := range args {
				wf, err := loadWorkflowFile(path)
				if err != nil {
					return err
				}
				if wf.ID == "" {
					wf.ID = uuid.NewString()
				}
				if wf.Name == "" {
					wf.Name = wf.ID
				}

				vr := a.validator.Validate(ctx, wf)
				if !vr.Valid() && !force {
					printIssues(cmd.ErrOrStderr(), vr)
					return fmt.Errorf("%s: %w", path, errValidationFailed)
				}

				rec := &store.Workflow{Workflow: *wf}
				err = a.store.CreateWorkflow(ctx, rec)
				if schema.IsCode(err, schema.ErrCodeConflict) && replace {
					err = a.store.UpdateWorkflow(ctx, rec)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %s (%s), %d warnings\n", rec.ID, rec.Name, len(vr.Warnings))
			}
			return nil
		})
	},
}

var workflowListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored workflows",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		return withApp(cmd, func(a *app) error {
			wfs, err := a.store.ListWorkflows(cmd.Context(), store.WorkflowFilter{Limit: limit, Offset: offset})
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tNODES\tUPDATED")
			for _, wf := range wfs {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", wf.ID, wf.Name, len(wf.Nodes), wf.UpdatedAt.Local().Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		})
	},
}

var workflowShowCmd = &cobra.Command{
	Use:   "show <workflow-id>",
	Short: "Print a stored workflow definition as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			wf, err := a.store.GetWorkflow(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), wf)
		})
	},
}

var workflowDeleteCmd = &cobra.Command{
	Use:   "delete <workflow-id>...",
	Short: "Delete stored workflows and their execution history",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			for _, id := range args {
				if err := a.store.DeleteWorkflow(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
			}
			return nil
		})
	},
}

func init() {
	workflowImportCmd.Flags().Bool("replace", false, "replace workflows that already exist")
	workflowImportCmd.Flags().Bool("force", false, "store definitions even when validation reports errors")
	workflowListCmd.Flags().Int("limit", 50, "maximum number of workflows")
	workflowListCmd.Flags().Int("offset", 0, "number of workflows to skip")

	workflowCmd.AddCommand(workflowImportCmd, workflowListCmd, workflowShowCmd, workflowDeleteCmd)
	rootCmd.AddCommand(workflowCmd)
}
