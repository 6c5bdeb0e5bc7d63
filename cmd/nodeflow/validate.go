package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rendis/nodeflow/pkg/schema"
)

var errValidationFailed = errors.New("validation failed")

var validateCmd = &cobra.Command{
	Use:   "validate <workflow-id | file>",
	Short: "Check a workflow definition without running it",
	Long: `Reports structural errors, unknown node types, missing tools, broken edges and
graph warnings (unreachable nodes, cycles without a condition, ignored edges).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		return withApp(cmd, func(a *app) error {
			var wf *schema.Workflow
			if isDefinitionFile(args[0]) {
				loaded, err := loadWorkflowFile(args[0])
				if err != nil {
					return err
				}
				wf = loaded
			} else {
				stored, err := a.store.GetWorkflow(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				wf = &stored.Workflow
			}

			vr := a.validator.Validate(cmd.Context(), wf)
			out := cmd.OutOrStdout()
			if asJSON {
				if err := printJSON(out, vr); err != nil {
					return err
				}
			} else {
				printIssues(out, vr)
			}
			if !vr.Valid() {
				return fmt.Errorf("%w: %d errors", errValidationFailed, len(vr.Errors))
			}
			return nil
		})
	},
}

func init() {
	validateCmd.Flags().Bool("json", false, "print the issues as JSON")
	rootCmd.AddCommand(validateCmd)
}

func printIssues(w io.Writer, vr *schema.ValidationResult) {
	for _, e := range vr.Errors {
		fmt.Fprintf(w, "error   %s: %s (%s)\n", e.Path, e.Message, e.Code)
	}
	for _, e := range vr.Warnings {
		fmt.Fprintf(w, "warning %s: %s\n", e.Path, e.Message)
	}
	if vr.Valid() {
		fmt.Fprintf(w, "workflow is valid (%d warnings)\n", len(vr.Warnings))
	}
}
