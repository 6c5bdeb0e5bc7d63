package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rendis/nodeflow/internal/diagram"
	"github.com/rendis/nodeflow/pkg/schema"
)

var workflowDiagramCmd = &cobra.Command{
	Use:   "diagram <workflow-id | file>",
	Short: "Render a workflow graph",
	Long: `Renders a stored workflow or a definition file as Mermaid, ASCII, PNG or SVG.
With --execution the nodes a recorded run entered are colored by outcome.
PNG output needs --output; the other formats go to stdout unless --output is set.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		execID, _ := cmd.Flags().GetString("execution")
		output, _ := cmd.Flags().GetString("output")

		if format == string(diagram.ImagePNG) && output == "" {
			return fmt.Errorf("--output is required for png")
		}

		return withApp(cmd, func(a *app) error {
			ctx := cmd.Context()

			var wf *schema.Workflow
			if isDefinitionFile(args[0]) {
				loaded, err := loadWorkflowFile(args[0])
				if err != nil {
					return err
				}
				wf = loaded
			} else {
				rec, err := a.store.GetWorkflow(ctx, args[0])
				if err != nil {
					return err
				}
				wf = &rec.Workflow
			}

			var runLog []schema.LogEntry
			if execID != "" {
				exec, err := a.store.GetExecution(ctx, execID)
				if err != nil {
					return err
				}
				if exec.WorkflowID != wf.ID {
					return fmt.Errorf("execution %s belongs to workflow %s, not %s", execID, exec.WorkflowID, wf.ID)
				}
				runLog = exec.Logs
				if runLog == nil {
					runLog = []schema.LogEntry{}
				}
			}

			model, err := diagram.Build(wf, runLog)
			if err != nil {
				return err
			}

			var data []byte
			switch format {
			case "mermaid":
				data = []byte(diagram.RenderMermaid(model))
			case "ascii":
				data = []byte(diagram.RenderASCII(model))
			case string(diagram.ImagePNG), string(diagram.ImageSVG):
				data, err = diagram.RenderImage(ctx, model, diagram.ImageFormat(format))
				if err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown format %q (mermaid, ascii, png, svg)", format)
			}

			if output == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", output)
			return nil
		})
	},
}

func init() {
	workflowDiagramCmd.Flags().StringP("format", "f", "ascii", "output format: mermaid, ascii, png or svg")
	workflowDiagramCmd.Flags().String("execution", "", "color nodes by the outcome of a recorded execution")
	workflowDiagramCmd.Flags().StringP("output", "o", "", "write to a file instead of stdout")

	workflowCmd.AddCommand(workflowDiagramCmd)
}
