package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rendis/nodeflow/pkg/schema"
)

var runCmd = &cobra.Command{
	Use:   "run <workflow-id | file>",
	Short: "Execute a workflow",
	Long: `Executes a stored workflow by ID, recording the run in the execution history,
or a workflow definition file (YAML or JSON, "-" for stdin), which is not recorded.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rawInput, _ := cmd.Flags().GetString("input")
		asJSON, _ := cmd.Flags().GetBool("json")

		input, err := parseInput(rawInput)
		if err != nil {
			return err
		}

		return withApp(cmd, func(a *app) error {
			var (
				res    *schema.ExecutionResult
				runErr error
			)
			if isDefinitionFile(args[0]) {
				wf, err := loadWorkflowFile(args[0])
				if err != nil {
					return err
				}
				res, runErr = a.runner.RunDefinition(cmd.Context(), wf, input)
			} else {
				res, runErr = a.runner.Run(cmd.Context(), args[0], input)
			}
			if res == nil {
				return runErr
			}

			out := cmd.OutOrStdout()
			if asJSON {
				if err := printJSON(out, res); err != nil {
					return err
				}
			} else if err := printRun(out, res); err != nil {
				return err
			}
			return runErr
		})
	},
}

func init() {
	runCmd.Flags().StringP("input", "i", "", "input payload as a JSON/YAML object, or @file")
	runCmd.Flags().Bool("json", false, "print the full execution result as JSON")
	rootCmd.AddCommand(runCmd)
}

func isDefinitionFile(arg string) bool {
	if arg == "-" {
		return true
	}
	info, err := os.Stat(arg)
	return err == nil && !info.IsDir()
}

func printRun(w io.Writer, res *schema.ExecutionResult) error {
	fmt.Fprintf(w, "run %s: %s (%s)\n", res.RunID, res.Status, res.CompletedAt.Sub(res.StartedAt).Round(time.Millisecond))
	for _, e := range res.Log {
		line := fmt.Sprintf("  %-7s %s", e.Level, e.Message)
		if e.NodeID != "" {
			line += " [" + e.NodeID + "]"
		}
		fmt.Fprintln(w, line)
		if e.Detail != "" {
			for _, d := range strings.Split(strings.TrimRight(e.Detail, "\n"), "\n") {
				fmt.Fprintln(w, "          "+d)
			}
		}
	}
	if res.Status != schema.ExecutionStatusCompleted {
		return nil
	}
	fmt.Fprintln(w, "output:")
	return printJSON(w, res.Output)
}

// exitCodeFor maps a run error to a process exit code.
func exitCodeFor(err error) int {
	if fe, ok := schema.AsFlowError(err); ok && fe.Code == schema.ErrCodeValidation {
		return 2
	}
	if errors.Is(err, errValidationFailed) {
		return 2
	}
	return 1
}
