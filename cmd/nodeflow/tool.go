package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/pkg/schema"
)

var toolCmd = &cobra.Command{
	Use:   "tool",
	Short: "Manage the tool catalogue",
}

var toolImportCmd = &cobra.Command{
	Use:   "import <file>...",
	Short: "Store tool definitions from YAML or JSON files",
	Long: `Each file holds one tool definition, a list of them, or a document with a
top-level "tools" list. Every definition is validated and its code compiled
before it is stored. Existing tools are replaced only with --replace.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		replace, _ := cmd.Flags().GetBool("replace")

		return withApp(cmd, func(a *app) error {
			ctx := cmd.Context()
			for _, path := range args {
				defs, err := loadToolsFile(path)
				if err != nil {
					return err
				}
				for _, def := range defs {
					if vr := a.validator.CheckTool(def); !vr.Valid() {
						printIssues(cmd.ErrOrStderr(), vr)
						return fmt.Errorf("%s: tool %q: %w", path, def.ID, errValidationFailed)
					}
					err := a.store.CreateTool(ctx, def)
					if schema.IsCode(err, schema.ErrCodeConflict) && replace {
						err = a.store.UpdateTool(ctx, def)
					}
					if err != nil {
						return err
					}
					a.tools.Invalidate(def.ID)
					fmt.Fprintf(cmd.OutOrStdout(), "imported tool %s (%s)\n", def.ID, def.EffectiveRuntime())
				}
			}
			return nil
		})
	},
}

var toolListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored tools",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		category, _ := cmd.Flags().GetString("category")

		return withApp(cmd, func(a *app) error {
			defs, err := a.store.ListTools(cmd.Context(), store.ToolFilter{Category: category})
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tCATEGORY\tRUNTIME\tPARAMETERS")
			for _, d := range defs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", d.ID, d.Name, d.Category, d.EffectiveRuntime(), len(d.Parameters))
			}
			return tw.Flush()
		})
	},
}

var toolDeleteCmd = &cobra.Command{
	Use:   "delete <tool-id>...",
	Short: "Delete stored tools",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			for _, id := range args {
				if err := a.store.DeleteTool(cmd.Context(), id); err != nil {
					return err
				}
				a.tools.Invalidate(id)
				fmt.Fprintf(cmd.OutOrStdout(), "deleted tool %s\n", id)
			}
			return nil
		})
	},
}

func init() {
	toolImportCmd.Flags().Bool("replace", false, "replace tools that already exist")
	toolListCmd.Flags().String("category", "", "only list tools in this category")

	toolCmd.AddCommand(toolImportCmd, toolListCmd, toolDeleteCmd)
	rootCmd.AddCommand(toolCmd)
}
