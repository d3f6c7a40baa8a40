package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ashureev/shsh-guard/internal/toolregistry"
)

func newCatalogCmd(root *rootOptions) *cobra.Command {
	var (
		category string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List the tool catalogue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := root.registry()
			if err != nil {
				return fmt.Errorf("load catalogue: %w", err)
			}

			tools := make([]toolregistry.ToolDescriptor, 0, reg.Len())
			for _, t := range reg.All() {
				if category != "" && !strings.EqualFold(t.Category, category) {
					continue
				}
				tools = append(tools, t)
			}

			if asJSON {
				return root.writeJSON(cmd.OutOrStdout(), tools)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tNAME\tCATEGORY\tCOMPLEXITY\tIMPACT")
			for _, t := range tools {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", t.Key, t.DisplayName, t.Category, t.Complexity, t.SecurityImpact)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVarP(&category, "category", "c", "", "Only list tools in this category")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}
