package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ashureev/shsh-guard/internal/toolregistry"
)

type rootOptions struct {
	catalogPath string
	pretty      bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "advisorctl",
		Short: "Inspect the security advisor without running the server",
		Long: `advisorctl exercises the analyzer, recommendation engine and tool
catalogue directly.

Available subcommands:
  analyze  - Analyze messages and print recommendations
  catalog  - List the tool catalogue
  insights - Show tool usage insights for a stored session`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.catalogPath, "catalog", os.Getenv("CATALOG_PATH"), "Tool catalogue YAML (default: embedded catalogue)")
	cmd.PersistentFlags().BoolVar(&opts.pretty, "pretty", false, "Indent JSON output")

	cmd.AddCommand(
		newAnalyzeCmd(opts),
		newCatalogCmd(opts),
		newInsightsCmd(opts),
	)
	return cmd
}

func (o *rootOptions) registry() (*toolregistry.Registry, error) {
	if o.catalogPath == "" {
		return toolregistry.Default()
	}
	return toolregistry.LoadFile(o.catalogPath)
}

func (o *rootOptions) writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	if o.pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
