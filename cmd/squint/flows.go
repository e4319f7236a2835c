package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"squint/internal/export"
)

var (
	exportOutput string
	exportGaps   bool
	exportTests  bool
	exportText   bool
)

var flowsCmd = &cobra.Command{
	Use:   "flows",
	Short: "Work with traced flows",
}

var flowsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export modules, interactions, flows and features",
	Long: `Writes the derived graph as YAML. Output paths ending in .zst are
zstd-compressed.

Examples:
  squint flows export
  squint flows export --output graph.yaml.zst --gaps
  squint flows export --text`,
	Args: cobra.NoArgs,
	Run:  runFlowsExport,
}

func init() {
	flowsExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Write to file instead of stdout")
	flowsExportCmd.Flags().BoolVar(&exportGaps, "gaps", false, "Include gap flows")
	flowsExportCmd.Flags().BoolVar(&exportTests, "tests", false, "Include test modules")
	flowsExportCmd.Flags().BoolVar(&exportText, "text", false, "Render a markdown overview instead of YAML")
	flowsCmd.AddCommand(flowsExportCmd)
	rootCmd.AddCommand(flowsCmd)
}

func runFlowsExport(cmd *cobra.Command, args []string) {
	env := mustSetup()
	db := env.mustOpen(true)
	defer db.Close()

	graph, err := export.NewExporter(env.logger).Export(db.Conn(), export.ExportOptions{
		RepoRoot:        env.root,
		IncludeGapFlows: exportGaps,
		IncludeTests:    exportTests,
	})
	if err != nil {
		fail(err)
	}

	switch {
	case exportOutput != "":
		if err := export.WriteFile(exportOutput, graph); err != nil {
			fail(err)
		}
		fmt.Fprintf(os.Stderr, "Exported %d flows to %s\n", graph.Metadata.FlowCount, exportOutput)
	case exportText:
		fmt.Print(export.FormatText(graph))
	case OutputFormat(formatFlag) == FormatJSON:
		printResponse(graph)
	default:
		if err := export.Write(os.Stdout, graph); err != nil {
			fail(err)
		}
	}
}
