package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/seo-optimizer/seoaudit/app"
	"github.com/seo-optimizer/seoaudit/report"
	"github.com/seo-optimizer/seoaudit/scan"
)

// NewScanCmd creates the scan command.
func NewScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan <url>",
		Short: "Audit one page without an account",
		Long: `Scan fetches the page, extracts its on-page signals and prints the score.
Nothing is stored and no quota applies.

Examples:
  seoaudit scan example.com
  seoaudit scan https://example.com/pricing --format json -o report.json`,
		Args: cobra.ExactArgs(1),
		RunE: runScanCmd,
	}
	cmd.Flags().StringP("format", "f", "markdown", "Output format: markdown or json")
	cmd.Flags().StringP("output", "o", "", "Write the report to a file instead of stdout")
	return cmd
}

func runScanCmd(cmd *cobra.Command, args []string) error {
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return err
	}
	if format != "markdown" && format != "json" {
		return fmt.Errorf("unsupported format %q: use markdown or json", format)
	}
	output, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}

	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	svc := scan.NewService(nil, app.NewAnalyzer(cfg), nil, scan.Options{Logger: logger})
	analysis, err := svc.Preview(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	doc := report.FromAnalysis(analysis, time.Now())

	var w io.Writer = cmd.OutOrStdout()
	if output != "" {
		if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if format == "json" {
		return report.WriteJSON(w, doc)
	}
	return report.WriteMarkdown(w, doc)
}
