package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/networkteam/uiharness/artifact"
	"github.com/networkteam/uiharness/report"
)

var (
	flagReportTitle string
	flagReportLimit int
)

func init() {
	reportCmd.Flags().StringVar(&flagReportTitle, "title", report.DefaultTitle, "title of the report")
	reportCmd.Flags().IntVar(&flagReportLimit, "limit", 200, "maximum number of bundles to list")

	rootCmd.AddCommand(reportCmd)
}

var reportCmd = &cobra.Command{
	Use:   "report [dir]",
	Short: "Write an HTML report of failure bundles",
	Long: `Write index.html into the artifact directory, listing every failure bundle
newest first with its screenshot, console transcript, DOM snapshot and stack trace.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := artifact.DefaultDir
		if len(args) > 0 {
			dir = args[0]
		}

		n, err := report.WriteIndex(cmd.Context(), dir,
			report.WithTitle(flagReportTitle),
			report.WithLimit(flagReportLimit),
		)
		if err != nil {
			return fmt.Errorf("writing report: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s with %d bundles\n", filepath.Join(dir, report.IndexFile), n)
		return nil
	},
}
