package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ppiankov/nocap/internal/model"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history <session>",
	Short: "Show the verdicts of a session, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

var detectionsCmd = &cobra.Command{
	Use:   "detections",
	Short: "Show recent web-tier detection log entries",
	Args:  cobra.NoArgs,
	RunE:  runDetections,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(detectionsCmd)

	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of records")
	historyCmd.Flags().BoolVar(&jsonOutput, "json", false, "print records as JSON")
	detectionsCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of entries")
	detectionsCmd.Flags().BoolVar(&jsonOutput, "json", false, "print entries as JSON")
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := setup(ctx, false)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	records, err := a.store.FetchSessionHistory(ctx, args[0], historyLimit)
	if err != nil {
		return fmt.Errorf("fetch history: %w", err)
	}
	if jsonOutput {
		if records == nil {
			records = []model.VerificationRecord{}
		}
		return writeIndentedJSON(os.Stdout, records)
	}
	if len(records) == 0 {
		fmt.Fprintf(os.Stderr, "No records for session %s\n", args[0])
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tVERDICT\tCONF\tTIER\tCLAIM")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			r.CreatedAt.Local().Format("2006-01-02 15:04"), r.Verdict, r.Confidence, r.SourceType, truncate(r.Question, 60))
	}
	return tw.Flush()
}

func runDetections(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := setup(ctx, false)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	entries, err := a.store.RecentDetections(ctx, historyLimit)
	if err != nil {
		return fmt.Errorf("fetch detections: %w", err)
	}
	if jsonOutput {
		if entries == nil {
			entries = []model.DetectionLog{}
		}
		return writeIndentedJSON(os.Stdout, entries)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tVERDICT\tCONF\tSOURCES\tCLAIM")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n",
			e.CreatedAt.Local().Format("2006-01-02 15:04"), e.Verdict, e.Confidence, len(e.Evidence), truncate(e.Question, 60))
	}
	return tw.Flush()
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
