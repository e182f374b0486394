package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/nocap/internal/model"
)

var ingestIndex string

var ingestCmd = &cobra.Command{
	Use:   "ingest <file|url>...",
	Short: "Add reference content to an index",
	Long: `Ingest chunks, embeds and indexes reference content.

Files go to the document index and URLs to the web index unless --index
is given. Content already ingested is skipped.

Example:
  nocap ingest handbook.txt
  nocap ingest https://www.who.int/news-room/fact-sheets/detail/measles`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

var reindexCmd = &cobra.Command{
	Use:   "reindex [index]",
	Short: "Rebuild vector indices from the content store",
	Long: `Reindex reconstructs the vector index files from the chunks held in the
content store, which is authoritative. Without an argument both indices
are rebuilt.`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{string(model.IndexWeb), string(model.IndexDocument)},
	RunE:      runReindex,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(reindexCmd)

	ingestCmd.Flags().StringVar(&ingestIndex, "index", "", "target index: web or document")
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// targetIndex picks the index for one ingest argument
func targetIndex(arg, override string) (model.IndexName, error) {
	if override != "" {
		name := model.IndexName(override)
		if !name.Valid() {
			return "", fmt.Errorf("unknown index: %q", override)
		}
		return name, nil
	}
	if isURL(arg) {
		return model.IndexWeb, nil
	}
	return model.IndexDocument, nil
}

func runIngest(cmd *cobra.Command, args []string) (err error) {
	ctx := context.Background()

	a, err := setup(ctx, false)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	failed := 0
	for _, arg := range args {
		index, err := targetIndex(arg, ingestIndex)
		if err != nil {
			return err
		}

		var text string
		if isURL(arg) {
			text, err = a.gatherer.Fetch(ctx, arg)
		} else {
			var raw []byte
			raw, err = os.ReadFile(arg)
			text = string(raw)
		}
		if err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", arg, err)
			continue
		}

		res, err := a.engine.AddContent(ctx, index, text, arg)
		if err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", arg, err)
			continue
		}
		fmt.Fprintf(os.Stderr, "✓ %s: %s, %d chunks (%s index)\n", arg, res.Status, res.Chunks, index)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d inputs failed", failed, len(args))
	}
	return nil
}

func runReindex(cmd *cobra.Command, args []string) (err error) {
	ctx := context.Background()

	names := model.Indices()
	if len(args) == 1 {
		name := model.IndexName(args[0])
		if !name.Valid() {
			return fmt.Errorf("unknown index: %q", args[0])
		}
		names = []model.IndexName{name}
	}

	a, err := setup(ctx, false)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	for _, name := range names {
		if err := a.engine.Rebuild(ctx, name); err != nil {
			return fmt.Errorf("rebuild %s: %w", name, err)
		}
	}

	for name, n := range a.engine.Stats() {
		fmt.Fprintf(os.Stderr, "✓ %s: %d vectors\n", name, n)
	}
	return nil
}
