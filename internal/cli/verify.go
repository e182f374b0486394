package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/nocap/internal/model"
	"github.com/ppiankov/nocap/internal/verify"
)

var (
	sessionID  string
	sourceURL  string
	jsonOutput bool
)

var verifyCmd = &cobra.Command{
	Use:   "verify <claim>",
	Short: "Verify a single claim",
	Long: `Verify a claim through the cache, retrieval and web tiers.

Example:
  nocap verify "The moon landing was faked"
  nocap verify "Vaccines cause autism" --session s1 --json
  nocap verify "Claim from this article" --source-url https://example.com/story`,
	Args: cobra.MinimumNArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().StringVar(&sessionID, "session", "", "session id (default: new session)")
	verifyCmd.Flags().StringVar(&sourceURL, "source-url", "", "page the claim came from; ingested before verification")
	verifyCmd.Flags().BoolVar(&jsonOutput, "json", false, "print the full response as JSON")
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := setup(ctx, true)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	resp, err := a.verifier.Verify(ctx, model.ClaimQuery{
		Text:      strings.Join(args, " "),
		SessionID: sessionID,
		SourceURL: sourceURL,
	})
	if err != nil {
		return fmt.Errorf("verify (%s): %w", verify.KindOf(err), err)
	}

	if jsonOutput {
		return writeIndentedJSON(os.Stdout, resp)
	}
	printRecord(os.Stdout, resp.Record, resp.Trace)
	return nil
}

func printRecord(w io.Writer, rec *model.VerificationRecord, trace verify.Trace) {
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(w, "  %s (confidence %d%%)\n", rec.Verdict, rec.Confidence)
	fmt.Fprintf(w, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "  Claim:    %s\n", rec.Question)
	fmt.Fprintf(w, "  Tier:     %s\n", rec.SourceType)
	fmt.Fprintf(w, "  Session:  %s\n", rec.SessionID)
	if len(trace) > 0 {
		states := make([]string, len(trace))
		for i, s := range trace {
			states[i] = s.String()
		}
		fmt.Fprintf(w, "  Path:     %s\n", strings.Join(states, " -> "))
	}
	if rec.Degraded {
		fmt.Fprintf(w, "  Degraded: no model answer\n")
	}
	fmt.Fprintf(w, "\n%s\n", strings.TrimSpace(rec.Answer))
	if len(rec.Sources) > 0 {
		fmt.Fprintf(w, "\nSources:\n")
		for _, s := range rec.Sources {
			fmt.Fprintf(w, "  - %s\n", s)
		}
	}
	fmt.Fprintf(w, "\n")
}

func writeIndentedJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
