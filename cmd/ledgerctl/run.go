package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"PortfolioAgents/internal/domain/models"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one pipeline run",
	Long: `Run the pipeline once over every asset in the market store and print
the per-asset outcomes. With --seed the market store is filled with
synthetic data first, which is how a memory-backed configuration gets
anything to decide on.`,
	RunE: runPipeline,
}

func init() {
	runCmd.Flags().Bool("seed", false, "seed synthetic market data before running")
	runCmd.Flags().Bool("json", false, "output the run as JSON")
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	seed, _ := cmd.Flags().GetBool("seed")
	asJSON, _ := cmd.Flags().GetBool("json")

	tk, cleanup, err := toolkit()
	if err != nil {
		return err
	}
	defer cleanup()

	if seed {
		if _, err := tk.Seeder.Seed(cmd.Context()); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}

	run, runErr := tk.Pipeline.Run(cmd.Context())
	if run != nil {
		if err := renderRun(cmd.OutOrStdout(), run, asJSON); err != nil {
			return err
		}
	}
	return runErr
}

func renderRun(w io.Writer, run *models.Run, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	}

	fmt.Fprintf(w, "run %s  state=%s  mode=%s\n", run.ID, run.State, run.Mode)
	if run.AbortReason != "" {
		fmt.Fprintf(w, "aborted: %s\n", run.AbortReason)
	}
	if len(run.Results) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TICKER\tOUTCOME\tDECISION\tCONFIDENCE\tAGENTS\tNOTE")
	for _, r := range run.Results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%d\t%s\n",
			r.Ticker, r.Outcome, r.Decision, r.Confidence, r.AgentCount, r.Reason)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "decided=%d no_signal=%d skipped=%d\n",
		run.Count(models.OutcomeDecided), run.Count(models.OutcomeNoSignal), run.Count(models.OutcomeSkipped))
	return nil
}
