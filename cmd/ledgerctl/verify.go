package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"PortfolioAgents/internal/domain/models"
	"PortfolioAgents/internal/ledger"

	"github.com/spf13/cobra"
)

var errChainBroken = errors.New("ledger: chain verification failed")

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify ledger hash chains",
	Long: `Walk every chain (or one with --chain) in creation order, recompute
each hash and report the first broken entry. Exits with status 2 when any
chain fails verification.`,
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().String("chain", "", "verify a single chain key")
	verifyCmd.Flags().Bool("json", false, "output results as JSON")
}

func runVerify(cmd *cobra.Command, _ []string) error {
	chain, _ := cmd.Flags().GetString("chain")
	asJSON, _ := cmd.Flags().GetBool("json")

	tk, cleanup, err := toolkit()
	if err != nil {
		return err
	}
	defer cleanup()

	var results []models.ChainVerification
	if chain != "" {
		res, err := tk.Ledger.VerifyChain(cmd.Context(), chain)
		if err != nil {
			return err
		}
		results = []models.ChainVerification{res}
	} else {
		results, err = tk.Ledger.VerifyAll(cmd.Context())
		if err != nil {
			return err
		}
	}

	if err := renderVerification(cmd.OutOrStdout(), results, asJSON); err != nil {
		return err
	}
	if !ledger.AllValid(results) {
		return errChainBroken
	}
	return nil
}

func renderVerification(w io.Writer, results []models.ChainVerification, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{
			"valid":  ledger.AllValid(results),
			"chains": results,
		})
	}

	if len(results) == 0 {
		_, err := fmt.Fprintln(w, "no chains recorded")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CHAIN\tENTRIES\tSTATUS\tDETAIL")
	for _, r := range results {
		status, detail := "OK", short(r.TailHash)
		if !r.Valid {
			status = "BROKEN"
			detail = fmt.Sprintf("entry %d: %s", r.FirstBrokenID, r.Reason)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", r.ChainKey, r.Entries, status, detail)
	}
	return tw.Flush()
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
