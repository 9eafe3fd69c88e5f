package main

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/sawpanic/eligibility/internal/domain"
	"github.com/sawpanic/eligibility/internal/eligibility"
)

var checkCmd = &cobra.Command{
	Use:   "check <address>",
	Short: "Score one address and print the report as JSON",
	Long: `Evaluates an address on the requested chains (all configured chains when
--chains is omitted) and prints the eligibility report.

Exit codes: 0 success or partial result, 2 invalid address, 3 no chain could be evaluated.`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

var (
	checkChains []int64
	checkStore  bool
)

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().Int64SliceVar(&checkChains, "chains", nil, "Chain ids to evaluate, e.g. 1,137")
	checkCmd.Flags().BoolVar(&checkStore, "store", false, "Persist and publish the report when sinks are configured")
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := buildApp(cmd.Context(), cfg, buildOptions{sinks: checkStore})
	if err != nil {
		return err
	}
	defer a.Close()

	report, evalErr := a.engine.Evaluate(cmd.Context(), args[0], checkChains)
	if evalErr != nil && !errors.Is(evalErr, eligibility.ErrTotalFailure) {
		return evalErr
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	return evalErr
}

// exitCode maps command errors to process exit codes
func exitCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidAddress), errors.Is(err, domain.ErrBadChecksum):
		return 2
	case errors.Is(err, eligibility.ErrTotalFailure):
		return 3
	default:
		return 1
	}
}
