package main

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"squint/internal/dirty"
	"squint/internal/incremental"
	"squint/internal/quality"
)

var (
	verifyFix    bool
	verifyFanIn  int
	verifyStrict bool
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the derived graph for quality defects",
	Long: `Reports self-loop and falsely bidirectional interactions, LLM-inferred
interactions with no call-graph support, fan-in anomalies, entry points
outside their module and symbols pointing at deleted definitions.

Findings are advisory. With --fix the safe fixes are applied and the
affected flows are rebuilt.`,
	Args: cobra.NoArgs,
	Run:  runVerify,
}

func init() {
	verifyCmd.Flags().BoolVar(&verifyFix, "fix", false, "Apply suggested fixes")
	verifyCmd.Flags().IntVar(&verifyFanIn, "fan-in", quality.DefaultOptions().FanInThreshold, "Distinct callers above which a module is flagged")
	verifyCmd.Flags().BoolVar(&verifyStrict, "strict", false, "Exit non-zero when error findings remain")
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) {
	env := mustSetup()
	if verifyFix {
		lock := env.mustLock()
		defer lock.Release()
	}
	db := env.mustOpen(true)
	defer db.Close()

	checker := quality.NewChecker(quality.Options{FanInThreshold: verifyFanIn}, env.logger)
	report, err := checker.Run(db.Conn())
	if err != nil {
		fail(err)
	}
	resp := &VerifyResponseCLI{Report: report}

	if verifyFix && len(report.Findings) > 0 {
		err := db.WithTx(func(tx *sqlx.Tx) error {
			n, err := quality.Apply(tx, dirty.NewTracker(tx), report.Findings)
			resp.Fixed = n
			return err
		})
		if err != nil {
			fail(err)
		}
		if resp.Fixed > 0 {
			ctx, cancel := signalContext()
			defer cancel()
			decision := &incremental.StrategyDecision{
				Strategy: incremental.StrategyIncremental,
				Reason:   "Quality fixes applied",
			}
			if _, err := env.mustEnricher(db).Run(ctx, decision); err != nil {
				fail(err)
			}
		}
	}

	printResponse(resp)
	if !verifyStrict {
		return
	}
	remaining := report.Summary.Errors
	if resp.Fixed > 0 {
		after, err := checker.Run(db.Conn())
		if err != nil {
			fail(err)
		}
		remaining = after.Summary.Errors
	}
	if remaining > 0 {
		fail(fmt.Errorf("%d error findings remain", remaining))
	}
}
