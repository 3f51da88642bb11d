package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/riskledger/riskledger/internal/core/fetch"
	"github.com/riskledger/riskledger/internal/observability"
	"github.com/riskledger/riskledger/internal/output"
)

var attackCmd = &cobra.Command{
	Use:   "attack",
	Short: "Look up MITRE ATT&CK data",
}

var attackTechniqueCmd = &cobra.Command{
	Use:   "technique <id>",
	Short: "Show one ATT&CK technique (e.g. T1059 or T1059.001)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}

		deps, err := buildDeps(cmd.Context(), observability.CLI())
		if err != nil {
			return err
		}
		defer deps.Close() // nolint:errcheck // best-effort cleanup

		technique, err := deps.Attack.Technique(cmd.Context(), args[0])
		if err != nil {
			if fetch.Retryable(err) {
				observability.CLILogger.Warn("ATT&CK lookup failed; retry later",
					zap.String("kind", string(fetch.Kind(err))),
					zap.Duration("retry_after", fetch.RetryAfter(err)))
			}
			return err
		}

		return writeRendered(cmd, "attack."+technique.ID, format, func() (string, error) {
			return output.NewFormatter(format).FormatTechnique(technique)
		})
	},
}

func init() {
	attackCmd.AddCommand(attackTechniqueCmd)
	rootCmd.AddCommand(attackCmd)

	addOutputFlags(attackTechniqueCmd, "table|json|markdown")
}
