package cmd

import (
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/riskledger/riskledger/internal/config"
	"github.com/riskledger/riskledger/internal/core/migrate"
	errwrap "github.com/riskledger/riskledger/internal/errors"
	"github.com/riskledger/riskledger/internal/observability"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long:  "Run a self-health check to verify the application can start successfully.",
	Run: func(cmd *cobra.Command, args []string) {
		observability.CLILogger.Info("Running health check...")

		// Check 1: Version info available
		if versionInfo.Version == "" {
			observability.CLILogger.Error("❌ FAIL: Version information missing")
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Version information missing", errwrap.NewConfigInvalidError("Version information missing"))
			return
		}
		observability.CLILogger.Debug("Version check passed", zap.String("version", versionInfo.Version))
		observability.CLILogger.Info("✅ Version information available")

		// Check 2: Logger initialized
		if observability.CLILogger == nil {
			// Can't log if logger is nil, so use stderr
			ExitWithCodeStderr(foundry.ExitConfigInvalid, "Logger not initialized", errwrap.NewConfigInvalidError("Logger not initialized"))
			return
		}
		observability.CLILogger.Info("✅ Logger initialized")

		// Check 3: Configuration loads and validates
		cfg, err := config.Load(cmd.Context())
		if err != nil {
			observability.CLILogger.Error("❌ FAIL: Configuration invalid", zap.Error(err))
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Configuration invalid", err)
			return
		}
		observability.CLILogger.Info("✅ Configuration loaded", zap.Duration("fetch_timeout", cfg.FetchTimeout()))

		// Check 4: Built-in migrations are well formed
		for _, m := range migrate.Builtin() {
			if m.Detect == nil || len(m.Steps) == 0 || m.Selector == "" {
				ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Migration definition incomplete", errwrap.NewConfigInvalidError("migration "+m.Name+" is incomplete"))
				return
			}
		}
		observability.CLILogger.Info(fmt.Sprintf("✅ %d migrations registered", len(migrate.Builtin())))

		// Overall status
		observability.CLILogger.Info("")
		observability.CLILogger.Info("✅ All health checks passed")
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
