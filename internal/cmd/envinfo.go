package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/riskledger/riskledger/internal/config"
	"github.com/riskledger/riskledger/internal/observability"
)

var envInfoCmd = &cobra.Command{
	Use:   "envinfo",
	Short: "Display environment information",
	Long:  "Display comprehensive environment, configuration, and version information.",
	Run: func(cmd *cobra.Command, args []string) {
		version := crucible.GetVersion()

		observability.CLILogger.Info("=== Environment Information ===")
		observability.CLILogger.Info("")

		// Application Info
		identity := GetAppIdentity()
		observability.CLILogger.Info("Application:")
		observability.CLILogger.Info("  Name:       " + identity.BinaryName)
		observability.CLILogger.Info("  Version:    " + versionInfo.Version)
		observability.CLILogger.Info("  Commit:     " + versionInfo.Commit)
		observability.CLILogger.Info("  Built:      " + versionInfo.BuildDate)
		observability.CLILogger.Info("")

		// SSOT Info
		observability.CLILogger.Info("SSOT:")
		observability.CLILogger.Info("  Gofulmen:   "+version.Gofulmen, zap.String("gofulmen_version", version.Gofulmen))
		observability.CLILogger.Info("  Crucible:   "+version.Crucible, zap.String("crucible_version", version.Crucible))
		observability.CLILogger.Info("")

		// Runtime Info
		observability.CLILogger.Info("Runtime:")
		observability.CLILogger.Info("  Go Version: "+runtime.Version(), zap.String("go_version", runtime.Version()))
		observability.CLILogger.Info("  GOOS:       "+runtime.GOOS, zap.String("goos", runtime.GOOS))
		observability.CLILogger.Info("  GOARCH:     "+runtime.GOARCH, zap.String("goarch", runtime.GOARCH))
		observability.CLILogger.Info(fmt.Sprintf("  NumCPU:     %d", runtime.NumCPU()), zap.Int("num_cpu", runtime.NumCPU()))
		observability.CLILogger.Info("")

		cfg, err := config.Load(cmd.Context())
		if err != nil {
			observability.CLILogger.Warn("Config load failed", zap.Error(err))
			return
		}

		// Configuration
		observability.CLILogger.Info("Configuration:")
		observability.CLILogger.Info("  Server Host:    "+cfg.Server.Host, zap.String("host", cfg.Server.Host))
		observability.CLILogger.Info(fmt.Sprintf("  Server Port:    %d", cfg.Server.Port), zap.Int("port", cfg.Server.Port))
		observability.CLILogger.Info("  Log Level:      "+cfg.Logging.Level, zap.String("log_level", cfg.Logging.Level))
		observability.CLILogger.Info("  Log Profile:    "+cfg.Logging.Profile, zap.String("log_profile", cfg.Logging.Profile))
		observability.CLILogger.Info("  DB Driver:      "+cfg.Store.Driver, zap.String("db_driver", cfg.Store.Driver))
		if strings.TrimSpace(cfg.Store.URL) != "" {
			observability.CLILogger.Info("  DB URL:         "+cfg.Store.URL, zap.String("db_url", cfg.Store.URL))
		} else {
			observability.CLILogger.Info("  DB Path:        "+cfg.Store.Path, zap.String("db_path", cfg.Store.Path))
		}
		observability.CLILogger.Info(fmt.Sprintf("  Metrics Port:   %d", cfg.Metrics.Port), zap.Int("metrics_port", cfg.Metrics.Port))
		observability.CLILogger.Info("  Config File:    "+config.DefaultConfigPath(), zap.String("config_file", config.DefaultConfigPath()))
		observability.CLILogger.Info("")

		// Outbound Configuration
		observability.CLILogger.Info("Outbound:")
		observability.CLILogger.Info("  Environment:    "+cfg.Environment, zap.String("environment", cfg.Environment))
		observability.CLILogger.Info("  Fetch Timeout:  "+cfg.FetchTimeout().String(), zap.Duration("fetch_timeout", cfg.FetchTimeout()))
		observability.CLILogger.Info(fmt.Sprintf("  Fetch Max Bytes: %d", cfg.Fetch.MaxBytes), zap.Int64("fetch_max_bytes", cfg.Fetch.MaxBytes))
		observability.CLILogger.Info("  ATT&CK Server:  "+cfg.Attack.BaseURL, zap.String("attack_base_url", cfg.Attack.BaseURL))
		observability.CLILogger.Info("  ATT&CK Cache:   "+cfg.Cache.AttackTTL.String(), zap.Duration("attack_ttl", cfg.Cache.AttackTTL))
		observability.CLILogger.Info(fmt.Sprintf("  Rate Margin:    %.2f", cfg.RateLimitMargin), zap.Float64("rate_limit_margin", cfg.RateLimitMargin))
		if strings.TrimSpace(cfg.Redis.URL) != "" {
			observability.CLILogger.Info("  Fetch Stats:    redis ("+cfg.Redis.Prefix+")", zap.String("redis_prefix", cfg.Redis.Prefix))
		} else {
			observability.CLILogger.Info("  Fetch Stats:    in-memory")
		}
		observability.CLILogger.Info("")

		// Migration Configuration
		observability.CLILogger.Info("Migrations:")
		observability.CLILogger.Info(fmt.Sprintf("  Batch Size:     %d", cfg.Migrate.BatchSize), zap.Int("batch_size", cfg.Migrate.BatchSize))
		observability.CLILogger.Info(fmt.Sprintf("  Max Writes/s:   %g", cfg.Migrate.MaxWritesPerSecond), zap.Float64("max_writes_per_second", cfg.Migrate.MaxWritesPerSecond))
		observability.CLILogger.Info(fmt.Sprintf("  Sample Size:    %d", cfg.Migrate.SampleSize), zap.Int("sample_size", cfg.Migrate.SampleSize))
		observability.CLILogger.Info("")

		observability.CLILogger.Info("=== End Environment Information ===")
	},
}

func init() {
	rootCmd.AddCommand(envInfoCmd)
}
