package cmd

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/riskledger/riskledger/internal/core/migrate"
	"github.com/riskledger/riskledger/internal/observability"
	"github.com/riskledger/riskledger/internal/output"
)

var (
	migrateDryRun             bool
	migrateAll                bool
	migrateMaxWritesPerSecond float64
	migrateBatchSize          int
	migrateRunsLimit          int
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Inspect and run document shape migrations",
}

var migrateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List migrations with their pending document counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := tableOrJSON(cmd)
		if err != nil {
			return err
		}

		deps, err := buildDeps(cmd.Context(), observability.CLI())
		if err != nil {
			return err
		}
		defer deps.Close() // nolint:errcheck // best-effort cleanup

		statuses, err := deps.Migrator.Statuses(cmd.Context(), migrate.Builtin())
		if err != nil {
			return err
		}
		return writeRendered(cmd, "migrate.list", format, func() (string, error) {
			return output.FormatStatuses(format, statuses)
		})
	},
}

var migrateRunCmd = &cobra.Command{
	Use:   "run [migration...]",
	Short: "Run migrations",
	Long: `Run one or more migrations sequentially over their collections.

Documents already in the target shape are skipped, so a run can be repeated
safely. Per-document failures are reported and the run continues; connection
loss or interruption aborts the run with a non-zero exit code.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(mustString(cmd, "output-format"))
		if err != nil {
			return err
		}
		migrations, err := selectMigrations(args, migrateAll)
		if err != nil {
			return err
		}

		deps, err := buildDeps(cmd.Context(), observability.CLI())
		if err != nil {
			return err
		}
		defer deps.Close() // nolint:errcheck // best-effort cleanup

		if cmd.Flags().Changed("max-writes-per-second") {
			deps.Migrator.MaxWritesPerSecond = migrateMaxWritesPerSecond
		}
		if cmd.Flags().Changed("batch-size") {
			deps.Migrator.BatchSize = migrateBatchSize
		}

		formatter := output.NewFormatter(format)
		for _, m := range migrations {
			report, runErr := deps.Migrator.Run(cmd.Context(), m, migrate.Options{DryRun: migrateDryRun})
			if report != nil {
				if err := writeRendered(cmd, "migrate.run."+m.Name, format, func() (string, error) {
					return formatter.FormatReport(report)
				}); err != nil {
					return err
				}
				if report.Errored > 0 {
					observability.CLILogger.Warn("Migration finished with errors",
						zap.String("migration", m.Name),
						zap.Int("errored", report.Errored))
				}
			}
			if runErr != nil {
				if errors.Is(runErr, migrate.ErrAborted) {
					exitAfterClose(deps, foundry.ExitFailure, fmt.Sprintf("Migration %s aborted", m.Name), runErr)
				}
				return runErr
			}
		}
		return nil
	},
}

var migrateVerifyCmd = &cobra.Command{
	Use:   "verify [migration...]",
	Short: "Classify every document by shape without writing",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(mustString(cmd, "output-format"))
		if err != nil {
			return err
		}
		migrations, err := selectMigrations(args, migrateAll)
		if err != nil {
			return err
		}

		deps, err := buildDeps(cmd.Context(), observability.CLI())
		if err != nil {
			return err
		}
		defer deps.Close() // nolint:errcheck // best-effort cleanup

		formatter := output.NewFormatter(format)
		for _, m := range migrations {
			report, err := deps.Migrator.Verify(cmd.Context(), m)
			if err != nil {
				return err
			}
			if err := writeRendered(cmd, "migrate.verify."+m.Name, format, func() (string, error) {
				return formatter.FormatVerify(report)
			}); err != nil {
				return err
			}
		}
		return nil
	},
}

var migrateRunsCmd = &cobra.Command{
	Use:   "runs [migration]",
	Short: "Show recorded migration runs",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := tableOrJSON(cmd)
		if err != nil {
			return err
		}
		name := ""
		if len(args) == 1 {
			if _, ok := migrate.Lookup(args[0]); !ok {
				return fmt.Errorf("unknown migration %q", args[0])
			}
			name = args[0]
		}

		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		runs, err := db.ListMigrationRuns(cmd.Context(), name, migrateRunsLimit)
		if err != nil {
			return err
		}
		return writeRendered(cmd, "migrate.runs", format, func() (string, error) {
			return output.FormatRuns(format, runs)
		})
	},
}

func selectMigrations(names []string, all bool) ([]*migrate.Migration, error) {
	if all {
		if len(names) > 0 {
			return nil, fmt.Errorf("--all cannot be combined with migration names")
		}
		return migrate.Builtin(), nil
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("name at least one migration or pass --all (see 'migrate list')")
	}

	selected := make([]*migrate.Migration, 0, len(names))
	for _, name := range names {
		m, ok := migrate.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("unknown migration %q", name)
		}
		selected = append(selected, m)
	}
	return selected, nil
}

func tableOrJSON(cmd *cobra.Command) (output.Format, error) {
	format, err := resolveOutputFormat(cmd)
	if err != nil {
		return "", err
	}
	if format != output.FormatJSON && format != output.FormatTable {
		return "", fmt.Errorf("unsupported output format: %s", format)
	}
	return format, nil
}

func mustString(cmd *cobra.Command, name string) string {
	value, _ := cmd.Flags().GetString(name)
	return value
}

// writeRendered renders one result to stdout, --out or a file named after
// stem inside --out-dir.
func writeRendered(cmd *cobra.Command, stem string, format output.Format, render func() (string, error)) error {
	outPath, outDir, err := resolveOutputTargets(cmd)
	if err != nil {
		return err
	}
	if outDir != "" {
		outDir, err = ensureOutDir(outDir)
		if err != nil {
			return err
		}
		outPath = filepath.Join(outDir, fmt.Sprintf("%s.%s", sanitizeFilename(stem), outputExtension(format)))
	}

	rendered, err := render()
	if err != nil {
		return err
	}

	sink, err := openSink(outPath)
	if err != nil {
		return err
	}
	defer func() { _ = sink.close() }()

	_, err = fmt.Fprintln(sink.writer, rendered)
	return err
}

func addOutputFlags(cmd *cobra.Command, formats string) {
	cmd.Flags().String("output-format", string(output.FormatTable), "Output format: "+formats)
	cmd.Flags().String("out", "", "Write output to a file (default stdout)")
	cmd.Flags().String("out-dir", "", "Write output to a directory")
}

func init() {
	migrateCmd.AddCommand(migrateListCmd)
	migrateCmd.AddCommand(migrateRunCmd)
	migrateCmd.AddCommand(migrateVerifyCmd)
	migrateCmd.AddCommand(migrateRunsCmd)
	rootCmd.AddCommand(migrateCmd)

	addOutputFlags(migrateListCmd, "table|json")
	addOutputFlags(migrateRunCmd, "table|json|markdown")
	addOutputFlags(migrateVerifyCmd, "table|json|markdown")
	addOutputFlags(migrateRunsCmd, "table|json")

	migrateRunCmd.Flags().BoolVar(&migrateDryRun, "dry-run", false, "Compute and show changes without writing")
	migrateRunCmd.Flags().BoolVar(&migrateAll, "all", false, "Run every migration in order")
	migrateRunCmd.Flags().Float64Var(&migrateMaxWritesPerSecond, "max-writes-per-second", 0, "Throttle document updates (0 = unthrottled)")
	migrateRunCmd.Flags().IntVar(&migrateBatchSize, "batch-size", migrate.DefaultBatchSize, "Documents read per scan page")

	migrateVerifyCmd.Flags().BoolVar(&migrateAll, "all", false, "Verify every migration")

	migrateRunsCmd.Flags().IntVar(&migrateRunsLimit, "limit", 20, "Maximum runs to show")
}

var exitWithCode = ExitWithCode

// exitAfterClose releases c before exiting; os.Exit skips deferred calls.
func exitAfterClose(c io.Closer, exitCode foundry.ExitCode, msg string, err error) {
	if closeErr := c.Close(); closeErr != nil && observability.CLILogger != nil {
		observability.CLILogger.Warn("Failed to release resources before exit", zap.Error(closeErr))
	}
	exitWithCode(observability.CLILogger, exitCode, msg, err)
}
