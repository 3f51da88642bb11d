package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/riskledger/riskledger/internal/core"
)

// RecordMigrationRun appends a run to the audit log. An empty ID is assigned.
func (s *Store) RecordMigrationRun(ctx context.Context, run *core.MigrationRun) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if run == nil {
		return errors.New("migration run is required")
	}
	if strings.TrimSpace(run.ID) == "" {
		run.ID = uuid.NewString()
	}

	var aborted sql.NullString
	if run.Aborted != "" {
		aborted = sql.NullString{String: run.Aborted, Valid: true}
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO migration_runs (id, migration, collection, dry_run, scanned, updated, skipped, errored, defaulted, aborted, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Migration, run.Collection, boolToInt(run.DryRun), run.Scanned, run.Updated, run.Skipped, run.Errored, run.Defaulted, aborted,
		run.StartedAt.UTC().Unix(), run.FinishedAt.UTC().Unix())
	if err != nil {
		return fmt.Errorf("record migration run: %w", err)
	}
	return nil
}

// ListMigrationRuns returns the most recent runs, newest first. An empty
// migration name lists every migration.
func (s *Store) ListMigrationRuns(ctx context.Context, migration string, limit int) ([]core.MigrationRun, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = 20
	}

	where := ""
	args := []any{}
	if name := strings.TrimSpace(migration); name != "" {
		where = "WHERE migration = ?"
		args = append(args, name)
	}
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, migration, collection, dry_run, scanned, updated, skipped, errored, defaulted, aborted, started_at, finished_at
		FROM migration_runs
		%s
		ORDER BY started_at DESC, id
		LIMIT ?
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("list migration runs: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	runs := []core.MigrationRun{}
	for rows.Next() {
		var (
			run        core.MigrationRun
			dryRun     int
			aborted    sql.NullString
			startedAt  int64
			finishedAt int64
		)
		if err := rows.Scan(&run.ID, &run.Migration, &run.Collection, &dryRun, &run.Scanned, &run.Updated, &run.Skipped,
			&run.Errored, &run.Defaulted, &aborted, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan migration runs: %w", err)
		}
		run.DryRun = dryRun != 0
		run.Aborted = aborted.String
		run.StartedAt = time.Unix(startedAt, 0).UTC()
		run.FinishedAt = time.Unix(finishedAt, 0).UTC()
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list migration runs: %w", err)
	}
	return runs, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
