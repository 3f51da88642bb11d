package metrics

import (
	"time"

	"github.com/riskledger/riskledger/internal/observability"
)

// Outbound fetch and migration metrics
const (
	FetchRequestsTotal        = "fetch_requests_total"
	MigrationDocumentsTotal   = "migration_documents_total"
	MigrationRunDuration      = "migration_run_duration_ms"
	MigrationRunsAbortedTotal = "migration_runs_aborted_total"
	AttackCacheLookupsTotal   = "attack_cache_lookups_total"
)

// RecordFetch counts one outbound call by endpoint and outcome.
func RecordFetch(endpoint, outcome string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			FetchRequestsTotal,
			1,
			map[string]string{
				"endpoint": endpoint,
				"outcome":  outcome,
			},
		)
	}
}

// RecordMigrationRun records the per-document tallies of a finished run.
func RecordMigrationRun(migration string, updated, skipped, errored int, duration time.Duration, aborted bool) {
	if observability.TelemetrySystem == nil {
		return
	}

	for result, count := range map[string]int{"updated": updated, "skipped": skipped, "errored": errored} {
		if count == 0 {
			continue
		}
		_ = observability.TelemetrySystem.Counter(
			MigrationDocumentsTotal,
			float64(count),
			map[string]string{
				"migration": migration,
				"result":    result,
			},
		)
	}

	_ = observability.TelemetrySystem.Histogram(
		MigrationRunDuration,
		duration,
		map[string]string{"migration": migration},
	)

	if aborted {
		_ = observability.TelemetrySystem.Counter(
			MigrationRunsAbortedTotal,
			1,
			map[string]string{"migration": migration},
		)
	}
}

// RecordAttackCacheLookup counts technique lookups served from or missing the cache.
func RecordAttackCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			AttackCacheLookupsTotal,
			1,
			map[string]string{"result": result},
		)
	}
}
