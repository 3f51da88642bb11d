package metrics

import (
	"time"

	"github.com/riskledger/riskledger/internal/observability"
)

// Service-level metric names.
var (
	// Record writes through the API, labelled by operation and collection.
	RecordWritesTotal = "record_writes_total"

	HealthCheckTotal    = "health_check_total"
	HealthCheckDuration = "health_check_duration_ms"

	ServerStartTime = "server_start_time_seconds"
)

// RecordWrite counts one record create, replace or delete.
func RecordWrite(operation, collection string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			RecordWritesTotal,
			1,
			map[string]string{
				"operation":  operation,
				"collection": collection,
				"status":     status,
			},
		)
	}
}

// RecordHealthCheck records one readiness check execution.
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			HealthCheckTotal,
			1,
			map[string]string{
				"check":  checkName,
				"status": status,
			},
		)

		_ = observability.TelemetrySystem.Histogram(
			HealthCheckDuration,
			duration,
			map[string]string{
				"check": checkName,
			},
		)
	}
}

// SetServerStartTime records when serve began accepting requests.
func SetServerStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ServerStartTime,
			float64(timestamp),
			nil,
		)
	}
}
