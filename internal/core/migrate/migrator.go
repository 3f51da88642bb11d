package migrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/riskledger/riskledger/internal/core"
	"github.com/riskledger/riskledger/internal/core/store"
	"github.com/riskledger/riskledger/internal/metrics"
	"github.com/riskledger/riskledger/internal/observability"
)

// DefaultBatchSize is the scan page size when none is configured.
const DefaultBatchSize = 500

// DocumentStore is the storage surface the migrator needs. *store.Store
// implements it.
type DocumentStore interface {
	ListDocuments(ctx context.Context, q store.DocumentQuery) ([]core.Document, error)
	UpdateDocumentField(ctx context.Context, collection core.Collection, id, path string, value any, expectedUpdatedAt time.Time) (time.Time, error)
	CountMatching(ctx context.Context, collection core.Collection, predicate string) (int, error)
}

// RunRecorder persists the audit record of a run.
type RunRecorder interface {
	RecordMigrationRun(ctx context.Context, run *core.MigrationRun) error
}

// Migrator runs migrations sequentially, one document at a time.
type Migrator struct {
	Store  DocumentStore
	Runs   RunRecorder
	Logger observability.Logger
	// BatchSize is the scan page size.
	BatchSize int
	// MaxWritesPerSecond throttles field updates; zero disables throttling.
	MaxWritesPerSecond float64
	// SampleSize bounds the sample ids kept per verification bucket.
	SampleSize int
	Clock      func() time.Time
}

// Options controls one run.
type Options struct {
	// DryRun computes every plan and renders diffs without writing.
	DryRun bool
}

// Change is a planned update reported by dry runs.
type Change struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Defaulted bool   `json:"defaulted"`
	Diff      string `json:"diff"`
}

// Report accounts for every scanned document. Updated, Skipped and Errored
// are disjoint and sum to Scanned; Defaulted is the subset of Updated whose
// value was completed rather than reshaped.
type Report struct {
	Migration  string           `json:"migration"`
	Collection core.Collection  `json:"collection"`
	DryRun     bool             `json:"dry_run"`
	Scanned    int              `json:"scanned"`
	Updated    int              `json:"updated"`
	Skipped    int              `json:"skipped"`
	Errored    int              `json:"errored"`
	Defaulted  int              `json:"defaulted"`
	Failures   []*DocumentError `json:"-"`
	Changes    []Change         `json:"changes,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Aborted    string           `json:"aborted,omitempty"`
}

// Run applies m to every document in its collection. Per-document failures
// are counted in the report and the run continues; the returned error is
// non-nil only when the run was aborted (ErrAborted), in which case the
// report covers the documents handled before the abort.
func (r *Migrator) Run(ctx context.Context, m *Migration, opts Options) (*Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	report := &Report{
		Migration:  m.Name,
		Collection: m.Collection,
		DryRun:     opts.DryRun,
		StartedAt:  r.now(),
	}
	log := r.logger()

	var limiter *rate.Limiter
	if r.MaxWritesPerSecond > 0 && !opts.DryRun {
		limiter = rate.NewLimiter(rate.Limit(r.MaxWritesPerSecond), 1)
	}

	log.Info("Starting migration",
		zap.String("migration", m.Name),
		zap.String("collection", string(m.Collection)),
		zap.Bool("dry_run", opts.DryRun))

	runErr := r.scan(ctx, m, func(doc core.Document) error {
		report.Scanned++

		plan, err := m.Plan(doc.Body)
		if err != nil {
			r.fail(report, m, doc.ID, err)
			return nil
		}
		if !plan.Changed {
			report.Skipped++
			return nil
		}

		if opts.DryRun {
			report.Updated++
			if plan.Defaulted {
				report.Defaulted++
			}
			report.Changes = append(report.Changes, Change{
				ID:        doc.ID,
				From:      plan.From.Name,
				Defaulted: plan.Defaulted,
				Diff:      fieldDiff(plan.Current, plan.Canonical),
			})
			return nil
		}

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				report.Scanned--
				return err
			}
		}

		_, err = r.Store.UpdateDocumentField(ctx, m.Collection, doc.ID, plan.Path, plan.Value, doc.UpdatedAt)
		switch {
		case err == nil:
			report.Updated++
			if plan.Defaulted {
				report.Defaulted++
				log.Info("Assigned default value",
					zap.String("migration", m.Name),
					zap.String("id", doc.ID),
					zap.String("field", m.FieldPath()),
					zap.String("value", encodeForLog(plan.Canonical)))
			}
		case errors.Is(err, store.ErrStale), errors.Is(err, store.ErrNotFound):
			report.Skipped++
			log.Warn("Document changed during migration, skipped",
				zap.String("migration", m.Name),
				zap.String("id", doc.ID),
				zap.Error(err))
		case isFatal(err):
			r.fail(report, m, doc.ID, err)
			return err
		default:
			r.fail(report, m, doc.ID, err)
		}
		return nil
	})

	report.FinishedAt = r.now()
	if runErr != nil {
		report.Aborted = runErr.Error()
		runErr = abort(m.Name, runErr)
		log.Error("Migration aborted",
			zap.String("migration", m.Name),
			zap.Int("scanned", report.Scanned),
			zap.Error(runErr))
	}

	r.finish(ctx, report)
	return report, runErr
}

// Pending counts documents the selector still matches.
func (r *Migrator) Pending(ctx context.Context, m *Migration) (int, error) {
	return r.Store.CountMatching(ctx, m.Collection, m.Selector)
}

// Status describes a migration and how many documents it would touch.
type Status struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Collection  core.Collection `json:"collection"`
	Field       string          `json:"field"`
	Pending     int             `json:"pending"`
}

// Statuses reports pending counts for each migration, in the given order.
func (r *Migrator) Statuses(ctx context.Context, migrations []*Migration) ([]Status, error) {
	out := make([]Status, 0, len(migrations))
	for _, m := range migrations {
		pending, err := r.Pending(ctx, m)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", m.Name, err)
		}
		out = append(out, Status{
			Name:        m.Name,
			Description: m.Description,
			Collection:  m.Collection,
			Field:       m.FieldPath(),
			Pending:     pending,
		})
	}
	return out, nil
}

// scan pages through the collection in id order and calls fn per document.
// Each page is fully read before fn runs, so no cursor is held while writing.
// Cancellation is observed between documents.
func (r *Migrator) scan(ctx context.Context, m *Migration, fn func(core.Document) error) error {
	batchSize := r.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := r.Store.ListDocuments(ctx, store.DocumentQuery{
			Collection: m.Collection,
			AfterID:    after,
			Limit:      batchSize,
		})
		if err != nil {
			return err
		}

		for _, doc := range page {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(doc); err != nil {
				return err
			}
			after = doc.ID
		}

		if len(page) < batchSize {
			return nil
		}
	}
}

func (r *Migrator) fail(report *Report, m *Migration, id string, err error) {
	report.Errored++
	report.Failures = append(report.Failures, &DocumentError{ID: id, Cause: err})
	r.logger().Error("Failed to migrate document",
		zap.String("migration", m.Name),
		zap.String("id", id),
		zap.Error(err))
}

func (r *Migrator) finish(ctx context.Context, report *Report) {
	log := r.logger()

	fields := []zap.Field{
		zap.String("migration", report.Migration),
		zap.Bool("dry_run", report.DryRun),
		zap.Int("scanned", report.Scanned),
		zap.Int("updated", report.Updated),
		zap.Int("skipped", report.Skipped),
		zap.Int("errored", report.Errored),
		zap.Int("defaulted", report.Defaulted),
	}
	if report.Errored > 0 {
		log.Warn("Migration finished with errors", fields...)
	} else {
		log.Info("Migration finished", fields...)
	}

	metrics.RecordMigrationRun(report.Migration, report.Updated, report.Skipped, report.Errored,
		report.FinishedAt.Sub(report.StartedAt), report.Aborted != "")

	if r.Runs == nil {
		return
	}
	run := &core.MigrationRun{
		Migration:  report.Migration,
		Collection: string(report.Collection),
		DryRun:     report.DryRun,
		Scanned:    report.Scanned,
		Updated:    report.Updated,
		Skipped:    report.Skipped,
		Errored:    report.Errored,
		Defaulted:  report.Defaulted,
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
		Aborted:    report.Aborted,
	}
	// The audit row is written even when the run was cancelled.
	if err := r.Runs.RecordMigrationRun(context.WithoutCancel(ctx), run); err != nil {
		log.Warn("Failed to record migration run", zap.String("migration", report.Migration), zap.Error(err))
	}
}

func (r *Migrator) now() time.Time {
	if r.Clock != nil {
		return r.Clock()
	}
	return time.Now().UTC()
}

func (r *Migrator) logger() observability.Logger {
	return observability.LoggerOr(r.Logger)
}

func encodeForLog(value any) string {
	encoded, err := json.Marshal(value)
	if err != nil {
		return "<unencodable>"
	}
	return string(encoded)
}
