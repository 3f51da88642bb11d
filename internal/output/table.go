package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/riskledger/riskledger/internal/core"
	"github.com/riskledger/riskledger/internal/core/migrate"
	"github.com/riskledger/riskledger/internal/core/store"
)

// TableFormatter renders results as an ASCII table.
type TableFormatter struct{}

// FormatReport renders a migration report as a table, followed by failures
// and, for dry runs, the planned diffs.
func (f *TableFormatter) FormatReport(report *migrate.Report) (string, error) {
	if report == nil {
		return "", nil
	}

	t := newTable()
	t.AppendHeader(table.Row{"Migration", "Collection", "Scanned", "Updated", "Defaulted", "Skipped", "Errored", "Duration"})
	t.AppendRow(table.Row{
		report.Migration,
		string(report.Collection),
		report.Scanned,
		report.Updated,
		report.Defaulted,
		report.Skipped,
		report.Errored,
		report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond).String(),
	})
	switch {
	case report.Aborted != "":
		t.AppendFooter(table.Row{"aborted", report.Aborted})
	case report.DryRun:
		t.AppendFooter(table.Row{"dry run", "no documents written"})
	}

	var sb strings.Builder
	sb.WriteString(t.Render())

	if len(report.Failures) > 0 {
		ft := newTable()
		ft.AppendHeader(table.Row{"Document", "Error"})
		for _, failure := range report.Failures {
			ft.AppendRow(table.Row{failure.ID, failure.Cause.Error()})
		}
		sb.WriteString("\n\n")
		sb.WriteString(ft.Render())
	}

	for _, change := range report.Changes {
		label := change.From
		if change.Defaulted {
			label += ", defaulted"
		}
		sb.WriteString(fmt.Sprintf("\n\n%s (%s)\n", change.ID, label))
		sb.WriteString(strings.TrimRight(change.Diff, "\n"))
	}

	return sb.String(), nil
}

// FormatVerify renders shape buckets with sample ids.
func (f *TableFormatter) FormatVerify(report *migrate.VerifyReport) (string, error) {
	if report == nil {
		return "", nil
	}

	t := newTable()
	t.SetTitle(fmt.Sprintf("%s  %s %s", report.Migration, report.Collection, report.Field))
	t.AppendHeader(table.Row{"Shape", "Count", "Samples"})
	for _, shape := range migrate.Shapes {
		bucket := report.Bucket(shape)
		t.AppendRow(table.Row{string(shape), bucket.Count, sampleSummary(bucket.Samples)})
	}
	status := "incomplete"
	if report.Complete() {
		status = "complete"
	}
	t.AppendFooter(table.Row{status, report.Scanned, fmt.Sprintf("%d pending", report.Pending)})

	return t.Render(), nil
}

// FormatTechnique renders a technique as a key/value table.
func (f *TableFormatter) FormatTechnique(technique *core.Technique) (string, error) {
	if technique == nil {
		return "", nil
	}

	t := newTable()
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRow(table.Row{"ID", technique.ID})
	t.AppendRow(table.Row{"Name", technique.Name})
	t.AppendRow(table.Row{"Tactics", strings.Join(technique.Tactics, ", ")})
	t.AppendRow(table.Row{"Platforms", strings.Join(technique.Platforms, ", ")})
	if technique.URL != "" {
		t.AppendRow(table.Row{"URL", technique.URL})
	}
	if technique.Deprecated || technique.Revoked {
		t.AppendRow(table.Row{"Status", techniqueStatus(technique)})
	}
	if !technique.Modified.IsZero() {
		t.AppendRow(table.Row{"Modified", technique.Modified.UTC().Format(time.RFC3339)})
	}
	source := "remote"
	if technique.FromCache {
		source = "cache"
	}
	t.AppendFooter(table.Row{"source", source})

	return t.Render(), nil
}

// FormatRateLimits renders persisted endpoint backoffs.
func FormatRateLimits(format Format, entries []store.RateLimitEntry) (string, error) {
	if format == FormatJSON {
		return indentJSON(entries)
	}

	t := newTable()
	t.AppendHeader(table.Row{"Endpoint", "Backoff Until", "Last 429"})
	for _, entry := range entries {
		t.AppendRow(table.Row{entry.Endpoint, formatTime(entry.State.BackoffUntil), formatTime(entry.State.Last429At)})
	}
	if len(entries) == 0 {
		t.AppendRow(table.Row{"(no stored rate limit state)", "", ""})
	}
	return t.Render(), nil
}

// RateLimitReset summarizes a rate-limit reset.
type RateLimitReset struct {
	Matched int   `json:"matched"`
	Deleted int64 `json:"deleted"`
	DryRun  bool  `json:"dry_run"`
}

// FormatRateLimitReset renders the outcome of a reset or its dry run.
func FormatRateLimitReset(format Format, result RateLimitReset) (string, error) {
	if format == FormatJSON {
		return indentJSON(result)
	}
	if result.DryRun {
		return fmt.Sprintf("Would delete %d rate limit entr(ies)", result.Matched), nil
	}
	return fmt.Sprintf("Deleted %d/%d rate limit entr(ies)", result.Deleted, result.Matched), nil
}

func statusTable(statuses []migrate.Status) string {
	t := newTable()
	t.AppendHeader(table.Row{"Migration", "Collection", "Field", "Pending", "Description"})
	pending := 0
	for _, s := range statuses {
		t.AppendRow(table.Row{s.Name, string(s.Collection), s.Field, s.Pending, s.Description})
		pending += s.Pending
	}
	t.AppendFooter(table.Row{"", "", "", pending, ""})
	return t.Render()
}

func runsTable(runs []core.MigrationRun) string {
	t := newTable()
	t.AppendHeader(table.Row{"Started", "Migration", "Dry Run", "Scanned", "Updated", "Skipped", "Errored", "Aborted"})
	for _, run := range runs {
		t.AppendRow(table.Row{
			run.StartedAt.UTC().Format(time.RFC3339),
			run.Migration,
			run.DryRun,
			run.Scanned,
			run.Updated,
			run.Skipped,
			run.Errored,
			run.Aborted,
		})
	}
	return t.Render()
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	return t
}

func sampleSummary(samples []migrate.Sample) string {
	if len(samples) == 0 {
		return "-"
	}
	ids := make([]string, 0, len(samples))
	for _, s := range samples {
		ids = append(ids, s.ID)
	}
	return strings.Join(ids, ", ")
}

func techniqueStatus(technique *core.Technique) string {
	var parts []string
	if technique.Deprecated {
		parts = append(parts, "deprecated")
	}
	if technique.Revoked {
		parts = append(parts, "revoked")
	}
	return strings.Join(parts, ", ")
}

func formatTime(value *time.Time) string {
	if value == nil {
		return "-"
	}
	return value.UTC().Format(time.RFC3339)
}
