package output

import (
	"fmt"
	"strings"

	"github.com/riskledger/riskledger/internal/core"
	"github.com/riskledger/riskledger/internal/core/migrate"
)

// MarkdownFormatter renders results as markdown, suitable for change review.
type MarkdownFormatter struct{}

// FormatReport renders a migration report as Markdown.
func (f *MarkdownFormatter) FormatReport(report *migrate.Report) (string, error) {
	if report == nil {
		return "", nil
	}

	var sb strings.Builder
	title := escapeMarkdownCell(report.Migration)
	if report.DryRun {
		title += " (dry run)"
	}
	sb.WriteString(fmt.Sprintf("## %s\n\n", title))
	sb.WriteString("| Scanned | Updated | Defaulted | Skipped | Errored |\n")
	sb.WriteString("|---------|---------|-----------|---------|---------|\n")
	sb.WriteString(fmt.Sprintf("| %d | %d | %d | %d | %d |\n",
		report.Scanned, report.Updated, report.Defaulted, report.Skipped, report.Errored))

	if report.Aborted != "" {
		sb.WriteString(fmt.Sprintf("\n**Aborted**: %s\n", report.Aborted))
	}

	if len(report.Failures) > 0 {
		sb.WriteString("\n### Failures\n\n")
		for _, failure := range report.Failures {
			sb.WriteString(fmt.Sprintf("- `%s`: %s\n", failure.ID, failure.Cause.Error()))
		}
	}

	for _, change := range report.Changes {
		sb.WriteString(fmt.Sprintf("\n### %s\n\n```diff\n%s```\n", change.ID, change.Diff))
	}

	return sb.String(), nil
}

// FormatVerify renders verification buckets as Markdown.
func (f *MarkdownFormatter) FormatVerify(report *migrate.VerifyReport) (string, error) {
	if report == nil {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## %s verification\n\n", escapeMarkdownCell(report.Migration)))
	sb.WriteString("| Shape | Count | Samples |\n")
	sb.WriteString("|-------|-------|---------|\n")
	for _, shape := range migrate.Shapes {
		bucket := report.Bucket(shape)
		sb.WriteString(fmt.Sprintf("| %s | %d | %s |\n", shape, bucket.Count, escapeMarkdownCell(sampleSummary(bucket.Samples))))
	}
	sb.WriteString(fmt.Sprintf("\n**Pending**: %d of %d\n", report.Pending, report.Scanned))
	return sb.String(), nil
}

// FormatTechnique renders a technique as Markdown.
func (f *MarkdownFormatter) FormatTechnique(technique *core.Technique) (string, error) {
	if technique == nil {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## %s %s\n\n", technique.ID, escapeMarkdownCell(technique.Name)))
	if len(technique.Tactics) > 0 {
		sb.WriteString(fmt.Sprintf("- Tactics: %s\n", strings.Join(technique.Tactics, ", ")))
	}
	if len(technique.Platforms) > 0 {
		sb.WriteString(fmt.Sprintf("- Platforms: %s\n", strings.Join(technique.Platforms, ", ")))
	}
	if technique.URL != "" {
		sb.WriteString(fmt.Sprintf("- URL: %s\n", technique.URL))
	}
	if technique.Description != "" {
		sb.WriteString("\n")
		sb.WriteString(technique.Description)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func escapeMarkdownCell(value string) string {
	return strings.ReplaceAll(value, "|", "\\|")
}
