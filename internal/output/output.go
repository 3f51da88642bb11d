package output

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/riskledger/riskledger/internal/core"
	"github.com/riskledger/riskledger/internal/core/migrate"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// Formatter renders migration and lookup results.
type Formatter interface {
	FormatReport(report *migrate.Report) (string, error)
	FormatVerify(report *migrate.VerifyReport) (string, error)
	FormatTechnique(technique *core.Technique) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown):
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	default:
		return &TableFormatter{}
	}
}

// FormatStatuses renders the migration list with pending counts.
func FormatStatuses(format Format, statuses []migrate.Status) (string, error) {
	if format == FormatJSON {
		return indentJSON(statuses)
	}
	if format == FormatMarkdown {
		var sb strings.Builder
		sb.WriteString("| Migration | Collection | Field | Pending | Description |\n")
		sb.WriteString("|-----------|------------|-------|---------|-------------|\n")
		for _, s := range statuses {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %d | %s |\n",
				escapeMarkdownCell(s.Name),
				escapeMarkdownCell(string(s.Collection)),
				escapeMarkdownCell(s.Field),
				s.Pending,
				escapeMarkdownCell(s.Description),
			))
		}
		return sb.String(), nil
	}
	return statusTable(statuses), nil
}

// FormatRuns renders migration audit records, newest first.
func FormatRuns(format Format, runs []core.MigrationRun) (string, error) {
	if format == FormatJSON {
		return indentJSON(runs)
	}
	return runsTable(runs), nil
}

func indentJSON(value any) (string, error) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
