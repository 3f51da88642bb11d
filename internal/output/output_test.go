package output

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/riskledger/riskledger/internal/core"
	"github.com/riskledger/riskledger/internal/core/migrate"
	"github.com/riskledger/riskledger/internal/core/store"
)

func TestParseFormat(t *testing.T) {
	format, err := ParseFormat("table")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	format, err = ParseFormat("JSON")
	require.NoError(t, err)
	require.Equal(t, FormatJSON, format)

	format, err = ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	_, err = ParseFormat("csv")
	require.Error(t, err)
}

func sampleReport() *migrate.Report {
	started := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return &migrate.Report{
		Migration:  "risks-current-controls",
		Collection: core.CollectionRisks,
		Scanned:    10,
		Updated:    8,
		Defaulted:  2,
		Skipped:    1,
		Errored:    1,
		Failures:   []*migrate.DocumentError{{ID: "risk-4", Cause: errors.New("constraint failed")}},
		StartedAt:  started,
		FinishedAt: started.Add(1500 * time.Millisecond),
	}
}

func TestFormatReport(t *testing.T) {
	report := sampleReport()

	tableRendered, err := NewFormatter(FormatTable).FormatReport(report)
	require.NoError(t, err)
	require.Contains(t, tableRendered, "MIGRATION")
	require.Contains(t, tableRendered, "risks-current-controls")
	require.Contains(t, tableRendered, "1.5s")
	require.Contains(t, tableRendered, "risk-4")
	require.Contains(t, tableRendered, "constraint failed")

	jsonRendered, err := NewFormatter(FormatJSON).FormatReport(report)
	require.NoError(t, err)
	require.Contains(t, jsonRendered, "\"updated\": 8")
	require.Contains(t, jsonRendered, "\"error\": \"constraint failed\"")

	markdownRendered, err := NewFormatter(FormatMarkdown).FormatReport(report)
	require.NoError(t, err)
	require.Contains(t, markdownRendered, "| 10 | 8 | 2 | 1 | 1 |")
	require.Contains(t, markdownRendered, "- `risk-4`: constraint failed")
}

func TestFormatDryRunReport(t *testing.T) {
	report := &migrate.Report{
		Migration: "users-roles",
		DryRun:    true,
		Scanned:   1,
		Updated:   1,
		Changes:   []migrate.Change{{ID: "u1", From: "role-string", Diff: "-\"admin\"\n+[\n+  \"admin\"\n+]\n"}},
	}

	rendered, err := NewFormatter(FormatTable).FormatReport(report)
	require.NoError(t, err)
	require.Contains(t, rendered, "DRY RUN")
	require.Contains(t, rendered, "u1 (role-string)")
	require.Contains(t, rendered, "+  \"admin\"")

	markdown, err := NewFormatter(FormatMarkdown).FormatReport(report)
	require.NoError(t, err)
	require.Contains(t, markdown, "(dry run)")
	require.Contains(t, markdown, "```diff\n-\"admin\"")
}

func TestFormatVerify(t *testing.T) {
	report := &migrate.VerifyReport{
		Migration: "users-roles",
		Field:     "$.roles",
		Scanned:   3,
		Pending:   2,
		Buckets: map[migrate.Shape]*migrate.Bucket{
			migrate.ShapeCanonical: {Count: 1, Samples: []migrate.Sample{{ID: "u1"}}},
			migrate.ShapeLegacy:    {Count: 2, Samples: []migrate.Sample{{ID: "u2"}, {ID: "u3"}}},
		},
	}

	rendered, err := NewFormatter(FormatTable).FormatVerify(report)
	require.NoError(t, err)
	require.Contains(t, rendered, "u2, u3")
	require.Contains(t, rendered, "2 PENDING")
	require.Contains(t, rendered, "INCOMPLETE")

	markdown, err := NewFormatter(FormatMarkdown).FormatVerify(report)
	require.NoError(t, err)
	require.Contains(t, markdown, "| legacy | 2 | u2, u3 |")
	require.Contains(t, markdown, "| invalid | 0 | - |")
}

func TestFormatTechnique(t *testing.T) {
	technique := &core.Technique{
		ID:        "T1059.001",
		Name:      "PowerShell",
		Tactics:   []string{"execution"},
		Platforms: []string{"Windows"},
		URL:       "https://attack.mitre.org/techniques/T1059/001",
		FromCache: true,
	}

	rendered, err := NewFormatter(FormatTable).FormatTechnique(technique)
	require.NoError(t, err)
	require.Contains(t, rendered, "PowerShell")
	require.Contains(t, rendered, "execution")
	require.Contains(t, rendered, "CACHE")

	markdown, err := NewFormatter(FormatMarkdown).FormatTechnique(technique)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(markdown, "## T1059.001 PowerShell"))
}

func TestFormatStatusesAndRateLimits(t *testing.T) {
	statuses := []migrate.Status{{Name: "users-roles", Collection: core.CollectionUsers, Field: "$.roles", Pending: 3, Description: "a|b"}}

	rendered, err := FormatStatuses(FormatJSON, statuses)
	require.NoError(t, err)
	require.Contains(t, rendered, "\"pending\": 3")

	markdown, err := FormatStatuses(FormatMarkdown, statuses)
	require.NoError(t, err)
	require.Contains(t, markdown, "a\\|b")

	until := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	limits, err := FormatRateLimits(FormatTable, []store.RateLimitEntry{{
		Endpoint: "attack-taxii.mitre.org",
		State:    core.RateLimitState{BackoffUntil: &until},
	}})
	require.NoError(t, err)
	require.Contains(t, limits, "attack-taxii.mitre.org")
	require.Contains(t, limits, "2025-03-01T12:00:00Z")

	empty, err := FormatRateLimits(FormatTable, nil)
	require.NoError(t, err)
	require.Contains(t, empty, "no stored rate limit state")
}

func TestFormatRateLimitReset(t *testing.T) {
	text, err := FormatRateLimitReset(FormatTable, RateLimitReset{Matched: 3, DryRun: true})
	require.NoError(t, err)
	require.Equal(t, "Would delete 3 rate limit entr(ies)", text)

	text, err = FormatRateLimitReset(FormatTable, RateLimitReset{Matched: 3, Deleted: 2})
	require.NoError(t, err)
	require.Equal(t, "Deleted 2/3 rate limit entr(ies)", text)

	text, err = FormatRateLimitReset(FormatJSON, RateLimitReset{Matched: 1, Deleted: 1})
	require.NoError(t, err)
	require.Contains(t, text, `"deleted": 1`)
}
