package output

import (
	"encoding/json"

	"github.com/riskledger/riskledger/internal/core"
	"github.com/riskledger/riskledger/internal/core/migrate"
)

// JSONFormatter renders results as JSON.
type JSONFormatter struct {
	Indent bool
}

// reportJSON exposes per-document failures, which Report keeps out of its
// own encoding because errors do not marshal.
type reportJSON struct {
	*migrate.Report
	Failures []failureJSON `json:"failures,omitempty"`
}

type failureJSON struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// FormatReport renders a migration report as JSON.
func (f *JSONFormatter) FormatReport(report *migrate.Report) (string, error) {
	if report == nil {
		return "", nil
	}
	payload := reportJSON{Report: report}
	for _, failure := range report.Failures {
		payload.Failures = append(payload.Failures, failureJSON{ID: failure.ID, Error: failure.Cause.Error()})
	}
	return f.encode(payload)
}

// FormatVerify renders a verification report as JSON.
func (f *JSONFormatter) FormatVerify(report *migrate.VerifyReport) (string, error) {
	if report == nil {
		return "", nil
	}
	return f.encode(report)
}

// FormatTechnique renders a technique as JSON.
func (f *JSONFormatter) FormatTechnique(technique *core.Technique) (string, error) {
	if technique == nil {
		return "", nil
	}
	return f.encode(technique)
}

func (f *JSONFormatter) encode(value any) (string, error) {
	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(value, "", "  ")
	} else {
		data, err = json.Marshal(value)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}
