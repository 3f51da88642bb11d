package core

import "time"

// MigrationRun is the audit record of one migrator execution.
type MigrationRun struct {
	ID         string    `json:"id"`
	Migration  string    `json:"migration"`
	Collection string    `json:"collection"`
	DryRun     bool      `json:"dry_run"`
	Scanned    int       `json:"scanned"`
	Updated    int       `json:"updated"`
	Skipped    int       `json:"skipped"`
	Errored    int       `json:"errored"`
	Defaulted  int       `json:"defaulted"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Aborted    string    `json:"aborted,omitempty"`
}
