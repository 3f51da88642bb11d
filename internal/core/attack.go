package core

import "time"

// Technique is a MITRE ATT&CK technique or sub-technique.
type Technique struct {
	ID          string    `json:"id"`
	STIXID      string    `json:"stix_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Tactics     []string  `json:"tactics,omitempty"`
	Platforms   []string  `json:"platforms,omitempty"`
	URL         string    `json:"url,omitempty"`
	Deprecated  bool      `json:"deprecated"`
	Revoked     bool      `json:"revoked"`
	Modified    time.Time `json:"modified"`
	FromCache   bool      `json:"from_cache"`
}
