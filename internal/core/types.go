package core

import (
	"strings"
	"time"
)

// Collection names a GRC record collection.
type Collection string

const (
	CollectionRisks             Collection = "risks"
	CollectionThreats           Collection = "threats"
	CollectionCorrectiveActions Collection = "corrective_actions"
	CollectionImprovements      Collection = "improvements"
	CollectionApprovals         Collection = "approvals"
	CollectionThirdParties      Collection = "third_parties"
	CollectionInformationAssets Collection = "information_assets"
	CollectionUsers             Collection = "users"
	CollectionRoles             Collection = "roles"
	CollectionWorkshops         Collection = "workshops"
)

// Collections lists every collection the record API serves.
var Collections = []Collection{
	CollectionRisks,
	CollectionThreats,
	CollectionCorrectiveActions,
	CollectionImprovements,
	CollectionApprovals,
	CollectionThirdParties,
	CollectionInformationAssets,
	CollectionUsers,
	CollectionRoles,
	CollectionWorkshops,
}

// ParseCollection normalizes a collection name and reports whether it is known.
func ParseCollection(value string) (Collection, bool) {
	normalized := Collection(strings.ToLower(strings.TrimSpace(value)))
	for _, c := range Collections {
		if c == normalized {
			return c, true
		}
	}
	return "", false
}

// Document is a stored record. Body holds the JSON object as persisted; the
// identifier and timestamps live outside it.
type Document struct {
	Collection Collection     `json:"collection"`
	ID         string         `json:"id"`
	Body       map[string]any `json:"body"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}
