package attack

import (
	"time"

	"github.com/riskledger/riskledger/internal/core"
)

// envelope is the TAXII 2.1 objects response.
type envelope struct {
	More    bool            `json:"more"`
	Objects []attackPattern `json:"objects"`
}

type attackPattern struct {
	Type               string              `json:"type"`
	ID                 string              `json:"id"`
	Name               string              `json:"name"`
	Description        string              `json:"description"`
	Modified           time.Time           `json:"modified"`
	Revoked            bool                `json:"revoked"`
	Deprecated         bool                `json:"x_mitre_deprecated"`
	Platforms          []string            `json:"x_mitre_platforms"`
	KillChainPhases    []killChainPhase    `json:"kill_chain_phases"`
	ExternalReferences []externalReference `json:"external_references"`
}

type killChainPhase struct {
	KillChainName string `json:"kill_chain_name"`
	PhaseName     string `json:"phase_name"`
}

type externalReference struct {
	SourceName string `json:"source_name"`
	ExternalID string `json:"external_id"`
	URL        string `json:"url"`
}

// technique picks the attack-pattern carrying the id. A current object wins
// over a revoked or deprecated one.
func (e envelope) technique(id string) *core.Technique {
	var best *core.Technique
	for _, obj := range e.Objects {
		if obj.Type != "attack-pattern" {
			continue
		}
		ref, ok := obj.mitreReference()
		if !ok || ref.ExternalID != id {
			continue
		}

		candidate := &core.Technique{
			ID:          ref.ExternalID,
			STIXID:      obj.ID,
			Name:        obj.Name,
			Description: obj.Description,
			Platforms:   obj.Platforms,
			URL:         ref.URL,
			Deprecated:  obj.Deprecated,
			Revoked:     obj.Revoked,
			Modified:    obj.Modified,
		}
		for _, phase := range obj.KillChainPhases {
			if phase.KillChainName == "mitre-attack" {
				candidate.Tactics = append(candidate.Tactics, phase.PhaseName)
			}
		}

		if best == nil || (isStale(best) && !isStale(candidate)) {
			best = candidate
		}
	}
	return best
}

func (o attackPattern) mitreReference() (externalReference, bool) {
	for _, ref := range o.ExternalReferences {
		if ref.SourceName == "mitre-attack" {
			return ref, true
		}
	}
	return externalReference{}, false
}

func isStale(t *core.Technique) bool {
	return t.Revoked || t.Deprecated
}
