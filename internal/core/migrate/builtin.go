package migrate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/riskledger/riskledger/internal/core"
)

// Missing fields are completed with an empty list. No identifiers are ever
// invented; an empty list is flagged Defaulted so it can be reviewed.
func defaultEmptyList(any) (any, error) {
	return []any{}, nil
}

func wrapString(value any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("expected string, got %T", value)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return []any{}, nil
	}
	return []any{s}, nil
}

// SplitList splits a delimited string into trimmed, non-empty tokens.
func SplitList(value string) []any {
	out := []any{}
	for _, part := range strings.Split(value, ",") {
		if token := strings.TrimSpace(part); token != "" {
			out = append(out, token)
		}
	}
	return out
}

func splitString(value any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("expected string, got %T", value)
	}
	return SplitList(s), nil
}

var (
	listCanonical = Version{Name: "string-list", Shape: ShapeCanonical}
	listAbsent    = Version{Name: "absent", Shape: ShapeMissing}
)

// UsersRoles moves users from a single role string to a roles list.
var UsersRoles = &Migration{
	Name:        "users-roles",
	Description: "users.role (string) -> users.roles (list)",
	Collection:  core.CollectionUsers,
	Field:       []string{"roles"},
	Selector:    `json_type(body, '$.roles') IS NOT 'array'`,
	Canonical:   listCanonical,
	Detect: func(body map[string]any) (Version, any, error) {
		if roles, ok := lookup(body, []string{"roles"}); ok {
			switch roles.(type) {
			case []any:
				return listCanonical, roles, nil
			case string:
				return Version{Name: "roles-string", Shape: ShapeLegacy}, roles, nil
			default:
				return Version{}, nil, fmt.Errorf("roles has unsupported type %T", roles)
			}
		}
		if role, ok := lookup(body, []string{"role"}); ok {
			if _, isString := role.(string); !isString {
				return Version{}, nil, fmt.Errorf("role has unsupported type %T", role)
			}
			return Version{Name: "role-string", Shape: ShapeLegacy}, role, nil
		}
		return listAbsent, nil, nil
	},
	Steps: map[string]Step{
		"roles-string": {To: listCanonical, Apply: wrapString},
		"role-string":  {To: listCanonical, Apply: wrapString},
		"absent":       {To: listCanonical, Apply: defaultEmptyList, Defaulted: true},
	},
}

// RisksCurrentControls turns free-text current controls into a list.
var RisksCurrentControls = &Migration{
	Name:        "risks-current-controls",
	Description: "risks.currentControls (comma separated string) -> list",
	Collection:  core.CollectionRisks,
	Field:       []string{"currentControls"},
	Selector:    `json_type(body, '$.currentControls') IS NOT 'array'`,
	Canonical:   listCanonical,
	Detect: func(body map[string]any) (Version, any, error) {
		value, ok := lookup(body, []string{"currentControls"})
		if !ok {
			return listAbsent, nil, nil
		}
		switch value.(type) {
		case []any:
			return listCanonical, value, nil
		case string:
			return Version{Name: "delimited-string", Shape: ShapeLegacy}, value, nil
		default:
			return Version{}, nil, fmt.Errorf("currentControls has unsupported type %T", value)
		}
	},
	Steps: map[string]Step{
		"delimited-string": {To: listCanonical, Apply: splitString},
		"absent":           {To: listCanonical, Apply: defaultEmptyList, Defaulted: true},
	},
}

// ThirdPartiesRiskIDs adds the plural riskIds relationship to vendors.
var ThirdPartiesRiskIDs = &Migration{
	Name:        "third-parties-risk-ids",
	Description: "third_parties.riskId (string) -> third_parties.riskIds (list)",
	Collection:  core.CollectionThirdParties,
	Field:       []string{"riskIds"},
	Selector:    `json_type(body, '$.riskIds') IS NOT 'array'`,
	Canonical:   listCanonical,
	Detect: func(body map[string]any) (Version, any, error) {
		if ids, ok := lookup(body, []string{"riskIds"}); ok {
			switch ids.(type) {
			case []any:
				return listCanonical, ids, nil
			case string:
				return Version{Name: "risk-ids-string", Shape: ShapeLegacy}, ids, nil
			default:
				return Version{}, nil, fmt.Errorf("riskIds has unsupported type %T", ids)
			}
		}
		if id, ok := lookup(body, []string{"riskId"}); ok {
			if _, isString := id.(string); !isString {
				return Version{}, nil, fmt.Errorf("riskId has unsupported type %T", id)
			}
			return Version{Name: "single-risk-id", Shape: ShapeLegacy}, id, nil
		}
		return listAbsent, nil, nil
	},
	Steps: map[string]Step{
		"risk-ids-string": {To: listCanonical, Apply: splitString},
		"single-risk-id":  {To: listCanonical, Apply: wrapString},
		"absent":          {To: listCanonical, Apply: defaultEmptyList, Defaulted: true},
	},
}

var minutesCanonical = Version{Name: "item-records", Shape: ShapeCanonical}

// WorkshopsMinutesItems upgrades meeting-minutes items from bare risk ids to
// records carrying the risk id and its actions.
var WorkshopsMinutesItems = &Migration{
	Name:        "workshops-minutes-items",
	Description: "workshops.meetingMinutes.items (risk ids) -> [{riskId, actions}]",
	Collection:  core.CollectionWorkshops,
	Field:       []string{"meetingMinutes", "items"},
	Selector: `json_type(body, '$.meetingMinutes.items') IS NOT 'array'
		OR EXISTS (SELECT 1 FROM json_each(body, '$.meetingMinutes.items') AS item WHERE item.type <> 'object')`,
	Canonical: minutesCanonical,
	Detect: func(body map[string]any) (Version, any, error) {
		if minutes, present := body["meetingMinutes"]; present && minutes != nil {
			if _, ok := minutes.(map[string]any); !ok {
				return Version{}, nil, fmt.Errorf("meetingMinutes has unsupported type %T", minutes)
			}
		}
		value, ok := lookup(body, []string{"meetingMinutes", "items"})
		if !ok {
			return Version{Name: "absent", Shape: ShapeMissing}, nil, nil
		}
		items, isList := value.([]any)
		if !isList {
			return Version{}, nil, fmt.Errorf("meetingMinutes.items has unsupported type %T", value)
		}
		legacy := false
		for i, item := range items {
			switch item.(type) {
			case map[string]any:
			case string:
				legacy = true
			default:
				return Version{}, nil, fmt.Errorf("meetingMinutes.items[%d] has unsupported type %T", i, item)
			}
		}
		if legacy {
			return Version{Name: "risk-id-list", Shape: ShapeLegacy}, items, nil
		}
		return minutesCanonical, items, nil
	},
	Steps: map[string]Step{
		"risk-id-list": {To: minutesCanonical, Apply: func(value any) (any, error) {
			items, ok := value.([]any)
			if !ok {
				return nil, fmt.Errorf("expected list, got %T", value)
			}
			out := make([]any, 0, len(items))
			for _, item := range items {
				id, isString := item.(string)
				if !isString {
					out = append(out, item)
					continue
				}
				out = append(out, map[string]any{
					"riskId":  strings.TrimSpace(id),
					"actions": []any{},
				})
			}
			return out, nil
		}},
		"absent": {To: minutesCanonical, Apply: defaultEmptyList, Defaulted: true},
	},
}

// Builtin returns every shipped migration sorted by name.
func Builtin() []*Migration {
	all := []*Migration{UsersRoles, RisksCurrentControls, ThirdPartiesRiskIDs, WorkshopsMinutesItems}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all
}

// Lookup finds a built-in migration by name.
func Lookup(name string) (*Migration, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, m := range Builtin() {
		if m.Name == name {
			return m, true
		}
	}
	return nil, false
}
