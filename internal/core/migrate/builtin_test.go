package migrate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitList(t *testing.T) {
	require.Equal(t, []any{"a", "b", "c"}, SplitList("a, b ,c"))
	require.Equal(t, []any{"a", "c"}, SplitList(" a,, ,c, "))
	require.Equal(t, []any{}, SplitList(""))
}

func TestRisksCurrentControlsPlan(t *testing.T) {
	plan, err := RisksCurrentControls.Plan(map[string]any{"currentControls": "a, b ,c"})
	require.NoError(t, err)
	require.True(t, plan.Changed)
	require.False(t, plan.Defaulted)
	require.Equal(t, "$.currentControls", plan.Path)
	require.Equal(t, []any{"a", "b", "c"}, plan.Value)
	require.Equal(t, ShapeLegacy, plan.From.Shape)

	plan, err = RisksCurrentControls.Plan(map[string]any{"title": "x"})
	require.NoError(t, err)
	require.True(t, plan.Defaulted)
	require.Equal(t, []any{}, plan.Value)
	require.Equal(t, ShapeMissing, plan.From.Shape)

	plan, err = RisksCurrentControls.Plan(map[string]any{"currentControls": []any{"a"}})
	require.NoError(t, err)
	require.False(t, plan.Changed)

	_, err = RisksCurrentControls.Plan(map[string]any{"currentControls": 42.0})
	require.Error(t, err)
}

func TestUsersRolesPlan(t *testing.T) {
	cases := []struct {
		name      string
		body      map[string]any
		changed   bool
		defaulted bool
		value     any
	}{
		{"singular role", map[string]any{"role": "admin"}, true, false, []any{"admin"}},
		{"roles as string", map[string]any{"roles": "auditor"}, true, false, []any{"auditor"}},
		{"blank role", map[string]any{"role": "  "}, true, false, []any{}},
		{"absent", map[string]any{"email": "a@example.com"}, true, true, []any{}},
		{"null roles", map[string]any{"roles": nil}, true, true, []any{}},
		{"canonical", map[string]any{"role": "admin", "roles": []any{"admin", "owner"}}, false, false, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			plan, err := UsersRoles.Plan(tc.body)
			require.NoError(t, err)
			require.Equal(t, tc.changed, plan.Changed)
			require.Equal(t, tc.defaulted, plan.Defaulted)
			require.Equal(t, tc.value, plan.Value)
		})
	}

	_, err := UsersRoles.Plan(map[string]any{"role": 3.0})
	require.Error(t, err)
}

func TestThirdPartiesRiskIDsPlan(t *testing.T) {
	plan, err := ThirdPartiesRiskIDs.Plan(map[string]any{"riskId": "r1"})
	require.NoError(t, err)
	require.Equal(t, []any{"r1"}, plan.Value)
	require.Equal(t, "$.riskIds", plan.Path)

	plan, err = ThirdPartiesRiskIDs.Plan(map[string]any{"riskIds": "r1, r2"})
	require.NoError(t, err)
	require.Equal(t, []any{"r1", "r2"}, plan.Value)

	plan, err = ThirdPartiesRiskIDs.Plan(map[string]any{})
	require.NoError(t, err)
	require.True(t, plan.Defaulted)
}

func TestWorkshopsMinutesItemsPlan(t *testing.T) {
	plan, err := WorkshopsMinutesItems.Plan(map[string]any{
		"meetingMinutes": map[string]any{"notes": "n", "items": []any{"r1", " r2 "}},
	})
	require.NoError(t, err)
	require.True(t, plan.Changed)
	require.Equal(t, "$.meetingMinutes.items", plan.Path)
	require.Equal(t, []any{
		map[string]any{"riskId": "r1", "actions": []any{}},
		map[string]any{"riskId": "r2", "actions": []any{}},
	}, plan.Value)

	// Missing parent object is created in the same targeted write.
	plan, err = WorkshopsMinutesItems.Plan(map[string]any{"title": "Q1"})
	require.NoError(t, err)
	require.True(t, plan.Defaulted)
	require.Equal(t, "$.meetingMinutes", plan.Path)
	require.Equal(t, map[string]any{"items": []any{}}, plan.Value)
	require.Equal(t, []any{}, plan.Canonical)

	plan, err = WorkshopsMinutesItems.Plan(map[string]any{
		"meetingMinutes": map[string]any{"items": []any{map[string]any{"riskId": "r1", "actions": []any{}}}},
	})
	require.NoError(t, err)
	require.False(t, plan.Changed)

	_, err = WorkshopsMinutesItems.Plan(map[string]any{"meetingMinutes": "free text"})
	require.Error(t, err)
	_, err = WorkshopsMinutesItems.Plan(map[string]any{"meetingMinutes": map[string]any{"items": []any{1.0}}})
	require.Error(t, err)
}

func TestPlanFoldsMultipleSteps(t *testing.T) {
	v0 := Version{Name: "v0", Shape: ShapeLegacy}
	v1 := Version{Name: "v1", Shape: ShapeLegacy}
	v2 := Version{Name: "v2", Shape: ShapeCanonical}

	m := &Migration{
		Name:      "fold",
		Field:     []string{"n"},
		Canonical: v2,
		Detect: func(body map[string]any) (Version, any, error) {
			return v0, body["n"], nil
		},
		Steps: map[string]Step{
			"v0": {To: v1, Apply: func(v any) (any, error) { return v.(float64) + 1, nil }},
			"v1": {To: v2, Apply: func(v any) (any, error) { return v.(float64) * 10, nil }},
		},
	}

	plan, err := m.Plan(map[string]any{"n": 1.0})
	require.NoError(t, err)
	require.Equal(t, 20.0, plan.Value)
	require.Equal(t, "v0", plan.From.Name)

	delete(m.Steps, "v1")
	_, err = m.Plan(map[string]any{"n": 1.0})
	require.ErrorIs(t, err, ErrNoUpgradePath)
}

func TestLookupBuiltin(t *testing.T) {
	m, ok := Lookup(" Users-Roles ")
	require.True(t, ok)
	require.Same(t, UsersRoles, m)

	_, ok = Lookup("nope")
	require.False(t, ok)
	require.Len(t, Builtin(), 4)
}
