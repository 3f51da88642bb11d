// Package migrate brings stored documents from historical shapes to one
// canonical shape. Each Migration detects the schema version of a document,
// then folds explicit one-step upgrades until the canonical version is
// reached. Only the migrated field is written back.
package migrate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/riskledger/riskledger/internal/core"
)

// Shape buckets a version for verification reports.
type Shape string

const (
	ShapeCanonical Shape = "canonical"
	ShapeLegacy    Shape = "legacy"
	ShapeMissing   Shape = "missing"
	ShapeInvalid   Shape = "invalid"
)

// Shapes lists buckets in report order.
var Shapes = []Shape{ShapeCanonical, ShapeLegacy, ShapeMissing, ShapeInvalid}

// Version is one historical schema of the migrated field.
type Version struct {
	Name  string
	Shape Shape
}

// Step upgrades a field value from one version to the next.
type Step struct {
	To Version
	// Defaulted marks data completion (the new value is not derived from
	// existing data) as opposed to pure reshaping.
	Defaulted bool
	Apply     func(value any) (any, error)
}

// Migration describes how one field of one collection is brought to its
// canonical shape.
type Migration struct {
	Name        string
	Description string
	Collection  core.Collection
	// Field is the canonical location, one key per nesting level.
	Field []string
	// Selector is an SQL predicate over the body column that matches every
	// document whose field is not canonical. It drives pending counts.
	Selector  string
	Canonical Version
	// Detect classifies a document body and returns the value carried into
	// the first upgrade step. An error means the shape is unrecognized.
	Detect func(body map[string]any) (Version, any, error)
	// Steps maps a version name to its upgrade.
	Steps map[string]Step
}

// Plan is the computed outcome for one document.
type Plan struct {
	From      Version
	Changed   bool
	Defaulted bool
	// Path and Value form the targeted update. Path may point at an ancestor
	// of Field when intermediate objects are missing.
	Path  string
	Value any
	// Current is the value at Field before migration, nil when absent.
	Current any
	// Canonical is the new value at Field.
	Canonical any
}

// ErrNoUpgradePath is returned when a version has no step toward canonical.
var ErrNoUpgradePath = errors.New("no upgrade path")

// FieldPath renders Field as a JSON path, e.g. $.meetingMinutes.items.
func (m *Migration) FieldPath() string {
	return "$." + strings.Join(m.Field, ".")
}

var invalidVersion = Version{Name: "invalid", Shape: ShapeInvalid}

// Classify returns the detected version, or the invalid version with the cause.
func (m *Migration) Classify(body map[string]any) (Version, error) {
	version, _, err := m.Detect(body)
	if err != nil {
		return invalidVersion, err
	}
	return version, nil
}

// Plan detects the document version and upgrades one step at a time until
// canonical. It never mutates body.
func (m *Migration) Plan(body map[string]any) (Plan, error) {
	version, value, err := m.Detect(body)
	if err != nil {
		return Plan{}, err
	}

	plan := Plan{From: version}
	plan.Current, _ = lookup(body, m.Field)

	for steps := 0; version.Name != m.Canonical.Name; steps++ {
		if steps > len(m.Steps) {
			return Plan{}, fmt.Errorf("%s: upgrade from %q does not converge", m.Name, plan.From.Name)
		}
		step, ok := m.Steps[version.Name]
		if !ok {
			return Plan{}, fmt.Errorf("%s: %w from %q", m.Name, ErrNoUpgradePath, version.Name)
		}
		next, err := step.Apply(value)
		if err != nil {
			return Plan{}, fmt.Errorf("%s: upgrade %q -> %q: %w", m.Name, version.Name, step.To.Name, err)
		}
		plan.Changed = true
		plan.Defaulted = plan.Defaulted || step.Defaulted
		version, value = step.To, next
	}

	if plan.Changed {
		plan.Canonical = value
		plan.Path, plan.Value = writeTarget(body, m.Field, value)
	}
	return plan, nil
}

// lookup walks nested objects. found is false when any level is absent or null.
func lookup(body map[string]any, field []string) (value any, found bool) {
	var current any = body
	for _, key := range field {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[key]
		if !ok || current == nil {
			return nil, false
		}
	}
	return current, true
}

// writeTarget picks the shallowest missing ancestor of field so a single
// json_set creates it, wrapping value in the intermediate objects.
func writeTarget(body map[string]any, field []string, value any) (string, any) {
	var current any = body
	for i, key := range field[:len(field)-1] {
		obj, _ := current.(map[string]any)
		next, ok := obj[key]
		if !ok || next == nil {
			wrapped := value
			for j := len(field) - 1; j > i; j-- {
				wrapped = map[string]any{field[j]: wrapped}
			}
			return "$." + strings.Join(field[:i+1], "."), wrapped
		}
		current = next
	}
	return "$." + strings.Join(field, "."), value
}
