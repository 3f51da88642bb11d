package migrate

import (
	"context"

	"github.com/riskledger/riskledger/internal/core"
)

// DefaultSampleSize is the number of sample documents kept per bucket.
const DefaultSampleSize = 5

// Sample is one document shown in a verification bucket.
type Sample struct {
	ID      string `json:"id"`
	Version string `json:"version"`
	Value   any    `json:"value,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Bucket tallies documents of one shape.
type Bucket struct {
	Count   int      `json:"count"`
	Samples []Sample `json:"samples"`
}

// VerifyReport classifies every document of a collection. Pending is the
// selector count, which equals Scanned minus the canonical bucket when the
// selector and the Go classification agree.
type VerifyReport struct {
	Migration  string            `json:"migration"`
	Collection core.Collection   `json:"collection"`
	Field      string            `json:"field"`
	Scanned    int               `json:"scanned"`
	Pending    int               `json:"pending"`
	Buckets    map[Shape]*Bucket `json:"buckets"`
}

// Bucket returns the bucket for shape, never nil.
func (v *VerifyReport) Bucket(shape Shape) *Bucket {
	if b, ok := v.Buckets[shape]; ok {
		return b
	}
	return &Bucket{}
}

// Complete reports whether every document is canonical.
func (v *VerifyReport) Complete() bool {
	return v.Bucket(ShapeCanonical).Count == v.Scanned
}

// Verify re-scans the collection and buckets each document by shape. It is
// read-only and may be run any number of times.
func (r *Migrator) Verify(ctx context.Context, m *Migration) (*VerifyReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	sampleSize := r.SampleSize
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}

	report := &VerifyReport{
		Migration:  m.Name,
		Collection: m.Collection,
		Field:      m.FieldPath(),
		Buckets:    make(map[Shape]*Bucket, len(Shapes)),
	}
	for _, shape := range Shapes {
		report.Buckets[shape] = &Bucket{Samples: []Sample{}}
	}

	err := r.scan(ctx, m, func(doc core.Document) error {
		report.Scanned++

		version, value, err := m.Detect(doc.Body)
		if err != nil {
			version, value = invalidVersion, nil
		}
		bucket := report.Buckets[version.Shape]
		bucket.Count++
		if len(bucket.Samples) >= sampleSize {
			return nil
		}

		sample := Sample{ID: doc.ID, Version: version.Name, Value: value}
		if err != nil {
			sample.Reason = err.Error()
		}
		bucket.Samples = append(bucket.Samples, sample)
		return nil
	})
	if err != nil {
		return nil, abort(m.Name, err)
	}

	pending, err := r.Pending(ctx, m)
	if err != nil {
		return nil, abort(m.Name, err)
	}
	report.Pending = pending

	return report, nil
}
