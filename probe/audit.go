// Package probe provides passive observers for stream connections. An
// audit probe accumulates per-field statistics and infers field metadata
// from the records flowing by, without consuming or altering them.
package probe

import (
	"sync"

	"github.com/ironman-/brewery/metadata"
)

// DefaultDistinctLimit bounds the distinct-value sets kept per field.
// Beyond the limit the set is discarded and the field reports overflow.
const DefaultDistinctLimit = 1000

// FieldStats is the accumulated audit result for one field.
type FieldStats struct {
	Name         string
	Records      int64
	Nulls        int64
	EmptyStrings int64

	// DistinctOverflow is set once the number of distinct values
	// exceeded the probe's limit; Distinct is then meaningless.
	DistinctOverflow bool
	Distinct         int

	// Inferred is the storage type observed on the wire, or Unknown if
	// only missing values were seen.
	Inferred metadata.StorageType
}

// NullRatio returns the ratio of missing values to observed records.
func (s FieldStats) NullRatio() float64 {
	if s.Records == 0 {
		return 0
	}
	return float64(s.Nulls) / float64(s.Records)
}

type fieldAccumulator struct {
	stats    FieldStats
	distinct map[string]struct{}
}

// Audit implements graph.Probe. It is single-writer during a run (only
// the owning connection's producer calls Observe); Snapshot may be read
// at any point for best-effort values and is final after Finish.
type Audit struct {
	distinctLimit int

	mu       sync.Mutex
	fields   *metadata.FieldList
	accs     []*fieldAccumulator
	finished bool
}

// Option configures an Audit probe.
type Option func(*Audit)

// WithDistinctLimit overrides the distinct-value tracking bound.
func WithDistinctLimit(n int) Option {
	return func(a *Audit) { a.distinctLimit = n }
}

// NewAudit creates an audit probe.
func NewAudit(opts ...Option) *Audit {
	a := &Audit{distinctLimit: DefaultDistinctLimit}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Observe records one record's values. It never fails: malformed input
// is counted as missing rather than letting an error perturb the stream.
func (a *Audit) Observe(rec metadata.Record) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finished {
		return
	}

	if a.fields == nil {
		a.fields = rec.Fields()
		a.accs = make([]*fieldAccumulator, a.fields.Len())
		for i := 0; i < a.fields.Len(); i++ {
			a.accs[i] = &fieldAccumulator{
				stats:    FieldStats{Name: a.fields.At(i).Name},
				distinct: make(map[string]struct{}),
			}
		}
	}
	if rec.Len() != len(a.accs) {
		// Shape drifted under us; the engine reports that separately.
		return
	}

	for i := 0; i < rec.Len(); i++ {
		acc := a.accs[i]
		v := rec.At(i)
		acc.stats.Records++
		if v.IsMissing() {
			acc.stats.Nulls++
			continue
		}
		if s, ok := v.AsString(); ok && s == "" {
			acc.stats.EmptyStrings++
		}
		acc.stats.Inferred = mergeStorage(acc.stats.Inferred, v.Kind())
		if !acc.stats.DistinctOverflow {
			acc.distinct[v.String()] = struct{}{}
			if len(acc.distinct) > a.distinctLimit {
				acc.stats.DistinctOverflow = true
				acc.distinct = nil
			}
		}
	}
}

// Finish marks the observed stream complete. Further observations are
// ignored; Snapshot results are final.
func (a *Audit) Finish() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.finished = true
}

// Snapshot returns the inferred field list and per-field statistics
// accumulated so far. The field list carries the inferred storage types
// and analytical types (two-valued fields become flags); before any
// record was observed it is nil.
func (a *Audit) Snapshot() (*metadata.FieldList, []FieldStats) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.fields == nil {
		return nil, nil
	}

	inferred := &metadata.FieldList{}
	stats := make([]FieldStats, len(a.accs))
	for i, acc := range a.accs {
		s := acc.stats
		if !s.DistinctOverflow {
			s.Distinct = len(acc.distinct)
		}
		stats[i] = s

		f := metadata.NewField(s.Name, s.Inferred)
		if !s.DistinctOverflow && s.Distinct > 0 && s.Distinct <= 2 {
			f.AnalyticalType = metadata.Flag
		}
		_ = inferred.Append(f)
	}
	return inferred, stats
}

// mergeStorage widens the running inferred type with a newly observed
// one. Integers widen to floats; anything else inconsistent collapses to
// string, the universal fallback.
func mergeStorage(cur, next metadata.StorageType) metadata.StorageType {
	switch {
	case cur == metadata.Unknown:
		return next
	case cur == next:
		return cur
	case (cur == metadata.Integer && next == metadata.Float) ||
		(cur == metadata.Float && next == metadata.Integer):
		return metadata.Float
	default:
		return metadata.String
	}
}
