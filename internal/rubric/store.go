package rubric

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"design-eval/internal/schemas"
)

var (
	ErrNotFound = errors.New("rubric not found")
	ErrConflict = errors.New("rubric version already published")
	ErrInvalid  = errors.New("invalid rubric")
)

// Store resolves immutable published rubrics. Publish validates once; Resolve
// is a pure read afterwards.
type Store interface {
	Publish(ctx context.Context, r schemas.Rubric) error
	Resolve(ctx context.Context, awardID, version string) (schemas.Rubric, error)
}

// Validate checks a rubric document before publication. All violations are
// reported together.
func Validate(r schemas.Rubric) error {
	var problems []string
	if r.AwardID == "" {
		problems = append(problems, "award_id is required")
	}
	if r.Version == "" {
		problems = append(problems, "version is required")
	}
	if len(r.Criteria) == 0 {
		problems = append(problems, "criteria must be non-empty")
	}
	seen := make(map[string]bool, len(r.Criteria))
	var weightSum float64
	for _, c := range r.Criteria {
		if c.ID == "" {
			problems = append(problems, "criterion id is required")
			continue
		}
		if seen[c.ID] {
			problems = append(problems, fmt.Sprintf("duplicate criterion id %q", c.ID))
		}
		seen[c.ID] = true
		if c.Weight < 0 {
			problems = append(problems, fmt.Sprintf("criterion %q: weight must be non-negative", c.ID))
		}
		weightSum += c.Weight
		problems = append(problems, validateScale(c)...)
	}
	if len(r.Criteria) > 0 && weightSum <= 0 {
		problems = append(problems, "criterion weights must sum to a positive value")
	}
	switch r.Aggregation.Method {
	case schemas.MethodWeightedMean, schemas.MethodMedian:
	case schemas.MethodTrimmedMean:
		if r.Aggregation.Outliers == nil {
			problems = append(problems, "trimmed_mean requires an outlier_policy")
		} else if f := r.Aggregation.Outliers.TrimFraction; f < 0 || f >= 0.5 {
			problems = append(problems, fmt.Sprintf("trim_fraction %v out of [0, 0.5)", f))
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown aggregation method %q", r.Aggregation.Method))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %v", ErrInvalid, problems)
	}
	return nil
}

func validateScale(c schemas.Criterion) []string {
	var problems []string
	switch c.Scale.Type {
	case schemas.ScaleInt, schemas.ScaleFloat:
		if c.Scale.Min == nil || c.Scale.Max == nil {
			problems = append(problems, fmt.Sprintf("criterion %q: %s scale needs min and max", c.ID, c.Scale.Type))
		} else if *c.Scale.Min > *c.Scale.Max {
			problems = append(problems, fmt.Sprintf("criterion %q: min %v exceeds max %v", c.ID, *c.Scale.Min, *c.Scale.Max))
		}
	case schemas.ScaleEnum:
		if len(c.Scale.Enum) == 0 {
			problems = append(problems, fmt.Sprintf("criterion %q: enum scale needs options", c.ID))
		}
	default:
		problems = append(problems, fmt.Sprintf("criterion %q: unknown scale type %q", c.ID, c.Scale.Type))
	}
	return problems
}

// Memory is an in-process Store, used in tests and the smoke harness.
type Memory struct {
	mu      sync.RWMutex
	rubrics map[string]schemas.Rubric
}

func NewMemory() *Memory {
	return &Memory{rubrics: make(map[string]schemas.Rubric)}
}

func key(awardID, version string) string { return awardID + "\x00" + version }

func (m *Memory) Publish(ctx context.Context, r schemas.Rubric) error {
	if err := Validate(r); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(r.AwardID, r.Version)
	if _, ok := m.rubrics[k]; ok {
		return fmt.Errorf("%w: %s/%s", ErrConflict, r.AwardID, r.Version)
	}
	m.rubrics[k] = r
	return nil
}

func (m *Memory) Resolve(ctx context.Context, awardID, version string) (schemas.Rubric, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rubrics[key(awardID, version)]
	if !ok {
		return schemas.Rubric{}, fmt.Errorf("%w: %s/%s", ErrNotFound, awardID, version)
	}
	return r, nil
}
