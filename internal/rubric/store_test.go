package rubric

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"design-eval/internal/schemas"
)

func ptr(f float64) *float64 { return &f }

func validRubric() schemas.Rubric {
	return schemas.Rubric{
		AwardID: "kda_2025",
		Version: "v1",
		Criteria: []schemas.Criterion{
			{ID: "visual_hierarchy", Label: "Visual Hierarchy", Weight: 0.6,
				Scale: schemas.Scale{Type: schemas.ScaleInt, Min: ptr(1), Max: ptr(5)}},
			{ID: "accessibility", Label: "Accessibility", Weight: 0.4,
				Scale: schemas.Scale{Type: schemas.ScaleEnum, Enum: []string{"fail", "pass", "excellent"}}},
		},
		Aggregation: schemas.Aggregation{Method: schemas.MethodWeightedMean},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*schemas.Rubric)
		wantErr string
	}{
		{"valid", func(r *schemas.Rubric) {}, ""},
		{"no criteria", func(r *schemas.Rubric) { r.Criteria = nil }, "criteria must be non-empty"},
		{"duplicate id", func(r *schemas.Rubric) { r.Criteria[1].ID = r.Criteria[0].ID }, "duplicate criterion id"},
		{"negative weight", func(r *schemas.Rubric) { r.Criteria[0].Weight = -1 }, "weight must be non-negative"},
		{"zero weight sum", func(r *schemas.Rubric) {
			r.Criteria[0].Weight = 0
			r.Criteria[1].Weight = 0
		}, "sum to a positive value"},
		{"unknown method", func(r *schemas.Rubric) { r.Aggregation.Method = "mode" }, "unknown aggregation method"},
		{"trimmed_mean without policy", func(r *schemas.Rubric) {
			r.Aggregation.Method = schemas.MethodTrimmedMean
		}, "requires an outlier_policy"},
		{"trim fraction at 0.5", func(r *schemas.Rubric) {
			r.Aggregation.Method = schemas.MethodTrimmedMean
			r.Aggregation.Outliers = &schemas.OutlierPolicy{TrimFraction: 0.5}
		}, "out of [0, 0.5)"},
		{"int scale missing bounds", func(r *schemas.Rubric) { r.Criteria[0].Scale.Max = nil }, "needs min and max"},
		{"inverted bounds", func(r *schemas.Rubric) { r.Criteria[0].Scale.Min = ptr(9) }, "exceeds max"},
		{"empty enum", func(r *schemas.Rubric) { r.Criteria[1].Scale.Enum = nil }, "needs options"},
		{"unknown scale type", func(r *schemas.Rubric) { r.Criteria[0].Scale.Type = "stars" }, "unknown scale type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRubric()
			tt.mutate(&r)
			err := Validate(r)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalid)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateTrimmedMeanAccepted(t *testing.T) {
	r := validRubric()
	r.Aggregation = schemas.Aggregation{
		Method:   schemas.MethodTrimmedMean,
		Outliers: &schemas.OutlierPolicy{TrimFraction: 0.2},
	}
	require.NoError(t, Validate(r))
}

func TestMemoryPublishResolve(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	r := validRubric()

	require.NoError(t, store.Publish(ctx, r))

	got, err := store.Resolve(ctx, "kda_2025", "v1")
	require.NoError(t, err)
	require.Equal(t, r, got)

	_, err = store.Resolve(ctx, "kda_2025", "v2")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryPublishConflict(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	require.NoError(t, store.Publish(ctx, validRubric()))

	again := validRubric()
	again.Criteria[0].Weight = 0.9 // same identity, different content
	require.ErrorIs(t, store.Publish(ctx, again), ErrConflict)
}

func TestMemoryPublishRejectsInvalid(t *testing.T) {
	store := NewMemory()
	bad := validRubric()
	bad.Criteria = nil
	require.ErrorIs(t, store.Publish(context.Background(), bad), ErrInvalid)

	_, err := store.Resolve(context.Background(), bad.AwardID, bad.Version)
	require.ErrorIs(t, err, ErrNotFound, "invalid rubric must not be stored")
}
