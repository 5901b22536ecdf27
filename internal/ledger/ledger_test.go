package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"design-eval/internal/schemas"
)

func ptr(f float64) *float64 { return &f }

func testRubric() schemas.Rubric {
	return schemas.Rubric{
		AwardID: "kda_2025",
		Version: "v1",
		Criteria: []schemas.Criterion{
			{ID: "visual_hierarchy", Weight: 0.6,
				Scale: schemas.Scale{Type: schemas.ScaleInt, Min: ptr(1), Max: ptr(5)}},
			{ID: "accessibility", Weight: 0.3,
				Scale: schemas.Scale{Type: schemas.ScaleFloat, Min: ptr(0), Max: ptr(1)}},
			{ID: "finish", Weight: 0.1,
				Scale: schemas.Scale{Type: schemas.ScaleEnum, Enum: []string{"rough", "clean", "polished"}}},
		},
		Aggregation: schemas.Aggregation{Method: schemas.MethodWeightedMean},
	}
}

func completeSet(judge string) schemas.ScoreSet {
	return schemas.ScoreSet{
		SubmissionID:  "sub-1",
		JudgeID:       judge,
		AwardID:       "kda_2025",
		RubricVersion: "v1",
		Entries: []schemas.ScoreEntry{
			{CriteriaID: "visual_hierarchy", Score: 4},
			{CriteriaID: "accessibility", Score: 0.8},
			{CriteriaID: "finish", Score: 2},
		},
		SubmittedAt: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
	}
}

func issueIDs(t *testing.T, err error) []string {
	t.Helper()
	verr := &ValidationError{}
	require.ErrorAs(t, err, &verr)
	ids := make([]string, len(verr.Issues))
	for i, iss := range verr.Issues {
		ids[i] = iss.CriteriaID
	}
	return ids
}

func TestValidateMissingCriterion(t *testing.T) {
	set := completeSet("judge-a")
	set.Entries = set.Entries[:2] // drop "finish"
	err := Validate(set, testRubric())
	require.Equal(t, []string{"finish"}, issueIDs(t, err))
}

func TestValidateReportsEveryViolation(t *testing.T) {
	set := completeSet("judge-a")
	set.Entries = []schemas.ScoreEntry{
		{CriteriaID: "visual_hierarchy", Score: 9},   // out of bounds
		{CriteriaID: "visual_hierarchy", Score: 3},   // duplicate
		{CriteriaID: "color_theory", Score: 1},       // not declared
	}
	err := Validate(set, testRubric())
	ids := issueIDs(t, err)
	require.Contains(t, ids, "visual_hierarchy")
	require.Contains(t, ids, "accessibility") // missing
	require.Contains(t, ids, "finish")        // missing
	require.Contains(t, ids, "color_theory")
}

func TestValidateScales(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		score   float64
		wantErr string
	}{
		{"int not integral", "visual_hierarchy", 3.5, "not an integer"},
		{"int below min", "visual_hierarchy", 0, "outside [1, 5]"},
		{"float above max", "accessibility", 1.2, "outside [0, 1]"},
		{"enum index too high", "finish", 3, "not a valid option index"},
		{"enum fractional index", "finish", 1.5, "not a valid option index"},
		{"enum negative", "finish", -1, "not a valid option index"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := completeSet("judge-a")
			for i := range set.Entries {
				if set.Entries[i].CriteriaID == tt.id {
					set.Entries[i].Score = tt.score
				}
			}
			err := Validate(set, testRubric())
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSubmitRejectsInvalidWithoutStoring(t *testing.T) {
	mem := NewMemory()
	set := completeSet("judge-a")
	set.Entries = set.Entries[:1]

	_, err := mem.Submit(context.Background(), set, testRubric(), nil)
	verr := &ValidationError{}
	require.ErrorAs(t, err, &verr)

	active, err := mem.Active(context.Background(), "sub-1")
	require.NoError(t, err)
	require.Empty(t, active)
}

func TestSubmitSupersedesKeepingHistory(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	r := testRubric()

	first, err := mem.Submit(ctx, completeSet("judge-a"), r, nil)
	require.NoError(t, err)
	require.Equal(t, int64(0), first.Seq)

	revised := completeSet("judge-a")
	revised.Entries[0].Score = 5
	second, err := mem.Submit(ctx, revised, r, nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), second.Seq)

	active, err := mem.Active(ctx, "sub-1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, second.ID, active[0].ID)
	require.Equal(t, 5.0, active[0].Entries[0].Score)

	history, err := mem.History(ctx, "sub-1", "judge-a")
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, first.ID, history[0].ID)
	require.Equal(t, second.ID, history[1].ID)
}

func TestSubmitCitationWarningsAreSoft(t *testing.T) {
	mem := NewMemory()
	set := completeSet("judge-a")
	set.Entries[0].CitationIDs = []string{"f-known", "f-ghost"}

	stored, err := mem.Submit(context.Background(), set, testRubric(), map[string]bool{"f-known": true})
	require.NoError(t, err)
	require.Len(t, stored.Warnings, 1)
	require.Contains(t, stored.Warnings[0], "f-ghost")
}

func TestSubmitConcurrentJudgesIndependent(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	r := testRubric()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			set := completeSet(fmt.Sprintf("judge-%d", n))
			_, err := mem.Submit(ctx, set, r, nil)
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()

	active, err := mem.Active(ctx, "sub-1")
	require.NoError(t, err)
	require.Len(t, active, 8)
	for i := 1; i < len(active); i++ {
		require.Less(t, active[i-1].JudgeID, active[i].JudgeID, "active sets are judge-ordered")
	}
}

func TestSubmitConcurrentSameJudgeSerialized(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	r := testRubric()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := mem.Submit(ctx, completeSet("judge-a"), r, nil)
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	history, err := mem.History(ctx, "sub-1", "judge-a")
	require.NoError(t, err)
	require.Len(t, history, 8)
	for i, set := range history {
		require.Equal(t, int64(i), set.Seq, "seq must be gapless")
	}
}
