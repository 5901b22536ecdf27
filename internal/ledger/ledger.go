package ledger

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"design-eval/internal/schemas"
)

// Issue is one per-criterion validation violation.
type Issue struct {
	CriteriaID string `json:"criteria_id"`
	Reason     string `json:"reason"`
}

// ValidationError reports every offending criterion of a ScoreSet, not just
// the first.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, iss := range e.Issues {
		parts[i] = fmt.Sprintf("%s: %s", iss.CriteriaID, iss.Reason)
	}
	return "invalid score set: " + strings.Join(parts, "; ")
}

// Ledger stores judge score sets. Submit assigns the per-(submission, judge)
// sequence number, keeps superseded sets for audit, and serializes writes for
// the same pair. KnownCitations are the citation ids recorded for the
// submission; unknown references become warnings on the stored set.
type Ledger interface {
	Submit(ctx context.Context, set schemas.ScoreSet, r schemas.Rubric, knownCitations map[string]bool) (schemas.ScoreSet, error)
	Active(ctx context.Context, submissionID string) ([]schemas.ScoreSet, error)
	History(ctx context.Context, submissionID, judgeID string) ([]schemas.ScoreSet, error)
}

// Validate checks completeness and scale conformance of a score set against
// its rubric. All violations are collected into one ValidationError.
func Validate(set schemas.ScoreSet, r schemas.Rubric) error {
	var issues []Issue
	seen := make(map[string]int, len(set.Entries))
	for _, e := range set.Entries {
		seen[e.CriteriaID]++
	}
	for _, c := range r.Criteria {
		switch seen[c.ID] {
		case 0:
			issues = append(issues, Issue{CriteriaID: c.ID, Reason: "missing score"})
		case 1:
		default:
			issues = append(issues, Issue{CriteriaID: c.ID, Reason: fmt.Sprintf("scored %d times", seen[c.ID])})
		}
	}
	for _, e := range set.Entries {
		c := r.CriterionByID(e.CriteriaID)
		if c == nil {
			issues = append(issues, Issue{CriteriaID: e.CriteriaID, Reason: "not declared by rubric"})
			continue
		}
		if reason := checkScale(e.Score, c.Scale); reason != "" {
			issues = append(issues, Issue{CriteriaID: e.CriteriaID, Reason: reason})
		}
	}
	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

func checkScale(score float64, s schemas.Scale) string {
	switch s.Type {
	case schemas.ScaleInt:
		if score != math.Trunc(score) {
			return fmt.Sprintf("score %v is not an integer", score)
		}
		if score < *s.Min || score > *s.Max {
			return fmt.Sprintf("score %v outside [%v, %v]", score, *s.Min, *s.Max)
		}
	case schemas.ScaleFloat:
		if score < *s.Min || score > *s.Max {
			return fmt.Sprintf("score %v outside [%v, %v]", score, *s.Min, *s.Max)
		}
	case schemas.ScaleEnum:
		if score != math.Trunc(score) || score < 0 || int(score) >= len(s.Enum) {
			return fmt.Sprintf("score %v is not a valid option index (0..%d)", score, len(s.Enum)-1)
		}
	}
	return ""
}

// CitationWarnings reports cited ids that are not among the submission's
// recorded findings. Citations are optional evidence, so these are warnings,
// never rejections.
func CitationWarnings(entries []schemas.ScoreEntry, known map[string]bool) []string {
	var warnings []string
	for _, e := range entries {
		for _, cid := range e.CitationIDs {
			if !known[cid] {
				warnings = append(warnings, fmt.Sprintf("criterion %s cites unknown finding %s", e.CriteriaID, cid))
			}
		}
	}
	return warnings
}

// SortActive orders active sets by judge id so downstream consumers see a
// deterministic population regardless of arrival order.
func SortActive(sets []schemas.ScoreSet) {
	sort.Slice(sets, func(i, j int) bool { return sets[i].JudgeID < sets[j].JudgeID })
}
