// Package aggregate combines active judge score sets into a final score.
// Compute is a pure function: an identical rubric and active population
// yields a bit-identical result, independent of arrival order.
package aggregate

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	"design-eval/internal/schemas"
)

// ErrInsufficient means the submission has no active score sets. It is a
// normal intermediate state, not a caller-visible failure.
var ErrInsufficient = errors.New("insufficient active score sets")

// Compute aggregates all active score sets under the rubric's method and
// returns the cached-shape FinalScore. The caller supplies the timestamp so
// recomputation of an unchanged population stays comparable via InputsHash.
func Compute(r schemas.Rubric, active []schemas.ScoreSet, computedAt time.Time) (schemas.FinalScore, error) {
	if len(active) == 0 {
		return schemas.FinalScore{}, ErrInsufficient
	}

	sets := make([]schemas.ScoreSet, len(active))
	copy(sets, active)
	sort.Slice(sets, func(i, j int) bool { return sets[i].JudgeID < sets[j].JudgeID })

	perCriterion := make(map[string]float64, len(r.Criteria))
	var weightSum, total float64
	for _, c := range r.Criteria {
		weightSum += c.Weight
	}
	for _, c := range r.Criteria {
		scores := make([]float64, 0, len(sets))
		for _, s := range sets {
			for _, e := range s.Entries {
				if e.CriteriaID == c.ID {
					scores = append(scores, normalize(e.Score, c.Scale))
				}
			}
		}
		combined := combine(scores, r.Aggregation)
		perCriterion[c.ID] = combined
		total += combined * c.Weight / weightSum
	}

	return schemas.FinalScore{
		SubmissionID:  sets[0].SubmissionID,
		AwardID:       r.AwardID,
		RubricVersion: r.Version,
		Value:         total,
		PerCriterion:  perCriterion,
		JudgeCount:    len(sets),
		ComputedAt:    computedAt.UTC(),
		InputsHash:    InputsHash(r, sets),
	}, nil
}

// normalize maps a validated score onto the combinable axis. Enum scores are
// already submitted as the declared option index, so today this is the
// identity for every scale type; it is the seam where label-valued enums
// would be resolved.
func normalize(score float64, s schemas.Scale) float64 {
	return score
}

func combine(scores []float64, agg schemas.Aggregation) float64 {
	sorted := make([]float64, len(scores))
	copy(sorted, scores)
	sort.Float64s(sorted)

	switch agg.Method {
	case schemas.MethodMedian:
		return median(sorted)
	case schemas.MethodTrimmedMean:
		k := int(float64(len(sorted)) * agg.Outliers.TrimFraction)
		for k > 0 && len(sorted)-2*k < 1 {
			k--
		}
		return mean(sorted[k : len(sorted)-k])
	default: // weighted_mean: judges have equal weight per criterion
		return mean(sorted)
	}
}

func mean(scores []float64) float64 {
	var sum float64
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores))
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// InputsHash binds a final score to the exact score-set population it was
// computed from: rubric identity plus the sorted (judge, seq) pairs. Equal
// hashes mean the cached value is current. String fields are length-prefixed
// before hashing so a judge id containing a delimiter cannot make two
// distinct populations hash alike.
func InputsHash(r schemas.Rubric, active []schemas.ScoreSet) string {
	sets := make([]schemas.ScoreSet, len(active))
	copy(sets, active)
	sort.Slice(sets, func(i, j int) bool {
		if sets[i].JudgeID != sets[j].JudgeID {
			return sets[i].JudgeID < sets[j].JudgeID
		}
		return sets[i].Seq < sets[j].Seq
	})
	var submissionID string
	if len(sets) > 0 {
		submissionID = sets[0].SubmissionID
	}
	h := sha256.New()
	field := func(s string) { fmt.Fprintf(h, "%d:%s", len(s), s) }
	field(submissionID)
	field(r.AwardID)
	field(r.Version)
	for _, s := range sets {
		field(s.JudgeID)
		fmt.Fprintf(h, "%d;", s.Seq)
	}
	return hex.EncodeToString(h.Sum(nil))
}
