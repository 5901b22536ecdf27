package schemas

import (
	"encoding/json"
	"time"
)

type ScaleType string

const (
	ScaleInt   ScaleType = "int"
	ScaleFloat ScaleType = "float"
	ScaleEnum  ScaleType = "enum"
)

// Scale bounds are pointers so "no bound declared" is distinguishable from a
// bound of zero. Enum is the ordered option list for enum scales.
type Scale struct {
	Type ScaleType `json:"type"`
	Min  *float64  `json:"min,omitempty"`
	Max  *float64  `json:"max,omitempty"`
	Enum []string  `json:"enum,omitempty"`
}

type Criterion struct {
	ID             string   `json:"id"`
	Label          string   `json:"label"`
	Description    string   `json:"description,omitempty"`
	Scale          Scale    `json:"scale"`
	Weight         float64  `json:"weight"`
	GuidelineRefs  []string `json:"guideline_refs,omitempty"`
	RequiredChecks []string `json:"required_checks,omitempty"`
}

type AggregationMethod string

const (
	MethodWeightedMean AggregationMethod = "weighted_mean"
	MethodMedian       AggregationMethod = "median"
	MethodTrimmedMean  AggregationMethod = "trimmed_mean"
)

// OutlierPolicy configures trimmed_mean: TrimFraction of the judge scores is
// dropped from each end, in [0, 0.5).
type OutlierPolicy struct {
	TrimFraction float64 `json:"trim_fraction"`
}

type Aggregation struct {
	Method   AggregationMethod `json:"method"`
	Outliers *OutlierPolicy    `json:"outlier_policy,omitempty"`
}

// Rubric is immutable once published, identified by (AwardID, Version).
type Rubric struct {
	AwardID     string      `json:"award_id"`
	Version     string      `json:"version"`
	Criteria    []Criterion `json:"criteria"`
	Aggregation Aggregation `json:"aggregation"`
}

// CriterionByID returns the criterion with the given id, or nil.
func (r *Rubric) CriterionByID(id string) *Criterion {
	for i := range r.Criteria {
		if r.Criteria[i].ID == id {
			return &r.Criteria[i]
		}
	}
	return nil
}

type Region struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Finding is an evidence item produced by the external analyzer. The core
// never interprets it; it is stored verbatim and referenced by citation ids.
type Finding struct {
	ID          string   `json:"id"`
	Region      Region   `json:"region"`
	Label       string   `json:"label"`
	Confidence  float64  `json:"confidence"`
	Explanation string   `json:"explanation"`
	Citations   []string `json:"citations,omitempty"`
}

type ScoreEntry struct {
	CriteriaID  string           `json:"criteria_id"`
	Score       float64          `json:"score"`
	Reason      string           `json:"reason,omitempty"`
	CitationIDs []string         `json:"citation_ids,omitempty"`
	Checks      map[string]Value `json:"checks,omitempty"`
}

type ModelSuggestion struct {
	CriteriaID     *string  `json:"criteria_id,omitempty"`
	SuggestedScore *float64 `json:"suggested_score,omitempty"`
	Explanation    string   `json:"explanation,omitempty"`
	CitationIDs    []string `json:"citation_ids,omitempty"`
}

// ScoreSet is one judge's complete scoring of one submission against one
// rubric version. Seq is monotone per (submission, judge); the highest Seq is
// the active set for that judge.
type ScoreSet struct {
	ID               string            `json:"id"`
	SubmissionID     string            `json:"submission_id"`
	JudgeID          string            `json:"judge_id"`
	AwardID          string            `json:"award_id"`
	RubricVersion    string            `json:"rubric_version"`
	Seq              int64             `json:"seq"`
	Entries          []ScoreEntry      `json:"entries"`
	ModelSuggestions []ModelSuggestion `json:"model_suggestions,omitempty"`
	Warnings         []string          `json:"warnings,omitempty"`
	SubmittedAt      time.Time         `json:"submitted_at"`
}

// FinalScore is derived and cached; InputsHash binds it to the exact
// (judge, seq) population it was computed from.
type FinalScore struct {
	SubmissionID  string             `json:"submission_id"`
	AwardID       string             `json:"award_id"`
	RubricVersion string             `json:"rubric_version"`
	Value         float64            `json:"value"`
	PerCriterion  map[string]float64 `json:"per_criterion"`
	JudgeCount    int                `json:"judge_count"`
	ComputedAt    time.Time          `json:"computed_at"`
	InputsHash    string             `json:"inputs_hash"`
}

const (
	EventUploaded   = "uploaded"
	EventAnalyzed   = "analyzed"
	EventEvaluated  = "evaluated"
	EventFinalScore = "final-score"
)

// ReportEvent is one entry of a submission's append-only audit trail,
// totally ordered by Seq within the submission.
type ReportEvent struct {
	ID           string          `json:"id"`
	SubmissionID string          `json:"submission_id"`
	Seq          int64           `json:"seq"`
	Kind         string          `json:"kind"`
	At           time.Time       `json:"at"`
	Payload      json.RawMessage `json:"payload"`
}

type CreateSubmissionRequest struct {
	Title    string           `json:"title"`
	AuthorID string           `json:"author_id"`
	AssetURL string           `json:"asset_url,omitempty"`
	Meta     map[string]Value `json:"meta,omitempty"`
}

type CreateSubmissionResponse struct {
	SubmissionID string    `json:"submission_id"`
	UploadToken  string    `json:"upload_token"`
	CreatedAt    time.Time `json:"created_at"`
}

// AttachFindingsRequest carries one analysis snapshot from the analyzer
// collaborator. ModelVersion and PromptSnapshot are provenance, kept verbatim.
type AttachFindingsRequest struct {
	Findings       []Finding `json:"findings"`
	ModelVersion   string    `json:"model_version,omitempty"`
	PromptSnapshot string    `json:"prompt_snapshot,omitempty"`
}

type EvaluateRequest struct {
	SubmissionID     string            `json:"submission_id"`
	JudgeID          string            `json:"judge_id"`
	AwardID          string            `json:"award_id"`
	RubricVersion    string            `json:"rubric_version"`
	Scores           []ScoreEntry      `json:"scores"`
	ModelSuggestions []ModelSuggestion `json:"model_suggestions,omitempty"`
	SubmittedAt      *time.Time        `json:"submitted_at,omitempty"`
}

type EvaluateResponse struct {
	OK       bool     `json:"ok"`
	Warnings []string `json:"warnings,omitempty"`
}

type ReportResponse struct {
	SubmissionID string        `json:"submission_id"`
	Events       []ReportEvent `json:"events"`
}
