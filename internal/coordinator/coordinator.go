// Package coordinator owns the evaluate and final-score state transitions:
// validate against the rubric, write the ledger, append evidence, recompute
// the cached final score.
package coordinator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"design-eval/internal/aggregate"
	"design-eval/internal/evidence"
	"design-eval/internal/ledger"
	"design-eval/internal/rubric"
	"design-eval/internal/schemas"
)

var ErrNotFound = errors.New("final score not found")

// Locker serializes recomputation per submission. The api and worker
// processes share one database, so in-process mutexes are not enough: the
// service wires an advisory-lock implementation while tests and the smoke
// harness use the in-process mutex map.
type Locker interface {
	WithLock(ctx context.Context, submissionID string, fn func(context.Context) error) error
}

// FindingSource reports the citation ids recorded for a submission: finding
// ids plus the guideline citations those findings carry.
type FindingSource interface {
	KnownCitations(ctx context.Context, submissionID string) (map[string]bool, error)
}

// Assignments is the external collaborator that knows which judges are
// expected to score a submission. An empty panel means "no panel configured";
// any non-empty active set is then complete.
type Assignments interface {
	ExpectedJudges(ctx context.Context, submissionID string) ([]string, error)
}

// FinalScores caches the derived final score per submission.
type FinalScores interface {
	Put(ctx context.Context, fs schemas.FinalScore) error
	Get(ctx context.Context, submissionID string) (schemas.FinalScore, error)
}

type Coordinator struct {
	Rubrics     rubric.Store
	Ledger      ledger.Ledger
	Log         evidence.Log
	Findings    FindingSource
	Assignments Assignments
	Finals      FinalScores

	// Locks guards the read-compute-write recompute sequence. Deployments
	// with more than one process must point every coordinator at a shared
	// lock space (db.AdvisoryLocker); New defaults to a process-local one.
	Locks Locker

	now func() time.Time
}

func New(rubrics rubric.Store, led ledger.Ledger, log evidence.Log, findings FindingSource, assignments Assignments, finals FinalScores) *Coordinator {
	return &Coordinator{
		Rubrics:     rubrics,
		Ledger:      led,
		Log:         log,
		Findings:    findings,
		Assignments: assignments,
		Finals:      finals,
		Locks:       NewMemoryLocker(),
		now:         time.Now,
	}
}

// evaluatedSummary is the event payload for an "evaluated" append: enough to
// audit which scores were recorded without duplicating the full ledger row.
type evaluatedSummary struct {
	ScoreSetID    string               `json:"score_set_id"`
	JudgeID       string               `json:"judge_id"`
	AwardID       string               `json:"award_id"`
	RubricVersion string               `json:"rubric_version"`
	Seq           int64                `json:"seq"`
	Scores        []schemas.ScoreEntry `json:"scores"`
	Warnings      []string             `json:"warnings,omitempty"`
	SubmittedAt   time.Time            `json:"submitted_at"`
}

// Evaluate runs the full transition for one judge submission. Validation
// failures short-circuit before any write. A submission that is not yet
// fully judged records the score set and evaluated event but produces no
// final score and no error.
func (c *Coordinator) Evaluate(ctx context.Context, req schemas.EvaluateRequest) (schemas.EvaluateResponse, error) {
	r, err := c.Rubrics.Resolve(ctx, req.AwardID, req.RubricVersion)
	if err != nil {
		return schemas.EvaluateResponse{}, err
	}

	submittedAt := c.now().UTC()
	if req.SubmittedAt != nil {
		submittedAt = req.SubmittedAt.UTC()
	}
	known := map[string]bool{}
	if c.Findings != nil {
		if known, err = c.Findings.KnownCitations(ctx, req.SubmissionID); err != nil {
			return schemas.EvaluateResponse{}, err
		}
	}

	stored, err := c.Ledger.Submit(ctx, schemas.ScoreSet{
		SubmissionID:     req.SubmissionID,
		JudgeID:          req.JudgeID,
		AwardID:          req.AwardID,
		RubricVersion:    req.RubricVersion,
		Entries:          req.Scores,
		ModelSuggestions: req.ModelSuggestions,
		SubmittedAt:      submittedAt,
	}, r, known)
	if err != nil {
		return schemas.EvaluateResponse{}, err
	}

	payload, err := json.Marshal(evaluatedSummary{
		ScoreSetID:    stored.ID,
		JudgeID:       stored.JudgeID,
		AwardID:       stored.AwardID,
		RubricVersion: stored.RubricVersion,
		Seq:           stored.Seq,
		Scores:        stored.Entries,
		Warnings:      stored.Warnings,
		SubmittedAt:   stored.SubmittedAt,
	})
	if err != nil {
		return schemas.EvaluateResponse{}, err
	}
	// Idempotent key: a caller retrying after a failed append reuses it, so
	// the trail gets exactly one evaluated event per (judge, submitted_at).
	if _, err := c.Log.Append(ctx, req.SubmissionID, schemas.EventEvaluated, payload, evaluatedKey(stored)); err != nil {
		return schemas.EvaluateResponse{}, fmt.Errorf("score set %s recorded, evaluated event failed: %w", stored.ID, err)
	}

	if err := c.recompute(ctx, req.SubmissionID, r); err != nil {
		return schemas.EvaluateResponse{}, err
	}
	return schemas.EvaluateResponse{OK: true, Warnings: stored.Warnings}, nil
}

func evaluatedKey(set schemas.ScoreSet) string {
	sum := sha256.Sum256([]byte(set.SubmissionID + "|" + set.JudgeID + "|" + set.SubmittedAt.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(sum[:])
}

// Reconcile recomputes the final score for a submission against an explicit
// rubric version. The final-score append is deduplicated on the inputs hash,
// so reconciling an already-consistent submission is a no-op.
func (c *Coordinator) Reconcile(ctx context.Context, submissionID, awardID, version string) error {
	r, err := c.Rubrics.Resolve(ctx, awardID, version)
	if err != nil {
		return err
	}
	return c.recompute(ctx, submissionID, r)
}

// recompute runs snapshot-read, aggregation and the final-score writes under
// the per-submission lock, so two concurrent aggregation runs never
// interleave: the second observes the first's writes before reading.
func (c *Coordinator) recompute(ctx context.Context, submissionID string, r schemas.Rubric) error {
	return c.Locks.WithLock(ctx, submissionID, func(ctx context.Context) error {
		all, err := c.Ledger.Active(ctx, submissionID)
		if err != nil {
			return err
		}
		// Only sets scored against this rubric version participate.
		active := all[:0:0]
		for _, s := range all {
			if s.AwardID == r.AwardID && s.RubricVersion == r.Version {
				active = append(active, s)
			}
		}

		done, err := c.complete(ctx, submissionID, active)
		if err != nil {
			return fmt.Errorf("expected judges for %s: %w", submissionID, err)
		}
		if !done {
			return nil
		}
		fs, err := aggregate.Compute(r, active, c.now())
		if errors.Is(err, aggregate.ErrInsufficient) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := c.Finals.Put(ctx, fs); err != nil {
			return err
		}
		payload, err := json.Marshal(fs)
		if err != nil {
			return err
		}
		_, err = c.Log.Append(ctx, submissionID, schemas.EventFinalScore, payload, fs.InputsHash)
		return err
	})
}

// complete asks the assignment collaborator whether every expected judge has
// an active score set. Completeness is a query, not owned state.
func (c *Coordinator) complete(ctx context.Context, submissionID string, active []schemas.ScoreSet) (bool, error) {
	if len(active) == 0 {
		return false, nil
	}
	if c.Assignments == nil {
		return true, nil
	}
	expected, err := c.Assignments.ExpectedJudges(ctx, submissionID)
	if err != nil {
		return false, err
	}
	if len(expected) == 0 {
		return true, nil
	}
	scored := make(map[string]bool, len(active))
	for _, s := range active {
		scored[s.JudgeID] = true
	}
	for _, j := range expected {
		if !scored[j] {
			return false, nil
		}
	}
	return true, nil
}

// FinalScore returns the cached final score, ErrNotFound when none has been
// computed yet.
func (c *Coordinator) FinalScore(ctx context.Context, submissionID string) (schemas.FinalScore, error) {
	return c.Finals.Get(ctx, submissionID)
}

// Report exposes the submission's event sequence verbatim.
func (c *Coordinator) Report(ctx context.Context, submissionID string) (schemas.ReportResponse, error) {
	events, err := c.Log.List(ctx, submissionID)
	if err != nil {
		return schemas.ReportResponse{}, err
	}
	return schemas.ReportResponse{SubmissionID: submissionID, Events: events}, nil
}
