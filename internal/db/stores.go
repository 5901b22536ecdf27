// Postgres-backed implementations of the core stores. Validation and
// sequencing semantics are shared with the in-memory implementations; only
// durability and locking differ. Per-key mutual exclusion uses transaction
// scoped advisory locks so crashes can never leak a lock.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"design-eval/internal/coordinator"
	"design-eval/internal/evidence"
	"design-eval/internal/ledger"
	"design-eval/internal/rubric"
	"design-eval/internal/schemas"
)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// AdvisoryLocker implements coordinator.Locker on a transaction-scoped
// advisory lock, so recomputes exclude each other across the api and worker
// processes. The key is namespaced with a prefix: the evidence log locks on
// the bare submission id inside its own transaction, and sharing that key
// would deadlock the recompute against its own event append.
type AdvisoryLocker struct {
	DB *sqlx.DB
}

func (l *AdvisoryLocker) WithLock(ctx context.Context, submissionID string, fn func(context.Context) error) error {
	return WithTx(ctx, l.DB, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `select pg_advisory_xact_lock(hashtextextended($1, 0))`, "recompute|"+submissionID); err != nil {
			return err
		}
		return fn(ctx)
	})
}

// RubricStore implements rubric.Store on Postgres. Rubric documents are
// stored verbatim as jsonb; the primary key enforces immutability.
type RubricStore struct {
	DB *sqlx.DB
}

func (s *RubricStore) Publish(ctx context.Context, r schemas.Rubric) error {
	if err := rubric.Validate(r); err != nil {
		return err
	}
	doc, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `insert into rubrics(award_id, version, doc) values($1,$2,$3)`, r.AwardID, r.Version, doc)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s/%s", rubric.ErrConflict, r.AwardID, r.Version)
	}
	return err
}

func (s *RubricStore) Resolve(ctx context.Context, awardID, version string) (schemas.Rubric, error) {
	var doc []byte
	err := s.DB.GetContext(ctx, &doc, `select doc from rubrics where award_id=$1 and version=$2`, awardID, version)
	if errors.Is(err, sql.ErrNoRows) {
		return schemas.Rubric{}, fmt.Errorf("%w: %s/%s", rubric.ErrNotFound, awardID, version)
	}
	if err != nil {
		return schemas.Rubric{}, err
	}
	var r schemas.Rubric
	if err := json.Unmarshal(doc, &r); err != nil {
		return schemas.Rubric{}, fmt.Errorf("%w: %v", rubric.ErrInvalid, err)
	}
	return r, nil
}

// Ledger implements ledger.Ledger on Postgres. Writes for one
// (submission, judge) pair serialize on an advisory lock; the sequence
// number is allocated inside that critical section.
type Ledger struct {
	DB *sqlx.DB
}

func (l *Ledger) Submit(ctx context.Context, set schemas.ScoreSet, r schemas.Rubric, knownCitations map[string]bool) (schemas.ScoreSet, error) {
	if err := ledger.Validate(set, r); err != nil {
		return schemas.ScoreSet{}, err
	}
	set.Warnings = ledger.CitationWarnings(set.Entries, knownCitations)
	set.ID = uuid.NewString()

	entries, err := json.Marshal(set.Entries)
	if err != nil {
		return schemas.ScoreSet{}, err
	}
	suggestions, _ := json.Marshal(set.ModelSuggestions)
	warnings, _ := json.Marshal(set.Warnings)

	err = WithTx(ctx, l.DB, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `select pg_advisory_xact_lock(hashtextextended($1, 0))`, set.SubmissionID+"|"+set.JudgeID); err != nil {
			return err
		}
		var maxSeq sql.NullInt64
		if err := tx.GetContext(ctx, &maxSeq, `select coalesce(max(seq), -1) from score_sets where submission_id=$1 and judge_id=$2`, set.SubmissionID, set.JudgeID); err != nil {
			return err
		}
		set.Seq = maxSeq.Int64 + 1
		_, err := tx.ExecContext(ctx,
			`insert into score_sets(id, submission_id, judge_id, award_id, rubric_version, seq, entries, suggestions, warnings, submitted_at)
			 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			set.ID, set.SubmissionID, set.JudgeID, set.AwardID, set.RubricVersion, set.Seq, entries, suggestions, warnings, set.SubmittedAt.UTC())
		return err
	})
	if err != nil {
		return schemas.ScoreSet{}, err
	}
	return set, nil
}

func (l *Ledger) Active(ctx context.Context, submissionID string) ([]schemas.ScoreSet, error) {
	var rows []ScoreSetRow
	err := l.DB.SelectContext(ctx, &rows,
		`select distinct on (judge_id) * from score_sets where submission_id=$1 order by judge_id, seq desc`, submissionID)
	if err != nil {
		return nil, err
	}
	return decodeScoreSets(rows)
}

func (l *Ledger) History(ctx context.Context, submissionID, judgeID string) ([]schemas.ScoreSet, error) {
	var rows []ScoreSetRow
	err := l.DB.SelectContext(ctx, &rows,
		`select * from score_sets where submission_id=$1 and judge_id=$2 order by seq`, submissionID, judgeID)
	if err != nil {
		return nil, err
	}
	return decodeScoreSets(rows)
}

func decodeScoreSets(rows []ScoreSetRow) ([]schemas.ScoreSet, error) {
	out := make([]schemas.ScoreSet, 0, len(rows))
	for _, row := range rows {
		set := schemas.ScoreSet{
			ID:            row.ID,
			SubmissionID:  row.SubmissionID,
			JudgeID:       row.JudgeID,
			AwardID:       row.AwardID,
			RubricVersion: row.RubricVersion,
			Seq:           row.Seq,
			SubmittedAt:   row.SubmittedAt,
		}
		if err := json.Unmarshal(row.Entries, &set.Entries); err != nil {
			return nil, fmt.Errorf("score set %s: %w", row.ID, err)
		}
		if len(row.Suggestions) > 0 {
			_ = json.Unmarshal(row.Suggestions, &set.ModelSuggestions)
		}
		if len(row.Warnings) > 0 {
			_ = json.Unmarshal(row.Warnings, &set.Warnings)
		}
		out = append(out, set)
	}
	return out, nil
}

// EvidenceLog implements evidence.Log on Postgres. The per-submission seq is
// allocated under an advisory lock on the submission id, giving one
// authoritative total order; dedup keys are enforced by a unique index.
type EvidenceLog struct {
	DB *sqlx.DB
}

func (e *EvidenceLog) Append(ctx context.Context, submissionID, kind string, payload json.RawMessage, dedupKey string) (schemas.ReportEvent, error) {
	ev := schemas.ReportEvent{
		ID:           uuid.NewString(),
		SubmissionID: submissionID,
		Kind:         kind,
		At:           time.Now().UTC(),
		Payload:      append(json.RawMessage(nil), payload...),
	}
	key := sql.NullString{String: dedupKey, Valid: dedupKey != ""}
	err := WithTx(ctx, e.DB, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `select pg_advisory_xact_lock(hashtextextended($1, 0))`, submissionID); err != nil {
			return err
		}
		if key.Valid {
			var existing EventRow
			err := tx.GetContext(ctx, &existing, `select * from evidence_events where submission_id=$1 and dedup_key=$2`, submissionID, dedupKey)
			if err == nil {
				ev = decodeEvent(existing)
				return nil
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return err
			}
		}
		var maxSeq sql.NullInt64
		if err := tx.GetContext(ctx, &maxSeq, `select coalesce(max(seq), -1) from evidence_events where submission_id=$1`, submissionID); err != nil {
			return err
		}
		ev.Seq = maxSeq.Int64 + 1
		_, err := tx.ExecContext(ctx,
			`insert into evidence_events(id, submission_id, seq, kind, at, payload, dedup_key) values($1,$2,$3,$4,$5,$6,$7)`,
			ev.ID, submissionID, ev.Seq, kind, ev.At, []byte(ev.Payload), key)
		return err
	})
	if err != nil {
		return schemas.ReportEvent{}, fmt.Errorf("%w: %v", evidence.ErrUnavailable, err)
	}
	return ev, nil
}

func (e *EvidenceLog) List(ctx context.Context, submissionID string) ([]schemas.ReportEvent, error) {
	var rows []EventRow
	err := e.DB.SelectContext(ctx, &rows, `select * from evidence_events where submission_id=$1 order by seq`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", evidence.ErrUnavailable, err)
	}
	out := make([]schemas.ReportEvent, len(rows))
	for i, row := range rows {
		out[i] = decodeEvent(row)
	}
	return out, nil
}

func decodeEvent(row EventRow) schemas.ReportEvent {
	return schemas.ReportEvent{
		ID:           row.ID,
		SubmissionID: row.SubmissionID,
		Seq:          row.Seq,
		Kind:         row.Kind,
		At:           row.At,
		Payload:      json.RawMessage(row.Payload),
	}
}

// FinalScores implements coordinator.FinalScores as an upsert cache.
type FinalScores struct {
	DB *sqlx.DB
}

func (f *FinalScores) Put(ctx context.Context, fs schemas.FinalScore) error {
	per, err := json.Marshal(fs.PerCriterion)
	if err != nil {
		return err
	}
	_, err = f.DB.ExecContext(ctx,
		`insert into final_scores(submission_id, award_id, rubric_version, value, per_criterion, judge_count, computed_at, inputs_hash)
		 values($1,$2,$3,$4,$5,$6,$7,$8)
		 on conflict (submission_id) do update set
		   award_id=excluded.award_id, rubric_version=excluded.rubric_version, value=excluded.value,
		   per_criterion=excluded.per_criterion, judge_count=excluded.judge_count,
		   computed_at=excluded.computed_at, inputs_hash=excluded.inputs_hash`,
		fs.SubmissionID, fs.AwardID, fs.RubricVersion, fs.Value, per, fs.JudgeCount, fs.ComputedAt, fs.InputsHash)
	return err
}

func (f *FinalScores) Get(ctx context.Context, submissionID string) (schemas.FinalScore, error) {
	var row FinalScoreRow
	err := f.DB.GetContext(ctx, &row, `select * from final_scores where submission_id=$1`, submissionID)
	if errors.Is(err, sql.ErrNoRows) {
		return schemas.FinalScore{}, fmt.Errorf("%w: %s", coordinator.ErrNotFound, submissionID)
	}
	if err != nil {
		return schemas.FinalScore{}, err
	}
	fs := schemas.FinalScore{
		SubmissionID:  row.SubmissionID,
		AwardID:       row.AwardID,
		RubricVersion: row.RubricVersion,
		Value:         row.Value,
		JudgeCount:    row.JudgeCount,
		ComputedAt:    row.ComputedAt,
		InputsHash:    row.InputsHash,
	}
	if err := json.Unmarshal(row.PerCriterion, &fs.PerCriterion); err != nil {
		return schemas.FinalScore{}, err
	}
	return fs, nil
}

// Findings persists analysis snapshots and answers citation lookups for
// score-set validation.
type Findings struct {
	DB *sqlx.DB
}

func (f *Findings) Attach(ctx context.Context, submissionID string, findings []schemas.Finding, objectRef string) error {
	return WithTx(ctx, f.DB, func(tx *sqlx.Tx) error {
		for _, fd := range findings {
			if fd.ID == "" {
				fd.ID = uuid.NewString()
			}
			doc, err := json.Marshal(fd)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`insert into findings(id, submission_id, doc, object_ref) values($1,$2,$3,$4)`,
				fd.ID, submissionID, doc, objectRef); err != nil {
				return err
			}
		}
		return nil
	})
}

func (f *Findings) KnownCitations(ctx context.Context, submissionID string) (map[string]bool, error) {
	var docs [][]byte
	if err := f.DB.SelectContext(ctx, &docs, `select doc from findings where submission_id=$1`, submissionID); err != nil {
		return nil, err
	}
	known := make(map[string]bool)
	for _, doc := range docs {
		var fd schemas.Finding
		if err := json.Unmarshal(doc, &fd); err != nil {
			continue
		}
		if fd.ID != "" {
			known[fd.ID] = true
		}
		for _, c := range fd.Citations {
			known[c] = true
		}
	}
	return known, nil
}
