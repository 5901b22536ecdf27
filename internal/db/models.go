package db

import (
	"database/sql"
	"time"
)

type RubricRow struct {
	AwardID   string    `db:"award_id"`
	Version   string    `db:"version"`
	Doc       []byte    `db:"doc"`
	CreatedAt time.Time `db:"created_at"`
}

type SubmissionRow struct {
	ID              string    `db:"id"`
	Title           string    `db:"title"`
	AuthorID        string    `db:"author_id"`
	AssetURL        string    `db:"asset_url"`
	Meta            []byte    `db:"meta"`
	UploadTokenHash string    `db:"upload_token_hash"`
	CreatedAt       time.Time `db:"created_at"`
}

type FindingRow struct {
	ID           string    `db:"id"`
	SubmissionID string    `db:"submission_id"`
	Doc          []byte    `db:"doc"`
	ObjectRef    string    `db:"object_ref"`
	CreatedAt    time.Time `db:"created_at"`
}

type ScoreSetRow struct {
	ID            string    `db:"id"`
	SubmissionID  string    `db:"submission_id"`
	JudgeID       string    `db:"judge_id"`
	AwardID       string    `db:"award_id"`
	RubricVersion string    `db:"rubric_version"`
	Seq           int64     `db:"seq"`
	Entries       []byte    `db:"entries"`
	Suggestions   []byte    `db:"suggestions"`
	Warnings      []byte    `db:"warnings"`
	SubmittedAt   time.Time `db:"submitted_at"`
	CreatedAt     time.Time `db:"created_at"`
}

type EventRow struct {
	ID           string         `db:"id"`
	SubmissionID string         `db:"submission_id"`
	Seq          int64          `db:"seq"`
	Kind         string         `db:"kind"`
	At           time.Time      `db:"at"`
	Payload      []byte         `db:"payload"`
	DedupKey     sql.NullString `db:"dedup_key"`
}

type FinalScoreRow struct {
	SubmissionID  string    `db:"submission_id"`
	AwardID       string    `db:"award_id"`
	RubricVersion string    `db:"rubric_version"`
	Value         float64   `db:"value"`
	PerCriterion  []byte    `db:"per_criterion"`
	JudgeCount    int       `db:"judge_count"`
	ComputedAt    time.Time `db:"computed_at"`
	InputsHash    string    `db:"inputs_hash"`
}
