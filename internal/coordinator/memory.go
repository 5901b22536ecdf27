package coordinator

import (
	"context"
	"fmt"
	"sync"

	"design-eval/internal/schemas"
)

// MemoryFindings records finding citation ids per submission. Used by tests
// and the smoke harness; the service wires the Postgres-backed source.
type MemoryFindings struct {
	mu    sync.RWMutex
	known map[string]map[string]bool
}

func NewMemoryFindings() *MemoryFindings {
	return &MemoryFindings{known: make(map[string]map[string]bool)}
}

func (m *MemoryFindings) Attach(submissionID string, findings []schemas.Finding) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.known[submissionID]
	if set == nil {
		set = make(map[string]bool)
		m.known[submissionID] = set
	}
	for _, f := range findings {
		if f.ID != "" {
			set[f.ID] = true
		}
		for _, c := range f.Citations {
			set[c] = true
		}
	}
}

func (m *MemoryFindings) KnownCitations(ctx context.Context, submissionID string) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]bool, len(m.known[submissionID]))
	for k := range m.known[submissionID] {
		out[k] = true
	}
	return out, nil
}

// MemoryLocker is the in-process Locker: one mutex per submission id. It
// only excludes recomputes that share this locker instance, so every
// coordinator touching the same stores must be handed the same one.
type MemoryLocker struct {
	mus sync.Map // submission id -> *sync.Mutex
}

func NewMemoryLocker() *MemoryLocker { return &MemoryLocker{} }

func (l *MemoryLocker) WithLock(ctx context.Context, submissionID string, fn func(context.Context) error) error {
	muAny, _ := l.mus.LoadOrStore(submissionID, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()
	return fn(ctx)
}

// StaticAssignments serves a fixed expected-judge panel per submission.
type StaticAssignments struct {
	Panels map[string][]string
}

func (a StaticAssignments) ExpectedJudges(ctx context.Context, submissionID string) ([]string, error) {
	return a.Panels[submissionID], nil
}

// MemoryFinals is an in-process final score cache.
type MemoryFinals struct {
	mu     sync.RWMutex
	scores map[string]schemas.FinalScore
}

func NewMemoryFinals() *MemoryFinals {
	return &MemoryFinals{scores: make(map[string]schemas.FinalScore)}
}

func (m *MemoryFinals) Put(ctx context.Context, fs schemas.FinalScore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores[fs.SubmissionID] = fs
	return nil
}

func (m *MemoryFinals) Get(ctx context.Context, submissionID string) (schemas.FinalScore, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fs, ok := m.scores[submissionID]
	if !ok {
		return schemas.FinalScore{}, fmt.Errorf("%w: %s", ErrNotFound, submissionID)
	}
	return fs, nil
}
