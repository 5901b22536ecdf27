package ledger

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"design-eval/internal/schemas"
)

type pairKey struct {
	submission string
	judge      string
}

// Memory is an in-process Ledger. Writes for the same (submission, judge)
// pair serialize on a per-pair mutex; different pairs proceed in parallel.
type Memory struct {
	mu      sync.RWMutex
	history map[pairKey][]schemas.ScoreSet
	pairs   map[pairKey]*sync.Mutex
}

func NewMemory() *Memory {
	return &Memory{
		history: make(map[pairKey][]schemas.ScoreSet),
		pairs:   make(map[pairKey]*sync.Mutex),
	}
}

func (m *Memory) pairLock(k pairKey) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.pairs[k]
	if !ok {
		l = &sync.Mutex{}
		m.pairs[k] = l
	}
	return l
}

func (m *Memory) Submit(ctx context.Context, set schemas.ScoreSet, r schemas.Rubric, knownCitations map[string]bool) (schemas.ScoreSet, error) {
	if err := Validate(set, r); err != nil {
		return schemas.ScoreSet{}, err
	}
	set.Warnings = CitationWarnings(set.Entries, knownCitations)

	k := pairKey{set.SubmissionID, set.JudgeID}
	l := m.pairLock(k)
	l.Lock()
	defer l.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	prior := m.history[k]
	set.ID = uuid.NewString()
	set.Seq = int64(len(prior))
	m.history[k] = append(prior, set)
	return set, nil
}

func (m *Memory) Active(ctx context.Context, submissionID string) ([]schemas.ScoreSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []schemas.ScoreSet
	for k, sets := range m.history {
		if k.submission == submissionID && len(sets) > 0 {
			out = append(out, sets[len(sets)-1])
		}
	}
	SortActive(out)
	return out, nil
}

func (m *Memory) History(ctx context.Context, submissionID, judgeID string) ([]schemas.ScoreSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sets := m.history[pairKey{submissionID, judgeID}]
	out := make([]schemas.ScoreSet, len(sets))
	copy(out, sets)
	return out, nil
}
