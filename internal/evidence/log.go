// Package evidence is the append-only audit trail of record. The log is a
// dumb ordered sink: it never rejects on business grounds, appends are
// atomic, and readers always observe a consistent prefix.
package evidence

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"design-eval/internal/schemas"
)

var ErrUnavailable = errors.New("evidence log unavailable")

// Log appends and lists per-submission report events. DedupKey makes an
// append idempotent: retrying with the same key returns the stored event
// unchanged. Pass "" for no deduplication.
type Log interface {
	Append(ctx context.Context, submissionID, kind string, payload json.RawMessage, dedupKey string) (schemas.ReportEvent, error)
	List(ctx context.Context, submissionID string) ([]schemas.ReportEvent, error)
}

// Memory is an in-process Log with a single authoritative sequence counter
// per submission.
type Memory struct {
	mu     sync.RWMutex
	events map[string][]schemas.ReportEvent
	byKey  map[string]schemas.ReportEvent
	now    func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		events: make(map[string][]schemas.ReportEvent),
		byKey:  make(map[string]schemas.ReportEvent),
		now:    time.Now,
	}
}

func (m *Memory) Append(ctx context.Context, submissionID, kind string, payload json.RawMessage, dedupKey string) (schemas.ReportEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if dedupKey != "" {
		if ev, ok := m.byKey[submissionID+"\x00"+dedupKey]; ok {
			return ev, nil
		}
	}
	ev := schemas.ReportEvent{
		ID:           uuid.NewString(),
		SubmissionID: submissionID,
		Seq:          int64(len(m.events[submissionID])),
		Kind:         kind,
		At:           m.now().UTC(),
		Payload:      append(json.RawMessage(nil), payload...),
	}
	m.events[submissionID] = append(m.events[submissionID], ev)
	if dedupKey != "" {
		m.byKey[submissionID+"\x00"+dedupKey] = ev
	}
	return ev, nil
}

func (m *Memory) List(ctx context.Context, submissionID string) ([]schemas.ReportEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	evs := m.events[submissionID]
	out := make([]schemas.ReportEvent, len(evs))
	copy(out, evs)
	return out, nil
}
