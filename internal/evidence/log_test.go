package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"design-eval/internal/schemas"
)

func TestAppendListRoundTrip(t *testing.T) {
	ctx := context.Background()
	log := NewMemory()

	payloads := []json.RawMessage{
		json.RawMessage(`{"submission_id":"sub-1","title":"Poster"}`),
		json.RawMessage(`{"findings":[{"label":"Low Contrast","confidence":0.82}]}`),
		json.RawMessage(`{"judge_id":"judge-a","seq":0}`),
	}
	kinds := []string{schemas.EventUploaded, schemas.EventAnalyzed, schemas.EventEvaluated}
	for i, p := range payloads {
		_, err := log.Append(ctx, "sub-1", kinds[i], p, "")
		require.NoError(t, err)
	}

	events, err := log.List(ctx, "sub-1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, ev := range events {
		require.Equal(t, int64(i), ev.Seq)
		require.Equal(t, kinds[i], ev.Kind)
		require.Equal(t, []byte(payloads[i]), []byte(ev.Payload), "payload must round-trip byte-identical")
	}
}

func TestAppendIsolatedPerSubmission(t *testing.T) {
	ctx := context.Background()
	log := NewMemory()

	_, err := log.Append(ctx, "sub-1", schemas.EventUploaded, json.RawMessage(`{}`), "")
	require.NoError(t, err)
	ev, err := log.Append(ctx, "sub-2", schemas.EventUploaded, json.RawMessage(`{}`), "")
	require.NoError(t, err)
	require.Equal(t, int64(0), ev.Seq, "each submission has its own sequence")

	events, err := log.List(ctx, "sub-2")
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestAppendDedupKeyIdempotent(t *testing.T) {
	ctx := context.Background()
	log := NewMemory()

	first, err := log.Append(ctx, "sub-1", schemas.EventEvaluated, json.RawMessage(`{"judge_id":"judge-a"}`), "key-1")
	require.NoError(t, err)

	// Retried append with a changed payload: the original event wins.
	again, err := log.Append(ctx, "sub-1", schemas.EventEvaluated, json.RawMessage(`{"judge_id":"other"}`), "key-1")
	require.NoError(t, err)
	require.Equal(t, first, again)

	events, err := log.List(ctx, "sub-1")
	require.NoError(t, err)
	require.Len(t, events, 1)

	// Same key on another submission is a distinct event.
	_, err = log.Append(ctx, "sub-2", schemas.EventEvaluated, json.RawMessage(`{}`), "key-1")
	require.NoError(t, err)
	events, err = log.List(ctx, "sub-2")
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestConcurrentAppendsKeepTotalOrder(t *testing.T) {
	ctx := context.Background()
	log := NewMemory()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			payload, _ := json.Marshal(map[string]int{"n": n})
			_, err := log.Append(ctx, "sub-1", schemas.EventEvaluated, payload, "")
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()

	events, err := log.List(ctx, "sub-1")
	require.NoError(t, err)
	require.Len(t, events, 32)
	for i, ev := range events {
		require.Equal(t, int64(i), ev.Seq, "sequence must be gapless and ordered")
	}
}

func TestReadersSeeConsistentPrefix(t *testing.T) {
	ctx := context.Background()
	log := NewMemory()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 64; i++ {
			payload, _ := json.Marshal(map[string]int{"n": i})
			_, err := log.Append(ctx, "sub-1", schemas.EventEvaluated, payload, "")
			require.NoError(t, err)
		}
	}()

	for {
		events, err := log.List(ctx, "sub-1")
		require.NoError(t, err)
		for i, ev := range events {
			require.Equal(t, int64(i), ev.Seq)
			var body map[string]int
			require.NoError(t, json.Unmarshal(ev.Payload, &body), "no torn event: %s", ev.Payload)
			require.Equal(t, i, body["n"], fmt.Sprintf("prefix order broken at %d", i))
		}
		select {
		case <-done:
			return
		default:
		}
	}
}
