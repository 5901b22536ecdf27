package worker

import (
	"context"
	"encoding/json"
	"log"

	"github.com/hibiken/asynq"

	"design-eval/internal/coordinator"
)

const TypeReconcile = "reconcile_submission"

// ReconcilePayload names the rubric explicitly: reconciliation never guesses
// a process-wide default award or version.
type ReconcilePayload struct {
	SubmissionID  string `json:"submission_id"`
	AwardID       string `json:"award_id"`
	RubricVersion string `json:"rubric_version"`
}

type Server struct {
	Coord *coordinator.Coordinator
}

func (s *Server) mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeReconcile, s.handleReconcile)
	return mux
}

// handleReconcile recomputes a submission's final score. It repairs the two
// drift cases: a crash between the cache write and the final-score append,
// and a cache left stale by a failed recompute. The append dedupes on the
// inputs hash, so running this against a consistent submission changes
// nothing.
func (s *Server) handleReconcile(ctx context.Context, t *asynq.Task) error {
	var p ReconcilePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		log.Printf("reconcile: bad payload: %v", err)
		return nil // malformed tasks are not retryable
	}
	log.Printf("reconciling submission %s against %s/%s", p.SubmissionID, p.AwardID, p.RubricVersion)
	if err := s.Coord.Reconcile(ctx, p.SubmissionID, p.AwardID, p.RubricVersion); err != nil {
		log.Printf("reconcile %s: %v", p.SubmissionID, err)
		return err
	}
	return nil
}

func Run(addr string, coord *coordinator.Coordinator) error {
	srv := asynq.NewServer(asynq.RedisClientOpt{Addr: addr}, asynq.Config{Concurrency: 5})
	w := &Server{Coord: coord}
	return srv.Run(w.mux())
}
