package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	m "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jmoiron/sqlx"

	"design-eval/internal/auth"
	"design-eval/internal/coordinator"
	"design-eval/internal/db"
	"design-eval/internal/evidence"
	"design-eval/internal/ledger"
	"design-eval/internal/rubric"
	"design-eval/internal/schemas"
	"design-eval/internal/storage"
	"design-eval/internal/worker"
)

type Server struct {
	DB       *sqlx.DB
	Storage  *storage.Client
	Asynq    *asynq.Client
	Coord    *coordinator.Coordinator
	Findings *db.Findings
}

func NewServer(dbx *sqlx.DB, s3c *storage.Client, asq *asynq.Client, coord *coordinator.Coordinator, findings *db.Findings) *http.Server {
	s := &Server{DB: dbx, Storage: s3c, Asynq: asq, Coord: coord, Findings: findings}
	r := chi.NewRouter()
	r.Use(m.RequestID, m.RealIP, m.Logger, m.Recoverer)

	// Admin/API-token protected
	r.Group(func(r chi.Router) {
		r.Use(RequireAPIToken)
		r.Post("/rubrics", s.publishRubric)
		r.Post("/submissions", s.createSubmission)
		r.Post("/evaluate", s.evaluate)
		r.Post("/submissions/{id}/reconcile", s.reconcile)
	})

	// Upload token (uses Authorization: Bearer <upload>)
	r.Post("/submissions/{id}/findings", s.attachFindings)

	r.Get("/rubrics/{award}/{version}", s.getRubric)
	r.Get("/submissions/{id}/final-score", s.finalScore)
	r.Get("/submissions/{id}/scores/{judge}", s.scoreHistory)
	r.Get("/report/{id}", s.report)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := dbx.Ping(); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"status":"db error"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return &http.Server{Addr: ":8000", Handler: r}
}

type errResp struct {
	Error string `json:"error"`
}

type validationResp struct {
	Error  string         `json:"error"`
	Issues []ledger.Issue `json:"issues"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) publishRubric(w http.ResponseWriter, r *http.Request) {
	var doc schemas.Rubric
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeJSON(w, 400, errResp{err.Error()})
		return
	}
	if err := s.Coord.Rubrics.Publish(r.Context(), doc); err != nil {
		switch {
		case errors.Is(err, rubric.ErrConflict):
			writeJSON(w, 409, errResp{err.Error()})
		case errors.Is(err, rubric.ErrInvalid):
			writeJSON(w, 400, errResp{err.Error()})
		default:
			writeJSON(w, 500, errResp{err.Error()})
		}
		return
	}
	writeJSON(w, 200, map[string]string{"status": "published"})
}

func (s *Server) getRubric(w http.ResponseWriter, r *http.Request) {
	doc, err := s.Coord.Rubrics.Resolve(r.Context(), chi.URLParam(r, "award"), chi.URLParam(r, "version"))
	if err != nil {
		writeJSON(w, 404, errResp{"rubric not found"})
		return
	}
	writeJSON(w, 200, doc)
}

func (s *Server) createSubmission(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, 400, errResp{err.Error()})
		return
	}
	var req schemas.CreateSubmissionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, 400, errResp{err.Error()})
		return
	}
	id := uuid.NewString()
	upload := uuid.NewString()
	meta, _ := json.Marshal(req.Meta)

	var row db.SubmissionRow
	err = s.DB.QueryRowxContext(r.Context(),
		`insert into submissions(id, title, author_id, asset_url, meta, upload_token_hash) values($1,$2,$3,$4,$5,$6) returning created_at`,
		id, req.Title, req.AuthorID, req.AssetURL, meta, auth.HashToken(upload)).Scan(&row.CreatedAt)
	if err != nil {
		writeJSON(w, 500, errResp{err.Error()})
		return
	}
	// The uploaded event carries the caller's payload verbatim.
	if _, err := s.Coord.Log.Append(r.Context(), id, schemas.EventUploaded, body, ""); err != nil {
		writeJSON(w, 503, errResp{err.Error()})
		return
	}
	writeJSON(w, 200, schemas.CreateSubmissionResponse{SubmissionID: id, UploadToken: upload, CreatedAt: row.CreatedAt})
}

func (s *Server) attachFindings(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	got := r.Header.Get("Authorization")
	if len(got) < 8 || got[:7] != "Bearer " {
		writeJSON(w, 401, errResp{"missing bearer"})
		return
	}
	upload := got[7:]

	var cnt int
	if err := s.DB.Get(&cnt, `select count(1) from submissions where id=$1 and upload_token_hash=$2`, id, auth.HashToken(upload)); err != nil || cnt == 0 {
		writeJSON(w, 404, errResp{"submission not found"})
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, 400, errResp{err.Error()})
		return
	}
	var req schemas.AttachFindingsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, 400, errResp{err.Error()})
		return
	}
	var ref string
	if s.Storage != nil {
		if ref, err = s.Storage.PutSnapshot(r.Context(), id, body); err != nil {
			writeJSON(w, 500, errResp{err.Error()})
			return
		}
	}
	if err := s.Findings.Attach(r.Context(), id, req.Findings, ref); err != nil {
		writeJSON(w, 500, errResp{err.Error()})
		return
	}
	if _, err := s.Coord.Log.Append(r.Context(), id, schemas.EventAnalyzed, body, ""); err != nil {
		writeJSON(w, 503, errResp{err.Error()})
		return
	}
	writeJSON(w, 200, map[string]any{"attached": len(req.Findings), "object_ref": ref})
}

func (s *Server) evaluate(w http.ResponseWriter, r *http.Request) {
	var req schemas.EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, 400, errResp{err.Error()})
		return
	}
	resp, err := s.Coord.Evaluate(r.Context(), req)
	if err != nil {
		var verr *ledger.ValidationError
		switch {
		case errors.As(err, &verr):
			writeJSON(w, 422, validationResp{Error: verr.Error(), Issues: verr.Issues})
		case errors.Is(err, rubric.ErrNotFound):
			writeJSON(w, 404, errResp{err.Error()})
		case errors.Is(err, evidence.ErrUnavailable):
			writeJSON(w, 503, errResp{err.Error()})
		default:
			writeJSON(w, 500, errResp{err.Error()})
		}
		return
	}
	writeJSON(w, 200, resp)
}

func (s *Server) finalScore(w http.ResponseWriter, r *http.Request) {
	fs, err := s.Coord.FinalScore(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, coordinator.ErrNotFound) {
			writeJSON(w, 404, errResp{"no final score computed"})
			return
		}
		writeJSON(w, 500, errResp{err.Error()})
		return
	}
	writeJSON(w, 200, fs)
}

// scoreHistory returns every score set a judge submitted for a submission,
// superseded ones included, oldest first.
func (s *Server) scoreHistory(w http.ResponseWriter, r *http.Request) {
	sets, err := s.Coord.Ledger.History(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "judge"))
	if err != nil {
		writeJSON(w, 500, errResp{err.Error()})
		return
	}
	writeJSON(w, 200, map[string]any{"score_sets": sets})
}

func (s *Server) report(w http.ResponseWriter, r *http.Request) {
	out, err := s.Coord.Report(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, 503, errResp{err.Error()})
		return
	}
	writeJSON(w, 200, out)
}

func (s *Server) reconcile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		AwardID       string `json:"award_id"`
		RubricVersion string `json:"rubric_version"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, 400, errResp{err.Error()})
		return
	}
	payload, _ := json.Marshal(worker.ReconcilePayload{
		SubmissionID:  id,
		AwardID:       req.AwardID,
		RubricVersion: req.RubricVersion,
	})
	task := asynq.NewTask(worker.TypeReconcile, payload)
	if _, err := s.Asynq.Enqueue(task, asynq.MaxRetry(3)); err != nil {
		writeJSON(w, 500, errResp{err.Error()})
		return
	}
	writeJSON(w, 200, map[string]string{"enqueued": "ok"})
}
