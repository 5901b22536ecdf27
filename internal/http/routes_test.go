package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"design-eval/internal/coordinator"
	"design-eval/internal/evidence"
	"design-eval/internal/ledger"
	"design-eval/internal/rubric"
	"design-eval/internal/schemas"
)

func ptr(f float64) *float64 { return &f }

// testServer wires the handlers to the in-memory core; DB-backed routes are
// covered by the smoke binary against a real Postgres.
func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	t.Setenv("API_TOKEN", "test-token")

	rubrics := rubric.NewMemory()
	coord := coordinator.New(rubrics, ledger.NewMemory(), evidence.NewMemory(),
		coordinator.NewMemoryFindings(), nil, coordinator.NewMemoryFinals())
	srv := NewServer(nil, nil, nil, coord, nil)

	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func testRubricDoc() schemas.Rubric {
	return schemas.Rubric{
		AwardID: "kda_2025",
		Version: "v1",
		Criteria: []schemas.Criterion{
			{ID: "visual_hierarchy", Label: "Visual Hierarchy", Weight: 0.6,
				Scale: schemas.Scale{Type: schemas.ScaleInt, Min: ptr(1), Max: ptr(5)}},
			{ID: "accessibility", Label: "Accessibility", Weight: 0.4,
				Scale: schemas.Scale{Type: schemas.ScaleInt, Min: ptr(1), Max: ptr(5)}},
		},
		Aggregation: schemas.Aggregation{Method: schemas.MethodWeightedMean},
	}
}

func TestRubricRoutes(t *testing.T) {
	ts := testServer(t)

	resp := do(t, "POST", ts.URL+"/rubrics", "", testRubricDoc())
	require.Equal(t, 401, resp.StatusCode, "publish requires the api token")
	resp.Body.Close()

	resp = do(t, "POST", ts.URL+"/rubrics", "test-token", testRubricDoc())
	require.Equal(t, 200, resp.StatusCode)
	resp.Body.Close()

	resp = do(t, "POST", ts.URL+"/rubrics", "test-token", testRubricDoc())
	require.Equal(t, 409, resp.StatusCode, "republishing the same version is a conflict")
	resp.Body.Close()

	bad := testRubricDoc()
	bad.Version = "v2"
	bad.Criteria = nil
	resp = do(t, "POST", ts.URL+"/rubrics", "test-token", bad)
	require.Equal(t, 400, resp.StatusCode)
	resp.Body.Close()

	var got schemas.Rubric
	resp = do(t, "GET", ts.URL+"/rubrics/kda_2025/v1", "", nil)
	require.Equal(t, 200, resp.StatusCode)
	decode(t, resp, &got)
	require.Equal(t, testRubricDoc(), got)

	resp = do(t, "GET", ts.URL+"/rubrics/kda_2025/v9", "", nil)
	require.Equal(t, 404, resp.StatusCode)
	resp.Body.Close()
}

func TestEvaluateFlow(t *testing.T) {
	ts := testServer(t)
	resp := do(t, "POST", ts.URL+"/rubrics", "test-token", testRubricDoc())
	require.Equal(t, 200, resp.StatusCode)
	resp.Body.Close()

	eval := func(judge string, hierarchy, accessibility float64) schemas.EvaluateRequest {
		return schemas.EvaluateRequest{
			SubmissionID:  "sub-1",
			JudgeID:       judge,
			AwardID:       "kda_2025",
			RubricVersion: "v1",
			Scores: []schemas.ScoreEntry{
				{CriteriaID: "visual_hierarchy", Score: hierarchy},
				{CriteriaID: "accessibility", Score: accessibility},
			},
		}
	}

	// Incomplete score set: 422 listing the missing criterion.
	partial := eval("judge-a", 5, 3)
	partial.Scores = partial.Scores[:1]
	resp = do(t, "POST", ts.URL+"/evaluate", "test-token", partial)
	require.Equal(t, 422, resp.StatusCode)
	var verr validationResp
	decode(t, resp, &verr)
	require.Len(t, verr.Issues, 1)
	require.Equal(t, "accessibility", verr.Issues[0].CriteriaID)

	// Unknown rubric: 404.
	missing := eval("judge-a", 5, 3)
	missing.RubricVersion = "v9"
	resp = do(t, "POST", ts.URL+"/evaluate", "test-token", missing)
	require.Equal(t, 404, resp.StatusCode)
	resp.Body.Close()

	// Nothing aggregated yet.
	resp = do(t, "GET", ts.URL+"/submissions/sub-1/final-score", "", nil)
	require.Equal(t, 404, resp.StatusCode)
	resp.Body.Close()

	for _, req := range []schemas.EvaluateRequest{eval("judge-a", 5, 3), eval("judge-b", 3, 5)} {
		resp = do(t, "POST", ts.URL+"/evaluate", "test-token", req)
		require.Equal(t, 200, resp.StatusCode)
		var out schemas.EvaluateResponse
		decode(t, resp, &out)
		require.True(t, out.OK)
	}

	var fs schemas.FinalScore
	resp = do(t, "GET", ts.URL+"/submissions/sub-1/final-score", "", nil)
	require.Equal(t, 200, resp.StatusCode)
	decode(t, resp, &fs)
	require.InDelta(t, 4.0, fs.Value, 1e-12)
	require.Equal(t, 2, fs.JudgeCount)

	var rep schemas.ReportResponse
	resp = do(t, "GET", ts.URL+"/report/sub-1", "", nil)
	require.Equal(t, 200, resp.StatusCode)
	decode(t, resp, &rep)
	require.Len(t, rep.Events, 3)
	require.Equal(t, schemas.EventFinalScore, rep.Events[2].Kind)
}
