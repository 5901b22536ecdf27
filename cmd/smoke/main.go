// Smoke walks the full evaluation lifecycle against a running api: publish a
// rubric, register a submission, attach analyzer findings, score it as two
// judges, then read back the final score and the report trail.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"time"
)

type createResp struct {
	SubmissionID string `json:"submission_id"`
	UploadToken  string `json:"upload_token"`
}

type evaluateResp struct {
	OK       bool     `json:"ok"`
	Warnings []string `json:"warnings"`
}

type finalScoreResp struct {
	Value        float64            `json:"value"`
	PerCriterion map[string]float64 `json:"per_criterion"`
	JudgeCount   int                `json:"judge_count"`
	InputsHash   string             `json:"inputs_hash"`
}

type reportResp struct {
	Events []struct {
		Kind string `json:"kind"`
		Seq  int64  `json:"seq"`
	} `json:"events"`
}

func main() {
	base := envOr("API_BASE_URL", "http://localhost:8000")
	token := envOr("API_TOKEN", "dev-secret-token")

	baseFlag := flag.String("base", base, "API base URL (e.g., http://localhost:8000)")
	tokenFlag := flag.String("token", token, "API token for admin endpoints")
	flag.Parse()

	httpc := &http.Client{Timeout: 12 * time.Second}
	award := "kda_2025"
	version := fmt.Sprintf("smoke-%d", time.Now().Unix())

	// 1) Publish rubric
	rubricDoc := map[string]any{
		"award_id": award,
		"version":  version,
		"criteria": []map[string]any{
			{"id": "visual_hierarchy", "label": "Visual Hierarchy", "weight": 0.6,
				"scale": map[string]any{"type": "int", "min": 1, "max": 5}},
			{"id": "accessibility", "label": "Accessibility", "weight": 0.4,
				"scale": map[string]any{"type": "int", "min": 1, "max": 5}},
		},
		"aggregation": map[string]any{"method": "weighted_mean"},
	}
	if err := postJSON(httpc, *baseFlag+"/rubrics", *tokenFlag, rubricDoc, &map[string]any{}); err != nil {
		fatalf("publish rubric: %v", err)
	}
	fmt.Printf("✅ Published rubric %s/%s\n", award, version)

	// 2) Register submission
	var created createResp
	createBody := map[string]any{
		"title":     "Smoke Poster",
		"author_id": "author-1",
		"meta":      map[string]any{"medium": "poster"},
	}
	if err := postJSON(httpc, *baseFlag+"/submissions", *tokenFlag, createBody, &created); err != nil {
		fatalf("create submission: %v", err)
	}
	fmt.Printf("✅ Created submission: id=%s upload_token=%s\n", created.SubmissionID, created.UploadToken)

	// 3) Attach findings (upload token)
	findingsBody := map[string]any{
		"findings": []map[string]any{
			{
				"id":          "f-contrast-1",
				"region":      map[string]any{"x": 0.18, "y": 0.22, "w": 0.42, "h": 0.28},
				"label":       "Low Contrast",
				"confidence":  0.82,
				"explanation": "Text/background contrast may be below recommended ratio.",
				"citations":   []string{"cit_kda_v1_2_1_001"},
			},
		},
		"model_version": "llava:7b",
	}
	if err := postJSONWithUpload(httpc, fmt.Sprintf("%s/submissions/%s/findings", *baseFlag, created.SubmissionID), created.UploadToken, findingsBody, &map[string]any{}); err != nil {
		fatalf("attach findings: %v", err)
	}
	fmt.Println("✅ Attached findings")

	// 4) Two judges evaluate
	for judge, scores := range map[string][2]float64{
		"judge-a": {5, 3},
		"judge-b": {3, 5},
	} {
		var out evaluateResp
		body := map[string]any{
			"submission_id":  created.SubmissionID,
			"judge_id":       judge,
			"award_id":       award,
			"rubric_version": version,
			"scores": []map[string]any{
				{"criteria_id": "visual_hierarchy", "score": scores[0], "citation_ids": []string{"f-contrast-1"}},
				{"criteria_id": "accessibility", "score": scores[1]},
			},
		}
		if err := postJSON(httpc, *baseFlag+"/evaluate", *tokenFlag, body, &out); err != nil {
			fatalf("evaluate %s: %v", judge, err)
		}
		fmt.Printf("✅ Evaluated as %s ok=%v warnings=%v\n", judge, out.OK, out.Warnings)
	}

	// 5) Final score should be 0.6*4 + 0.4*4 = 4.0
	var fs finalScoreResp
	if err := getJSON(httpc, fmt.Sprintf("%s/submissions/%s/final-score", *baseFlag, created.SubmissionID), &fs); err != nil {
		fatalf("final score: %v", err)
	}
	if math.Abs(fs.Value-4.0) > 1e-9 {
		fatalf("final score = %v, want 4.0", fs.Value)
	}
	fmt.Printf("✅ Final score: %.2f judges=%d hash=%s\n", fs.Value, fs.JudgeCount, fs.InputsHash[:12])

	// 6) Report trail
	var rep reportResp
	if err := getJSON(httpc, fmt.Sprintf("%s/report/%s", *baseFlag, created.SubmissionID), &rep); err != nil {
		fatalf("report: %v", err)
	}
	for _, ev := range rep.Events {
		fmt.Printf("   event seq=%d kind=%s\n", ev.Seq, ev.Kind)
	}
	fmt.Printf("✅ Report has %d events\n", len(rep.Events))
}

func postJSON(c *http.Client, url, token string, body, out any) error {
	return doJSON(c, url, "Bearer "+token, body, out)
}

func postJSONWithUpload(c *http.Client, url, uploadToken string, body, out any) error {
	return doJSON(c, url, "Bearer "+uploadToken, body, out)
}

func doJSON(c *http.Client, url, authz string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(http.MethodPost, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", authz)
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s -> %d: %s", url, resp.StatusCode, raw)
	}
	return json.Unmarshal(raw, out)
}

func getJSON(c *http.Client, url string, out any) error {
	resp, err := c.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s -> %d: %s", url, resp.StatusCode, raw)
	}
	return json.Unmarshal(raw, out)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "❌ "+format+"\n", args...)
	os.Exit(1)
}
