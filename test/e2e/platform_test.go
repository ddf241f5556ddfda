// Package e2e contains end-to-end tests that exercise a running queryd:
// HTTP queries, background jobs, analytics and the corpus admin endpoints.
//
// Prerequisites:
//   - queryd running with a snapshot built by "corpusq index"
//   - optionally Redis, PostgreSQL and Kafka as configured for queryd
//
// Run with:
//
//	E2E_QUERYD_URL=http://localhost:8080 go test -v -timeout=120s ./test/e2e/...
package e2e

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"os"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Config
// ---------------------------------------------------------------------------

type e2eConfig struct {
	QuerydURL string
}

func loadE2EConfig() e2eConfig {
	return e2eConfig{
		QuerydURL: envOrDefault("E2E_QUERYD_URL", "http://localhost:8080"),
	}
}

func newClient(t *testing.T) (*http.Client, string) {
	t.Helper()
	cfg := loadE2EConfig()
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(cfg.QuerydURL + "/health/live")
	if err != nil {
		t.Skipf("queryd unavailable: %v", err)
	}
	resp.Body.Close()
	return client, cfg.QuerydURL
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

// TestHealth verifies the liveness and readiness endpoints respond.
func TestHealth(t *testing.T) {
	client, base := newClient(t)
	for _, path := range []string{"/health/live", "/health/ready"} {
		t.Run(path, func(t *testing.T) {
			resp, err := client.Get(base + path)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			defer resp.Body.Close()
			// Readiness may be 503 while no snapshot is loaded.
			if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
				body, _ := io.ReadAll(resp.Body)
				t.Errorf("unexpected status %d: %s", resp.StatusCode, body)
			}
		})
	}
}

// TestQueryAndSyntaxError runs a query and checks that a malformed one is
// rejected with the offending character index.
func TestQueryAndSyntaxError(t *testing.T) {
	client, base := newClient(t)

	resp, err := client.Get(base + "/api/v1/query?q=" + url.QueryEscape(`"the"`) + "&limit=5&group_by=document")
	if err != nil {
		t.Fatalf("query request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	var result map[string]any
	decode(t, resp, &result)
	t.Logf("query: total=%v truncated=%v latency_ms=%v", result["total"], result["truncated"], result["latency_ms"])

	resp, err = client.Post(base+"/api/v1/query", "application/json",
		bytes.NewReader([]byte(`{"query": "\"the\" |"}`)))
	if err != nil {
		t.Fatalf("query request failed: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	var qerr map[string]any
	decode(t, resp, &qerr)
	if idx, _ := qerr["character_index"].(float64); idx != 7 {
		t.Errorf("expected character_index 7, got %v", qerr["character_index"])
	}
}

// TestJobLifecycle submits a background job and polls until it finishes.
func TestJobLifecycle(t *testing.T) {
	client, base := newClient(t)

	resp, err := client.Post(base+"/api/v1/jobs", "application/json",
		bytes.NewReader([]byte(`{"name": "e2e", "query": "\"the\", \"a\""}`)))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if resp.StatusCode == http.StatusServiceUnavailable {
		resp.Body.Close()
		t.Skip("background jobs disabled")
	}
	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("expected 202, got %d: %s", resp.StatusCode, body)
	}
	var job map[string]any
	decode(t, resp, &job)
	id, _ := job["id"].(string)

	for attempt := 0; attempt < 30; attempt++ {
		resp, err := client.Get(base + "/api/v1/jobs/" + id)
		if err != nil {
			t.Fatalf("poll failed: %v", err)
		}
		decode(t, resp, &job)
		switch job["status"] {
		case "succeeded":
			t.Logf("job finished with %v rows", job["rows"])
			return
		case "failed", "cancelled":
			t.Fatalf("job ended %v: %v", job["status"], job["error"])
		}
		time.Sleep(time.Second)
	}
	t.Fatal("job did not finish within 30s")
}

// TestAnalyticsAndCorpus verifies that analytics and corpus status are
// reported.
func TestAnalyticsAndCorpus(t *testing.T) {
	client, base := newClient(t)

	resp, err := client.Get(base + "/api/v1/analytics")
	if err != nil {
		t.Fatalf("analytics request failed: %v", err)
	}
	var stats map[string]any
	decode(t, resp, &stats)
	if _, ok := stats["total_queries"]; !ok {
		t.Errorf("missing total_queries in %v", stats)
	}

	resp, err = client.Get(base + "/api/v1/corpus")
	if err != nil {
		t.Fatalf("corpus request failed: %v", err)
	}
	var corpus map[string]any
	decode(t, resp, &corpus)
	t.Logf("corpus: %v", corpus)
	if _, ok := corpus["documents"]; !ok {
		t.Errorf("missing documents in %v", corpus)
	}
}

// TestCacheStats verifies that cache statistics are reported.
func TestCacheStats(t *testing.T) {
	client, base := newClient(t)

	resp, err := client.Get(base + "/api/v1/cache/stats")
	if err != nil {
		t.Fatalf("cache stats request failed: %v", err)
	}
	var stats map[string]any
	decode(t, resp, &stats)
	if status, ok := stats["status"]; ok && status == "disabled" {
		t.Log("cache is disabled, skipping field check")
		return
	}
	for _, field := range []string{"hits", "misses", "total", "hit_rate"} {
		if _, ok := stats[field]; !ok {
			t.Errorf("missing expected field: %s", field)
		}
	}
}

// ---------------------------------------------------------------------------
// Env helpers
// ---------------------------------------------------------------------------

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
