package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/corpus/index"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/engine"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/jobs"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/query/service"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/pkg/proto"
)

func newMux(t *testing.T) *http.ServeMux {
	t.Helper()
	idx := index.NewMemoryIndex(corpus.Tokenization{})
	require.NoError(t, idx.AddDocument(corpus.Document{ID: "d1", Text: "the rose is a rose"}))
	require.NoError(t, idx.AddDocument(corpus.Document{ID: "d2", Text: "e.g. a rose garden"}))
	e, err := engine.New(idx, config.Default().Query, config.TracingConfig{}, nil)
	require.NoError(t, err)
	runner, err := jobs.NewRunner(e, config.Default().Query, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = runner.Close(time.Second) })

	mux := http.NewServeMux()
	New(service.New(e, config.Default().Query, service.WithJobs(runner))).Routes(mux)
	return mux
}

func do(t *testing.T, mux http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec, out
}

func TestQueryGet(t *testing.T) {
	mux := newMux(t)
	target := "/api/v1/query?" + url.Values{"q": {`"rose"`}, "group_by": {"document"}, "doc": {"d1"}}.Encode()
	rec, out := do(t, mux, http.MethodGet, target, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.EqualValues(t, 2, out["total"])
	assert.Equal(t, map[string]any{"d1": float64(2)}, out["groups"])
}

func TestQueryGetRequiresQ(t *testing.T) {
	rec, out := do(t, newMux(t), http.MethodGet, "/api/v1/query", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, out["error"], "'q'")

	rec, _ = do(t, newMux(t), http.MethodGet, "/api/v1/query?q=%22rose%22&limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryPost(t *testing.T) {
	mux := newMux(t)
	rec, out := do(t, mux, http.MethodPost, "/api/v1/query", `{"query":"\"rose\"","limit":1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 3, out["total"])
	assert.Equal(t, true, out["truncated"])
	assert.Len(t, out["rows"], 1)
}

func TestQueryPostParseError(t *testing.T) {
	rec, out := do(t, newMux(t), http.MethodPost, "/api/v1/query", `{"query":"tag="}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.EqualValues(t, 4, out["character_index"])
	assert.NotEmpty(t, out["error"])
}

func TestQueryPostRejectsBadBody(t *testing.T) {
	mux := newMux(t)
	rec, _ := do(t, mux, http.MethodPost, "/api/v1/query", `{"query":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, mux, http.MethodPost, "/api/v1/query", `{"query":"\"rose\"","colour":"red"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, out := do(t, mux, http.MethodPost, "/api/v1/query", `{"query":"\"rose\"","group_by":"colour"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, out["fields"], "group_by")
}

func TestValidateEndpoint(t *testing.T) {
	rec, out := do(t, newMux(t), http.MethodPost, "/api/v1/validate", `{"query":"(\"rose\")"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["valid"])
	assert.Equal(t, `"rose"`, out["canonical"])
}

func TestFrequencyEndpoint(t *testing.T) {
	rec, out := do(t, newMux(t), http.MethodGet, "/api/v1/terms/rose/frequency", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"d1": float64(2), "d2": float64(1)}, out["frequencies"])
}

func TestJobsEndpoints(t *testing.T) {
	mux := newMux(t)
	rec, out := do(t, mux, http.MethodPost, "/api/v1/jobs", `{"name":"roses","query":"\"rose\""}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	id, _ := out["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "/api/v1/jobs/"+id, rec.Header().Get("Location"))

	var status proto.JobStatus
	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+id+"?rows=true", nil))
		if rec.Code != http.StatusOK {
			return false
		}
		status = proto.JobStatus{}
		return json.Unmarshal(rec.Body.Bytes(), &status) == nil && status.Status == string(jobs.StatusSucceeded)
	}, 5*time.Second, 10*time.Millisecond)
	require.NotNil(t, status.Result)
	assert.Equal(t, 3, status.Result.Total)

	rec, out = do(t, mux, http.MethodGet, "/api/v1/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, out["count"])

	rec, out = do(t, mux, http.MethodDelete, "/api/v1/jobs/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(jobs.StatusSucceeded), out["status"])

	rec, _ = do(t, mux, http.MethodGet, "/api/v1/jobs/3f1c7a52-5b1e-4c55-9c59-2a8f0e0b6d11", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, mux, http.MethodPost, "/api/v1/jobs", `{"query":"\"rose"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCacheEndpointsWhenDisabled(t *testing.T) {
	mux := newMux(t)
	rec, out := do(t, mux, http.MethodGet, "/api/v1/cache/stats", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "disabled", out["status"])

	rec, _ = do(t, mux, http.MethodPost, "/api/v1/cache/invalidate", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCancelledQueryStatus(t *testing.T) {
	mux := newMux(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/query?q=%22rose%22", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, 499, rec.Code)
	assert.JSONEq(t, `{"error":"query cancelled"}`, rec.Body.String())
}
