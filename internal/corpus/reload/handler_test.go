package reload

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/Annotated-Corpus-Query-Platform/internal/corpus/index"
)

func TestCorpusHandler(t *testing.T) {
	dir := t.TempDir()
	current := filepath.Join(dir, "corpus.cqs")
	next := filepath.Join(dir, "next.cqs")
	writeSnapshot(t, current, corpus.Document{ID: "d1", Text: "a rose"})
	writeSnapshot(t, next, corpus.Document{ID: "d1", Text: "a rose"}, corpus.Document{ID: "d2", Text: "a tulip"})

	idx := index.NewMemoryIndex(corpus.Tokenization{})
	mux := http.NewServeMux()
	NewHandler(New(idx, current, nil, nil)).Routes(mux)

	do := func(method, path, body string) (*httptest.ResponseRecorder, Status) {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		var s Status
		_ = json.Unmarshal(rec.Body.Bytes(), &s)
		return rec, s
	}

	rec, s := do(http.MethodGet, "/api/v1/corpus", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, s.LoadedAt)
	assert.Equal(t, 0, s.Documents)

	rec, s = do(http.MethodPost, "/api/v1/corpus/reload", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, s.Documents)
	assert.Equal(t, current, s.Snapshot)
	assert.NotNil(t, s.LoadedAt)

	rec, s = do(http.MethodPost, "/api/v1/corpus/reload", `{"path":"`+next+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, s.Documents)

	rec, _ = do(http.MethodPost, "/api/v1/corpus/reload", `{"path":"`+filepath.Join(dir, "gone.cqs")+`"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(http.MethodPost, "/api/v1/corpus/reload", `{"path":"/etc/passwd"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(http.MethodPost, "/api/v1/corpus/reload", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	_, s = do(http.MethodGet, "/api/v1/corpus", "")
	assert.Equal(t, 2, s.Documents)
	assert.Equal(t, next, s.Snapshot)
}
