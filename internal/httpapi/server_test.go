package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"memoryhub/internal/attachments"
	"memoryhub/internal/cache"
	"memoryhub/internal/config"
	"memoryhub/internal/domain"
	"memoryhub/internal/embedding"
	"memoryhub/internal/eventbus"
	"memoryhub/internal/extractor"
	"memoryhub/internal/graph"
	"memoryhub/internal/memoryservice"
	"memoryhub/internal/objectstore"
	"memoryhub/internal/search"
	"memoryhub/internal/store"
	"memoryhub/internal/taskqueue"
	"memoryhub/internal/versioning"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st := store.NewMemBackedStore()
	store.SeedTenant(st, &domain.Tenant{ID: "tenant-1", Slug: "t1", Plan: "pro", Settings: domain.TenantSettings{MaxMemories: 1000}})

	q := taskqueue.New(config.TaskQueueConfig{Workers: 1, MaxAttempts: 3, QueueCapacity: 16}, zerolog.Nop())
	bus := eventbus.New(nil)
	vs := versioning.New(st.Versions)
	embedder := embedding.NewStubEmbedder(8)
	g := graph.New(st.Entities, st.Relations, st.Associations, embedder)

	objects, err := objectstore.New(context.Background(), config.DefaultAttachmentConfig())
	require.NoError(t, err)
	proc := attachments.NewProcessor(attachments.BasicAnalyzer{}, attachments.NewNaivePDFPager(), embedder, objects)
	dl := attachments.NewDownloader(config.DefaultAttachmentConfig(), config.ProviderRetryConfig{MaxAttempts: 1})
	attSvc := attachments.NewService(st.Attachments, objects, dl, proc, q, zerolog.Nop())

	memSvc := memoryservice.New(st, cache.NoopCache{}, vs, g, embedder, extractor.NewHeuristicExtractor(), attSvc, nil, q, bus, zerolog.Nop())
	planner := search.New(st, g, embedder, nil, config.DefaultSearchConfig())

	return NewServer(memSvc, planner, vs, g, config.RateLimitConfig{RequestsPerWindow: 100, Window: config.DefaultRateLimitConfig().Window})
}

func authedRequest(method, path string, body []byte) *http.Request {
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	r.Header.Set(headerTenantID, "tenant-1")
	r.Header.Set(headerUserID, "user-1")
	r.Header.Set(headerPermissions, "memories.manage")
	return r
}

func TestMissingTenantHeaderRejected(t *testing.T) {
	s := newTestServer(t)
	r := httptest.NewRequest(http.MethodGet, "/api/v1/memories", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateThenGetMemory(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(createMemoryRequest{Content: "the deploy runs at 9am", Async: true})
	w := httptest.NewRecorder()
	s.ServeHTTP(w, authedRequest(http.MethodPost, "/api/v1/memories", body))
	require.Equal(t, http.StatusCreated, w.Code)

	var created memoryservice.CreateResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.Equal(t, "created", created.Status)
	require.NotEmpty(t, created.Memory.ID)

	w2 := httptest.NewRecorder()
	s.ServeHTTP(w2, authedRequest(http.MethodGet, "/api/v1/memories/"+created.Memory.ID, nil))
	require.Equal(t, http.StatusOK, w2.Code)

	var view memoryservice.MemoryView
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &view))
	require.Equal(t, "the deploy runs at 9am", view.EffectiveContent)
}

func TestGetMissingMemoryReturnsNotFound(t *testing.T) {
	s := newTestServer(t)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, authedRequest(http.MethodGet, "/api/v1/memories/does-not-exist", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestMergeRouteAppliesSmartMergeAndReturnsMergedMemory(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(createMemoryRequest{Content: "quarterly roadmap review"})
	w := httptest.NewRecorder()
	s.ServeHTTP(w, authedRequest(http.MethodPost, "/api/v1/memories", body))
	require.Equal(t, http.StatusCreated, w.Code)
	var created memoryservice.CreateResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	mergeBody, _ := json.Marshal(mergeRequest{Content: "the full quarterly roadmap review notes"})
	w2 := httptest.NewRecorder()
	s.ServeHTTP(w2, authedRequest(http.MethodPost, "/api/v1/memories/"+created.Memory.ID+"/merge", mergeBody))
	require.Equal(t, http.StatusOK, w2.Code)

	var merged domain.Memory
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &merged))
	require.Equal(t, "the full quarterly roadmap review notes", merged.Content)
	require.Equal(t, 2, merged.CurrentVersion)
}

func TestCreateWithAttachmentsIngestsAndEnforcesCap(t *testing.T) {
	s := newTestServer(t)

	tooMany := make([]attachmentRefRequest, 11)
	for i := range tooMany {
		tooMany[i] = attachmentRefRequest{Filename: "f.txt", MimeType: "text/plain", DataB64: base64.StdEncoding.EncodeToString([]byte("x"))}
	}
	body, _ := json.Marshal(createMemoryRequest{Content: "too many files", Attachments: tooMany})
	w := httptest.NewRecorder()
	s.ServeHTTP(w, authedRequest(http.MethodPost, "/api/v1/memories", body))
	require.Equal(t, http.StatusBadRequest, w.Code)

	ok := []attachmentRefRequest{{
		Filename: "note.txt", MimeType: "text/plain",
		DataB64: base64.StdEncoding.EncodeToString([]byte("attachment body")),
	}}
	body2, _ := json.Marshal(createMemoryRequest{Content: "has one attachment", Attachments: ok})
	w2 := httptest.NewRecorder()
	s.ServeHTTP(w2, authedRequest(http.MethodPost, "/api/v1/memories", body2))
	require.Equal(t, http.StatusCreated, w2.Code)

	var created memoryservice.CreateResult
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &created))

	w3 := httptest.NewRecorder()
	s.ServeHTTP(w3, authedRequest(http.MethodGet, "/api/v1/memories/"+created.Memory.ID+"/attachments", nil))
	require.Equal(t, http.StatusOK, w3.Code)
	var listed struct {
		Results []*domain.Attachment `json:"results"`
		Count   int                  `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w3.Body.Bytes(), &listed))
	require.Len(t, listed.Results, 1)
	require.Equal(t, "note.txt", listed.Results[0].Filename)
}

func TestSearchRoundTrip(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(createMemoryRequest{Content: "quarterly roadmap review notes", Async: false})
	w := httptest.NewRecorder()
	s.ServeHTTP(w, authedRequest(http.MethodPost, "/api/v1/memories", body))
	require.Equal(t, http.StatusCreated, w.Code)

	w2 := httptest.NewRecorder()
	s.ServeHTTP(w2, authedRequest(http.MethodGet, "/api/v1/search?q=roadmap&mode=keyword", nil))
	require.Equal(t, http.StatusOK, w2.Code)

	var res search.Result
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &res))
	require.Equal(t, "keyword", res.SearchType)
	require.NotEmpty(t, res.Results)
}

func TestRateLimitReturns429(t *testing.T) {
	s := newTestServer(t)
	s.limiter = NewRateLimiter(config.RateLimitConfig{RequestsPerWindow: 1, Window: config.DefaultRateLimitConfig().Window})

	w1 := httptest.NewRecorder()
	s.ServeHTTP(w1, authedRequest(http.MethodGet, "/api/v1/memories", nil))
	require.Equal(t, http.StatusOK, w1.Code)

	w2 := httptest.NewRecorder()
	s.ServeHTTP(w2, authedRequest(http.MethodGet, "/api/v1/memories", nil))
	require.Equal(t, http.StatusTooManyRequests, w2.Code)
}

func TestDeleteThenGetNotFound(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(createMemoryRequest{Content: "scratch note to delete", Async: false})
	w := httptest.NewRecorder()
	s.ServeHTTP(w, authedRequest(http.MethodPost, "/api/v1/memories", body))
	var created memoryservice.CreateResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w2 := httptest.NewRecorder()
	s.ServeHTTP(w2, authedRequest(http.MethodDelete, "/api/v1/memories/"+created.Memory.ID, nil))
	require.Equal(t, http.StatusNoContent, w2.Code)

	w3 := httptest.NewRecorder()
	s.ServeHTTP(w3, authedRequest(http.MethodGet, "/api/v1/memories/"+created.Memory.ID, nil))
	require.Equal(t, http.StatusNotFound, w3.Code)
}
