package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"memoryhub/internal/apperr"
	"memoryhub/internal/dedupe"
	"memoryhub/internal/domain"
	"memoryhub/internal/memoryservice"
	"memoryhub/internal/search"
	"memoryhub/internal/store"
)

const maxUploadBytes = 25 << 20

type attachmentRefRequest struct {
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	DataB64  string `json:"data,omitempty"`
	URL      string `json:"url,omitempty"`
}

type createMemoryRequest struct {
	Content       string                 `json:"content"`
	Title         string                 `json:"title,omitempty"`
	Tags          []string               `json:"tags,omitempty"`
	Metadata      map[string]any         `json:"metadata,omitempty"`
	Visibility    string                 `json:"visibility,omitempty"`
	Attachments   []attachmentRefRequest `json:"attachments,omitempty"`
	Async         bool                   `json:"async,omitempty"`
	Force         bool                   `json:"force,omitempty"`
	DedupWindowS  int                    `json:"dedupWindowSeconds,omitempty"`
	MergeStrategy string                 `json:"mergeStrategy,omitempty"`
}

func (s *Server) handleCreateMemory(w http.ResponseWriter, r *http.Request) {
	rc := requestContext(r)
	var req createMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errBadRequest)
		return
	}
	attachments := make([]memoryservice.AttachmentRef, 0, len(req.Attachments))
	for _, a := range req.Attachments {
		ref := memoryservice.AttachmentRef{Filename: a.Filename, MimeType: a.MimeType, URL: a.URL}
		if a.DataB64 != "" {
			data, err := base64.StdEncoding.DecodeString(a.DataB64)
			if err != nil {
				respondError(w, http.StatusBadRequest, errBadRequest)
				return
			}
			ref.Data = data
		}
		attachments = append(attachments, ref)
	}
	p := memoryservice.CreateParams{
		Content:       req.Content,
		Title:         req.Title,
		Tags:          req.Tags,
		Metadata:      req.Metadata,
		Visibility:    domain.Visibility(req.Visibility),
		Attachments:   attachments,
		Async:         req.Async,
		Force:         req.Force,
		MergeStrategy: dedupe.MergeStrategy(req.MergeStrategy),
	}
	if req.DedupWindowS > 0 {
		p.DedupWindow = time.Duration(req.DedupWindowS) * time.Second
	}
	result, err := s.memories.Create(r.Context(), rc, p)
	if err != nil {
		respondError(w, apperr.HTTPStatus(err), err)
		return
	}
	if result.Status == "duplicate_found" {
		respondJSON(w, http.StatusConflict, result)
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	rc := requestContext(r)
	id := r.PathValue("memoryID")
	view, err := s.memories.Get(r.Context(), rc, id)
	if err != nil {
		respondError(w, apperr.HTTPStatus(err), err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	rc := requestContext(r)
	f := filterFromQuery(r)
	memories, err := s.memories.List(r.Context(), rc, f)
	if err != nil {
		respondError(w, apperr.HTTPStatus(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"results": memories, "count": len(memories)})
}

type updateMemoryRequest struct {
	Content             *string           `json:"content,omitempty"`
	Title               *string           `json:"title,omitempty"`
	Tags                []string          `json:"tags,omitempty"`
	Metadata            map[string]any    `json:"metadata,omitempty"`
	Visibility          *domain.Visibility `json:"visibility,omitempty"`
	RegenerateEmbedding bool              `json:"regenerateEmbedding,omitempty"`
}

func (s *Server) handleUpdateMemory(w http.ResponseWriter, r *http.Request) {
	rc := requestContext(r)
	id := r.PathValue("memoryID")
	var req updateMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errBadRequest)
		return
	}
	m, err := s.memories.Update(r.Context(), rc, id, memoryservice.UpdateParams{
		Content:             req.Content,
		Title:               req.Title,
		Tags:                req.Tags,
		Metadata:            req.Metadata,
		Visibility:          req.Visibility,
		RegenerateEmbedding: req.RegenerateEmbedding,
	})
	if err != nil {
		respondError(w, apperr.HTTPStatus(err), err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	rc := requestContext(r)
	id := r.PathValue("memoryID")
	if err := s.memories.Delete(r.Context(), rc, id); err != nil {
		respondError(w, apperr.HTTPStatus(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addCorrectionRequest struct {
	CorrectedContent string `json:"correctedContent"`
	Reason           string `json:"reason,omitempty"`
}

func (s *Server) handleAddCorrection(w http.ResponseWriter, r *http.Request) {
	rc := requestContext(r)
	id := r.PathValue("memoryID")
	var req addCorrectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errBadRequest)
		return
	}
	c, err := s.memories.AddCorrection(r.Context(), rc, id, req.CorrectedContent, req.Reason)
	if err != nil {
		respondError(w, apperr.HTTPStatus(err), err)
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

type mergeRequest struct {
	Content       string   `json:"content"`
	Tags          []string `json:"tags,omitempty"`
	MergeStrategy string   `json:"mergeStrategy,omitempty"`
}

func (s *Server) handleUpdateOrMerge(w http.ResponseWriter, r *http.Request) {
	rc := requestContext(r)
	id := r.PathValue("memoryID")
	var req mergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errBadRequest)
		return
	}
	m, err := s.memories.UpdateOrMerge(r.Context(), rc, id, req.Content, req.Tags, dedupe.MergeStrategy(req.MergeStrategy))
	if err != nil {
		respondError(w, apperr.HTTPStatus(err), err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

func (s *Server) handleVersionHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("memoryID")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	history, err := s.versions.History(r.Context(), id, limit)
	if err != nil {
		respondError(w, apperr.HTTPStatus(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"results": history, "count": len(history)})
}

func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("memoryID")
	version, err := strconv.Atoi(r.PathValue("version"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errBadRequest)
		return
	}
	v, err := s.versions.Get(r.Context(), id, version)
	if err != nil {
		respondError(w, apperr.HTTPStatus(err), err)
		return
	}
	respondJSON(w, http.StatusOK, v)
}

func (s *Server) handleCompareVersions(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("memoryID")
	v1, err1 := strconv.Atoi(r.URL.Query().Get("v1"))
	v2, err2 := strconv.Atoi(r.URL.Query().Get("v2"))
	if err1 != nil || err2 != nil {
		respondError(w, http.StatusBadRequest, errBadRequest)
		return
	}
	diff, err := s.versions.Compare(r.Context(), id, v1, v2)
	if err != nil {
		respondError(w, apperr.HTTPStatus(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"diff": diff})
}

type rollbackRequest struct {
	Version int    `json:"version"`
	Reason  string `json:"reason,omitempty"`
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	rc := requestContext(r)
	id := r.PathValue("memoryID")
	var req rollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errBadRequest)
		return
	}
	m, err := s.memories.Rollback(r.Context(), rc, id, req.Version, req.Reason)
	if err != nil {
		respondError(w, apperr.HTTPStatus(err), err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

func (s *Server) handleAddAttachment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("memoryID")

	if rawURL := r.URL.Query().Get("url"); rawURL != "" {
		a, dup, err := s.memories.AddAttachmentFromURL(r.Context(), id, rawURL)
		if err != nil {
			respondError(w, apperr.HTTPStatus(err), err)
			return
		}
		respondJSON(w, attachmentStatus(dup), a)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondError(w, http.StatusBadRequest, errBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, errBadRequest)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, errBadRequest)
		return
	}
	mimeType := header.Header.Get("Content-Type")
	a, dup, err := s.memories.AddAttachmentFromBytes(r.Context(), id, header.Filename, mimeType, data)
	if err != nil {
		respondError(w, apperr.HTTPStatus(err), err)
		return
	}
	respondJSON(w, attachmentStatus(dup), a)
}

func attachmentStatus(dup bool) int {
	if dup {
		return http.StatusOK
	}
	return http.StatusCreated
}

func (s *Server) handleListAttachments(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("memoryID")
	list, err := s.memories.ListAttachments(r.Context(), id)
	if err != nil {
		respondError(w, apperr.HTTPStatus(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"results": list, "count": len(list)})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	rc := requestContext(r)
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	wk, _ := strconv.ParseFloat(q.Get("wk"), 64)
	ws, _ := strconv.ParseFloat(q.Get("ws"), 64)

	params := search.Params{
		Query:    q.Get("q"),
		Mode:     search.Mode(q.Get("mode")),
		Filters:  filterFromQuery(r),
		Limit:    limit,
		Offset:   offset,
		HybridKW: wk,
		HybridSW: ws,
	}
	result, err := s.search.Search(r.Context(), rc, params)
	if err != nil {
		respondError(w, apperr.HTTPStatus(err), err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleNeighborhood(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("entityID")
	depth, _ := strconv.Atoi(r.URL.Query().Get("depth"))
	if depth <= 0 {
		depth = 2
	}
	n, err := s.graph.Neighborhood(r.Context(), name, depth)
	if err != nil {
		respondError(w, apperr.HTTPStatus(err), err)
		return
	}
	respondJSON(w, http.StatusOK, n)
}

func (s *Server) handleSearchEntities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 {
		limit = 20
	}
	entities, err := s.graph.SearchEntities(r.Context(), q.Get("q"), q.Get("type"), limit)
	if err != nil {
		respondError(w, apperr.HTTPStatus(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"results": entities, "count": len(entities)})
}

func filterFromQuery(r *http.Request) store.ListFilter {
	q := r.URL.Query()
	var f store.ListFilter
	if tags := q.Get("tags"); tags != "" {
		f.Tags = strings.Split(tags, ",")
	}
	f.CreatedBy = q.Get("createdBy")
	for _, v := range strings.Split(q.Get("visibility"), ",") {
		if v = strings.TrimSpace(v); v != "" {
			f.Visibility = append(f.Visibility, domain.Visibility(v))
		}
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 {
		f.Limit = limit
	}
	if offset, err := strconv.Atoi(q.Get("offset")); err == nil && offset > 0 {
		f.Offset = offset
	}
	return f
}
