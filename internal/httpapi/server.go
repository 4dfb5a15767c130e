// Package httpapi implements C14/C15: the request surface that receives
// calls with (tenant, user, permissions) already resolved by an upstream
// authenticator, applies schema/size validation and a per-(tenant, user,
// path) rate limit, and translates the §7 error taxonomy to wire statuses.
// Transport framing and authentication themselves are out of scope (§1).
package httpapi

import (
	"net/http"

	"memoryhub/internal/config"
	"memoryhub/internal/graph"
	"memoryhub/internal/memoryservice"
	"memoryhub/internal/search"
	"memoryhub/internal/versioning"
)

// Server exposes the memory store's HTTP surface.
type Server struct {
	memories *memoryservice.Service
	search   *search.Planner
	versions *versioning.Service
	graph    *graph.Graph
	limiter  *RateLimiter
	mux      *http.ServeMux
}

func NewServer(memories *memoryservice.Service, planner *search.Planner, versions *versioning.Service, g *graph.Graph, cfg config.RateLimitConfig) *Server {
	s := &Server{
		memories: memories,
		search:   planner,
		versions: versions,
		graph:    g,
		limiter:  NewRateLimiter(cfg),
		mux:      http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /api/v1/memories", s.wrap(s.handleCreateMemory))
	s.mux.HandleFunc("GET /api/v1/memories", s.wrap(s.handleListMemories))
	s.mux.HandleFunc("GET /api/v1/memories/{memoryID}", s.wrap(s.handleGetMemory))
	s.mux.HandleFunc("PATCH /api/v1/memories/{memoryID}", s.wrap(s.handleUpdateMemory))
	s.mux.HandleFunc("DELETE /api/v1/memories/{memoryID}", s.wrap(s.handleDeleteMemory))
	s.mux.HandleFunc("POST /api/v1/memories/{memoryID}/corrections", s.wrap(s.handleAddCorrection))
	s.mux.HandleFunc("POST /api/v1/memories/{memoryID}/merge", s.wrap(s.handleUpdateOrMerge))

	s.mux.HandleFunc("GET /api/v1/memories/{memoryID}/versions", s.wrap(s.handleVersionHistory))
	s.mux.HandleFunc("GET /api/v1/memories/{memoryID}/versions/{version}", s.wrap(s.handleGetVersion))
	s.mux.HandleFunc("GET /api/v1/memories/{memoryID}/versions/compare", s.wrap(s.handleCompareVersions))
	s.mux.HandleFunc("POST /api/v1/memories/{memoryID}/rollback", s.wrap(s.handleRollback))

	s.mux.HandleFunc("POST /api/v1/memories/{memoryID}/attachments", s.wrap(s.handleAddAttachment))
	s.mux.HandleFunc("GET /api/v1/memories/{memoryID}/attachments", s.wrap(s.handleListAttachments))

	s.mux.HandleFunc("GET /api/v1/search", s.wrap(s.handleSearch))

	s.mux.HandleFunc("GET /api/v1/entities/{entityID}/neighborhood", s.wrap(s.handleNeighborhood))
	s.mux.HandleFunc("GET /api/v1/entities", s.wrap(s.handleSearchEntities))
}
