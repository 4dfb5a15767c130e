package httpapi

import (
	"context"
	"net/http"
	"strings"

	"memoryhub/internal/store"
)

// Requests arrive with (tenant, user, permissions) already resolved by an
// upstream authenticator (§4.11) — this package never issues sessions or
// checks credentials, only reads the three headers it's handed.
const (
	headerTenantID    = "X-Tenant-ID"
	headerUserID      = "X-User-ID"
	headerPermissions = "X-Permissions"
)

type ctxKey int

const requestContextKey ctxKey = iota

func requestContextFromHeaders(r *http.Request) store.RequestContext {
	var perms []string
	if raw := r.Header.Get(headerPermissions); raw != "" {
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				perms = append(perms, p)
			}
		}
	}
	return store.RequestContext{
		TenantID:    r.Header.Get(headerTenantID),
		UserID:      r.Header.Get(headerUserID),
		Permissions: perms,
	}
}

// withAuth resolves the RequestContext from headers and rejects requests
// missing a tenant before they reach a handler.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rc := requestContextFromHeaders(r)
		if !rc.Valid() {
			respondError(w, http.StatusUnauthorized, errMissingTenant)
			return
		}
		ctx := context.WithValue(r.Context(), requestContextKey, rc)
		next(w, r.WithContext(ctx))
	}
}

func requestContext(r *http.Request) store.RequestContext {
	rc, _ := r.Context().Value(requestContextKey).(store.RequestContext)
	return rc
}

// withRateLimit enforces the per-(tenant,user,path) fixed-window counter
// (§4.11 (b), default 100/min).
func (s *Server) withRateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rc := requestContext(r)
		key := rc.TenantID + "|" + rc.UserID + "|" + r.URL.Path
		if !s.limiter.Allow(key) {
			respondError(w, http.StatusTooManyRequests, errRateLimited)
			return
		}
		next(w, r)
	}
}

func (s *Server) wrap(h http.HandlerFunc) http.HandlerFunc {
	return s.withAuth(s.withRateLimit(h))
}
