package store

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"memoryhub/internal/apperr"
	"memoryhub/internal/dedupe"
	"memoryhub/internal/domain"
)

// memDB is the shared in-memory backing state for every fake repo below,
// mirroring the teacher's in-memory test doubles: plain maps guarded by one
// mutex, with each repo interface implemented by a distinct thin wrapper
// type (Go forbids one type satisfying multiple interfaces that reuse a
// method name with different signatures, same as the Postgres split across
// pgMemoryRepo/pgVersionRepo/...).
type memDB struct {
	mu sync.RWMutex

	tenants      map[string]*domain.Tenant
	users        map[string]*domain.User
	memories     map[string]*domain.Memory
	versions     map[string][]*domain.MemoryVersion
	corrections  map[string][]*domain.Correction
	attachments  map[string][]*domain.Attachment
	entities     map[string]*domain.Entity
	relations    map[string]*domain.Relation
	associations map[string]map[string]*domain.MemoryEntityAssociation // memoryID -> entityID -> assoc
}

func newMemDB() *memDB {
	return &memDB{
		tenants:      make(map[string]*domain.Tenant),
		users:        make(map[string]*domain.User),
		memories:     make(map[string]*domain.Memory),
		versions:     make(map[string][]*domain.MemoryVersion),
		corrections:  make(map[string][]*domain.Correction),
		attachments:  make(map[string][]*domain.Attachment),
		entities:     make(map[string]*domain.Entity),
		relations:    make(map[string]*domain.Relation),
		associations: make(map[string]map[string]*domain.MemoryEntityAssociation),
	}
}

// NewMemBackedStore builds a Store from independent in-memory repos sharing
// one backing memDB, for use in tests that want a full Store without a
// database (§8 property checks).
func NewMemBackedStore() *Store {
	db := newMemDB()
	return &Store{
		Tenants:      &memTenantRepo{db},
		Memories:     &memMemoryRepo{db},
		Versions:     &memVersionRepo{db},
		Corrections:  &memCorrectionRepo{db},
		Attachments:  &memAttachmentRepo{db},
		Entities:     &memEntityRepo{db},
		Relations:    &memRelationRepo{db},
		Associations: &memAssociationRepo{db},
	}
}

// memTenantRepo implements TenantRepo over memDB.
type memTenantRepo struct{ db *memDB }

func (r *memTenantRepo) Get(ctx context.Context, id string) (*domain.Tenant, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	t, ok := r.db.tenants[id]
	if !ok {
		return nil, apperr.NotFound("tenant not found")
	}
	cp := *t
	return &cp, nil
}

func (r *memTenantRepo) GetUser(ctx context.Context, id string) (*domain.User, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	u, ok := r.db.users[id]
	if !ok {
		return nil, apperr.NotFound("user not found")
	}
	cp := *u
	return &cp, nil
}

// SeedTenant registers a Tenant directly into the in-memory store, for test
// setup that doesn't go through a tenant-provisioning API.
func SeedTenant(s *Store, t *domain.Tenant) {
	s.Tenants.(*memTenantRepo).db.mu.Lock()
	defer s.Tenants.(*memTenantRepo).db.mu.Unlock()
	cp := *t
	s.Tenants.(*memTenantRepo).db.tenants[t.ID] = &cp
}

// SeedUser registers a User directly into the in-memory store.
func SeedUser(s *Store, u *domain.User) {
	s.Tenants.(*memTenantRepo).db.mu.Lock()
	defer s.Tenants.(*memTenantRepo).db.mu.Unlock()
	cp := *u
	s.Tenants.(*memTenantRepo).db.users[u.ID] = &cp
}

func cloneMemory(m *domain.Memory) *domain.Memory {
	cp := *m
	cp.Tags = append([]string(nil), m.Tags...)
	cp.Embedding = append([]float32(nil), m.Embedding...)
	cp.Metadata = cloneMap(m.Metadata)
	cp.ExtractionMetadata = cloneMap(m.ExtractionMetadata)
	return &cp
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func visible(rc RequestContext, m *domain.Memory) bool {
	if rc.TenantID != m.TenantID {
		return false
	}
	if rc.CanManage() {
		return true
	}
	switch m.Visibility {
	case domain.VisibilityPublic, domain.VisibilityTeam:
		return true
	case domain.VisibilityPrivate:
		return m.CreatedBy != nil && *m.CreatedBy == rc.UserID
	}
	return false
}

// MatchesFilter reports whether m satisfies the tag/date portion of a
// ListFilter. Exported so search.Planner can apply the same filter to
// VectorStore candidates, which bypass the Store's own filtering.
func MatchesFilter(m *domain.Memory, f ListFilter) bool {
	if len(f.Tags) > 0 {
		for _, want := range f.Tags {
			found := false
			for _, have := range m.Tags {
				if have == want {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	if f.DateFrom != nil && m.CreatedAt.Before(*f.DateFrom) {
		return false
	}
	if f.DateTo != nil && m.CreatedAt.After(*f.DateTo) {
		return false
	}
	return true
}

func paginateMemories(items []*domain.Memory, f ListFilter) []*domain.Memory {
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// now is a seam so tests never depend on wall-clock ordering guarantees the
// in-memory store doesn't actually provide.
func now() time.Time { return time.Now().UTC() }

// ============================== MemoryRepo ==============================

type memMemoryRepo struct{ db *memDB }

func (s *memMemoryRepo) Insert(ctx context.Context, rc RequestContext, m *domain.Memory) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, exists := s.db.memories[m.ID]; exists {
		return apperr.New(apperr.KindDuplicate, "memory id already exists")
	}
	s.db.memories[m.ID] = cloneMemory(m)
	return nil
}

func (s *memMemoryRepo) Get(ctx context.Context, rc RequestContext, id string) (*domain.Memory, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	m, ok := s.db.memories[id]
	if !ok || !visible(rc, m) {
		return nil, apperr.NotFound("memory not found")
	}
	return cloneMemory(m), nil
}

func (s *memMemoryRepo) Update(ctx context.Context, rc RequestContext, m *domain.Memory) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.memories[m.ID]; !ok {
		return apperr.NotFound("memory not found")
	}
	s.db.memories[m.ID] = cloneMemory(m)
	return nil
}

func (s *memMemoryRepo) Delete(ctx context.Context, rc RequestContext, id string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	delete(s.db.memories, id)
	delete(s.db.corrections, id)
	delete(s.db.attachments, id)
	delete(s.db.associations, id)
	return nil
}

func (s *memMemoryRepo) List(ctx context.Context, rc RequestContext, f ListFilter) ([]*domain.Memory, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	var out []*domain.Memory
	for _, m := range s.db.memories {
		if !visible(rc, m) || !MatchesFilter(m, f) {
			continue
		}
		out = append(out, cloneMemory(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginateMemories(out, f), nil
}

func (s *memMemoryRepo) CountByTenant(ctx context.Context, tenantID string) (int, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	n := 0
	for _, m := range s.db.memories {
		if m.TenantID == tenantID {
			n++
		}
	}
	return n, nil
}

func (s *memMemoryRepo) SetEmbedding(ctx context.Context, memoryID string, embedding []float32, model string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	m, ok := s.db.memories[memoryID]
	if !ok {
		return apperr.NotFound("memory not found")
	}
	m.Embedding = append([]float32(nil), embedding...)
	m.EmbeddingModel = model
	m.UpdatedAt = now()
	return nil
}

func (s *memMemoryRepo) SetExtraction(ctx context.Context, memoryID string, meta map[string]any) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	m, ok := s.db.memories[memoryID]
	if !ok {
		return apperr.NotFound("memory not found")
	}
	m.EntitiesExtracted = true
	m.ExtractionMetadata = cloneMap(meta)
	m.UpdatedAt = now()
	return nil
}

func (s *memMemoryRepo) FindByFingerprint(ctx context.Context, tenantID, createdBy, fingerprint string, since time.Time) (*domain.Memory, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	var best *domain.Memory
	for _, m := range s.db.memories {
		if m.TenantID != tenantID || m.CreatedBy == nil || *m.CreatedBy != createdBy {
			continue
		}
		if m.CreatedAt.Before(since) {
			continue
		}
		if dedupe.Fingerprint(m.Content) != fingerprint {
			continue
		}
		if best == nil || m.CreatedAt.After(best.CreatedAt) {
			best = m
		}
	}
	if best == nil {
		return nil, nil
	}
	return cloneMemory(best), nil
}

func (s *memMemoryRepo) RecentByTenantUser(ctx context.Context, tenantID, createdBy string, since time.Time) ([]*domain.Memory, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	var out []*domain.Memory
	for _, m := range s.db.memories {
		if m.TenantID != tenantID || m.CreatedBy == nil || *m.CreatedBy != createdBy {
			continue
		}
		if m.CreatedAt.Before(since) {
			continue
		}
		out = append(out, cloneMemory(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *memMemoryRepo) KeywordSearch(ctx context.Context, rc RequestContext, query string, f ListFilter) ([]KeywordHit, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	var out []KeywordHit
	for _, m := range s.db.memories {
		if !visible(rc, m) || !MatchesFilter(m, f) {
			continue
		}
		score := math.Max(dedupe.TrigramSimilarity(query, m.Content), dedupe.TrigramSimilarity(query, m.Title))
		if score <= 0 {
			continue
		}
		out = append(out, KeywordHit{Memory: cloneMemory(m), Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Memory.CreatedAt.After(out[j].Memory.CreatedAt)
	})
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *memMemoryRepo) SemanticSearch(ctx context.Context, rc RequestContext, qvec []float32, threshold float64, f ListFilter) ([]SemanticHit, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	var out []SemanticHit
	for _, m := range s.db.memories {
		if !visible(rc, m) || !MatchesFilter(m, f) || len(m.Embedding) == 0 {
			continue
		}
		sim := cosineSimilarity(qvec, m.Embedding)
		if sim < threshold {
			continue
		}
		out = append(out, SemanticHit{Memory: cloneMemory(m), Similarity: sim})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].Memory.CreatedAt.After(out[j].Memory.CreatedAt)
	})
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// ============================== VersionRepo ==============================

type memVersionRepo struct{ db *memDB }

func (s *memVersionRepo) Append(ctx context.Context, v *domain.MemoryVersion) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, existing := range s.db.versions[v.MemoryID] {
		if existing.VersionNumber == v.VersionNumber {
			return nil
		}
	}
	cp := *v
	s.db.versions[v.MemoryID] = append(s.db.versions[v.MemoryID], &cp)
	return nil
}

func (s *memVersionRepo) History(ctx context.Context, memoryID string, limit int) ([]*domain.MemoryVersion, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	vs := append([]*domain.MemoryVersion(nil), s.db.versions[memoryID]...)
	sort.Slice(vs, func(i, j int) bool { return vs[i].VersionNumber > vs[j].VersionNumber })
	if limit > 0 && limit < len(vs) {
		vs = vs[:limit]
	}
	return vs, nil
}

func (s *memVersionRepo) Get(ctx context.Context, memoryID string, version int) (*domain.MemoryVersion, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	for _, v := range s.db.versions[memoryID] {
		if v.VersionNumber == version {
			return v, nil
		}
	}
	return nil, apperr.NotFound("memory version not found")
}

func (s *memVersionRepo) Count(ctx context.Context, memoryID string) (int, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	return len(s.db.versions[memoryID]), nil
}

func (s *memVersionRepo) Prune(ctx context.Context, memoryID string, keepMostRecent int) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	vs := s.db.versions[memoryID]
	if keepMostRecent <= 0 || keepMostRecent >= len(vs) {
		return nil
	}
	sorted := append([]*domain.MemoryVersion(nil), vs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].VersionNumber > sorted[j].VersionNumber })
	s.db.versions[memoryID] = sorted[:keepMostRecent]
	return nil
}

// ============================ CorrectionRepo ============================

type memCorrectionRepo struct{ db *memDB }

func (s *memCorrectionRepo) Add(ctx context.Context, c *domain.Correction) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	cp := *c
	s.db.corrections[c.MemoryID] = append(s.db.corrections[c.MemoryID], &cp)
	return nil
}

func (s *memCorrectionRepo) Latest(ctx context.Context, memoryID string) (*domain.Correction, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	cs := s.db.corrections[memoryID]
	if len(cs) == 0 {
		return nil, nil
	}
	latest := cs[0]
	for _, c := range cs[1:] {
		if c.CorrectedAt.After(latest.CorrectedAt) {
			latest = c
		}
	}
	return latest, nil
}

// ============================ AttachmentRepo ============================

type memAttachmentRepo struct{ db *memDB }

func (s *memAttachmentRepo) Insert(ctx context.Context, a *domain.Attachment) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, existing := range s.db.attachments[a.MemoryID] {
		if existing.FileHash == a.FileHash {
			return nil
		}
	}
	cp := *a
	s.db.attachments[a.MemoryID] = append(s.db.attachments[a.MemoryID], &cp)
	return nil
}

func (s *memAttachmentRepo) Get(ctx context.Context, id string) (*domain.Attachment, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	for _, as := range s.db.attachments {
		for _, a := range as {
			if a.ID == id {
				return a, nil
			}
		}
	}
	return nil, apperr.NotFound("attachment not found")
}

func (s *memAttachmentRepo) ByHash(ctx context.Context, memoryID, fileHash string) (*domain.Attachment, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	for _, a := range s.db.attachments[memoryID] {
		if a.FileHash == fileHash {
			return a, nil
		}
	}
	return nil, nil
}

func (s *memAttachmentRepo) List(ctx context.Context, memoryID string) ([]*domain.Attachment, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	return append([]*domain.Attachment(nil), s.db.attachments[memoryID]...), nil
}

func (s *memAttachmentRepo) UpdateProcessing(ctx context.Context, a *domain.Attachment) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for i, existing := range s.db.attachments[a.MemoryID] {
		if existing.ID == a.ID {
			cp := *a
			s.db.attachments[a.MemoryID][i] = &cp
			return nil
		}
	}
	return apperr.NotFound("attachment not found")
}

func (s *memAttachmentRepo) DeleteByMemory(ctx context.Context, memoryID string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	delete(s.db.attachments, memoryID)
	return nil
}

// ============================== EntityRepo ==============================

type memEntityRepo struct{ db *memDB }

func (s *memEntityRepo) FindByNameOrAlias(ctx context.Context, name string) (*domain.Entity, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	lower := strings.ToLower(name)
	for _, e := range s.db.entities {
		if strings.ToLower(e.Name) == lower {
			return e, nil
		}
		for _, alias := range e.Aliases {
			if strings.ToLower(alias) == lower {
				return e, nil
			}
		}
	}
	return nil, nil
}

func (s *memEntityRepo) Insert(ctx context.Context, e *domain.Entity) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	cp := *e
	s.db.entities[e.ID] = &cp
	return nil
}

func (s *memEntityRepo) Update(ctx context.Context, e *domain.Entity) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.entities[e.ID]; !ok {
		return apperr.NotFound("entity not found")
	}
	cp := *e
	s.db.entities[e.ID] = &cp
	return nil
}

func (s *memEntityRepo) Get(ctx context.Context, id string) (*domain.Entity, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	e, ok := s.db.entities[id]
	if !ok {
		return nil, apperr.NotFound("entity not found")
	}
	return e, nil
}

func (s *memEntityRepo) Search(ctx context.Context, q string, entityType string, limit int) ([]*domain.Entity, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	var out []*domain.Entity
	for _, e := range s.db.entities {
		if entityType != "" && string(e.EntityType) != entityType {
			continue
		}
		if dedupe.TrigramSimilarity(q, e.Name) < 0.1 {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return dedupe.TrigramSimilarity(q, out[i].Name) > dedupe.TrigramSimilarity(q, out[j].Name)
	})
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// ============================= RelationRepo =============================

type memRelationRepo struct{ db *memDB }

func relationKey(fromID, toID, relationType string) string {
	return fromID + "\x00" + toID + "\x00" + relationType
}

func (s *memRelationRepo) Find(ctx context.Context, fromID, toID, relationType string) (*domain.Relation, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	r, ok := s.db.relations[relationKey(fromID, toID, relationType)]
	if !ok {
		return nil, nil
	}
	return r, nil
}

func (s *memRelationRepo) Insert(ctx context.Context, r *domain.Relation) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	key := relationKey(r.FromEntityID, r.ToEntityID, r.RelationType)
	if _, exists := s.db.relations[key]; exists {
		return nil
	}
	cp := *r
	s.db.relations[key] = &cp
	return nil
}

func (s *memRelationRepo) Update(ctx context.Context, r *domain.Relation) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	key := relationKey(r.FromEntityID, r.ToEntityID, r.RelationType)
	if _, ok := s.db.relations[key]; !ok {
		return apperr.NotFound("relation not found")
	}
	cp := *r
	s.db.relations[key] = &cp
	return nil
}

func (s *memRelationRepo) OutgoingEdges(ctx context.Context, entityID string) ([]*domain.Relation, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	var out []*domain.Relation
	for _, r := range s.db.relations {
		if r.FromEntityID == entityID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memRelationRepo) IncomingEdges(ctx context.Context, entityID string) ([]*domain.Relation, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	var out []*domain.Relation
	for _, r := range s.db.relations {
		if r.ToEntityID == entityID {
			out = append(out, r)
		}
	}
	return out, nil
}

// ============================ AssociationRepo ============================

type memAssociationRepo struct{ db *memDB }

func (s *memAssociationRepo) Upsert(ctx context.Context, a *domain.MemoryEntityAssociation) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if s.db.associations[a.MemoryID] == nil {
		s.db.associations[a.MemoryID] = make(map[string]*domain.MemoryEntityAssociation)
	}
	cp := *a
	s.db.associations[a.MemoryID][a.EntityID] = &cp
	return nil
}

func (s *memAssociationRepo) MemoriesForEntity(ctx context.Context, rc RequestContext, entityID string, f ListFilter) ([]*domain.Memory, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	type scored struct {
		m     *domain.Memory
		score float64
	}
	var out []scored
	for memID, byEntity := range s.db.associations {
		assoc, ok := byEntity[entityID]
		if !ok {
			continue
		}
		m, ok := s.db.memories[memID]
		if !ok || !visible(rc, m) || !MatchesFilter(m, f) {
			continue
		}
		out = append(out, scored{m: cloneMemory(m), score: assoc.RelevanceScore})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].m.CreatedAt.After(out[j].m.CreatedAt)
	})
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if limit < len(out) {
		out = out[:limit]
	}
	result := make([]*domain.Memory, len(out))
	for i, s := range out {
		result[i] = s.m
	}
	return result, nil
}
