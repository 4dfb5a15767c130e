// Package memoryservice implements C10, the memory CRUD surface: validate
// → quota check → dedupe → insert + version → enqueue background work →
// invalidate cache → publish event, per §4.1.
package memoryservice

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"memoryhub/internal/apperr"
	"memoryhub/internal/attachments"
	"memoryhub/internal/cache"
	"memoryhub/internal/dedupe"
	"memoryhub/internal/domain"
	"memoryhub/internal/embedding"
	"memoryhub/internal/eventbus"
	"memoryhub/internal/extractor"
	"memoryhub/internal/graph"
	"memoryhub/internal/store"
	"memoryhub/internal/taskqueue"
	"memoryhub/internal/versioning"
)

const (
	KindGenerateEmbedding = "memory.generate_embedding"
	KindExtractEntities   = "memory.extract_entities"
)

const defaultDedupWindow = 300 * time.Second

// AttachmentRef is one attachment reference supplied alongside create()
// (§4.1 step 7): either inline bytes or a URL to download, processed the
// same way a post-creation attachment upload is.
type AttachmentRef struct {
	Filename string
	MimeType string
	Data     []byte
	URL      string
}

// CreateParams is the §4.1 create() argument bundle.
type CreateParams struct {
	Content       string
	Title         string
	Tags          []string
	Metadata      map[string]any
	Visibility    domain.Visibility
	Attachments   []AttachmentRef
	Async         bool
	Force         bool
	DedupWindow   time.Duration
	MergeStrategy dedupe.MergeStrategy
}

// CreateResult mirrors §4.1's {status, memory | existing} return shape.
type CreateResult struct {
	Status     string         `json:"status"` // "created" | "duplicate_found"
	Memory     *domain.Memory `json:"memory,omitempty"`
	Existing   *domain.Memory `json:"existing,omitempty"`
	Similarity float64        `json:"similarity,omitempty"`
}

// UpdateParams is the §4.1 update() argument bundle; nil fields are left
// unchanged.
type UpdateParams struct {
	Content             *string
	Title               *string
	Tags                []string
	Metadata            map[string]any
	Visibility          *domain.Visibility
	RegenerateEmbedding bool
}

// Service implements C10 on top of the Store, Cache, Embedder/Extractor,
// TaskQueue, and EventBus.
type Service struct {
	store       *store.Store
	cache       cache.Cache
	versions    *versioning.Service
	graph       *graph.Graph
	embedder    embedding.Embedder
	extractor   extractor.Extractor
	attachments *attachments.Service
	vectors     store.VectorStore
	queue       *taskqueue.Queue
	bus         *eventbus.Bus
	log         zerolog.Logger
}

// New wires C10. vectors may be nil, meaning no external ANN backend is
// configured (store.NewVectorStore returns nil for an unset
// StoreConfig.VectorBackend) — every vector sync below is then a no-op.
func New(
	st *store.Store,
	c cache.Cache,
	versions *versioning.Service,
	g *graph.Graph,
	embedder embedding.Embedder,
	ext extractor.Extractor,
	att *attachments.Service,
	vectors store.VectorStore,
	queue *taskqueue.Queue,
	bus *eventbus.Bus,
	log zerolog.Logger,
) *Service {
	s := &Service{
		store: st, cache: c, versions: versions, graph: g,
		embedder: embedder, extractor: ext, attachments: att, vectors: vectors,
		queue: queue, bus: bus, log: log,
	}
	queue.RegisterHandler(KindGenerateEmbedding, s.handleGenerateEmbedding)
	queue.RegisterHandler(KindExtractEntities, s.handleExtractEntities)
	return s
}

// syncVectorStore mirrors a freshly written embedding into the optional
// external VectorStore (§9 plug-in swap). Best-effort: a mirror failure is
// logged, never surfaced, since the Memory row embedding is already durable.
func (s *Service) syncVectorStore(ctx context.Context, m *domain.Memory, vec []float32) {
	if s.vectors == nil {
		return
	}
	md := map[string]string{"tenant_id": m.TenantID, "visibility": string(m.Visibility)}
	if err := s.vectors.Upsert(ctx, m.ID, vec, md); err != nil {
		s.log.Warn().Err(err).Str("memory_id", m.ID).Msg("vector store mirror failed")
	}
}

// Create implements §4.1 create(): validate, quota, dedupe, insert +
// version, enqueue background work, invalidate, publish, return.
func (s *Service) Create(ctx context.Context, rc store.RequestContext, p CreateParams) (*CreateResult, error) {
	if !rc.Valid() {
		return nil, apperr.Invalid("request context missing tenant")
	}
	if err := validateCreate(p); err != nil {
		return nil, err
	}
	if p.Visibility == "" {
		p.Visibility = domain.VisibilityPrivate
	}
	if p.DedupWindow <= 0 {
		p.DedupWindow = defaultDedupWindow
	}
	if p.MergeStrategy == "" {
		p.MergeStrategy = dedupe.MergeSmart
	}

	if err := s.checkQuota(ctx, rc.TenantID); err != nil {
		return nil, err
	}

	if !p.Force {
		dup, similarity, err := s.findDuplicate(ctx, rc, p)
		if err != nil {
			return nil, err
		}
		if dup != nil {
			return &CreateResult{Status: "duplicate_found", Existing: dup, Similarity: similarity}, nil
		}
	}

	var createdBy *string
	if rc.UserID != "" {
		createdBy = &rc.UserID
	}
	m := &domain.Memory{
		ID:             uuid.NewString(),
		TenantID:       rc.TenantID,
		CreatedBy:      createdBy,
		Content:        p.Content,
		Title:          p.Title,
		Tags:           append([]string(nil), p.Tags...),
		Metadata:       p.Metadata,
		Visibility:     p.Visibility,
		CurrentVersion: 1,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}

	if err := s.store.Memories.Insert(ctx, rc, m); err != nil {
		return nil, err
	}
	if err := s.versions.Append(ctx, m.ID, m, createdBy, domain.ChangeCreate, ""); err != nil {
		return nil, err
	}

	s.enqueueEmbedding(ctx, m, p.Async)
	s.enqueueExtraction(m)
	s.ingestCreateAttachments(ctx, m.ID, p.Attachments)

	s.invalidateListAndSearch(ctx, rc.TenantID)
	s.bus.Publish(eventbus.Event{Type: eventbus.MemoryCreated, TenantID: rc.TenantID, Payload: m})

	return &CreateResult{Status: "created", Memory: m}, nil
}

func (s *Service) checkQuota(ctx context.Context, tenantID string) error {
	if s.store.Tenants == nil {
		return nil
	}
	t, err := s.store.Tenants.Get(ctx, tenantID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil
		}
		return err
	}
	if t.Settings.MaxMemories <= 0 {
		return nil
	}
	count, err := s.store.Memories.CountByTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	if count >= t.Settings.MaxMemories {
		return apperr.QuotaExceeded("tenant memory limit reached")
	}
	return nil
}

// findDuplicate implements §4.4 Deduper over (content, tenant, created_by,
// dedup_window_s): exact-fingerprint match first, then trigram near-dup.
func (s *Service) findDuplicate(ctx context.Context, rc store.RequestContext, p CreateParams) (*domain.Memory, float64, error) {
	since := dedupe.WindowSince(time.Now().UTC(), p.DedupWindow)
	fp := dedupe.Fingerprint(p.Content)

	if m, err := s.store.Memories.FindByFingerprint(ctx, rc.TenantID, rc.UserID, fp, since); err != nil {
		return nil, 0, err
	} else if m != nil {
		return m, 1.0, nil
	}

	candidates, err := s.store.Memories.RecentByTenantUser(ctx, rc.TenantID, rc.UserID, since)
	if err != nil {
		return nil, 0, err
	}
	if near := dedupe.FindNearDuplicate(p.Content, candidates); near != nil {
		return near, dedupe.TrigramSimilarity(p.Content, near.Content), nil
	}
	return nil, 0, nil
}

func (s *Service) enqueueEmbedding(ctx context.Context, m *domain.Memory, async bool) {
	if s.embedder == nil {
		return
	}
	if !async {
		vec, err := s.embedder.Embed(ctx, m.Content)
		if err != nil {
			s.log.Warn().Err(err).Str("memory_id", m.ID).Msg("inline embedding failed")
			return
		}
		if err := s.store.Memories.SetEmbedding(ctx, m.ID, vec, embeddingModelName(s.embedder)); err != nil {
			s.log.Warn().Err(err).Str("memory_id", m.ID).Msg("failed to persist inline embedding")
			return
		}
		m.Embedding = vec
		s.syncVectorStore(ctx, m, vec)
		s.bus.Publish(eventbus.Event{Type: eventbus.MemoryEmbeddingDone, TenantID: m.TenantID, Payload: m.ID})
		return
	}
	if _, err := s.queue.Enqueue(taskqueue.Task{
		Kind:             KindGenerateEmbedding,
		Payload:          memoryTaskPayload{MemoryID: m.ID, TenantID: m.TenantID},
		Priority:         taskqueue.PriorityNormal,
		MaxAttempts:      3,
		SerializationKey: m.ID,
	}); err != nil {
		s.log.Warn().Err(err).Str("memory_id", m.ID).Msg("failed to enqueue embedding")
	}
}

func (s *Service) enqueueExtraction(m *domain.Memory) {
	if s.extractor == nil {
		return
	}
	if _, err := s.queue.Enqueue(taskqueue.Task{
		Kind:        KindExtractEntities,
		Payload:     memoryTaskPayload{MemoryID: m.ID, TenantID: m.TenantID},
		Priority:    taskqueue.PriorityLow,
		MaxAttempts: 3,
	}); err != nil {
		s.log.Warn().Err(err).Str("memory_id", m.ID).Msg("failed to enqueue extraction")
	}
}

// ingestCreateAttachments implements §4.1 step 7: for each attachment
// reference supplied at create time, ingest it the same way a standalone
// upload is ingested, which itself enqueues process_attachment(memory_id,
// ref) at PriorityNormal.
func (s *Service) ingestCreateAttachments(ctx context.Context, memoryID string, refs []AttachmentRef) {
	if s.attachments == nil {
		return
	}
	for _, ref := range refs {
		var err error
		if ref.URL != "" {
			_, _, err = s.attachments.AddFromURL(ctx, memoryID, ref.URL)
		} else {
			_, _, err = s.attachments.AddFromBytes(ctx, memoryID, ref.Filename, ref.MimeType, ref.Data)
		}
		if err != nil {
			s.log.Warn().Err(err).Str("memory_id", memoryID).Str("filename", ref.Filename).Msg("attachment ingest at create failed")
		}
	}
}

// memoryTaskPayload carries enough identity for a background handler to
// issue a manage-scoped Store call without a global "current tenant".
type memoryTaskPayload struct {
	MemoryID string
	TenantID string
}

func (s *Service) handleGenerateEmbedding(ctx context.Context, t taskqueue.Task) error {
	p, ok := t.Payload.(memoryTaskPayload)
	if !ok {
		return apperr.Internal("malformed embedding task payload", nil)
	}
	rc := store.RequestContext{TenantID: p.TenantID, Permissions: []string{domain.PermissionManage}}
	m, err := s.store.Memories.Get(ctx, rc, p.MemoryID)
	if err != nil {
		return err
	}
	vec, err := s.embedder.Embed(ctx, m.Content)
	if err != nil {
		return err
	}
	if err := s.store.Memories.SetEmbedding(ctx, p.MemoryID, vec, embeddingModelName(s.embedder)); err != nil {
		return err
	}
	s.syncVectorStore(ctx, m, vec)
	s.cache.InvalidatePattern(ctx, "memory:"+p.MemoryID)
	s.bus.Publish(eventbus.Event{Type: eventbus.MemoryEmbeddingDone, TenantID: m.TenantID, Payload: p.MemoryID})
	return nil
}

func (s *Service) handleExtractEntities(ctx context.Context, t taskqueue.Task) error {
	p, ok := t.Payload.(memoryTaskPayload)
	if !ok {
		return apperr.Internal("malformed extraction task payload", nil)
	}
	memoryID := p.MemoryID
	rc := store.RequestContext{TenantID: p.TenantID, Permissions: []string{domain.PermissionManage}}
	m, err := s.store.Memories.Get(ctx, rc, memoryID)
	if err != nil {
		return err
	}
	result, err := s.extractor.Extract(ctx, m.Content)
	if err != nil {
		return err
	}
	result = graph.NormalizeExtracted(result)

	entityIDs := make(map[string]string, len(result.Entities))
	for _, e := range result.Entities {
		entity, err := s.graph.UpsertEntity(ctx, e.Name, domain.EntityType(e.EntityType), nil, e.Attributes)
		if err != nil {
			s.log.Warn().Err(err).Str("memory_id", memoryID).Str("entity", e.Name).Msg("entity upsert failed")
			continue
		}
		entityIDs[e.Name] = entity.ID
		if err := s.graph.Associate(ctx, memoryID, entity.ID, 1.0); err != nil {
			s.log.Warn().Err(err).Str("memory_id", memoryID).Msg("entity association failed")
		}
	}
	for _, rel := range result.Relations {
		fromID, okFrom := entityIDs[rel.FromEntity]
		toID, okTo := entityIDs[rel.ToEntity]
		if !okFrom || !okTo {
			continue
		}
		if _, err := s.graph.CreateRelation(ctx, fromID, toID, rel.RelationType, nil, rel.Confidence, &memoryID); err != nil {
			s.log.Warn().Err(err).Str("memory_id", memoryID).Msg("relation create failed")
		}
	}

	meta := map[string]any{"entity_count": len(result.Entities), "relation_count": len(result.Relations)}
	return s.store.Memories.SetExtraction(ctx, memoryID, meta)
}

func (s *Service) invalidateListAndSearch(ctx context.Context, tenantID string) {
	s.cache.InvalidatePattern(ctx, "list:"+tenantID+":*")
	s.cache.InvalidatePattern(ctx, "search:*:"+tenantID+":*")
}

func embeddingModelName(e embedding.Embedder) string {
	type named interface{ ModelName() string }
	if n, ok := e.(named); ok {
		return n.ModelName()
	}
	return ""
}
