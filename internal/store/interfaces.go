// Package store defines the persistence contract (C1): a relational store
// with a vector column and trigram text index, plus the tenant/visibility
// enforcement every query must apply. Two implementations exist: Postgres
// (production) and an in-process memory store (tests, §8 property checks).
package store

import (
	"context"
	"time"

	"memoryhub/internal/domain"
)

// RequestContext carries the caller identity every Store method enforces
// row-level filtering against. The Store refuses any call with a zero-value
// TenantID (§9: no global "current context" variable — this is passed
// explicitly on every call instead).
type RequestContext struct {
	TenantID    string
	UserID      string
	Permissions []string
}

// CanManage reports whether the caller holds memories.manage.
func (r RequestContext) CanManage() bool {
	for _, p := range r.Permissions {
		if p == domain.PermissionManage {
			return true
		}
	}
	return false
}

// Valid reports whether the context has enough identity to issue a query.
func (r RequestContext) Valid() bool { return r.TenantID != "" }

// ListFilter captures the pagination + filter parameters shared by list and
// search paths.
type ListFilter struct {
	Tags       []string
	DateFrom   *time.Time
	DateTo     *time.Time
	Visibility []domain.Visibility
	CreatedBy  string
	Limit      int
	Offset     int
}

// MemoryRepo is the persistence contract for the Memory aggregate.
type MemoryRepo interface {
	Insert(ctx context.Context, rc RequestContext, m *domain.Memory) error
	Get(ctx context.Context, rc RequestContext, id string) (*domain.Memory, error)
	Update(ctx context.Context, rc RequestContext, m *domain.Memory) error
	Delete(ctx context.Context, rc RequestContext, id string) error
	List(ctx context.Context, rc RequestContext, f ListFilter) ([]*domain.Memory, error)
	CountByTenant(ctx context.Context, tenantID string) (int, error)

	// SetEmbedding persists the embedding written by the background task queue.
	SetEmbedding(ctx context.Context, memoryID string, embedding []float32, model string) error
	// SetExtraction stamps entities_extracted + extraction metadata.
	SetExtraction(ctx context.Context, memoryID string, meta map[string]any) error

	// FindByFingerprint looks up memories with a matching content fingerprint
	// within the dedup window, scoped to tenant+creator (§4.4 step 2).
	FindByFingerprint(ctx context.Context, tenantID, createdBy, fingerprint string, since time.Time) (*domain.Memory, error)
	// RecentByTenantUser returns candidate memories for trigram comparison
	// within the dedup window (§4.4 step 3).
	RecentByTenantUser(ctx context.Context, tenantID, createdBy string, since time.Time) ([]*domain.Memory, error)

	// KeywordSearch ranks by trigram similarity over content/title (§4.5).
	KeywordSearch(ctx context.Context, rc RequestContext, query string, f ListFilter) ([]KeywordHit, error)
	// SemanticSearch ranks by cosine similarity over embeddings (§4.5).
	SemanticSearch(ctx context.Context, rc RequestContext, qvec []float32, threshold float64, f ListFilter) ([]SemanticHit, error)
}

// KeywordHit and SemanticHit are the raw rows returned by the two ranking
// paths before the search planner fuses/packages them.
type KeywordHit struct {
	Memory *domain.Memory
	Score  float64 // trigram similarity in [0,1]
}

type SemanticHit struct {
	Memory     *domain.Memory
	Similarity float64 // 1 - cosine_distance
}

// VersionRepo is the persistence contract for MemoryVersion (§4.10).
type VersionRepo interface {
	Append(ctx context.Context, v *domain.MemoryVersion) error
	History(ctx context.Context, memoryID string, limit int) ([]*domain.MemoryVersion, error)
	Get(ctx context.Context, memoryID string, version int) (*domain.MemoryVersion, error)
	Count(ctx context.Context, memoryID string) (int, error)
	Prune(ctx context.Context, memoryID string, keepMostRecent int) error
}

// CorrectionRepo is the persistence contract for Correction (§4.1, §4.10).
type CorrectionRepo interface {
	Add(ctx context.Context, c *domain.Correction) error
	Latest(ctx context.Context, memoryID string) (*domain.Correction, error)
}

// AttachmentRepo is the persistence contract for Attachment (§4.9).
type AttachmentRepo interface {
	Insert(ctx context.Context, a *domain.Attachment) error
	Get(ctx context.Context, id string) (*domain.Attachment, error)
	ByHash(ctx context.Context, memoryID, fileHash string) (*domain.Attachment, error)
	List(ctx context.Context, memoryID string) ([]*domain.Attachment, error)
	UpdateProcessing(ctx context.Context, a *domain.Attachment) error
	DeleteByMemory(ctx context.Context, memoryID string) error
}

// EntityRepo, RelationRepo, AssociationRepo back the Knowledge Graph (C7, §4.6).
type EntityRepo interface {
	FindByNameOrAlias(ctx context.Context, name string) (*domain.Entity, error)
	Insert(ctx context.Context, e *domain.Entity) error
	Update(ctx context.Context, e *domain.Entity) error
	Get(ctx context.Context, id string) (*domain.Entity, error)
	Search(ctx context.Context, q string, entityType string, limit int) ([]*domain.Entity, error)
}

type RelationRepo interface {
	Find(ctx context.Context, fromID, toID, relationType string) (*domain.Relation, error)
	Insert(ctx context.Context, r *domain.Relation) error
	Update(ctx context.Context, r *domain.Relation) error
	OutgoingEdges(ctx context.Context, entityID string) ([]*domain.Relation, error)
	IncomingEdges(ctx context.Context, entityID string) ([]*domain.Relation, error)
}

type AssociationRepo interface {
	Upsert(ctx context.Context, a *domain.MemoryEntityAssociation) error
	MemoriesForEntity(ctx context.Context, rc RequestContext, entityID string, f ListFilter) ([]*domain.Memory, error)
}

// TenantRepo backs the quota check in §4.1 step 2 (count vs
// tenant.settings.max_memories) plus tenant/user lookups used by the
// request surface.
type TenantRepo interface {
	Get(ctx context.Context, id string) (*domain.Tenant, error)
	GetUser(ctx context.Context, id string) (*domain.User, error)
}

// Store bundles every repo the core needs, mirroring the teacher's
// databases.Manager aggregate of FullTextSearch/VectorStore/GraphDB.
type Store struct {
	Tenants      TenantRepo
	Memories     MemoryRepo
	Versions     VersionRepo
	Corrections  CorrectionRepo
	Attachments  AttachmentRepo
	Entities     EntityRepo
	Relations    RelationRepo
	Associations AssociationRepo
}

// Closer is implemented by Store backends that hold a connection pool.
type Closer interface {
	Close()
}
