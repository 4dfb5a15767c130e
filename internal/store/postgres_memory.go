package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"memoryhub/internal/apperr"
	"memoryhub/internal/domain"
)

// pgMemoryRepo implements MemoryRepo against Postgres. The reads that return
// rows to a caller (Get, List, KeywordSearch, SemanticSearch) enforce the
// §4.2 visibility predicate directly in SQL rather than filtering in
// application code. Update and Delete are scoped by tenant only, and the
// background and dedup helpers (CountByTenant, SetEmbedding, SetExtraction,
// FindByFingerprint, RecentByTenantUser) take explicit IDs instead of a
// RequestContext.
type pgMemoryRepo struct {
	pool *pgxpool.Pool
}

func NewMemoryRepo(pool *pgxpool.Pool) MemoryRepo { return &pgMemoryRepo{pool: pool} }

// visibilityPredicate returns the SQL fragment and starting arg list for the
// §4.2 effective predicate, given the next placeholder index to use.
func visibilityPredicate(rc RequestContext, nextArg int) (string, []any, int) {
	if rc.CanManage() {
		return fmt.Sprintf("tenant_id = $%d", nextArg), []any{rc.TenantID}, nextArg + 1
	}
	frag := fmt.Sprintf(
		"tenant_id = $%d AND (visibility = 'public' OR visibility = 'team' OR (visibility = 'private' AND created_by = $%d))",
		nextArg, nextArg+1,
	)
	return frag, []any{rc.TenantID, rc.UserID}, nextArg + 2
}

func (r *pgMemoryRepo) Insert(ctx context.Context, rc RequestContext, m *domain.Memory) error {
	if !rc.Valid() {
		return apperr.Internal("insert memory: missing tenant context", nil)
	}
	_, err := r.pool.Exec(ctx, `
INSERT INTO memories(id, tenant_id, created_by, content, title, tags, metadata, visibility,
	embedding, embedding_model, current_version, has_correction, entities_extracted,
	extraction_metadata, fingerprint, created_at, updated_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
`, m.ID, m.TenantID, m.CreatedBy, m.Content, m.Title, m.Tags, jsonOrEmpty(m.Metadata),
		string(m.Visibility), vectorOrNil(m.Embedding), m.EmbeddingModel, m.CurrentVersion,
		m.HasCorrection, m.EntitiesExtracted, jsonOrEmpty(m.ExtractionMetadata), fingerprintOf(m.Content),
		m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return apperr.Internal("insert memory", err)
	}
	return nil
}

func (r *pgMemoryRepo) Get(ctx context.Context, rc RequestContext, id string) (*domain.Memory, error) {
	if !rc.Valid() {
		return nil, apperr.Internal("get memory: missing tenant context", nil)
	}
	pred, args, next := visibilityPredicate(rc, 2)
	_ = next
	row := r.pool.QueryRow(ctx, fmt.Sprintf(`
SELECT id, tenant_id, created_by, content, title, tags, metadata, visibility, embedding,
       embedding_model, current_version, has_correction, entities_extracted, extraction_metadata,
       created_at, updated_at
FROM memories WHERE id = $1 AND %s`, pred), append([]any{id}, args...)...)
	m, err := scanMemory(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.NotFound("memory not found")
		}
		return nil, apperr.Internal("get memory", err)
	}
	return m, nil
}

func (r *pgMemoryRepo) Update(ctx context.Context, rc RequestContext, m *domain.Memory) error {
	_, err := r.pool.Exec(ctx, `
UPDATE memories SET content=$2, title=$3, tags=$4, metadata=$5, visibility=$6,
	embedding=$7, embedding_model=$8, current_version=$9, has_correction=$10,
	entities_extracted=$11, extraction_metadata=$12, fingerprint=$13, updated_at=$14
WHERE id=$1 AND tenant_id=$15
`, m.ID, m.Content, m.Title, m.Tags, jsonOrEmpty(m.Metadata), string(m.Visibility),
		vectorOrNil(m.Embedding), m.EmbeddingModel, m.CurrentVersion, m.HasCorrection,
		m.EntitiesExtracted, jsonOrEmpty(m.ExtractionMetadata), fingerprintOf(m.Content), m.UpdatedAt, m.TenantID)
	if err != nil {
		return apperr.Internal("update memory", err)
	}
	return nil
}

func (r *pgMemoryRepo) Delete(ctx context.Context, rc RequestContext, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM memories WHERE id=$1 AND tenant_id=$2`, id, rc.TenantID)
	if err != nil {
		return apperr.Internal("delete memory", err)
	}
	return nil
}

func (r *pgMemoryRepo) List(ctx context.Context, rc RequestContext, f ListFilter) ([]*domain.Memory, error) {
	pred, args, next := visibilityPredicate(rc, 1)
	where := []string{pred}
	if len(f.Tags) > 0 {
		where = append(where, fmt.Sprintf("tags @> $%d", next))
		args = append(args, f.Tags)
		next++
	}
	if f.DateFrom != nil {
		where = append(where, fmt.Sprintf("created_at >= $%d", next))
		args = append(args, *f.DateFrom)
		next++
	}
	if f.DateTo != nil {
		where = append(where, fmt.Sprintf("created_at <= $%d", next))
		args = append(args, *f.DateTo)
		next++
	}
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	query := fmt.Sprintf(`
SELECT id, tenant_id, created_by, content, title, tags, metadata, visibility, embedding,
       embedding_model, current_version, has_correction, entities_extracted, extraction_metadata,
       created_at, updated_at
FROM memories WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		strings.Join(where, " AND "), next, next+1)
	args = append(args, limit, offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Internal("list memories", err)
	}
	defer rows.Close()
	var out []*domain.Memory
	for rows.Next() {
		m, err := scanMemoryRows(rows)
		if err != nil {
			return nil, apperr.Internal("scan memory", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *pgMemoryRepo) CountByTenant(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM memories WHERE tenant_id=$1`, tenantID).Scan(&n)
	if err != nil {
		return 0, apperr.Internal("count memories", err)
	}
	return n, nil
}

func (r *pgMemoryRepo) SetEmbedding(ctx context.Context, memoryID string, embedding []float32, model string) error {
	_, err := r.pool.Exec(ctx, `UPDATE memories SET embedding=$2, embedding_model=$3, updated_at=now() WHERE id=$1`,
		memoryID, vectorOrNil(embedding), model)
	if err != nil {
		return apperr.Internal("set embedding", err)
	}
	return nil
}

func (r *pgMemoryRepo) SetExtraction(ctx context.Context, memoryID string, meta map[string]any) error {
	_, err := r.pool.Exec(ctx, `UPDATE memories SET entities_extracted=TRUE, extraction_metadata=$2, updated_at=now() WHERE id=$1`,
		memoryID, jsonOrEmpty(meta))
	if err != nil {
		return apperr.Internal("set extraction", err)
	}
	return nil
}

func (r *pgMemoryRepo) FindByFingerprint(ctx context.Context, tenantID, createdBy, fingerprint string, since time.Time) (*domain.Memory, error) {
	row := r.pool.QueryRow(ctx, `
SELECT id, tenant_id, created_by, content, title, tags, metadata, visibility, embedding,
       embedding_model, current_version, has_correction, entities_extracted, extraction_metadata,
       created_at, updated_at
FROM memories
WHERE tenant_id=$1 AND created_by=$2 AND fingerprint=$3 AND created_at > $4
ORDER BY created_at DESC LIMIT 1`, tenantID, createdBy, fingerprint, since)
	m, err := scanMemory(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, apperr.Internal("find by fingerprint", err)
	}
	return m, nil
}

func (r *pgMemoryRepo) RecentByTenantUser(ctx context.Context, tenantID, createdBy string, since time.Time) ([]*domain.Memory, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, tenant_id, created_by, content, title, tags, metadata, visibility, embedding,
       embedding_model, current_version, has_correction, entities_extracted, extraction_metadata,
       created_at, updated_at
FROM memories WHERE tenant_id=$1 AND created_by=$2 AND created_at > $3 ORDER BY created_at DESC`,
		tenantID, createdBy, since)
	if err != nil {
		return nil, apperr.Internal("recent by tenant user", err)
	}
	defer rows.Close()
	var out []*domain.Memory
	for rows.Next() {
		m, err := scanMemoryRows(rows)
		if err != nil {
			return nil, apperr.Internal("scan memory", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *pgMemoryRepo) KeywordSearch(ctx context.Context, rc RequestContext, query string, f ListFilter) ([]KeywordHit, error) {
	pred, args, next := visibilityPredicate(rc, 1)
	where := []string{pred, fmt.Sprintf("GREATEST(similarity(content,$%d), similarity(title,$%d)) > 0", next, next)}
	args = append(args, query)
	next++
	if len(f.Tags) > 0 {
		where = append(where, fmt.Sprintf("tags @> $%d", next))
		args = append(args, f.Tags)
		next++
	}
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	sql := fmt.Sprintf(`
SELECT id, tenant_id, created_by, content, title, tags, metadata, visibility, embedding,
       embedding_model, current_version, has_correction, entities_extracted, extraction_metadata,
       created_at, updated_at,
       GREATEST(similarity(content,$%d), similarity(title,$%d)) AS score
FROM memories WHERE %s ORDER BY score DESC, created_at DESC LIMIT $%d`,
		next, next, strings.Join(where, " AND "), next+1)
	args = append(args, query, limit)
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, apperr.Internal("keyword search", err)
	}
	defer rows.Close()
	var out []KeywordHit
	for rows.Next() {
		m, score, err := scanMemoryWithScore(rows)
		if err != nil {
			return nil, apperr.Internal("scan keyword hit", err)
		}
		out = append(out, KeywordHit{Memory: m, Score: score})
	}
	return out, rows.Err()
}

func (r *pgMemoryRepo) SemanticSearch(ctx context.Context, rc RequestContext, qvec []float32, threshold float64, f ListFilter) ([]SemanticHit, error) {
	pred, args, next := visibilityPredicate(rc, 1)
	where := []string{pred, "embedding IS NOT NULL"}
	vecArg := next
	args = append(args, vectorOrNil(qvec))
	next++
	if len(f.Tags) > 0 {
		where = append(where, fmt.Sprintf("tags @> $%d", next))
		args = append(args, f.Tags)
		next++
	}
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	sql := fmt.Sprintf(`
SELECT id, tenant_id, created_by, content, title, tags, metadata, visibility, embedding,
       embedding_model, current_version, has_correction, entities_extracted, extraction_metadata,
       created_at, updated_at,
       1 - (embedding <=> $%d::vector) AS similarity
FROM memories WHERE %s
HAVING 1 - (embedding <=> $%d::vector) >= $%d
ORDER BY similarity DESC, created_at DESC LIMIT $%d`,
		vecArg, strings.Join(where, " AND "), vecArg, next, next+1)
	// Postgres disallows HAVING without GROUP BY for a non-aggregate in some
	// planners; use a WHERE-based threshold instead for portability.
	sql = fmt.Sprintf(`
SELECT id, tenant_id, created_by, content, title, tags, metadata, visibility, embedding,
       embedding_model, current_version, has_correction, entities_extracted, extraction_metadata,
       created_at, updated_at, similarity FROM (
  SELECT id, tenant_id, created_by, content, title, tags, metadata, visibility, embedding,
         embedding_model, current_version, has_correction, entities_extracted, extraction_metadata,
         created_at, updated_at,
         1 - (embedding <=> $%d::vector) AS similarity
  FROM memories WHERE %s
) sub WHERE similarity >= $%d ORDER BY similarity DESC, created_at DESC LIMIT $%d`,
		vecArg, strings.Join(where, " AND "), next, next+1)
	args = append(args, threshold, limit)
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, apperr.Internal("semantic search", err)
	}
	defer rows.Close()
	var out []SemanticHit
	for rows.Next() {
		m, sim, err := scanMemoryWithScore(rows)
		if err != nil {
			return nil, apperr.Internal("scan semantic hit", err)
		}
		out = append(out, SemanticHit{Memory: m, Similarity: sim})
	}
	return out, rows.Err()
}

// row scanning helpers

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row pgx.Row) (*domain.Memory, error) {
	return scanMemoryRows(row)
}

func scanMemoryRows(row rowScanner) (*domain.Memory, error) {
	m := &domain.Memory{}
	var visibility string
	var embedding *vectorScan
	var metadata, extractionMeta map[string]any
	if err := row.Scan(&m.ID, &m.TenantID, &m.CreatedBy, &m.Content, &m.Title, &m.Tags, &metadata,
		&visibility, &embedding, &m.EmbeddingModel, &m.CurrentVersion, &m.HasCorrection,
		&m.EntitiesExtracted, &extractionMeta, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.Visibility = domain.Visibility(visibility)
	m.Metadata = metadata
	m.ExtractionMetadata = extractionMeta
	if embedding != nil {
		m.Embedding = embedding.values
	}
	return m, nil
}

func scanMemoryWithScore(row rowScanner) (*domain.Memory, float64, error) {
	m := &domain.Memory{}
	var visibility string
	var embedding *vectorScan
	var metadata, extractionMeta map[string]any
	var score float64
	if err := row.Scan(&m.ID, &m.TenantID, &m.CreatedBy, &m.Content, &m.Title, &m.Tags, &metadata,
		&visibility, &embedding, &m.EmbeddingModel, &m.CurrentVersion, &m.HasCorrection,
		&m.EntitiesExtracted, &extractionMeta, &m.CreatedAt, &m.UpdatedAt, &score); err != nil {
		return nil, 0, err
	}
	m.Visibility = domain.Visibility(visibility)
	m.Metadata = metadata
	m.ExtractionMetadata = extractionMeta
	if embedding != nil {
		m.Embedding = embedding.values
	}
	return m, score, nil
}
