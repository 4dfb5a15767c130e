package store

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"memoryhub/internal/apperr"
	"memoryhub/internal/domain"
)

type pgEntityRepo struct{ pool *pgxpool.Pool }

func NewEntityRepo(pool *pgxpool.Pool) EntityRepo { return &pgEntityRepo{pool: pool} }

const entitySelect = `
SELECT id, name, entity_type, aliases, attributes, occurrence_count, first_seen, last_seen, embedding
FROM entities`

func (r *pgEntityRepo) FindByNameOrAlias(ctx context.Context, name string) (*domain.Entity, error) {
	row := r.pool.QueryRow(ctx, entitySelect+` WHERE name_lower=$1 OR $1 = ANY(aliases) LIMIT 1`,
		strings.ToLower(name))
	e, err := scanEntity(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, apperr.Internal("find entity", err)
	}
	return e, nil
}

func (r *pgEntityRepo) Insert(ctx context.Context, e *domain.Entity) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO entities(id, name, name_lower, entity_type, aliases, attributes, occurrence_count,
	first_seen, last_seen, embedding)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		e.ID, e.Name, strings.ToLower(e.Name), string(e.EntityType), e.Aliases, jsonOrEmpty(e.Attributes),
		e.OccurrenceCount, e.FirstSeen, e.LastSeen, vectorOrNil(e.Embedding))
	if err != nil {
		return apperr.Internal("insert entity", err)
	}
	return nil
}

func (r *pgEntityRepo) Update(ctx context.Context, e *domain.Entity) error {
	_, err := r.pool.Exec(ctx, `
UPDATE entities SET name=$2, name_lower=$3, entity_type=$4, aliases=$5, attributes=$6,
	occurrence_count=$7, last_seen=$8, embedding=$9
WHERE id=$1`,
		e.ID, e.Name, strings.ToLower(e.Name), string(e.EntityType), e.Aliases, jsonOrEmpty(e.Attributes),
		e.OccurrenceCount, e.LastSeen, vectorOrNil(e.Embedding))
	if err != nil {
		return apperr.Internal("update entity", err)
	}
	return nil
}

func (r *pgEntityRepo) Get(ctx context.Context, id string) (*domain.Entity, error) {
	row := r.pool.QueryRow(ctx, entitySelect+` WHERE id=$1`, id)
	e, err := scanEntity(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.NotFound("entity not found")
		}
		return nil, apperr.Internal("get entity", err)
	}
	return e, nil
}

func (r *pgEntityRepo) Search(ctx context.Context, q string, entityType string, limit int) ([]*domain.Entity, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := entitySelect + ` WHERE similarity(name, $1) > 0.1`
	args := []any{q}
	if entityType != "" {
		query += ` AND entity_type = $2`
		args = append(args, entityType)
	}
	query += ` ORDER BY similarity(name, $1) DESC LIMIT ` + placeholderFor(len(args)+1)
	args = append(args, limit)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Internal("search entities", err)
	}
	defer rows.Close()
	var out []*domain.Entity
	for rows.Next() {
		e, err := scanEntityRows(rows)
		if err != nil {
			return nil, apperr.Internal("scan entity", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func placeholderFor(n int) string {
	return "$" + itoa(n)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func scanEntity(row pgx.Row) (*domain.Entity, error) { return scanEntityRows(row) }

func scanEntityRows(row rowScanner) (*domain.Entity, error) {
	e := &domain.Entity{}
	var entityType string
	var attrs map[string]any
	var embedding *vectorScan
	if err := row.Scan(&e.ID, &e.Name, &entityType, &e.Aliases, &attrs, &e.OccurrenceCount,
		&e.FirstSeen, &e.LastSeen, &embedding); err != nil {
		return nil, err
	}
	e.EntityType = domain.EntityType(entityType)
	e.Attributes = attrs
	if embedding != nil {
		e.Embedding = embedding.values
	}
	return e, nil
}

// --- relations ---

type pgRelationRepo struct{ pool *pgxpool.Pool }

func NewRelationRepo(pool *pgxpool.Pool) RelationRepo { return &pgRelationRepo{pool: pool} }

const relationSelect = `
SELECT id, from_entity_id, to_entity_id, relation_type, attributes, confidence, source_memory_id
FROM relations`

func (r *pgRelationRepo) Find(ctx context.Context, fromID, toID, relationType string) (*domain.Relation, error) {
	row := r.pool.QueryRow(ctx, relationSelect+` WHERE from_entity_id=$1 AND to_entity_id=$2 AND relation_type=$3`,
		fromID, toID, relationType)
	rel, err := scanRelation(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, apperr.Internal("find relation", err)
	}
	return rel, nil
}

func (r *pgRelationRepo) Insert(ctx context.Context, rel *domain.Relation) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO relations(id, from_entity_id, to_entity_id, relation_type, attributes, confidence, source_memory_id)
VALUES($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (from_entity_id, to_entity_id, relation_type) DO NOTHING`,
		rel.ID, rel.FromEntityID, rel.ToEntityID, rel.RelationType, jsonOrEmpty(rel.Attributes),
		rel.Confidence, rel.SourceMemoryID)
	if err != nil {
		return apperr.Internal("insert relation", err)
	}
	return nil
}

func (r *pgRelationRepo) Update(ctx context.Context, rel *domain.Relation) error {
	_, err := r.pool.Exec(ctx, `
UPDATE relations SET attributes=$2, confidence=$3, source_memory_id=$4 WHERE id=$1`,
		rel.ID, jsonOrEmpty(rel.Attributes), rel.Confidence, rel.SourceMemoryID)
	if err != nil {
		return apperr.Internal("update relation", err)
	}
	return nil
}

func (r *pgRelationRepo) OutgoingEdges(ctx context.Context, entityID string) ([]*domain.Relation, error) {
	return r.queryEdges(ctx, `WHERE from_entity_id=$1`, entityID)
}

func (r *pgRelationRepo) IncomingEdges(ctx context.Context, entityID string) ([]*domain.Relation, error) {
	return r.queryEdges(ctx, `WHERE to_entity_id=$1`, entityID)
}

func (r *pgRelationRepo) queryEdges(ctx context.Context, where string, entityID string) ([]*domain.Relation, error) {
	rows, err := r.pool.Query(ctx, relationSelect+" "+where, entityID)
	if err != nil {
		return nil, apperr.Internal("query relation edges", err)
	}
	defer rows.Close()
	var out []*domain.Relation
	for rows.Next() {
		rel, err := scanRelationRows(rows)
		if err != nil {
			return nil, apperr.Internal("scan relation", err)
		}
		out = append(out, rel)
	}
	return out, rows.Err()
}

func scanRelation(row pgx.Row) (*domain.Relation, error) { return scanRelationRows(row) }

func scanRelationRows(row rowScanner) (*domain.Relation, error) {
	rel := &domain.Relation{}
	var attrs map[string]any
	if err := row.Scan(&rel.ID, &rel.FromEntityID, &rel.ToEntityID, &rel.RelationType, &attrs,
		&rel.Confidence, &rel.SourceMemoryID); err != nil {
		return nil, err
	}
	rel.Attributes = attrs
	return rel, nil
}

// --- associations ---

type pgAssociationRepo struct{ pool *pgxpool.Pool }

func NewAssociationRepo(pool *pgxpool.Pool) AssociationRepo { return &pgAssociationRepo{pool: pool} }

func (r *pgAssociationRepo) Upsert(ctx context.Context, a *domain.MemoryEntityAssociation) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO memory_entity_associations(memory_id, entity_id, relevance_score)
VALUES($1,$2,$3)
ON CONFLICT (memory_id, entity_id) DO UPDATE SET relevance_score = EXCLUDED.relevance_score`,
		a.MemoryID, a.EntityID, a.RelevanceScore)
	if err != nil {
		return apperr.Internal("upsert memory-entity association", err)
	}
	return nil
}

func (r *pgAssociationRepo) MemoriesForEntity(ctx context.Context, rc RequestContext, entityID string, f ListFilter) ([]*domain.Memory, error) {
	pred, args, next := visibilityPredicate(rc, 2)
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := `
SELECT m.id, m.tenant_id, m.created_by, m.content, m.title, m.tags, m.metadata, m.visibility,
       m.embedding, m.embedding_model, m.current_version, m.has_correction, m.entities_extracted,
       m.extraction_metadata, m.created_at, m.updated_at
FROM memories m
JOIN memory_entity_associations mea ON mea.memory_id = m.id
WHERE mea.entity_id = $1 AND ` + pred + `
ORDER BY mea.relevance_score DESC, m.created_at DESC LIMIT $` + itoa(next)
	queryArgs := append([]any{entityID}, args...)
	queryArgs = append(queryArgs, limit)
	rows, err := r.pool.Query(ctx, query, queryArgs...)
	if err != nil {
		return nil, apperr.Internal("memories for entity", err)
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
