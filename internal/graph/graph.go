// Package graph implements C7: entity upsert with alias merging, relation
// upsert with confidence reconciliation, memory-entity association, and
// bounded-depth neighborhood traversal (§4.6).
package graph

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"memoryhub/internal/apperr"
	"memoryhub/internal/domain"
	"memoryhub/internal/embedding"
	"memoryhub/internal/extractor"
	"memoryhub/internal/store"
)

// Graph wires the entity/relation/association repos together with an
// optional Embedder used to embed newly created entity names.
type Graph struct {
	entities     store.EntityRepo
	relations    store.RelationRepo
	associations store.AssociationRepo
	embedder     embedding.Embedder // nil is valid: embedding is best-effort
}

func New(entities store.EntityRepo, relations store.RelationRepo, associations store.AssociationRepo, embedder embedding.Embedder) *Graph {
	return &Graph{entities: entities, relations: relations, associations: associations, embedder: embedder}
}

// UpsertEntity implements §4.6 upsert_entity: find-by-name-or-alias, union
// aliases, newer-wins attribute merge, increment occurrence_count, bump
// last_seen; insert fresh (occurrence_count=1, best-effort embed) if absent.
func (g *Graph) UpsertEntity(ctx context.Context, name string, entityType domain.EntityType, aliases []string, attributes map[string]any) (*domain.Entity, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Invalid("entity name must not be empty")
	}
	existing, err := g.entities.FindByNameOrAlias(ctx, name)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if existing != nil {
		existing.Aliases = unionStrings(existing.Aliases, aliases, existing.Name)
		existing.Attributes = mergeAttributes(existing.Attributes, attributes)
		existing.OccurrenceCount++
		existing.LastSeen = now
		if err := g.entities.Update(ctx, existing); err != nil {
			return nil, err
		}
		return existing, nil
	}

	e := &domain.Entity{
		ID:              uuid.NewString(),
		Name:            name,
		EntityType:      entityType,
		Aliases:         unionStrings(nil, aliases, name),
		Attributes:      attributes,
		OccurrenceCount: 1,
		FirstSeen:       now,
		LastSeen:        now,
	}
	if g.embedder != nil {
		if vec, err := g.embedder.Embed(ctx, name); err == nil {
			e.Embedding = vec
		}
	}
	if err := g.entities.Insert(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// unionStrings merges candidate aliases into existing, excluding self (the
// canonical name must never appear in its own alias set, §8 invariant 4).
func unionStrings(existing, candidates []string, self string) []string {
	seen := make(map[string]bool)
	var out []string
	selfLower := strings.ToLower(self)
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" || strings.ToLower(s) == selfLower {
			return
		}
		key := strings.ToLower(s)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, s)
	}
	for _, s := range existing {
		add(s)
	}
	for _, s := range candidates {
		add(s)
	}
	return out
}

// mergeAttributes merges b into a with newer (b) values winning per key.
func mergeAttributes(a, b map[string]any) map[string]any {
	out := make(map[string]any, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

var snakeCasePattern = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeRelationType lowercases and snake_cases a relation type label,
// per §4.6/§11 (non-alnum runs collapse to a single underscore).
func NormalizeRelationType(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = snakeCasePattern.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

// CreateRelation implements §4.6 create_relation: both endpoints must
// already exist, (from,to,type) is unique, re-observation takes
// confidence = max(old, new) and merges attributes.
func (g *Graph) CreateRelation(ctx context.Context, fromEntityID, toEntityID, relationType string, attributes map[string]any, confidence float64, sourceMemoryID *string) (*domain.Relation, error) {
	if _, err := g.entities.Get(ctx, fromEntityID); err != nil {
		return nil, apperr.Invalid("relation source entity does not exist")
	}
	if _, err := g.entities.Get(ctx, toEntityID); err != nil {
		return nil, apperr.Invalid("relation target entity does not exist")
	}
	relationType = NormalizeRelationType(relationType)
	confidence = clamp01(confidence)

	existing, err := g.relations.Find(ctx, fromEntityID, toEntityID, relationType)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if confidence > existing.Confidence {
			existing.Confidence = confidence
		}
		existing.Attributes = mergeAttributes(existing.Attributes, attributes)
		if err := g.relations.Update(ctx, existing); err != nil {
			return nil, err
		}
		return existing, nil
	}

	r := &domain.Relation{
		ID:             uuid.NewString(),
		FromEntityID:   fromEntityID,
		ToEntityID:     toEntityID,
		RelationType:   relationType,
		Attributes:     attributes,
		Confidence:     confidence,
		SourceMemoryID: sourceMemoryID,
	}
	if err := g.relations.Insert(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Associate implements §4.6 associate: upsert, overwriting relevance_score
// on conflict.
func (g *Graph) Associate(ctx context.Context, memoryID, entityID string, relevance float64) error {
	return g.associations.Upsert(ctx, &domain.MemoryEntityAssociation{
		MemoryID:       memoryID,
		EntityID:       entityID,
		RelevanceScore: clamp01(relevance),
	})
}

// SearchEntities implements §4.6 search_entities.
func (g *Graph) SearchEntities(ctx context.Context, q string, entityType string, limit int) ([]*domain.Entity, error) {
	return g.entities.Search(ctx, q, entityType, limit)
}

// MemoriesForEntity returns the memories associated with entityID, visible
// to rc, ordered by relevance then recency (§4.5 entity mode).
func (g *Graph) MemoriesForEntity(ctx context.Context, rc store.RequestContext, entityID string, f store.ListFilter) ([]*domain.Memory, error) {
	return g.associations.MemoriesForEntity(ctx, rc, entityID, f)
}

// NormalizeExtracted applies §4.6's validation rules to an extractor.Result
// before anything is written: entity_type coerced to a known value or
// "other", empty names dropped, relation types normalized, confidence
// clamped.
func NormalizeExtracted(r extractor.Result) extractor.Result {
	var entities []extractor.ExtractedEntity
	for _, e := range r.Entities {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			continue
		}
		entities = append(entities, extractor.ExtractedEntity{
			Name:       name,
			EntityType: string(domain.NormalizeEntityType(e.EntityType)),
			Attributes: e.Attributes,
		})
	}
	var relations []extractor.ExtractedRelation
	for _, rel := range r.Relations {
		if strings.TrimSpace(rel.FromEntity) == "" || strings.TrimSpace(rel.ToEntity) == "" {
			continue
		}
		relations = append(relations, extractor.ExtractedRelation{
			FromEntity:   rel.FromEntity,
			ToEntity:     rel.ToEntity,
			RelationType: NormalizeRelationType(rel.RelationType),
			Confidence:   clamp01(rel.Confidence),
		})
	}
	return extractor.Result{Entities: entities, Relations: relations}
}
