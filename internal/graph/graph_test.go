package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"memoryhub/internal/domain"
	"memoryhub/internal/embedding"
	"memoryhub/internal/extractor"
	"memoryhub/internal/store"
)

func newTestGraph() *Graph {
	st := store.NewMemBackedStore()
	return New(st.Entities, st.Relations, st.Associations, embedding.NewStubEmbedder(4))
}

func TestUpsertEntityInsertsThenMerges(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph()

	e1, err := g.UpsertEntity(ctx, "Acme Corp", domain.EntityOrganization, []string{"Acme"}, map[string]any{"industry": "widgets"})
	require.NoError(t, err)
	require.Equal(t, 1, e1.OccurrenceCount)

	e2, err := g.UpsertEntity(ctx, "Acme Corp", domain.EntityOrganization, []string{"Acme Inc"}, map[string]any{"industry": "gadgets"})
	require.NoError(t, err)
	require.Equal(t, e1.ID, e2.ID)
	require.Equal(t, 2, e2.OccurrenceCount)
	require.ElementsMatch(t, []string{"Acme", "Acme Inc"}, e2.Aliases)
	require.Equal(t, "gadgets", e2.Attributes["industry"])
}

func TestUpsertEntitySelfNeverBecomesOwnAlias(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph()

	e, err := g.UpsertEntity(ctx, "Jane Doe", domain.EntityPerson, []string{"Jane Doe", "jane doe"}, nil)
	require.NoError(t, err)
	require.Empty(t, e.Aliases)
}

func TestCreateRelationRequiresBothEntities(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph()

	a, err := g.UpsertEntity(ctx, "Alice", domain.EntityPerson, nil, nil)
	require.NoError(t, err)

	_, err = g.CreateRelation(ctx, a.ID, "does-not-exist", "knows", nil, 0.5, nil)
	require.Error(t, err)
}

func TestCreateRelationReobservationTakesMaxConfidence(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph()

	a, err := g.UpsertEntity(ctx, "Alice", domain.EntityPerson, nil, nil)
	require.NoError(t, err)
	b, err := g.UpsertEntity(ctx, "Bob", domain.EntityPerson, nil, nil)
	require.NoError(t, err)

	r1, err := g.CreateRelation(ctx, a.ID, b.ID, "Knows Of", nil, 0.3, nil)
	require.NoError(t, err)
	require.Equal(t, "knows_of", r1.RelationType)

	r2, err := g.CreateRelation(ctx, a.ID, b.ID, "knows of", nil, 0.9, nil)
	require.NoError(t, err)
	require.Equal(t, r1.ID, r2.ID)
	require.Equal(t, 0.9, r2.Confidence)

	r3, err := g.CreateRelation(ctx, a.ID, b.ID, "knows of", nil, 0.1, nil)
	require.NoError(t, err)
	require.Equal(t, 0.9, r3.Confidence)
}

func TestNeighborhoodTraversesMultipleHops(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph()

	alice, err := g.UpsertEntity(ctx, "Alice", domain.EntityPerson, nil, nil)
	require.NoError(t, err)
	bob, err := g.UpsertEntity(ctx, "Bob", domain.EntityPerson, nil, nil)
	require.NoError(t, err)
	carol, err := g.UpsertEntity(ctx, "Carol", domain.EntityPerson, nil, nil)
	require.NoError(t, err)

	_, err = g.CreateRelation(ctx, alice.ID, bob.ID, "knows", nil, 0.8, nil)
	require.NoError(t, err)
	_, err = g.CreateRelation(ctx, bob.ID, carol.ID, "knows", nil, 0.8, nil)
	require.NoError(t, err)

	n1, err := g.Neighborhood(ctx, "Alice", 1)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"Alice", "Bob"}, n1.Nodes)

	n2, err := g.Neighborhood(ctx, "Alice", 2)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"Alice", "Bob", "Carol"}, n2.Nodes)
	require.Equal(t, 2, n2.TotalConnections)
}

func TestNeighborhoodDepthClampedToMax(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph()

	_, err := g.UpsertEntity(ctx, "Alice", domain.EntityPerson, nil, nil)
	require.NoError(t, err)

	n, err := g.Neighborhood(ctx, "Alice", 1000)
	require.NoError(t, err)
	require.Equal(t, "Alice", n.CentralEntity)
	require.Empty(t, n.Edges)
}

func TestNeighborhoodUnknownEntityNotFound(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph()

	_, err := g.Neighborhood(ctx, "nobody", 2)
	require.Error(t, err)
}

func TestNormalizeExtractedDropsEmptyNamesAndClampsConfidence(t *testing.T) {
	raw := extractor.Result{
		Entities: []extractor.ExtractedEntity{
			{Name: "  Widget Launch  ", EntityType: "totally-unknown-type"},
			{Name: "   "},
		},
		Relations: []extractor.ExtractedRelation{
			{FromEntity: "a", ToEntity: "b", RelationType: "Works With", Confidence: 4.2},
			{FromEntity: "", ToEntity: "c", RelationType: "knows", Confidence: 0.5},
		},
	}

	r := NormalizeExtracted(raw)
	require.Len(t, r.Entities, 1)
	require.Equal(t, "Widget Launch", r.Entities[0].Name)
	require.Equal(t, string(domain.EntityOther), r.Entities[0].EntityType)
	require.Len(t, r.Relations, 1)
	require.Equal(t, 1.0, r.Relations[0].Confidence)
	require.Equal(t, "works_with", r.Relations[0].RelationType)
}
