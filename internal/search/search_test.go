package search

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"memoryhub/internal/config"
	"memoryhub/internal/domain"
	"memoryhub/internal/embedding"
	"memoryhub/internal/graph"
	"memoryhub/internal/store"
)

func newTestPlanner(t *testing.T) (*Planner, *store.Store, store.RequestContext) {
	t.Helper()
	st := store.NewMemBackedStore()
	embedder := embedding.NewStubEmbedder(8)
	g := graph.New(st.Entities, st.Relations, st.Associations, embedder)
	p := New(st, g, embedder, nil, config.DefaultSearchConfig())
	rc := store.RequestContext{TenantID: "tenant-1", UserID: "user-1"}
	return p, st, rc
}

func seedMemory(t *testing.T, st *store.Store, rc store.RequestContext, content string, embed bool) *domain.Memory {
	t.Helper()
	m := &domain.Memory{
		ID: uuid.NewString(), TenantID: rc.TenantID, CreatedBy: &rc.UserID,
		Content: content, Visibility: domain.VisibilityPrivate, CurrentVersion: 1,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	if embed {
		m.Embedding = []float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8}
	}
	require.NoError(t, st.Memories.Insert(context.Background(), rc, m))
	return m
}

func TestSearchUUIDShortCircuitsToDirectLookup(t *testing.T) {
	p, st, rc := newTestPlanner(t)
	m := seedMemory(t, st, rc, "postgres is great", false)

	res, err := p.Search(context.Background(), rc, Params{Query: m.ID, Mode: ModeHybrid})
	require.NoError(t, err)
	require.Equal(t, "direct_db_query", res.SearchType)
	require.Len(t, res.Results, 1)
	require.Equal(t, m.ID, res.Results[0].ID)
}

func TestSearchKeywordRanksByTrigramSimilarity(t *testing.T) {
	p, st, rc := newTestPlanner(t)
	seedMemory(t, st, rc, "the quick brown fox jumps", false)
	seedMemory(t, st, rc, "completely unrelated content", false)

	res, err := p.Search(context.Background(), rc, Params{Query: "quick brown fox", Mode: ModeKeyword})
	require.NoError(t, err)
	require.Equal(t, "keyword", res.SearchType)
	require.NotEmpty(t, res.Results)
	require.Equal(t, "the quick brown fox jumps", res.Results[0].Content)
}

func TestHybridFallsBackToKeywordWhenSemanticEmpty(t *testing.T) {
	p, st, rc := newTestPlanner(t)
	seedMemory(t, st, rc, "postgres database tuning notes", false)

	res, err := p.Search(context.Background(), rc, Params{Query: "postgres", Mode: ModeHybrid})
	require.NoError(t, err)
	require.Equal(t, "hybrid-keyword", res.SearchType)
}

func TestHybridWeightsEquivalentToKeywordWhenWsZero(t *testing.T) {
	st := store.NewMemBackedStore()
	embedder := embedding.NewStubEmbedder(8)
	g := graph.New(st.Entities, st.Relations, st.Associations, embedder)
	cfg := config.DefaultSearchConfig()
	cfg.SemanticThreshold = -1 // accept any cosine similarity so the semantic side is always non-empty here
	p := New(st, g, embedder, nil, cfg)
	rc := store.RequestContext{TenantID: "tenant-1", UserID: "user-1"}

	seedMemory(t, st, rc, "alpha beta gamma delta", true)
	seedMemory(t, st, rc, "completely unrelated filler text", true)

	res, err := p.Search(context.Background(), rc, Params{
		Query: "alpha beta gamma", Mode: ModeHybrid, HybridKW: 1, HybridSW: 0,
	})
	require.NoError(t, err)
	require.Equal(t, "hybrid", res.SearchType)
	require.NotEmpty(t, res.Results)
	require.Equal(t, "alpha beta gamma delta", res.Results[0].Content)
	for _, h := range res.Results {
		require.InDelta(t, h.Score, h.CombinedScore, 1e-9)
	}
}

func TestHybridRejectsBadWeightSum(t *testing.T) {
	p, st, rc := newTestPlanner(t)
	seedMemory(t, st, rc, "some content", true)

	_, err := p.Search(context.Background(), rc, Params{
		Query: "content", Mode: ModeHybrid, HybridKW: 0.9, HybridSW: 0.9,
	})
	require.Error(t, err)
}

func TestSearchRespectsVisibility(t *testing.T) {
	p, st, rc := newTestPlanner(t)
	seedMemory(t, st, rc, "a private secret note", false)

	other := store.RequestContext{TenantID: "tenant-1", UserID: "user-2"}
	res, err := p.Search(context.Background(), other, Params{Query: "secret", Mode: ModeHybrid})
	require.NoError(t, err)
	require.Empty(t, res.Results)
}

func TestNLPParsesTagAndTemporalHints(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	pq := parseNLP("find my meeting notes #work tag:urgent yesterday", now)
	require.Contains(t, pq.tags, "work")
	require.Contains(t, pq.tags, "urgent")
	require.NotNil(t, pq.dateFrom)
	require.NotNil(t, pq.dateTo)
}

func TestNLPExtractsPersonHint(t *testing.T) {
	pq := parseNLP("find notes about John Smith from last week", time.Now().UTC())
	require.Equal(t, "John Smith", pq.entityHint)
}

func TestNLPStripsStopWords(t *testing.T) {
	pq := parseNLP("show me the notes about database migration", time.Now().UTC())
	require.NotContains(t, pq.remainder, "the")
	require.Contains(t, pq.remainder, "database")
}

func TestNLPExtractsThisWeekAndCurrentWeek(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC) // Friday

	pq := parseNLP("meetings this week", now)
	require.NotNil(t, pq.dateFrom)
	require.NotNil(t, pq.dateTo)
	require.Equal(t, now.AddDate(0, 0, -int(now.Weekday())), *pq.dateFrom)
	require.Equal(t, now, *pq.dateTo)

	pq2 := parseNLP("meetings current week", now)
	require.Equal(t, *pq.dateFrom, *pq2.dateFrom)
}

func TestNLPExtractsThisMonthAndCurrentMonth(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	pq := parseNLP("notes from this month", now)
	require.NotNil(t, pq.dateFrom)
	require.NotNil(t, pq.dateTo)
	require.Equal(t, time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC), *pq.dateFrom)
	require.Equal(t, now, *pq.dateTo)

	pq2 := parseNLP("notes from current month", now)
	require.Equal(t, *pq.dateFrom, *pq2.dateFrom)
}
