// Package search implements C12: the unified search(query, filters, mode)
// dispatcher over keyword (trigram), semantic (cosine), hybrid (weighted
// fusion), entity, and nlp (heuristic) modes, per §4.5.
package search

import (
	"context"
	"regexp"

	"memoryhub/internal/apperr"
	"memoryhub/internal/config"
	"memoryhub/internal/domain"
	"memoryhub/internal/embedding"
	"memoryhub/internal/graph"
	"memoryhub/internal/store"
)

// Mode enumerates the five dispatch paths §4.5 names.
type Mode string

const (
	ModeKeyword  Mode = "keyword"
	ModeSemantic Mode = "semantic"
	ModeHybrid   Mode = "hybrid"
	ModeEntity   Mode = "entity"
	ModeNLP      Mode = "nlp"
)

const contentPreviewLen = 200

var uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// Params is the search() argument bundle.
type Params struct {
	Query    string
	Mode     Mode
	Filters  store.ListFilter
	Limit    int
	Offset   int
	HybridKW float64 // w_k, 0 means "use config default"
	HybridSW float64 // w_s
}

// Result mirrors §4.5's result shape.
type Result struct {
	Query      string     `json:"query"`
	SearchType string     `json:"searchType"`
	Count      int        `json:"count"`
	Total      *int       `json:"total,omitempty"`
	Results    []Hit      `json:"results"`
	Pagination Pagination `json:"pagination"`
}

type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"hasMore"`
}

// Hit is one row of the result shape: {id,title,content|preview,tags,...}.
type Hit struct {
	ID               string            `json:"id"`
	Title            string            `json:"title,omitempty"`
	Content          string            `json:"content"`
	ContentTruncated bool              `json:"contentTruncated,omitempty"`
	ContentLength    int               `json:"contentLength,omitempty"`
	Tags             []string          `json:"tags,omitempty"`
	CreatedAt        string            `json:"createdAt"`
	Score            float64           `json:"score,omitempty"`
	Similarity       float64           `json:"similarity,omitempty"`
	CombinedScore    float64           `json:"combinedScore,omitempty"`
	Visibility       domain.Visibility `json:"visibility"`
	CreatedBy        string            `json:"createdBy,omitempty"`
	HasCorrection    bool              `json:"hasCorrection"`
}

// Planner implements C12 over the Store, Embedder, and Graph.
type Planner struct {
	store    *store.Store
	graph    *graph.Graph
	embedder embedding.Embedder
	vectors  store.VectorStore
	cfg      config.SearchConfig
}

// New wires C12. vectors may be nil, in which case semantic search always
// ranks through Store.Memories.SemanticSearch; when set (§9 plug-in swap),
// it ranks through the external VectorStore instead.
func New(st *store.Store, g *graph.Graph, embedder embedding.Embedder, vectors store.VectorStore, cfg config.SearchConfig) *Planner {
	return &Planner{store: st, graph: g, embedder: embedder, vectors: vectors, cfg: cfg}
}

// Search dispatches per §4.5, including the UUID short-circuit.
func (p *Planner) Search(ctx context.Context, rc store.RequestContext, params Params) (*Result, error) {
	if !rc.Valid() {
		return nil, apperr.Invalid("request context missing tenant")
	}
	params = normalizeParams(params)

	if uuidPattern.MatchString(params.Query) {
		return p.directLookup(ctx, rc, params)
	}

	switch params.Mode {
	case ModeKeyword:
		return p.keywordSearch(ctx, rc, params)
	case ModeSemantic:
		return p.semanticSearch(ctx, rc, params)
	case ModeHybrid, "":
		return p.hybridSearch(ctx, rc, params)
	case ModeEntity:
		return p.entitySearch(ctx, rc, params)
	case ModeNLP:
		return p.nlpSearch(ctx, rc, params)
	default:
		return nil, apperr.Invalid("unknown search mode")
	}
}

func normalizeParams(p Params) Params {
	if p.Limit <= 0 || p.Limit > 100 {
		if p.Limit > 100 {
			p.Limit = 100
		} else {
			p.Limit = 20
		}
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	p.Filters.Limit = p.Limit
	p.Filters.Offset = p.Offset
	return p
}

func (p *Planner) directLookup(ctx context.Context, rc store.RequestContext, params Params) (*Result, error) {
	m, err := p.store.Memories.Get(ctx, rc, params.Query)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return packageResult(params, "direct_db_query", nil), nil
		}
		return nil, err
	}
	hit := toHit(m, 0, 0, 0)
	return packageResult(params, "direct_db_query", []Hit{hit}), nil
}

func (p *Planner) keywordSearch(ctx context.Context, rc store.RequestContext, params Params) (*Result, error) {
	hits, err := p.store.Memories.KeywordSearch(ctx, rc, params.Query, params.Filters)
	if err != nil {
		return nil, err
	}
	out := make([]Hit, 0, len(hits))
	for _, h := range hits {
		out = append(out, toHit(h.Memory, h.Score, 0, 0))
	}
	return packageResult(params, "keyword", out), nil
}

func (p *Planner) semanticSearch(ctx context.Context, rc store.RequestContext, params Params) (*Result, error) {
	hits, err := p.semanticHits(ctx, rc, params)
	if err != nil {
		return nil, err
	}
	out := make([]Hit, 0, len(hits))
	for _, h := range hits {
		out = append(out, toHit(h.Memory, 0, h.Similarity, 0))
	}
	return packageResult(params, "semantic", out), nil
}

func (p *Planner) semanticHits(ctx context.Context, rc store.RequestContext, params Params) ([]store.SemanticHit, error) {
	if p.embedder == nil {
		return nil, nil
	}
	qvec, err := p.embedder.EmbedQuery(ctx, params.Query)
	if err != nil {
		if apperr.Is(err, apperr.KindUpstreamUnavailable) || apperr.Is(err, apperr.KindTransient) {
			return nil, nil
		}
		return nil, err
	}
	threshold := p.cfg.SemanticThreshold
	if threshold == 0 {
		threshold = 0.5
	}
	if p.vectors != nil {
		return p.vectorStoreHits(ctx, rc, qvec, threshold, params.Filters)
	}
	return p.store.Memories.SemanticSearch(ctx, rc, qvec, threshold, params.Filters)
}

// vectorStoreHits ranks through the external VectorStore plug-in, then
// fetches each candidate through Store.Memories.Get so tenant/visibility
// filtering (§9) is still enforced on every hit.
func (p *Planner) vectorStoreHits(ctx context.Context, rc store.RequestContext, qvec []float32, threshold float64, f store.ListFilter) ([]store.SemanticHit, error) {
	raw, err := p.vectors.SimilaritySearch(ctx, qvec, p.cfg.MaxLimit, map[string]string{"tenant_id": rc.TenantID})
	if err != nil {
		return nil, err
	}
	hits := make([]store.SemanticHit, 0, len(raw))
	for _, r := range raw {
		if r.Score < threshold {
			continue
		}
		m, err := p.store.Memories.Get(ctx, rc, r.ID)
		if err != nil {
			continue
		}
		if !store.MatchesFilter(m, f) {
			continue
		}
		hits = append(hits, store.SemanticHit{Memory: m, Similarity: r.Score})
	}
	return hits, nil
}

// hybridSearch implements §4.5's weighted fusion with hybrid-keyword
// fallback when the semantic side comes back empty (S3).
func (p *Planner) hybridSearch(ctx context.Context, rc store.RequestContext, params Params) (*Result, error) {
	wk, ws, err := resolveWeights(params, p.cfg)
	if err != nil {
		return nil, err
	}

	kwHits, err := p.store.Memories.KeywordSearch(ctx, rc, params.Query, params.Filters)
	if err != nil {
		return nil, err
	}
	semHits, err := p.semanticHits(ctx, rc, params)
	if err != nil {
		return nil, err
	}

	if len(semHits) == 0 {
		out := make([]Hit, 0, len(kwHits))
		for _, h := range kwHits {
			out = append(out, toHit(h.Memory, h.Score, 0, h.Score))
		}
		return packageResult(params, "hybrid-keyword", out), nil
	}

	kwScore := make(map[string]float64, len(kwHits))
	kwMem := make(map[string]*domain.Memory, len(kwHits))
	for _, h := range kwHits {
		kwScore[h.Memory.ID] = h.Score
		kwMem[h.Memory.ID] = h.Memory
	}
	semScore := make(map[string]float64, len(semHits))
	semMem := make(map[string]*domain.Memory, len(semHits))
	for _, h := range semHits {
		semScore[h.Memory.ID] = h.Similarity
		semMem[h.Memory.ID] = h.Memory
	}

	combined := make(map[string]float64)
	for id, s := range kwScore {
		combined[id] = wk*s + ws*semScore[id]
	}
	for id, s := range semScore {
		if _, ok := combined[id]; !ok {
			combined[id] = wk*kwScore[id] + ws*s
		}
	}

	out := make([]Hit, 0, len(combined))
	for id, score := range combined {
		m := kwMem[id]
		if m == nil {
			m = semMem[id]
		}
		out = append(out, toHit(m, kwScore[id], semScore[id], score))
	}
	sortHitsByCombinedScore(out)
	out = applyPagination(out, params.Limit, params.Offset)
	return packageResult(params, "hybrid", out), nil
}

func resolveWeights(params Params, cfg config.SearchConfig) (float64, float64, error) {
	wk, ws := params.HybridKW, params.HybridSW
	if wk == 0 && ws == 0 {
		wk, ws = cfg.HybridKeywordW, cfg.HybridSemanticW
		if wk == 0 && ws == 0 {
			wk, ws = 0.5, 0.5
		}
	}
	sum := wk + ws
	if sum < 0.99 || sum > 1.01 {
		return 0, 0, apperr.Invalid("hybrid weights must sum to 1 (±0.01)")
	}
	return wk, ws, nil
}

// entitySearch implements §4.5 entity mode: resolve q to an Entity, return
// memories joined through MemoryEntityAssociation.
func (p *Planner) entitySearch(ctx context.Context, rc store.RequestContext, params Params) (*Result, error) {
	entities, err := p.graph.SearchEntities(ctx, params.Query, "", 1)
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return packageResult(params, "entity", nil), nil
	}
	memories, err := p.graph.MemoriesForEntity(ctx, rc, entities[0].ID, params.Filters)
	if err != nil {
		return nil, err
	}
	out := make([]Hit, 0, len(memories))
	for _, m := range memories {
		out = append(out, toHit(m, 0, 0, 0))
	}
	return packageResult(params, "entity", out), nil
}

func toHit(m *domain.Memory, score, similarity, combined float64) Hit {
	content := m.Content
	truncated := false
	length := len(content)
	if length > contentPreviewLen {
		content = content[:contentPreviewLen]
		truncated = true
	}
	createdBy := ""
	if m.CreatedBy != nil {
		createdBy = *m.CreatedBy
	}
	return Hit{
		ID:               m.ID,
		Title:            m.Title,
		Content:          content,
		ContentTruncated: truncated,
		ContentLength:    length,
		Tags:             m.Tags,
		CreatedAt:        m.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		Score:            score,
		Similarity:       similarity,
		CombinedScore:    combined,
		Visibility:       m.Visibility,
		CreatedBy:        createdBy,
		HasCorrection:    m.HasCorrection,
	}
}

func packageResult(params Params, searchType string, hits []Hit) *Result {
	return &Result{
		Query:      params.Query,
		SearchType: searchType,
		Count:      len(hits),
		Results:    hits,
		Pagination: Pagination{
			Limit:   params.Limit,
			Offset:  params.Offset,
			HasMore: len(hits) == params.Limit,
		},
	}
}

func sortHitsByCombinedScore(hits []Hit) {
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].CombinedScore > hits[j-1].CombinedScore; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
}

func applyPagination(hits []Hit, limit, offset int) []Hit {
	if offset >= len(hits) {
		return nil
	}
	end := offset + limit
	if end > len(hits) {
		end = len(hits)
	}
	return hits[offset:end]
}
