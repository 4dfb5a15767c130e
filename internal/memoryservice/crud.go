package memoryservice

import (
	"context"
	"fmt"
	"strings"
	"time"

	"memoryhub/internal/apperr"
	"memoryhub/internal/cache"
	"memoryhub/internal/dedupe"
	"memoryhub/internal/domain"
	"memoryhub/internal/eventbus"
	"memoryhub/internal/store"
)

// MemoryView is what Get returns: the stored memory plus its effective
// content (§3 Correction: latest correction wins, else the raw content).
type MemoryView struct {
	*domain.Memory
	EffectiveContent string `json:"effectiveContent"`
}

func cacheKeyMemory(id string) string { return "memory:" + id }

// Get implements §4.1 get(): cache lookup, else tenant+visibility-scoped
// read, cache on read, apply the latest correction.
func (s *Service) Get(ctx context.Context, rc store.RequestContext, memoryID string) (*MemoryView, error) {
	if !rc.Valid() {
		return nil, apperr.Invalid("request context missing tenant")
	}
	var m domain.Memory
	if hit, _ := s.cache.Get(ctx, cache.KindMemory, cacheKeyMemory(memoryID), &m); hit {
		return s.withEffectiveContent(ctx, &m)
	}

	got, err := s.store.Memories.Get(ctx, rc, memoryID)
	if err != nil {
		return nil, err
	}
	_ = s.cache.Set(ctx, cache.KindMemory, cacheKeyMemory(memoryID), got)
	return s.withEffectiveContent(ctx, got)
}

func (s *Service) withEffectiveContent(ctx context.Context, m *domain.Memory) (*MemoryView, error) {
	effective := m.Content
	if m.HasCorrection {
		c, err := s.store.Corrections.Latest(ctx, m.ID)
		if err != nil && !apperr.Is(err, apperr.KindNotFound) {
			return nil, err
		}
		if c != nil {
			effective = c.CorrectedContent
		}
	}
	return &MemoryView{Memory: m, EffectiveContent: effective}, nil
}

// List delegates to the store with the caller's visibility scope applied.
func (s *Service) List(ctx context.Context, rc store.RequestContext, f store.ListFilter) ([]*domain.Memory, error) {
	if !rc.Valid() {
		return nil, apperr.Invalid("request context missing tenant")
	}
	return s.store.Memories.List(ctx, rc, f)
}

func canModify(rc store.RequestContext, m *domain.Memory) bool {
	if rc.CanManage() {
		return true
	}
	return m.CreatedBy != nil && *m.CreatedBy == rc.UserID
}

// Update implements §4.1 update(): ownership check, new version, column
// update, conditional re-embed, invalidate, publish.
func (s *Service) Update(ctx context.Context, rc store.RequestContext, memoryID string, p UpdateParams) (*domain.Memory, error) {
	if !rc.Valid() {
		return nil, apperr.Invalid("request context missing tenant")
	}
	if err := validateUpdate(p); err != nil {
		return nil, err
	}
	m, err := s.store.Memories.Get(ctx, rc, memoryID)
	if err != nil {
		return nil, err
	}
	if !canModify(rc, m) {
		return nil, apperr.Forbidden("not permitted to modify this memory")
	}

	contentChanged := false
	if p.Content != nil && *p.Content != m.Content {
		m.Content = *p.Content
		contentChanged = true
	}
	if p.Title != nil {
		m.Title = *p.Title
	}
	if p.Tags != nil {
		m.Tags = append([]string(nil), p.Tags...)
	}
	if p.Metadata != nil {
		m.Metadata = p.Metadata
	}
	if p.Visibility != nil {
		m.Visibility = *p.Visibility
	}
	m.CurrentVersion++
	m.UpdatedAt = time.Now().UTC()

	if err := s.store.Memories.Update(ctx, rc, m); err != nil {
		return nil, err
	}
	var changedBy *string
	if rc.UserID != "" {
		changedBy = &rc.UserID
	}
	if err := s.versions.Append(ctx, m.ID, m, changedBy, domain.ChangeUpdate, ""); err != nil {
		return nil, err
	}

	if contentChanged || p.RegenerateEmbedding {
		s.enqueueEmbedding(ctx, m, true)
	}

	s.cache.InvalidatePattern(ctx, cacheKeyMemory(m.ID))
	s.invalidateListAndSearch(ctx, rc.TenantID)
	s.bus.Publish(eventbus.Event{Type: eventbus.MemoryUpdated, TenantID: rc.TenantID, Payload: m})

	return m, nil
}

// UpdateOrMerge implements §4.4 update_or_merge(memory_id, new_content,
// new_tags, strategy): reconcile newly observed content into an existing
// memory under the given MergeStrategy, union the tag sets, and append one
// update-typed MemoryVersion. Tags memorylane/memorylane-auto on either the
// existing memory or the incoming tag set are the §4.4 auto-merge override:
// they force the append strategy regardless of what the caller requested.
func (s *Service) UpdateOrMerge(ctx context.Context, rc store.RequestContext, memoryID, newContent string, newTags []string, strategy dedupe.MergeStrategy) (*domain.Memory, error) {
	if !rc.Valid() {
		return nil, apperr.Invalid("request context missing tenant")
	}
	if newContent == "" {
		return nil, apperr.Invalid("content must not be empty")
	}
	m, err := s.store.Memories.Get(ctx, rc, memoryID)
	if err != nil {
		return nil, err
	}
	if !canModify(rc, m) {
		return nil, apperr.Forbidden("not permitted to modify this memory")
	}

	if strategy == "" {
		strategy = dedupe.MergeSmart
	}
	if hasAutoMergeTag(m.Tags) || hasAutoMergeTag(newTags) {
		strategy = dedupe.MergeAutoMemorylane
	}

	m.Content = dedupe.Merge(strategy, m, newContent)
	m.Tags = unionTags(m.Tags, newTags)
	m.CurrentVersion++
	m.UpdatedAt = time.Now().UTC()

	if err := s.store.Memories.Update(ctx, rc, m); err != nil {
		return nil, err
	}
	var changedBy *string
	if rc.UserID != "" {
		changedBy = &rc.UserID
	}
	if err := s.versions.Append(ctx, m.ID, m, changedBy, domain.ChangeUpdate, "merge:"+string(strategy)); err != nil {
		return nil, err
	}

	s.enqueueEmbedding(ctx, m, true)

	s.cache.InvalidatePattern(ctx, cacheKeyMemory(m.ID))
	s.invalidateListAndSearch(ctx, rc.TenantID)
	s.bus.Publish(eventbus.Event{Type: eventbus.MemoryUpdated, TenantID: rc.TenantID, Payload: m})

	return m, nil
}

func hasAutoMergeTag(tags []string) bool {
	for _, t := range tags {
		switch strings.ToLower(t) {
		case "memorylane", "memorylane-auto":
			return true
		}
	}
	return false
}

func unionTags(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	out := append([]string(nil), existing...)
	for _, t := range existing {
		seen[strings.ToLower(t)] = true
	}
	for _, t := range incoming {
		if t == "" {
			continue
		}
		key := strings.ToLower(t)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}

// Rollback implements §4.10 rollback_to_version as a single atomic
// operation: ownership check, fetch the target snapshot, apply it to the
// live Memory, and append exactly one change_type=rollback MemoryVersion —
// never a separate append for the snapshot plus a second one for the
// resulting update, which would double-count against current_version.
func (s *Service) Rollback(ctx context.Context, rc store.RequestContext, memoryID string, version int, reason string) (*domain.Memory, error) {
	if !rc.Valid() {
		return nil, apperr.Invalid("request context missing tenant")
	}
	m, err := s.store.Memories.Get(ctx, rc, memoryID)
	if err != nil {
		return nil, err
	}
	if !canModify(rc, m) {
		return nil, apperr.Forbidden("not permitted to modify this memory")
	}
	target, err := s.versions.Get(ctx, memoryID, version)
	if err != nil {
		return nil, err
	}

	m.Content = target.Content
	m.Title = target.Title
	m.Tags = append([]string(nil), target.Tags...)
	m.Metadata = target.Metadata
	m.CurrentVersion++
	m.UpdatedAt = time.Now().UTC()

	if err := s.store.Memories.Update(ctx, rc, m); err != nil {
		return nil, err
	}
	var changedBy *string
	if rc.UserID != "" {
		changedBy = &rc.UserID
	}
	if err := s.versions.Append(ctx, m.ID, m, changedBy, domain.ChangeRollback, reason); err != nil {
		return nil, err
	}

	s.enqueueEmbedding(ctx, m, true)

	s.cache.InvalidatePattern(ctx, cacheKeyMemory(m.ID))
	s.invalidateListAndSearch(ctx, rc.TenantID)
	s.bus.Publish(eventbus.Event{Type: eventbus.MemoryUpdated, TenantID: rc.TenantID, Payload: m})

	return m, nil
}

// Delete implements §4.1 delete(): ownership check, cascade attachments,
// invalidate, publish. MemoryVersion history is retained (§4.10 policy).
func (s *Service) Delete(ctx context.Context, rc store.RequestContext, memoryID string) error {
	if !rc.Valid() {
		return apperr.Invalid("request context missing tenant")
	}
	m, err := s.store.Memories.Get(ctx, rc, memoryID)
	if err != nil {
		return err
	}
	if !canModify(rc, m) {
		return apperr.Forbidden("not permitted to delete this memory")
	}

	if err := s.store.Attachments.DeleteByMemory(ctx, memoryID); err != nil {
		return err
	}
	if err := s.store.Memories.Delete(ctx, rc, memoryID); err != nil {
		return err
	}
	if s.vectors != nil {
		if err := s.vectors.Delete(ctx, memoryID); err != nil {
			s.log.Warn().Err(err).Str("memory_id", memoryID).Msg("vector store delete mirror failed")
		}
	}

	s.cache.InvalidatePattern(ctx, cacheKeyMemory(memoryID))
	s.invalidateListAndSearch(ctx, rc.TenantID)
	s.bus.Publish(eventbus.Event{Type: eventbus.MemoryDeleted, TenantID: rc.TenantID, Payload: memoryID})
	return nil
}

// AddCorrection implements §4.1 add_correction(): append Correction,
// stamp has_correction, record a correction-typed MemoryVersion, bust cache.
func (s *Service) AddCorrection(ctx context.Context, rc store.RequestContext, memoryID, correctedContent, reason string) (*domain.Correction, error) {
	if !rc.Valid() {
		return nil, apperr.Invalid("request context missing tenant")
	}
	if correctedContent == "" {
		return nil, apperr.Invalid("corrected content must not be empty")
	}
	m, err := s.store.Memories.Get(ctx, rc, memoryID)
	if err != nil {
		return nil, err
	}
	if !canModify(rc, m) {
		return nil, apperr.Forbidden("not permitted to correct this memory")
	}

	var correctedBy *string
	if rc.UserID != "" {
		correctedBy = &rc.UserID
	}
	c := &domain.Correction{
		ID:                      fmt.Sprintf("corr-%s-%d", memoryID, time.Now().UTC().UnixNano()),
		MemoryID:                memoryID,
		CorrectedContent:        correctedContent,
		OriginalContentSnapshot: m.Content,
		Reason:                  reason,
		CorrectedBy:             correctedBy,
		CorrectedAt:             time.Now().UTC(),
	}
	if err := s.store.Corrections.Add(ctx, c); err != nil {
		return nil, err
	}

	m.HasCorrection = true
	m.CurrentVersion++
	m.UpdatedAt = time.Now().UTC()
	if err := s.store.Memories.Update(ctx, rc, m); err != nil {
		return nil, err
	}
	if err := s.versions.Append(ctx, m.ID, m, correctedBy, domain.ChangeCorrection, reason); err != nil {
		return nil, err
	}

	s.cache.InvalidatePattern(ctx, cacheKeyMemory(memoryID))
	return c, nil
}

// AddAttachmentFromBytes delegates to the Attachment Service (C9), then
// invalidates the owning memory's cache entry since has_correction/metadata
// views may bundle attachment summaries.
func (s *Service) AddAttachmentFromBytes(ctx context.Context, memoryID, filename, mimeType string, data []byte) (*domain.Attachment, bool, error) {
	a, dup, err := s.attachments.AddFromBytes(ctx, memoryID, filename, mimeType, data)
	if err != nil {
		return nil, false, err
	}
	s.cache.InvalidatePattern(ctx, cacheKeyMemory(memoryID))
	return a, dup, nil
}

func (s *Service) AddAttachmentFromURL(ctx context.Context, memoryID, rawURL string) (*domain.Attachment, bool, error) {
	a, dup, err := s.attachments.AddFromURL(ctx, memoryID, rawURL)
	if err != nil {
		return nil, false, err
	}
	s.cache.InvalidatePattern(ctx, cacheKeyMemory(memoryID))
	return a, dup, nil
}

func (s *Service) ListAttachments(ctx context.Context, memoryID string) ([]*domain.Attachment, error) {
	return s.store.Attachments.List(ctx, memoryID)
}
