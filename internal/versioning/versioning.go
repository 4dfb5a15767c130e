// Package versioning implements C11: every Memory mutation appends an
// immutable MemoryVersion row; this package adds the orchestration on top
// of store.VersionRepo's CRUD primitives — history, point lookups, diffing,
// and pruning (§4.10). Rollback itself is done by memoryservice through
// Append.
package versioning

import (
	"context"
	"fmt"

	"memoryhub/internal/apperr"
	"memoryhub/internal/domain"
	"memoryhub/internal/store"
)

// Service orchestrates MemoryVersion reads/writes on top of a VersionRepo.
type Service struct {
	versions store.VersionRepo
}

func New(versions store.VersionRepo) *Service {
	return &Service{versions: versions}
}

// Append writes the next version_number for memoryID. Callers are
// responsible for the memory-mutation transaction itself (§5 transaction
// discipline); this only appends the version row.
func (s *Service) Append(ctx context.Context, memoryID string, m *domain.Memory, changedBy *string, changeType domain.ChangeType, reason string) error {
	latest, err := s.versions.History(ctx, memoryID, 1)
	if err != nil {
		return err
	}
	next := 1
	if len(latest) > 0 {
		next = latest[0].VersionNumber + 1
	}
	v := &domain.MemoryVersion{
		MemoryID:      memoryID,
		VersionNumber: next,
		Content:       m.Content,
		Title:         m.Title,
		Tags:          append([]string(nil), m.Tags...),
		Metadata:      cloneMetadata(m.Metadata),
		ChangedBy:     changedBy,
		ChangeType:    changeType,
		ChangeReason:  reason,
	}
	return s.versions.Append(ctx, v)
}

// History implements get_version_history(memory_id, limit).
func (s *Service) History(ctx context.Context, memoryID string, limit int) ([]*domain.MemoryVersion, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	return s.versions.History(ctx, memoryID, limit)
}

// Get implements get_specific_version(memory_id, v).
func (s *Service) Get(ctx context.Context, memoryID string, version int) (*domain.MemoryVersion, error) {
	v, err := s.versions.Get(ctx, memoryID, version)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, apperr.NotFound("version not found")
	}
	return v, nil
}

// FieldDiff is one row of a compare_versions result.
type FieldDiff struct {
	Field   string `json:"field"`
	V1Value any    `json:"v1Value"`
	V2Value any    `json:"v2Value"`
	Changed bool   `json:"changed"`
}

// Compare implements compare_versions(memory_id, v1, v2): a field-by-field
// diff of {content, title, tags, metadata}, grounded verbatim on
// memory_versioning.py's comparison shape.
func (s *Service) Compare(ctx context.Context, memoryID string, v1, v2 int) ([]FieldDiff, error) {
	a, err := s.Get(ctx, memoryID, v1)
	if err != nil {
		return nil, err
	}
	b, err := s.Get(ctx, memoryID, v2)
	if err != nil {
		return nil, err
	}
	return []FieldDiff{
		{Field: "content", V1Value: a.Content, V2Value: b.Content, Changed: a.Content != b.Content},
		{Field: "title", V1Value: a.Title, V2Value: b.Title, Changed: a.Title != b.Title},
		{Field: "tags", V1Value: a.Tags, V2Value: b.Tags, Changed: !stringSliceEqual(a.Tags, b.Tags)},
		{Field: "metadata", V1Value: a.Metadata, V2Value: b.Metadata, Changed: !metadataEqual(a.Metadata, b.Metadata)},
	}, nil
}

// Prune keeps the most recent keepMostRecent versions for memoryID; the
// current version is never removed (enforced by VersionRepo.Prune itself).
func (s *Service) Prune(ctx context.Context, memoryID string, keepMostRecent int) error {
	if keepMostRecent < 1 {
		keepMostRecent = 1
	}
	return s.versions.Prune(ctx, memoryID, keepMostRecent)
}

func cloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func stringSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func metadataEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		bv, ok := b[k]
		if !ok {
			return false
		}
		if fmt.Sprintf("%v", v) != fmt.Sprintf("%v", bv) {
			return false
		}
	}
	return true
}
