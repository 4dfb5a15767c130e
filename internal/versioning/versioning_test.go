package versioning

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"memoryhub/internal/domain"
)

// fakeVersionRepo is a minimal in-memory store.VersionRepo for tests.
type fakeVersionRepo struct {
	mu   sync.Mutex
	rows map[string][]*domain.MemoryVersion
}

func newFakeVersionRepo() *fakeVersionRepo {
	return &fakeVersionRepo{rows: make(map[string][]*domain.MemoryVersion)}
}

func (f *fakeVersionRepo) Append(ctx context.Context, v *domain.MemoryVersion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *v
	f.rows[v.MemoryID] = append(f.rows[v.MemoryID], &cp)
	return nil
}

func (f *fakeVersionRepo) History(ctx context.Context, memoryID string, limit int) ([]*domain.MemoryVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.rows[memoryID]
	start := 0
	if len(all) > limit {
		start = len(all) - limit
	}
	out := make([]*domain.MemoryVersion, 0, len(all)-start)
	for i := len(all) - 1; i >= start; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (f *fakeVersionRepo) Get(ctx context.Context, memoryID string, version int) (*domain.MemoryVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.rows[memoryID] {
		if v.VersionNumber == version {
			return v, nil
		}
	}
	return nil, nil
}

func (f *fakeVersionRepo) Count(ctx context.Context, memoryID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows[memoryID]), nil
}

func (f *fakeVersionRepo) Prune(ctx context.Context, memoryID string, keepMostRecent int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.rows[memoryID]
	if len(all) <= keepMostRecent {
		return nil
	}
	f.rows[memoryID] = all[len(all)-keepMostRecent:]
	return nil
}

func TestAppendIncrementsVersionNumber(t *testing.T) {
	repo := newFakeVersionRepo()
	svc := New(repo)
	ctx := context.Background()

	m := &domain.Memory{Content: "v1", Title: "t1"}
	require.NoError(t, svc.Append(ctx, "mem-1", m, nil, domain.ChangeCreate, ""))

	m.Content = "v2"
	require.NoError(t, svc.Append(ctx, "mem-1", m, nil, domain.ChangeUpdate, "edited"))

	history, err := svc.History(ctx, "mem-1", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, 2, history[0].VersionNumber)
	require.Equal(t, 1, history[1].VersionNumber)
}

func TestCompareDetectsChangedFields(t *testing.T) {
	repo := newFakeVersionRepo()
	svc := New(repo)
	ctx := context.Background()

	require.NoError(t, svc.Append(ctx, "mem-1", &domain.Memory{Content: "a", Title: "same", Tags: []string{"x"}}, nil, domain.ChangeCreate, ""))
	require.NoError(t, svc.Append(ctx, "mem-1", &domain.Memory{Content: "b", Title: "same", Tags: []string{"x", "y"}}, nil, domain.ChangeUpdate, ""))

	diffs, err := svc.Compare(ctx, "mem-1", 1, 2)
	require.NoError(t, err)
	require.Len(t, diffs, 4)

	byField := make(map[string]FieldDiff, len(diffs))
	for _, d := range diffs {
		byField[d.Field] = d
	}
	require.True(t, byField["content"].Changed)
	require.False(t, byField["title"].Changed)
	require.True(t, byField["tags"].Changed)
}

func TestPruneKeepsMostRecent(t *testing.T) {
	repo := newFakeVersionRepo()
	svc := New(repo)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, svc.Append(ctx, "mem-1", &domain.Memory{Content: "x"}, nil, domain.ChangeUpdate, ""))
	}
	require.NoError(t, svc.Prune(ctx, "mem-1", 2))

	count, err := repo.Count(ctx, "mem-1")
	require.NoError(t, err)
	require.Equal(t, 2, count)

	history, err := svc.History(ctx, "mem-1", 10)
	require.NoError(t, err)
	require.Equal(t, 5, history[0].VersionNumber)
	require.Equal(t, 4, history[1].VersionNumber)
}
