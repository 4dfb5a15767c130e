package memoryservice

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"memoryhub/internal/apperr"
	"memoryhub/internal/attachments"
	"memoryhub/internal/cache"
	"memoryhub/internal/config"
	"memoryhub/internal/dedupe"
	"memoryhub/internal/domain"
	"memoryhub/internal/embedding"
	"memoryhub/internal/eventbus"
	"memoryhub/internal/extractor"
	"memoryhub/internal/graph"
	"memoryhub/internal/objectstore"
	"memoryhub/internal/store"
	"memoryhub/internal/taskqueue"
	"memoryhub/internal/versioning"
)

func newTestService(t *testing.T) (*Service, *store.Store, store.RequestContext) {
	t.Helper()
	st := store.NewMemBackedStore()
	store.SeedTenant(st, &domain.Tenant{ID: "tenant-1", Slug: "t1", Plan: "pro", Settings: domain.TenantSettings{MaxMemories: 100}})

	q := taskqueue.New(config.TaskQueueConfig{Workers: 1, MaxAttempts: 3, QueueCapacity: 16}, zerolog.Nop())
	bus := eventbus.New(nil)
	vs := versioning.New(st.Versions)
	embedder := embedding.NewStubEmbedder(8)
	g := graph.New(st.Entities, st.Relations, st.Associations, embedder)

	objects, err := objectstore.New(context.Background(), config.DefaultAttachmentConfig())
	require.NoError(t, err)
	proc := attachments.NewProcessor(attachments.BasicAnalyzer{}, attachments.NewNaivePDFPager(), embedder, objects)
	dl := attachments.NewDownloader(config.DefaultAttachmentConfig(), config.ProviderRetryConfig{MaxAttempts: 1})
	attSvc := attachments.NewService(st.Attachments, objects, dl, proc, q, zerolog.Nop())

	svc := New(st, cache.NoopCache{}, vs, g, embedder, extractor.NewHeuristicExtractor(), attSvc, nil, q, bus, zerolog.Nop())
	rc := store.RequestContext{TenantID: "tenant-1", UserID: "user-1", Permissions: nil}
	return svc, st, rc
}

func TestCreateInsertsMemoryAndFirstVersion(t *testing.T) {
	svc, st, rc := newTestService(t)

	res, err := svc.Create(context.Background(), rc, CreateParams{Content: "remember the meeting", Async: true})
	require.NoError(t, err)
	require.Equal(t, "created", res.Status)
	require.NotEmpty(t, res.Memory.ID)
	require.Equal(t, 1, res.Memory.CurrentVersion)

	hist, err := st.Versions.History(context.Background(), res.Memory.ID, 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	require.Equal(t, domain.ChangeCreate, hist[0].ChangeType)
}

func TestCreateRejectsEmptyContent(t *testing.T) {
	svc, _, rc := newTestService(t)
	_, err := svc.Create(context.Background(), rc, CreateParams{Content: ""})
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.KindInvalid))
}

func TestCreateDetectsExactDuplicateWithinWindow(t *testing.T) {
	svc, _, rc := newTestService(t)

	first, err := svc.Create(context.Background(), rc, CreateParams{Content: "the sky is blue today"})
	require.NoError(t, err)
	require.Equal(t, "created", first.Status)

	second, err := svc.Create(context.Background(), rc, CreateParams{Content: "the sky is blue today"})
	require.NoError(t, err)
	require.Equal(t, "duplicate_found", second.Status)
	require.Equal(t, first.Memory.ID, second.Existing.ID)
	require.InDelta(t, 1.0, second.Similarity, 0.001)
}

func TestCreateForceBypassesDedupe(t *testing.T) {
	svc, _, rc := newTestService(t)

	_, err := svc.Create(context.Background(), rc, CreateParams{Content: "duplicate content here"})
	require.NoError(t, err)

	second, err := svc.Create(context.Background(), rc, CreateParams{Content: "duplicate content here", Force: true})
	require.NoError(t, err)
	require.Equal(t, "created", second.Status)
}

func TestCreateEnforcesTenantQuota(t *testing.T) {
	svc, st, rc := newTestService(t)
	store.SeedTenant(st, &domain.Tenant{ID: "tenant-1", Slug: "t1", Plan: "free", Settings: domain.TenantSettings{MaxMemories: 1}})

	_, err := svc.Create(context.Background(), rc, CreateParams{Content: "first memory"})
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), rc, CreateParams{Content: "second distinct memory entirely"})
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.KindQuotaExceeded))
}

func TestGetAppliesLatestCorrection(t *testing.T) {
	svc, _, rc := newTestService(t)
	res, err := svc.Create(context.Background(), rc, CreateParams{Content: "the meeting is on 2024-06-15"})
	require.NoError(t, err)

	_, err = svc.AddCorrection(context.Background(), rc, res.Memory.ID, "the meeting is on 2024-06-22", "rescheduled")
	require.NoError(t, err)

	view, err := svc.Get(context.Background(), rc, res.Memory.ID)
	require.NoError(t, err)
	require.True(t, view.HasCorrection)
	require.Equal(t, "the meeting is on 2024-06-22", view.EffectiveContent)
}

func TestGetDeniesCrossUserPrivateMemory(t *testing.T) {
	svc, _, rc := newTestService(t)
	res, err := svc.Create(context.Background(), rc, CreateParams{Content: "a private secret", Visibility: domain.VisibilityPrivate})
	require.NoError(t, err)

	other := store.RequestContext{TenantID: "tenant-1", UserID: "user-2"}
	_, err = svc.Get(context.Background(), other, res.Memory.ID)
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestUpdateChangesContentAndVersion(t *testing.T) {
	svc, st, rc := newTestService(t)
	res, err := svc.Create(context.Background(), rc, CreateParams{Content: "v1"})
	require.NoError(t, err)

	newContent := "v2"
	updated, err := svc.Update(context.Background(), rc, res.Memory.ID, UpdateParams{Content: &newContent})
	require.NoError(t, err)
	require.Equal(t, "v2", updated.Content)
	require.Equal(t, 2, updated.CurrentVersion)

	hist, err := st.Versions.History(context.Background(), res.Memory.ID, 10)
	require.NoError(t, err)
	require.Len(t, hist, 2)
}

func TestUpdateRejectsNonOwner(t *testing.T) {
	svc, _, rc := newTestService(t)
	res, err := svc.Create(context.Background(), rc, CreateParams{Content: "owned by user-1"})
	require.NoError(t, err)

	other := store.RequestContext{TenantID: "tenant-1", UserID: "user-2"}
	newContent := "hijack"
	_, err = svc.Update(context.Background(), other, res.Memory.ID, UpdateParams{Content: &newContent})
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.KindForbidden))
}

func TestRollbackAppendsExactlyOneVersion(t *testing.T) {
	svc, st, rc := newTestService(t)
	res, err := svc.Create(context.Background(), rc, CreateParams{Content: "v1"})
	require.NoError(t, err)

	v2 := "v2"
	_, err = svc.Update(context.Background(), rc, res.Memory.ID, UpdateParams{Content: &v2})
	require.NoError(t, err)
	v3 := "v3"
	_, err = svc.Update(context.Background(), rc, res.Memory.ID, UpdateParams{Content: &v3})
	require.NoError(t, err)

	rolled, err := svc.Rollback(context.Background(), rc, res.Memory.ID, 1, "undo bad edits")
	require.NoError(t, err)
	require.Equal(t, "v1", rolled.Content)
	require.Equal(t, 4, rolled.CurrentVersion)

	hist, err := st.Versions.History(context.Background(), res.Memory.ID, 10)
	require.NoError(t, err)
	require.Len(t, hist, rolled.CurrentVersion)
	require.Equal(t, domain.ChangeRollback, hist[0].ChangeType)
}

func TestRollbackRejectsNonOwner(t *testing.T) {
	svc, _, rc := newTestService(t)
	res, err := svc.Create(context.Background(), rc, CreateParams{Content: "owned by user-1"})
	require.NoError(t, err)

	other := store.RequestContext{TenantID: "tenant-1", UserID: "user-2"}
	_, err = svc.Rollback(context.Background(), other, res.Memory.ID, 1, "hijack")
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.KindForbidden))
}

func TestUpdateOrMergeSmartKeepsLongerSupersetAndUnionsTags(t *testing.T) {
	svc, st, rc := newTestService(t)
	res, err := svc.Create(context.Background(), rc, CreateParams{
		Content: "quarterly roadmap review", Tags: []string{"work"},
	})
	require.NoError(t, err)

	merged, err := svc.UpdateOrMerge(context.Background(), rc, res.Memory.ID,
		"the full quarterly roadmap review notes", []string{"roadmap"}, dedupe.MergeSmart)
	require.NoError(t, err)
	require.Equal(t, "the full quarterly roadmap review notes", merged.Content)
	require.ElementsMatch(t, []string{"work", "roadmap"}, merged.Tags)
	require.Equal(t, 2, merged.CurrentVersion)

	hist, err := st.Versions.History(context.Background(), res.Memory.ID, 10)
	require.NoError(t, err)
	require.Len(t, hist, merged.CurrentVersion)
}

func TestUpdateOrMergeAutoMemorylaneTagForcesAppendRegardlessOfStrategy(t *testing.T) {
	svc, _, rc := newTestService(t)
	res, err := svc.Create(context.Background(), rc, CreateParams{
		Content: "the full quarterly roadmap review notes", Tags: []string{"memorylane"},
	})
	require.NoError(t, err)

	merged, err := svc.UpdateOrMerge(context.Background(), rc, res.Memory.ID,
		"quarterly roadmap review", nil, dedupe.MergeReplace)
	require.NoError(t, err)
	require.Equal(t, "the full quarterly roadmap review notes\n\nquarterly roadmap review", merged.Content)
}

func TestUpdateOrMergeRejectsNonOwner(t *testing.T) {
	svc, _, rc := newTestService(t)
	res, err := svc.Create(context.Background(), rc, CreateParams{Content: "owned by user-1"})
	require.NoError(t, err)

	other := store.RequestContext{TenantID: "tenant-1", UserID: "user-2"}
	_, err = svc.UpdateOrMerge(context.Background(), other, res.Memory.ID, "hijacked content", nil, dedupe.MergeReplace)
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.KindForbidden))
}

func TestDeleteThenGetReturnsNotFound(t *testing.T) {
	svc, _, rc := newTestService(t)
	res, err := svc.Create(context.Background(), rc, CreateParams{Content: "ephemeral"})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), rc, res.Memory.ID))

	_, err = svc.Get(context.Background(), rc, res.Memory.ID)
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.KindNotFound))
}
