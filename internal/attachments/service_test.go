package attachments

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"memoryhub/internal/config"
	"memoryhub/internal/domain"
	"memoryhub/internal/objectstore"
	"memoryhub/internal/taskqueue"
)

// fakeAttachmentRepo is an in-memory stand-in for store.AttachmentRepo.
// Rows are keyed by attachment ID; ByHash looks a row up by its
// (memory_id, file_hash) pair.
type fakeAttachmentRepo struct {
	mu   sync.Mutex
	rows map[string]*domain.Attachment
}

func newFakeAttachmentRepo() *fakeAttachmentRepo {
	return &fakeAttachmentRepo{rows: make(map[string]*domain.Attachment)}
}

func (r *fakeAttachmentRepo) Insert(ctx context.Context, a *domain.Attachment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	r.rows[a.ID] = &cp
	return nil
}

func (r *fakeAttachmentRepo) Get(ctx context.Context, id string) (*domain.Attachment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (r *fakeAttachmentRepo) ByHash(ctx context.Context, memoryID, fileHash string) (*domain.Attachment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.rows {
		if a.MemoryID == memoryID && a.FileHash == fileHash {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeAttachmentRepo) List(ctx context.Context, memoryID string) ([]*domain.Attachment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Attachment
	for _, a := range r.rows {
		if a.MemoryID == memoryID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeAttachmentRepo) UpdateProcessing(ctx context.Context, a *domain.Attachment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	r.rows[a.ID] = &cp
	return nil
}

func (r *fakeAttachmentRepo) DeleteByMemory(ctx context.Context, memoryID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, a := range r.rows {
		if a.MemoryID == memoryID {
			delete(r.rows, id)
		}
	}
	return nil
}

// fakeObjectStore is an in-memory objectstore.ObjectStore for tests.
type fakeObjectStore struct {
	mu   sync.Mutex
	blob map[string][]byte
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{blob: make(map[string][]byte)}
}

func (f *fakeObjectStore) Get(ctx context.Context, key string) (io.ReadCloser, objectstore.ObjectAttrs, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.blob[key]
	if !ok {
		return nil, objectstore.ObjectAttrs{}, objectstore.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), objectstore.ObjectAttrs{Key: key, Size: int64(len(data))}, nil
}

func (f *fakeObjectStore) Put(ctx context.Context, key string, r io.Reader, opts objectstore.PutOptions) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blob[key] = data
	return "", nil
}

func (f *fakeObjectStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.blob, key)
	return nil
}

func (f *fakeObjectStore) Exists(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.blob[key]
	return ok, nil
}

func newTestService(t *testing.T) (*Service, *fakeAttachmentRepo, *fakeObjectStore) {
	t.Helper()
	repo := newFakeAttachmentRepo()
	objects := newFakeObjectStore()
	q := taskqueue.New(config.TaskQueueConfig{Workers: 1, MaxAttempts: 3, QueueCapacity: 16}, zerolog.Nop())
	processor := NewProcessor(BasicAnalyzer{}, NewNaivePDFPager(), nil, objects)
	downloader := NewDownloader(config.DefaultAttachmentConfig(), config.ProviderRetryConfig{MaxAttempts: 1})
	svc := NewService(repo, objects, downloader, processor, q, zerolog.Nop())
	return svc, repo, objects
}

func TestAddFromBytesDedupesOnHash(t *testing.T) {
	svc, _, objects := newTestService(t)
	ctx := context.Background()

	a1, dup1, err := svc.AddFromBytes(ctx, "mem-1", "note.txt", "text/plain", []byte("hello world"))
	require.NoError(t, err)
	require.False(t, dup1)
	require.NotEmpty(t, a1.ID)

	a2, dup2, err := svc.AddFromBytes(ctx, "mem-1", "note-copy.txt", "text/plain", []byte("hello world"))
	require.NoError(t, err)
	require.True(t, dup2)
	require.Equal(t, a1.ID, a2.ID)

	exists, err := objects.Exists(ctx, a1.StoragePath)
	require.NoError(t, err)
	require.True(t, exists)
}

func TestAddFromBytesRejectsDisallowedMime(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, _, err := svc.AddFromBytes(context.Background(), "mem-1", "archive.zip", "application/zip", []byte{0x50, 0x4b})
	require.Error(t, err)
}

func TestAddFromBytesRejectsOversize(t *testing.T) {
	svc, _, _ := newTestService(t)
	big := make([]byte, maxAttachmentBytes+1)
	_, _, err := svc.AddFromBytes(context.Background(), "mem-1", "big.txt", "text/plain", big)
	require.Error(t, err)
}
