package attachments

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"memoryhub/internal/apperr"
	"memoryhub/internal/domain"
	"memoryhub/internal/objectstore"
	"memoryhub/internal/store"
	"memoryhub/internal/taskqueue"
)

// KindProcess is the taskqueue.Task.Kind a Service registers a handler for.
const KindProcess = "attachment.process"

// Service implements C8's add_attachments surface: hash/dedupe, storage
// write, row insert, and enqueueing the async MIME processor.
type Service struct {
	repo       store.AttachmentRepo
	objects    objectstore.ObjectStore
	downloader *Downloader
	processor  *Processor
	queue      *taskqueue.Queue
	log        zerolog.Logger
}

func NewService(repo store.AttachmentRepo, objects objectstore.ObjectStore, downloader *Downloader, processor *Processor, queue *taskqueue.Queue, log zerolog.Logger) *Service {
	s := &Service{repo: repo, objects: objects, downloader: downloader, processor: processor, queue: queue, log: log}
	queue.RegisterHandler(KindProcess, s.handleProcess)
	return s
}

// AddFromBytes ingests file content already resident in memory (e.g. a
// direct upload), returning the persisted Attachment and whether it was a
// hash duplicate of one already on the memory.
func (s *Service) AddFromBytes(ctx context.Context, memoryID, filename, mimeType string, data []byte) (*domain.Attachment, bool, error) {
	if int64(len(data)) > maxAttachmentBytes {
		return nil, false, apperr.Invalid("attachment exceeds max file size")
	}
	if !mimeAllowed(mimeType) {
		return nil, false, apperr.Invalid("disallowed mime type: " + mimeType)
	}
	return s.ingest(ctx, memoryID, filename, mimeType, data)
}

const maxAttachmentBytes = 50 * 1024 * 1024

// AddFromURL downloads rawURL under the whitelist/size constraints and
// ingests the result.
func (s *Service) AddFromURL(ctx context.Context, memoryID, rawURL string) (*domain.Attachment, bool, error) {
	dl, err := s.downloader.Download(ctx, rawURL)
	if err != nil {
		return nil, false, err
	}
	defer os.Remove(dl.TempPath)

	data, err := os.ReadFile(dl.TempPath)
	if err != nil {
		return nil, false, apperr.Internal("read downloaded file", err)
	}
	return s.ingest(ctx, memoryID, filepath.Base(rawURL), dl.MimeType, data)
}

func (s *Service) ingest(ctx context.Context, memoryID, filename, mimeType string, data []byte) (*domain.Attachment, bool, error) {
	hash := sha256.Sum256(data)
	fileHash := hex.EncodeToString(hash[:])

	if existing, err := s.repo.ByHash(ctx, memoryID, fileHash); err != nil {
		return nil, false, err
	} else if existing != nil {
		return existing, true, nil
	}

	a := &domain.Attachment{
		ID:               uuid.NewString(),
		MemoryID:         memoryID,
		Filename:         filename,
		MimeType:         mimeType,
		FileSize:         int64(len(data)),
		FileHash:         fileHash,
		UploadStatus:     domain.UploadCompleted,
		ProcessingStatus: domain.ProcessingPending,
		CreatedAt:        time.Now().UTC(),
	}
	a.StoragePath = storageKey(a)

	if _, err := s.objects.Put(ctx, a.StoragePath, bytes.NewReader(data), objectstore.PutOptions{ContentType: mimeType}); err != nil {
		a.UploadStatus = domain.UploadFailed
		return nil, false, err
	}

	if err := s.repo.Insert(ctx, a); err != nil {
		return nil, false, err
	}

	if _, err := s.queue.Enqueue(taskqueue.Task{
		Kind:        KindProcess,
		Payload:     processPayload{AttachmentID: a.ID, Data: data},
		Priority:    taskqueue.PriorityNormal,
		MaxAttempts: 3,
	}); err != nil {
		s.log.Warn().Err(err).Str("attachment_id", a.ID).Msg("failed to enqueue attachment processing")
	}

	return a, false, nil
}

func storageKey(a *domain.Attachment) string {
	return "attachments/" + a.MemoryID + "/" + a.ID + "/" + a.Filename
}

type processPayload struct {
	AttachmentID string
	Data         []byte
}

func (s *Service) handleProcess(ctx context.Context, t taskqueue.Task) error {
	payload, ok := t.Payload.(processPayload)
	if !ok {
		return apperr.Internal("malformed attachment process payload", nil)
	}
	a, err := s.repo.Get(ctx, payload.AttachmentID)
	if err != nil {
		return err
	}
	a.ProcessingStatus = domain.ProcessingInProgress
	if err := s.repo.UpdateProcessing(ctx, a); err != nil {
		s.log.Warn().Err(err).Str("attachment_id", a.ID).Msg("failed to mark attachment processing in-progress")
	}

	s.processor.Process(ctx, a, payload.Data)

	return s.repo.UpdateProcessing(ctx, a)
}
