package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"memoryhub/internal/apperr"
	"memoryhub/internal/domain"
)

type pgAttachmentRepo struct{ pool *pgxpool.Pool }

func NewAttachmentRepo(pool *pgxpool.Pool) AttachmentRepo { return &pgAttachmentRepo{pool: pool} }

func (r *pgAttachmentRepo) Insert(ctx context.Context, a *domain.Attachment) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO attachments(id, memory_id, filename, mime_type, file_size, file_hash, storage_path,
	upload_status, processing_status, extracted_text, extracted_metadata, content_description,
	thumbnail_path, content_embedding, embedding_model, error_message, created_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
ON CONFLICT (memory_id, file_hash) DO NOTHING`,
		a.ID, a.MemoryID, a.Filename, a.MimeType, a.FileSize, a.FileHash, a.StoragePath,
		string(a.UploadStatus), string(a.ProcessingStatus), a.ExtractedText, jsonOrEmpty(a.ExtractedMetadata),
		a.ContentDescription, a.ThumbnailPath, vectorOrNil(a.ContentEmbedding), a.EmbeddingModel,
		a.ErrorMessage, a.CreatedAt)
	if err != nil {
		return apperr.Internal("insert attachment", err)
	}
	return nil
}

func (r *pgAttachmentRepo) Get(ctx context.Context, id string) (*domain.Attachment, error) {
	row := r.pool.QueryRow(ctx, attachmentSelect+` WHERE id=$1`, id)
	a, err := scanAttachment(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.NotFound("attachment not found")
		}
		return nil, apperr.Internal("get attachment", err)
	}
	return a, nil
}

func (r *pgAttachmentRepo) ByHash(ctx context.Context, memoryID, fileHash string) (*domain.Attachment, error) {
	row := r.pool.QueryRow(ctx, attachmentSelect+` WHERE memory_id=$1 AND file_hash=$2`, memoryID, fileHash)
	a, err := scanAttachment(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, apperr.Internal("attachment by hash", err)
	}
	return a, nil
}

func (r *pgAttachmentRepo) List(ctx context.Context, memoryID string) ([]*domain.Attachment, error) {
	rows, err := r.pool.Query(ctx, attachmentSelect+` WHERE memory_id=$1 ORDER BY created_at ASC`, memoryID)
	if err != nil {
		return nil, apperr.Internal("list attachments", err)
	}
	defer rows.Close()
	var out []*domain.Attachment
	for rows.Next() {
		a, err := scanAttachmentRows(rows)
		if err != nil {
			return nil, apperr.Internal("scan attachment", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *pgAttachmentRepo) UpdateProcessing(ctx context.Context, a *domain.Attachment) error {
	_, err := r.pool.Exec(ctx, `
UPDATE attachments SET upload_status=$2, processing_status=$3, extracted_text=$4,
	extracted_metadata=$5, content_description=$6, thumbnail_path=$7, content_embedding=$8,
	embedding_model=$9, error_message=$10
WHERE id=$1`,
		a.ID, string(a.UploadStatus), string(a.ProcessingStatus), a.ExtractedText,
		jsonOrEmpty(a.ExtractedMetadata), a.ContentDescription, a.ThumbnailPath,
		vectorOrNil(a.ContentEmbedding), a.EmbeddingModel, a.ErrorMessage)
	if err != nil {
		return apperr.Internal("update attachment processing", err)
	}
	return nil
}

func (r *pgAttachmentRepo) DeleteByMemory(ctx context.Context, memoryID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM attachments WHERE memory_id=$1`, memoryID)
	if err != nil {
		return apperr.Internal("delete attachments by memory", err)
	}
	return nil
}

const attachmentSelect = `
SELECT id, memory_id, filename, mime_type, file_size, file_hash, storage_path, upload_status,
       processing_status, extracted_text, extracted_metadata, content_description, thumbnail_path,
       content_embedding, embedding_model, error_message, created_at
FROM attachments`

func scanAttachment(row pgx.Row) (*domain.Attachment, error) { return scanAttachmentRows(row) }

func scanAttachmentRows(row rowScanner) (*domain.Attachment, error) {
	a := &domain.Attachment{}
	var uploadStatus, processingStatus string
	var extractedMeta map[string]any
	var embedding *vectorScan
	if err := row.Scan(&a.ID, &a.MemoryID, &a.Filename, &a.MimeType, &a.FileSize, &a.FileHash,
		&a.StoragePath, &uploadStatus, &processingStatus, &a.ExtractedText, &extractedMeta,
		&a.ContentDescription, &a.ThumbnailPath, &embedding, &a.EmbeddingModel, &a.ErrorMessage,
		&a.CreatedAt); err != nil {
		return nil, err
	}
	a.UploadStatus = domain.UploadStatus(uploadStatus)
	a.ProcessingStatus = domain.ProcessingStatus(processingStatus)
	a.ExtractedMetadata = extractedMeta
	if embedding != nil {
		a.ContentEmbedding = embedding.values
	}
	return a, nil
}
