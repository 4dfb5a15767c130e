package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"memoryhub/internal/apperr"
	"memoryhub/internal/domain"
)

type pgCorrectionRepo struct{ pool *pgxpool.Pool }

func NewCorrectionRepo(pool *pgxpool.Pool) CorrectionRepo { return &pgCorrectionRepo{pool: pool} }

func (r *pgCorrectionRepo) Add(ctx context.Context, c *domain.Correction) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO corrections(id, memory_id, corrected_content, original_content_snapshot, reason,
	corrected_by, corrected_at)
VALUES($1,$2,$3,$4,$5,$6,$7)`,
		c.ID, c.MemoryID, c.CorrectedContent, c.OriginalContentSnapshot, c.Reason, c.CorrectedBy, c.CorrectedAt)
	if err != nil {
		return apperr.Internal("add correction", err)
	}
	return nil
}

func (r *pgCorrectionRepo) Latest(ctx context.Context, memoryID string) (*domain.Correction, error) {
	row := r.pool.QueryRow(ctx, `
SELECT id, memory_id, corrected_content, original_content_snapshot, reason, corrected_by, corrected_at
FROM corrections WHERE memory_id=$1 ORDER BY corrected_at DESC LIMIT 1`, memoryID)
	c := &domain.Correction{}
	err := row.Scan(&c.ID, &c.MemoryID, &c.CorrectedContent, &c.OriginalContentSnapshot, &c.Reason,
		&c.CorrectedBy, &c.CorrectedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, apperr.Internal("latest correction", err)
	}
	return c, nil
}
