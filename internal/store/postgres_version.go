package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"memoryhub/internal/apperr"
	"memoryhub/internal/domain"
)

type pgVersionRepo struct{ pool *pgxpool.Pool }

func NewVersionRepo(pool *pgxpool.Pool) VersionRepo { return &pgVersionRepo{pool: pool} }

func (r *pgVersionRepo) Append(ctx context.Context, v *domain.MemoryVersion) error {
	_, err := r.pool.Exec(ctx, `
INSERT INTO memory_versions(memory_id, version_number, content, title, tags, metadata,
	changed_by, change_type, change_reason, created_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (memory_id, version_number) DO NOTHING`,
		v.MemoryID, v.VersionNumber, v.Content, v.Title, v.Tags, jsonOrEmpty(v.Metadata),
		v.ChangedBy, string(v.ChangeType), v.ChangeReason, v.CreatedAt)
	if err != nil {
		return apperr.Internal("append memory version", err)
	}
	return nil
}

func (r *pgVersionRepo) History(ctx context.Context, memoryID string, limit int) ([]*domain.MemoryVersion, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
SELECT memory_id, version_number, content, title, tags, metadata, changed_by, change_type,
       change_reason, created_at
FROM memory_versions WHERE memory_id=$1 ORDER BY version_number DESC LIMIT $2`, memoryID, limit)
	if err != nil {
		return nil, apperr.Internal("version history", err)
	}
	defer rows.Close()
	var out []*domain.MemoryVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, apperr.Internal("scan version", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *pgVersionRepo) Get(ctx context.Context, memoryID string, version int) (*domain.MemoryVersion, error) {
	row := r.pool.QueryRow(ctx, `
SELECT memory_id, version_number, content, title, tags, metadata, changed_by, change_type,
       change_reason, created_at
FROM memory_versions WHERE memory_id=$1 AND version_number=$2`, memoryID, version)
	v, err := scanVersion(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.NotFound("memory version not found")
		}
		return nil, apperr.Internal("get memory version", err)
	}
	return v, nil
}

func (r *pgVersionRepo) Count(ctx context.Context, memoryID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM memory_versions WHERE memory_id=$1`, memoryID).Scan(&n)
	if err != nil {
		return 0, apperr.Internal("count memory versions", err)
	}
	return n, nil
}

// Prune deletes all but the keepMostRecent highest version numbers, always
// leaving the current version in place (§4.10: never delete current).
func (r *pgVersionRepo) Prune(ctx context.Context, memoryID string, keepMostRecent int) error {
	if keepMostRecent <= 0 {
		keepMostRecent = 1
	}
	_, err := r.pool.Exec(ctx, `
DELETE FROM memory_versions
WHERE memory_id = $1 AND version_number NOT IN (
	SELECT version_number FROM memory_versions
	WHERE memory_id = $1
	ORDER BY version_number DESC LIMIT $2
)`, memoryID, keepMostRecent)
	if err != nil {
		return apperr.Internal("prune memory versions", err)
	}
	return nil
}

func scanVersion(row rowScanner) (*domain.MemoryVersion, error) {
	v := &domain.MemoryVersion{}
	var changeType string
	var metadata map[string]any
	if err := row.Scan(&v.MemoryID, &v.VersionNumber, &v.Content, &v.Title, &v.Tags, &metadata,
		&v.ChangedBy, &changeType, &v.ChangeReason, &v.CreatedAt); err != nil {
		return nil, err
	}
	v.ChangeType = domain.ChangeType(changeType)
	v.Metadata = metadata
	return v, nil
}
