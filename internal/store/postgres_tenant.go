package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"memoryhub/internal/apperr"
	"memoryhub/internal/domain"
)

type pgTenantRepo struct {
	pool *pgxpool.Pool
}

func NewTenantRepo(pool *pgxpool.Pool) TenantRepo {
	return &pgTenantRepo{pool: pool}
}

func (r *pgTenantRepo) Get(ctx context.Context, id string) (*domain.Tenant, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, slug, plan, max_memories, max_file_size FROM tenants WHERE id=$1`, id)
	var t domain.Tenant
	if err := row.Scan(&t.ID, &t.Slug, &t.Plan, &t.Settings.MaxMemories, &t.Settings.MaxFileSize); err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.NotFound("tenant not found")
		}
		return nil, apperr.Internal("get tenant", err)
	}
	return &t, nil
}

func (r *pgTenantRepo) GetUser(ctx context.Context, id string) (*domain.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, tenant_id, email, role, permissions FROM users WHERE id=$1`, id)
	var u domain.User
	if err := row.Scan(&u.ID, &u.TenantID, &u.Email, &u.Role, &u.Permissions); err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.NotFound("user not found")
		}
		return nil, apperr.Internal("get user", err)
	}
	return &u, nil
}
