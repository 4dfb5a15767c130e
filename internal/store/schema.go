package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates every table and index the core needs if absent. It is
// safe to call on every startup (CREATE ... IF NOT EXISTS throughout),
// matching the teacher's bootstrap-on-construct convention.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, embeddingDim int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS pg_trgm`,
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE EXTENSION IF NOT EXISTS pgcrypto`,

		`CREATE TABLE IF NOT EXISTS tenants (
			id TEXT PRIMARY KEY,
			slug TEXT UNIQUE NOT NULL,
			plan TEXT NOT NULL DEFAULT 'free',
			max_memories INT NOT NULL DEFAULT 10000,
			max_file_size BIGINT NOT NULL DEFAULT 52428800
		)`,

		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL REFERENCES tenants(id),
			email TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'member',
			permissions TEXT[] NOT NULL DEFAULT '{}',
			UNIQUE(tenant_id, email)
		)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			created_by TEXT,
			content TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			tags TEXT[] NOT NULL DEFAULT '{}',
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			visibility TEXT NOT NULL DEFAULT 'private',
			embedding vector(%d),
			embedding_model TEXT NOT NULL DEFAULT '',
			current_version INT NOT NULL DEFAULT 1,
			has_correction BOOLEAN NOT NULL DEFAULT FALSE,
			entities_extracted BOOLEAN NOT NULL DEFAULT FALSE,
			extraction_metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			fingerprint TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, embeddingDim),
		`CREATE INDEX IF NOT EXISTS memories_tenant_created_idx ON memories(tenant_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS memories_tags_gin ON memories USING GIN(tags)`,
		`CREATE INDEX IF NOT EXISTS memories_content_trgm ON memories USING GIN(content gin_trgm_ops)`,
		`CREATE INDEX IF NOT EXISTS memories_title_trgm ON memories USING GIN(title gin_trgm_ops)`,
		`CREATE INDEX IF NOT EXISTS memories_fingerprint_idx ON memories(tenant_id, created_by, fingerprint, created_at)`,

		`CREATE TABLE IF NOT EXISTS memory_versions (
			memory_id TEXT NOT NULL,
			version_number INT NOT NULL,
			content TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			tags TEXT[] NOT NULL DEFAULT '{}',
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			changed_by TEXT,
			change_type TEXT NOT NULL,
			change_reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (memory_id, version_number)
		)`,

		`CREATE TABLE IF NOT EXISTS corrections (
			id TEXT PRIMARY KEY,
			memory_id TEXT NOT NULL,
			corrected_content TEXT NOT NULL,
			original_content_snapshot TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			corrected_by TEXT,
			corrected_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS corrections_memory_idx ON corrections(memory_id, corrected_at DESC)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS attachments (
			id TEXT PRIMARY KEY,
			memory_id TEXT NOT NULL,
			filename TEXT NOT NULL,
			mime_type TEXT NOT NULL,
			file_size BIGINT NOT NULL,
			file_hash TEXT NOT NULL,
			storage_path TEXT NOT NULL,
			upload_status TEXT NOT NULL DEFAULT 'pending',
			processing_status TEXT NOT NULL DEFAULT 'pending',
			extracted_text TEXT NOT NULL DEFAULT '',
			extracted_metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			content_description TEXT NOT NULL DEFAULT '',
			thumbnail_path TEXT NOT NULL DEFAULT '',
			content_embedding vector(%d),
			embedding_model TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE(memory_id, file_hash)
		)`, embeddingDim),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS entities (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			name_lower TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			aliases TEXT[] NOT NULL DEFAULT '{}',
			attributes JSONB NOT NULL DEFAULT '{}'::jsonb,
			occurrence_count INT NOT NULL DEFAULT 1,
			first_seen TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_seen TIMESTAMPTZ NOT NULL DEFAULT now(),
			embedding vector(%d)
		)`, embeddingDim),
		`CREATE INDEX IF NOT EXISTS entities_name_lower_idx ON entities(name_lower)`,
		`CREATE INDEX IF NOT EXISTS entities_aliases_gin ON entities USING GIN(aliases)`,
		`CREATE INDEX IF NOT EXISTS entities_name_trgm ON entities USING GIN(name gin_trgm_ops)`,

		`CREATE TABLE IF NOT EXISTS relations (
			id TEXT PRIMARY KEY,
			from_entity_id TEXT NOT NULL,
			to_entity_id TEXT NOT NULL,
			relation_type TEXT NOT NULL,
			attributes JSONB NOT NULL DEFAULT '{}'::jsonb,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			source_memory_id TEXT,
			UNIQUE(from_entity_id, to_entity_id, relation_type)
		)`,
		`CREATE INDEX IF NOT EXISTS relations_from_idx ON relations(from_entity_id)`,
		`CREATE INDEX IF NOT EXISTS relations_to_idx ON relations(to_entity_id)`,

		`CREATE TABLE IF NOT EXISTS memory_entity_associations (
			memory_id TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			relevance_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			PRIMARY KEY(memory_id, entity_id)
		)`,
		`CREATE INDEX IF NOT EXISTS mea_entity_idx ON memory_entity_associations(entity_id)`,

		`CREATE TABLE IF NOT EXISTS action_items (
			id TEXT PRIMARY KEY,
			memory_id TEXT NOT NULL,
			text TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			priority TEXT NOT NULL DEFAULT '',
			due_date TIMESTAMPTZ
		)`,

		`CREATE TABLE IF NOT EXISTS external_references (
			id TEXT PRIMARY KEY,
			memory_id TEXT NOT NULL,
			reference_type TEXT NOT NULL,
			value TEXT NOT NULL,
			context TEXT NOT NULL DEFAULT '',
			is_valid BOOLEAN NOT NULL DEFAULT TRUE
		)`,

		`CREATE TABLE IF NOT EXISTS conversation_links (
			source_conversation_id TEXT NOT NULL,
			target_conversation_id TEXT NOT NULL,
			link_type TEXT NOT NULL,
			context TEXT NOT NULL DEFAULT '',
			PRIMARY KEY(source_conversation_id, target_conversation_id)
		)`,
	}
	for _, s := range stmts {
		if _, err := pool.Exec(ctx, s); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
