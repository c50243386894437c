// Package postgres backs the transcript store with PostgreSQL.
//
// One row per finished session, message history as JSONB. When an embeddings
// provider is configured each saved transcript also carries a pgvector
// embedding of its spoken text, and Search ranks by cosine distance; without
// one, Search falls back to a case-insensitive substring scan.
//
// The pgvector extension must be available in the target database; [Migrate]
// installs it via CREATE EXTENSION IF NOT EXISTS.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddlTranscripts returns the schema DDL with the embedding dimension
// substituted. The dimension is baked into the column type at creation time;
// changing it later requires a manual schema change.
func ddlTranscripts(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS transcripts (
    id            TEXT         PRIMARY KEY,
    session_id    TEXT         NOT NULL,
    activity_kind TEXT         NOT NULL DEFAULT '',
    user_id       TEXT         NOT NULL DEFAULT '',
    language      TEXT         NOT NULL DEFAULT '',
    messages      JSONB        NOT NULL DEFAULT '[]',
    embedding     vector(%d),
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcripts_user_created
    ON transcripts (user_id, created_at DESC);

CREATE INDEX IF NOT EXISTS idx_transcripts_session
    ON transcripts (session_id);

CREATE INDEX IF NOT EXISTS idx_transcripts_embedding
    ON transcripts USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures the transcripts table and its indexes exist.
// It is idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if _, err := pool.Exec(ctx, ddlTranscripts(embeddingDimensions)); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
