package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/moshi-chat/moshi/internal/transcript"
	"github.com/moshi-chat/moshi/pkg/provider/embeddings"
	"github.com/moshi-chat/moshi/pkg/types"
)

// defaultEmbeddingDimensions sizes the vector column when no embeddings
// provider is configured, so the schema stays stable if one is added later.
const defaultEmbeddingDimensions = 1536

var _ transcript.Store = (*Store)(nil)

// Store is the PostgreSQL transcript store. All operations are safe for
// concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	embedder embeddings.Provider
}

// NewStore connects to the database at dsn, registers pgvector types on every
// connection and runs [Migrate]. embedder may be nil; Save then stores a NULL
// vector and Search scans message text instead.
func NewStore(ctx context.Context, dsn string, embedder embeddings.Provider) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("transcript store: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("transcript store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcript store: ping: %w", err)
	}

	dims := defaultEmbeddingDimensions
	if embedder != nil {
		dims = embedder.Dimensions()
	}
	if err := Migrate(ctx, pool, dims); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcript store: %w", err)
	}

	return &Store{pool: pool, embedder: embedder}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies the database connection, for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Save implements transcript.Store. The embedding is best effort: a failed
// provider call logs a warning and the record is stored without a vector.
func (s *Store) Save(ctx context.Context, t types.Transcript) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	msgs, err := json.Marshal(t.Messages)
	if err != nil {
		return fmt.Errorf("transcript store: encode messages: %w", err)
	}

	var vec any
	if s.embedder != nil {
		if text := spokenText(t); text != "" {
			emb, err := s.embedder.Embed(ctx, text)
			if err != nil {
				slog.Warn("transcript: embedding failed, storing without vector", "session_id", t.SessionID, "err", err)
			} else {
				vec = pgvector.NewVector(emb)
			}
		}
	}

	const q = `
		INSERT INTO transcripts
		    (id, session_id, activity_kind, user_id, language, messages, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
		    session_id    = EXCLUDED.session_id,
		    activity_kind = EXCLUDED.activity_kind,
		    user_id       = EXCLUDED.user_id,
		    language      = EXCLUDED.language,
		    messages      = EXCLUDED.messages,
		    embedding     = EXCLUDED.embedding,
		    created_at    = EXCLUDED.created_at`

	_, err = s.pool.Exec(ctx, q,
		t.ID,
		t.SessionID,
		t.ActivityKind,
		t.UserID,
		t.Language,
		msgs,
		vec,
		t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("transcript store: save: %w", err)
	}
	return nil
}

// List implements transcript.Store.
func (s *Store) List(ctx context.Context, userID string, limit int) ([]types.Transcript, error) {
	if limit <= 0 {
		limit = transcript.DefaultListLimit
	}

	args := []any{}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	q := "SELECT id, session_id, activity_kind, user_id, language, messages, created_at\nFROM transcripts"
	if userID != "" {
		q += "\nWHERE user_id = " + next(userID)
	}
	q += "\nORDER BY created_at DESC\nLIMIT " + next(limit)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("transcript store: list: %w", err)
	}
	return collectTranscripts(rows)
}

// Search implements transcript.Store. With an embeddings provider the query
// is embedded and ranked by cosine distance over the stored vectors; without
// one (or when embedding the query fails) it degrades to a case-insensitive
// substring scan over the message history, newest first.
func (s *Store) Search(ctx context.Context, userID, query string, limit int) ([]types.Transcript, error) {
	if limit <= 0 {
		limit = transcript.DefaultListLimit
	}

	if s.embedder != nil {
		emb, err := s.embedder.Embed(ctx, query)
		if err != nil {
			slog.Warn("transcript: query embedding failed, falling back to text scan", "err", err)
		} else {
			return s.searchByVector(ctx, userID, emb, limit)
		}
	}
	return s.searchByText(ctx, userID, query, limit)
}

func (s *Store) searchByVector(ctx context.Context, userID string, embedding []float32, limit int) ([]types.Transcript, error) {
	args := []any{pgvector.NewVector(embedding)}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"embedding IS NOT NULL"}
	if userID != "" {
		conditions = append(conditions, "user_id = "+next(userID))
	}

	q := "SELECT id, session_id, activity_kind, user_id, language, messages, created_at\n" +
		"FROM transcripts\n" +
		"WHERE " + strings.Join(conditions, " AND ") + "\n" +
		"ORDER BY embedding <=> $1\n" +
		"LIMIT " + next(limit)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("transcript store: vector search: %w", err)
	}
	return collectTranscripts(rows)
}

func (s *Store) searchByText(ctx context.Context, userID, query string, limit int) ([]types.Transcript, error) {
	args := []any{"%" + query + "%"}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"messages::text ILIKE $1"}
	if userID != "" {
		conditions = append(conditions, "user_id = "+next(userID))
	}

	q := "SELECT id, session_id, activity_kind, user_id, language, messages, created_at\n" +
		"FROM transcripts\n" +
		"WHERE " + strings.Join(conditions, " AND ") + "\n" +
		"ORDER BY created_at DESC\n" +
		"LIMIT " + next(limit)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("transcript store: text search: %w", err)
	}
	return collectTranscripts(rows)
}

func collectTranscripts(rows pgx.Rows) ([]types.Transcript, error) {
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.Transcript, error) {
		var (
			t    types.Transcript
			msgs []byte
		)
		if err := row.Scan(
			&t.ID,
			&t.SessionID,
			&t.ActivityKind,
			&t.UserID,
			&t.Language,
			&msgs,
			&t.CreatedAt,
		); err != nil {
			return types.Transcript{}, err
		}
		if err := json.Unmarshal(msgs, &t.Messages); err != nil {
			return types.Transcript{}, fmt.Errorf("decode messages: %w", err)
		}
		return t, nil
	})
	if err != nil {
		return nil, fmt.Errorf("transcript store: scan rows: %w", err)
	}
	if out == nil {
		out = []types.Transcript{}
	}
	return out, nil
}

// spokenText flattens the non-system turns into the text that gets embedded.
func spokenText(t types.Transcript) string {
	var b strings.Builder
	for _, m := range t.Messages {
		if m.Role == types.RoleSystem {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}
