package semantic

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PgvectorStore implements VectorStore using PostgreSQL with the
// pgvector extension, connected to the URL passed to NewPgvectorStore.
// The server does not read AGENTOVEN_PGVECTOR_URL or construct this
// store; it always uses the embedded store (§4.13).
type PgvectorStore struct {
	pool       *pgxpool.Pool
	dimensions int
}

// NewPgvectorStore connects to connURL and ensures the backing table
// and ANN index exist.
func NewPgvectorStore(ctx context.Context, connURL string, dimensions int) (*PgvectorStore, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("pgvector connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector ping: %w", err)
	}
	s := &PgvectorStore{pool: pool, dimensions: dimensions}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector migrate: %w", err)
	}
	log.Info().Int("dims", dimensions).Msg("pgvector semantic store initialized")
	return s, nil
}

func (s *PgvectorStore) migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;

		CREATE TABLE IF NOT EXISTS ao_artifact_vectors (
			id          TEXT NOT NULL,
			workstream  TEXT NOT NULL,
			artifact_id TEXT NOT NULL DEFAULT '',
			content     TEXT NOT NULL DEFAULT '',
			vector      vector(%d) NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (workstream, id)
		);

		CREATE INDEX IF NOT EXISTS ao_artifact_vectors_ann
			ON ao_artifact_vectors USING ivfflat (vector vector_cosine_ops);
	`, s.dimensions)
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

func (s *PgvectorStore) Kind() string { return "pgvector" }

func (s *PgvectorStore) Close() { s.pool.Close() }

func (s *PgvectorStore) Upsert(ctx context.Context, docs []VectorDoc) error {
	now := time.Now().UTC()
	for _, d := range docs {
		if d.CreatedAt.IsZero() {
			d.CreatedAt = now
		}
		_, err := s.pool.Exec(ctx, `
			INSERT INTO ao_artifact_vectors (id, workstream, artifact_id, content, vector, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (workstream, id) DO UPDATE SET
				artifact_id = EXCLUDED.artifact_id,
				content     = EXCLUDED.content,
				vector      = EXCLUDED.vector
		`, d.ID, d.Workstream, d.ArtifactID, d.Content, vectorLiteral(d.Vector), d.CreatedAt)
		if err != nil {
			return fmt.Errorf("pgvector upsert: %w", err)
		}
	}
	return nil
}

func (s *PgvectorStore) Search(ctx context.Context, workstream string, vector []float64, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		topK = 10
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, artifact_id, content, created_at, 1 - (vector <=> $1) AS score
		FROM ao_artifact_vectors
		WHERE workstream = $2
		ORDER BY vector <=> $1
		LIMIT $3
	`, vectorLiteral(vector), workstream, topK)
	if err != nil {
		return nil, fmt.Errorf("pgvector search: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var d VectorDoc
		var score float64
		if err := rows.Scan(&d.ID, &d.ArtifactID, &d.Content, &d.CreatedAt, &score); err != nil {
			return nil, err
		}
		d.Workstream = workstream
		out = append(out, SearchResult{Doc: d, Score: score})
	}
	return out, rows.Err()
}

func vectorLiteral(v []float64) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(f, 'f', -1, 64)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
