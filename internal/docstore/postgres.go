package docstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists documents as JSONB rows in a single documents
// table. All methods are safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Schema is the DDL the store expects. Applied out of band (migrations);
// exposed so operators can inspect it.
const Schema = `
CREATE TABLE IF NOT EXISTS documents (
    id         uuid PRIMARY KEY,
    collection text NOT NULL,
    doc        jsonb NOT NULL,
    created_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS documents_collection_idx ON documents (collection, created_at);`

// NewPostgresStore wraps an existing connection pool.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("docstore: pool must not be nil")
	}
	return &PostgresStore{pool: pool}, nil
}

// Append implements [Store]. The document is serialized to JSON and inserted
// under a fresh UUID.
func (s *PostgresStore) Append(ctx context.Context, collection string, doc any) (string, error) {
	payload, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("%w: encode document: %w", ErrPersistence, err)
	}

	id := uuid.NewString()
	const q = `
		INSERT INTO documents (id, collection, doc)
		VALUES ($1, $2, $3)`

	if _, err := s.pool.Exec(ctx, q, id, collection, payload); err != nil {
		return "", fmt.Errorf("%w: insert into %s: %w", ErrPersistence, collection, err)
	}
	return id, nil
}

// Ping implements [Store].
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("docstore: ping: %w", err)
	}
	return nil
}
