package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v4/pgxpool"
)

// PostgresSequencer per conversation counter row, one atomic upsert per allocation
type PostgresSequencer struct {
	pool *pgxpool.Pool
}

// NewPostgresSequencer create PostgresSequencer
func NewPostgresSequencer(pool *pgxpool.Pool) *PostgresSequencer {
	return &PostgresSequencer{pool: pool}
}

// EnsureSchema creates the counter table
func (s *PostgresSequencer) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS conversation_sequences (
	conversation_id TEXT PRIMARY KEY,
	seq BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`)
	if err != nil {
		return fmt.Errorf("create conversation_sequences: %w", err)
	}
	return nil
}

// Next allocates the next seq, starting at 1
func (s *PostgresSequencer) Next(ctx context.Context, conversationID string) (int64, error) {
	var seq int64
	err := s.pool.QueryRow(ctx, `
INSERT INTO conversation_sequences (conversation_id, seq) VALUES ($1, 1)
ON CONFLICT (conversation_id) DO UPDATE
	SET seq = conversation_sequences.seq + 1, updated_at = now()
RETURNING seq`, conversationID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("allocate seq: %w", err)
	}
	return seq, nil
}

// MemorySequencer single process counter for development
type MemorySequencer struct {
	mu   sync.Mutex
	seqs map[string]int64
}

// NewMemorySequencer create MemorySequencer
func NewMemorySequencer() *MemorySequencer {
	return &MemorySequencer{seqs: make(map[string]int64)}
}

// Next allocates the next seq, starting at 1
func (s *MemorySequencer) Next(_ context.Context, conversationID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seqs[conversationID]++
	return s.seqs[conversationID], nil
}
