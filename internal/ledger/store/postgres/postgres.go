// Package postgres persists the audit chain in PostgreSQL. A unique
// constraint on the block index is the last line of defense against two
// writers racing for the same chain position.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"veritas/internal/domain"
	"veritas/pkg/platform/sentinel"
)

const uniqueViolation = "23505"

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the chain table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS ledger_blocks (
			block_index   BIGINT PRIMARY KEY,
			timestamp_ms  BIGINT NOT NULL,
			previous_hash TEXT NOT NULL,
			ciphertext    BYTEA NOT NULL,
			nonce         BIGINT NOT NULL,
			merkle_root   TEXT NOT NULL,
			hash          TEXT NOT NULL,
			signature     BYTEA NOT NULL,
			source        TEXT NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ensure ledger schema: %w", err)
	}
	return nil
}

func (s *Store) Append(ctx context.Context, block domain.Block) error {
	query := `
		INSERT INTO ledger_blocks
			(block_index, timestamp_ms, previous_hash, ciphertext, nonce, merkle_root, hash, signature, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.db.ExecContext(ctx, query,
		block.Index, block.TimestampMS, block.PreviousHash, block.Ciphertext,
		block.Nonce, block.MerkleRoot, block.Hash, block.Signature, block.Source)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("append block %d: %w", block.Index, sentinel.ErrConflict)
		}
		return fmt.Errorf("append block %d: %w", block.Index, err)
	}
	return nil
}

func (s *Store) Tail(ctx context.Context) (domain.Block, error) {
	query := selectColumns + ` ORDER BY block_index DESC LIMIT 1`
	block, err := scanBlock(s.db.QueryRowContext(ctx, query))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Block{}, sentinel.ErrNotFound
		}
		return domain.Block{}, fmt.Errorf("read tail: %w", err)
	}
	return block, nil
}

func (s *Store) All(ctx context.Context) ([]domain.Block, error) {
	query := selectColumns + ` ORDER BY block_index ASC`
	return s.queryBlocks(ctx, query)
}

func (s *Store) Recent(ctx context.Context, limit int) ([]domain.Block, error) {
	query := selectColumns + ` ORDER BY block_index DESC LIMIT $1`
	return s.queryBlocks(ctx, query, limit)
}

const selectColumns = `
	SELECT block_index, timestamp_ms, previous_hash, ciphertext, nonce, merkle_root, hash, signature, source
	FROM ledger_blocks`

func (s *Store) queryBlocks(ctx context.Context, query string, args ...any) ([]domain.Block, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query blocks: %w", err)
	}
	defer rows.Close()

	var blocks []domain.Block
	for rows.Next() {
		block, err := scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		blocks = append(blocks, block)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate blocks: %w", err)
	}
	return blocks, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBlock(row rowScanner) (domain.Block, error) {
	var block domain.Block
	err := row.Scan(&block.Index, &block.TimestampMS, &block.PreviousHash, &block.Ciphertext,
		&block.Nonce, &block.MerkleRoot, &block.Hash, &block.Signature, &block.Source)
	return block, err
}
