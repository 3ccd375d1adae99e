package ledger

import (
	"context"

	"veritas/internal/domain"
)

// Store is the primary durable chain store.
//
// Error contract:
//   - Tail returns sentinel.ErrNotFound (wrapped) on an empty chain
//   - Append returns sentinel.ErrConflict (wrapped) when a block with the
//     same index already exists; the service's writer lock makes this a
//     should-never-happen guard, not a retry signal
//   - infrastructure failures are returned wrapped with context
type Store interface {
	// Append persists a fully mined and signed block.
	Append(ctx context.Context, block domain.Block) error
	// Tail returns the block with the highest index.
	Tail(ctx context.Context) (domain.Block, error)
	// All returns every block in ascending index order.
	All(ctx context.Context) ([]domain.Block, error)
	// Recent returns up to limit blocks in descending index order.
	Recent(ctx context.Context, limit int) ([]domain.Block, error)
}

// Mirror is the optional secondary sink. Writes are best-effort: the ledger
// never blocks on, or fails because of, a mirror error.
type Mirror interface {
	Save(ctx context.Context, block domain.Block) error
}
