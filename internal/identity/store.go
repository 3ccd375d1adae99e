package identity

import (
	"context"

	"veritas/internal/domain"
)

// Store persists enrolled subjects.
//
// Error contract:
//   - Save of an existing username or private key returns sentinel.ErrConflict.
//   - FindByUsername and FindByPrivateKey return sentinel.ErrNotFound for
//     unknown subjects.
type Store interface {
	Save(ctx context.Context, subject domain.Subject) error
	Update(ctx context.Context, subject domain.Subject) error
	FindByUsername(ctx context.Context, username string) (domain.Subject, error)
	FindByPrivateKey(ctx context.Context, privateKey string) (domain.Subject, error)
}
