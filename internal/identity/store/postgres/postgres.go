// Package postgres persists subjects in PostgreSQL over a pgx pool.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"veritas/internal/domain"
	"veritas/pkg/platform/sentinel"
)

const uniqueViolation = "23505"

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the subjects table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS subjects (
			username      TEXT PRIMARY KEY,
			email         TEXT NOT NULL DEFAULT '',
			role          TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			private_key   TEXT NOT NULL UNIQUE,
			risk_score    INT NOT NULL DEFAULT 0,
			active        BOOLEAN NOT NULL DEFAULT TRUE,
			created_at    TIMESTAMPTZ NOT NULL
		)
	`
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure subjects schema: %w", err)
	}
	return nil
}

func (s *Store) Save(ctx context.Context, subject domain.Subject) error {
	query := `
		INSERT INTO subjects (username, email, role, password_hash, private_key, risk_score, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.pool.Exec(ctx, query, subject.Username, subject.Email, string(subject.Role),
		subject.PasswordHash, subject.PrivateKey, subject.RiskScore, subject.Active, subject.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("subject %q: %w", subject.Username, sentinel.ErrConflict)
		}
		return fmt.Errorf("save subject %q: %w", subject.Username, err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, subject domain.Subject) error {
	query := `
		UPDATE subjects
		SET email = $2, role = $3, password_hash = $4, private_key = $5, risk_score = $6, active = $7
		WHERE username = $1
	`
	tag, err := s.pool.Exec(ctx, query, subject.Username, subject.Email, string(subject.Role),
		subject.PasswordHash, subject.PrivateKey, subject.RiskScore, subject.Active)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("subject %q: %w", subject.Username, sentinel.ErrConflict)
		}
		return fmt.Errorf("update subject %q: %w", subject.Username, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("subject %q: %w", subject.Username, sentinel.ErrNotFound)
	}
	return nil
}

func (s *Store) FindByUsername(ctx context.Context, username string) (domain.Subject, error) {
	query := selectColumns + ` WHERE username = $1`
	return s.findOne(ctx, query, username)
}

func (s *Store) FindByPrivateKey(ctx context.Context, privateKey string) (domain.Subject, error) {
	query := selectColumns + ` WHERE private_key = $1`
	return s.findOne(ctx, query, privateKey)
}

const selectColumns = `
	SELECT username, email, role, password_hash, private_key, risk_score, active, created_at
	FROM subjects`

func (s *Store) findOne(ctx context.Context, query string, arg any) (domain.Subject, error) {
	var (
		subject domain.Subject
		role    string
	)
	err := s.pool.QueryRow(ctx, query, arg).Scan(&subject.Username, &subject.Email, &role,
		&subject.PasswordHash, &subject.PrivateKey, &subject.RiskScore, &subject.Active, &subject.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Subject{}, fmt.Errorf("subject: %w", sentinel.ErrNotFound)
		}
		return domain.Subject{}, fmt.Errorf("find subject: %w", err)
	}
	subject.Role = domain.ParseRole(role)
	return subject, nil
}
