//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"

	"veritas/internal/domain"
	"veritas/internal/identity/store/postgres"
	"veritas/pkg/platform/sentinel"
	"veritas/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	pool  *pgxpool.Pool
	store *postgres.Store
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	ctx := context.Background()
	pg := containers.NewPostgresContainer(s.T())

	pool, err := pgxpool.New(ctx, pg.DSN)
	s.Require().NoError(err)
	s.T().Cleanup(pool.Close)

	s.pool = pool
	s.store = postgres.New(pool)
	s.Require().NoError(s.store.EnsureSchema(ctx))
}

func (s *PostgresStoreSuite) SetupTest() {
	_, err := s.pool.Exec(context.Background(), "TRUNCATE TABLE subjects")
	s.Require().NoError(err)
}

func testSubject(username, key string) domain.Subject {
	return domain.Subject{
		Username:     username,
		Email:        username + "@example.com",
		Role:         domain.RoleUser,
		PasswordHash: "$2a$10$fakehash",
		PrivateKey:   key,
		Active:       true,
		CreatedAt:    time.Now().UTC().Truncate(time.Millisecond),
	}
}

func (s *PostgresStoreSuite) TestSaveAndFind() {
	ctx := context.Background()
	subject := testSubject("alice", "pk_alice")
	s.Require().NoError(s.store.Save(ctx, subject))

	byName, err := s.store.FindByUsername(ctx, "alice")
	s.Require().NoError(err)
	s.Equal(subject.PrivateKey, byName.PrivateKey)
	s.Equal(domain.RoleUser, byName.Role)

	byKey, err := s.store.FindByPrivateKey(ctx, "pk_alice")
	s.Require().NoError(err)
	s.Equal("alice", byKey.Username)
}

func (s *PostgresStoreSuite) TestNotFound() {
	ctx := context.Background()
	_, err := s.store.FindByUsername(ctx, "nobody")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	_, err = s.store.FindByPrivateKey(ctx, "pk_nobody")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestUniqueConstraints() {
	ctx := context.Background()
	s.Require().NoError(s.store.Save(ctx, testSubject("alice", "pk_alice")))

	err := s.store.Save(ctx, testSubject("alice", "pk_other"))
	s.Require().ErrorIs(err, sentinel.ErrConflict)

	err = s.store.Save(ctx, testSubject("bob", "pk_alice"))
	s.Require().ErrorIs(err, sentinel.ErrConflict)
}

func (s *PostgresStoreSuite) TestUpdate() {
	ctx := context.Background()
	subject := testSubject("alice", "pk_alice")
	s.Require().NoError(s.store.Save(ctx, subject))

	subject.RiskScore = 42
	subject.Active = false
	s.Require().NoError(s.store.Update(ctx, subject))

	got, err := s.store.FindByUsername(ctx, "alice")
	s.Require().NoError(err)
	s.Equal(42, got.RiskScore)
	s.False(got.Active)

	err = s.store.Update(ctx, testSubject("ghost", "pk_ghost"))
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}
