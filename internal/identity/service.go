// Package identity manages subject enrollment and credential checks.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"veritas/internal/domain"
	"veritas/internal/identity/secrets"
	dErrors "veritas/pkg/domain-errors"
	"veritas/pkg/platform/sentinel"
)

// Service wraps the subject store with credential handling. Passwords are
// bcrypt-hashed at rest; private keys are stored as issued because they
// must be recoverable as the secret side of the challenge protocol.
type Service struct {
	store  Store
	logger *slog.Logger
	clock  func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithClock overrides the enrollment timestamp source for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func NewService(store Store, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: logger,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register enrolls a new subject. An empty privateKey gets a generated one;
// callers supplying their own key must keep it unique. The issued key is
// returned exactly once, on the enrollment response.
func (s *Service) Register(ctx context.Context, username, email, password string, role domain.Role, privateKey string) (domain.Subject, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return domain.Subject{}, dErrors.New(dErrors.CodeInvalidInput, "username is required")
	}

	hash, err := secrets.Hash(password)
	if err != nil {
		return domain.Subject{}, err
	}
	if privateKey == "" {
		privateKey, err = secrets.GenerateKey()
		if err != nil {
			return domain.Subject{}, fmt.Errorf("identity: generate key: %w", err)
		}
	}

	subject := domain.Subject{
		Username:     username,
		Email:        email,
		Role:         role,
		PasswordHash: hash,
		PrivateKey:   privateKey,
		Active:       true,
		CreatedAt:    s.clock(),
	}
	if err := s.store.Save(ctx, subject); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return domain.Subject{}, dErrors.Wrap(dErrors.CodeConflict, "subject already enrolled", err)
		}
		return domain.Subject{}, fmt.Errorf("identity: save subject: %w", err)
	}
	s.logger.InfoContext(ctx, "subject enrolled", "username", username, "role", role)
	return subject, nil
}

// AuthenticateKey resolves a subject from a presented private key. Disabled
// subjects fail closed with the same error as unknown keys.
func (s *Service) AuthenticateKey(ctx context.Context, privateKey string) (domain.Subject, error) {
	if privateKey == "" {
		return domain.Subject{}, dErrors.New(dErrors.CodeUnauthorized, "private key is required")
	}
	subject, err := s.store.FindByPrivateKey(ctx, privateKey)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return domain.Subject{}, dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
		}
		return domain.Subject{}, fmt.Errorf("identity: lookup by key: %w", err)
	}
	if !subject.Active {
		return domain.Subject{}, dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
	}
	return subject, nil
}

// AuthenticatePassword resolves a subject from username and password.
func (s *Service) AuthenticatePassword(ctx context.Context, username, password string) (domain.Subject, error) {
	subject, err := s.store.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return domain.Subject{}, dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
		}
		return domain.Subject{}, fmt.Errorf("identity: lookup subject: %w", err)
	}
	if !subject.Active {
		return domain.Subject{}, dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
	}
	if err := secrets.Verify(password, subject.PasswordHash); err != nil {
		return domain.Subject{}, dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
	}
	return subject, nil
}

// Lookup fetches a subject by username without credential checks. Used by
// the pipeline after token validation.
func (s *Service) Lookup(ctx context.Context, username string) (domain.Subject, error) {
	subject, err := s.store.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return domain.Subject{}, dErrors.Wrap(dErrors.CodeNotFound, "unknown subject", err)
		}
		return domain.Subject{}, fmt.Errorf("identity: lookup subject: %w", err)
	}
	return subject, nil
}

// RotateKey replaces a subject's private key and returns the new one.
func (s *Service) RotateKey(ctx context.Context, username string) (string, error) {
	subject, err := s.store.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return "", dErrors.Wrap(dErrors.CodeNotFound, "unknown subject", err)
		}
		return "", fmt.Errorf("identity: lookup subject: %w", err)
	}
	key, err := secrets.GenerateKey()
	if err != nil {
		return "", fmt.Errorf("identity: generate key: %w", err)
	}
	subject.PrivateKey = key
	if err := s.store.Update(ctx, subject); err != nil {
		return "", fmt.Errorf("identity: rotate key: %w", err)
	}
	s.logger.InfoContext(ctx, "private key rotated", "username", username)
	return key, nil
}

// Disable soft-disables a subject. The record stays because the ledger
// references subjects by username.
func (s *Service) Disable(ctx context.Context, username string) error {
	subject, err := s.store.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(dErrors.CodeNotFound, "unknown subject", err)
		}
		return fmt.Errorf("identity: lookup subject: %w", err)
	}
	subject.Active = false
	if err := s.store.Update(ctx, subject); err != nil {
		return fmt.Errorf("identity: disable subject: %w", err)
	}
	s.logger.InfoContext(ctx, "subject disabled", "username", username)
	return nil
}

// RecordRisk accumulates a denied verification's score onto the subject.
func (s *Service) RecordRisk(ctx context.Context, username string, score int) error {
	subject, err := s.store.FindByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("identity: lookup subject: %w", err)
	}
	subject.RiskScore += score
	if err := s.store.Update(ctx, subject); err != nil {
		return fmt.Errorf("identity: record risk: %w", err)
	}
	return nil
}

// seedSubject is one bootstrap identity.
type seedSubject struct {
	username   string
	email      string
	password   string
	role       domain.Role
	privateKey string
}

var seedSubjects = []seedSubject{
	{"admin", "admin@example.com", "password123", domain.RoleAdmin, "pk_admin_secret"},
	{"user", "user@example.com", "password123", domain.RoleUser, "pk_user_secret"},
	{"security_officer", "security@corp.com", "password123", domain.RoleAdmin, "pk_security_alpha"},
	{"guest_auditor", "auditor@external.com", "password123", domain.RoleGuest, "pk_guest_delta"},
}

// Seed enrolls the bootstrap identities, skipping any that already exist.
// Intended for development and demo deployments only.
func (s *Service) Seed(ctx context.Context) error {
	for _, seed := range seedSubjects {
		_, err := s.Register(ctx, seed.username, seed.email, seed.password, seed.role, seed.privateKey)
		if err != nil {
			if dErrors.HasCode(err, dErrors.CodeConflict) {
				continue
			}
			return fmt.Errorf("identity: seed %q: %w", seed.username, err)
		}
	}
	return nil
}
