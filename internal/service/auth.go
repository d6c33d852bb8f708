// Package service holds the registry server business logic. Persistence
// and content storage are reached through interfaces.
package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/atinyakov/PLMSync/internal/models"
)

// AuthRepository defines the persistence operations
// required by the authentication service.
type AuthRepository interface {
	// UserExists returns true if a user with the given login exists.
	UserExists(ctx context.Context, login string) (bool, error)
	// RegisterUser creates a new user record. A taken login yields models.ErrExists.
	RegisterUser(ctx context.Context, login string) error
	// TouchLogin records a login and reports whether the user exists.
	TouchLogin(ctx context.Context, login string) (bool, error)
}

// CertIssuer signs client certificates whose Common Name is the login.
type CertIssuer interface {
	Issue(commonName string) (certPEM, keyPEM []byte, err error)
}

// Service implements registration and login.
type Service struct {
	repo   AuthRepository
	issuer CertIssuer
}

// NewAuthService constructs a Service on repo, issuing certificates with issuer.
func NewAuthService(repo AuthRepository, issuer CertIssuer) *Service {
	return &Service{repo: repo, issuer: issuer}
}

// UserExists checks whether a user with the specified login exists.
func (s *Service) UserExists(ctx context.Context, login string) (bool, error) {
	return s.repo.UserExists(ctx, login)
}

// Register creates the user and returns its PEM certificate and key.
func (s *Service) Register(ctx context.Context, login string) ([]byte, []byte, error) {
	login = strings.TrimSpace(login)
	if login == "" || strings.ContainsAny(login, "/\\") {
		return nil, nil, fmt.Errorf("%w: login %q", models.ErrInvalid, login)
	}
	exists, err := s.repo.UserExists(ctx, login)
	if err != nil {
		return nil, nil, err
	}
	if exists {
		return nil, nil, fmt.Errorf("user %s: %w", login, models.ErrExists)
	}

	certPEM, keyPEM, err := s.issuer.Issue(login)
	if err != nil {
		return nil, nil, fmt.Errorf("issue certificate: %w", err)
	}
	if err := s.repo.RegisterUser(ctx, login); err != nil {
		return nil, nil, err
	}
	return certPEM, keyPEM, nil
}

// Login records a login by the certificate identity. An unknown login
// yields models.ErrNotFound.
func (s *Service) Login(ctx context.Context, login string) error {
	ok, err := s.repo.TouchLogin(ctx, login)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("user %s: %w", login, models.ErrNotFound)
	}
	return nil
}
