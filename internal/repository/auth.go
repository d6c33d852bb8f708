// Package repository implements the registry persistence on PostgreSQL.
package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/atinyakov/PLMSync/internal/models"
)

// PostgresAuthRepository stores registered users.
type PostgresAuthRepository struct {
	// DB is the database handle for executing queries.
	DB *sql.DB
}

// NewPostgresAuthRepository creates a PostgresAuthRepository on db.
func NewPostgresAuthRepository(db *sql.DB) *PostgresAuthRepository {
	return &PostgresAuthRepository{DB: db}
}

// UserExists checks whether a user with the specified login exists.
func (s *PostgresAuthRepository) UserExists(ctx context.Context, login string) (bool, error) {
	var exists bool
	err := s.DB.QueryRowContext(
		ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE login = $1)`,
		login,
	).Scan(&exists)
	return exists, err
}

// RegisterUser inserts login. A taken login yields models.ErrExists.
func (s *PostgresAuthRepository) RegisterUser(ctx context.Context, login string) error {
	res, err := s.DB.ExecContext(
		ctx,
		`INSERT INTO users (login) VALUES ($1) ON CONFLICT DO NOTHING`,
		login,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %s: %w", login, models.ErrExists)
	}
	return nil
}

// TouchLogin records a successful login and reports whether the user exists.
func (s *PostgresAuthRepository) TouchLogin(ctx context.Context, login string) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `UPDATE users SET last_login = now() WHERE login = $1`, login)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
