package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/atinyakov/PLMSync/internal/models"
)

const fileColumns = `id, filename, size, content_type, checksum, COALESCE(locked_by, ''), created_by, created_at`

const relationshipColumns = `id, name, source_type, source_id, related_id, created_by, created_at`

// PostgresFileRepository stores file metadata and item relationships in PostgreSQL.
type PostgresFileRepository struct {
	DB *sql.DB
}

// NewPostgresFileRepository returns a file repository on db.
func NewPostgresFileRepository(db *sql.DB) *PostgresFileRepository {
	return &PostgresFileRepository{DB: db}
}

func scanFile(row scanner) (*models.File, error) {
	var f models.File
	if err := row.Scan(&f.ID, &f.Filename, &f.Size, &f.ContentType, &f.Checksum,
		&f.LockedBy, &f.CreatedBy, &f.CreatedAt); err != nil {
		return nil, err
	}
	return &f, nil
}

// CreateFile inserts file metadata.
func (r *PostgresFileRepository) CreateFile(ctx context.Context, f *models.File) error {
	err := r.DB.QueryRowContext(ctx, `
		INSERT INTO files (id, filename, size, content_type, checksum, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, f.ID, f.Filename, f.Size, f.ContentType, f.Checksum, f.CreatedBy).Scan(&f.CreatedAt)
	if err != nil {
		return fmt.Errorf("CreateFile: %w", err)
	}
	return nil
}

// GetFile returns file metadata by ID.
func (r *PostgresFileRepository) GetFile(ctx context.Context, id string) (*models.File, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE id = $1`, id)
	f, err := scanFile(row)
	if err != nil {
		return nil, notFound(err, "file "+id)
	}
	return f, nil
}

// UpdateFileContent records new content metadata of a file locked by user.
func (r *PostgresFileRepository) UpdateFileContent(ctx context.Context, id, user string, size int64, contentType, checksum string) (*models.File, error) {
	row := r.DB.QueryRowContext(ctx, `
		UPDATE files SET size = $1, content_type = $2, checksum = $3
		 WHERE id = $4 AND locked_by = $5
		RETURNING `+fileColumns, size, contentType, checksum, id, user)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := r.GetFile(ctx, id); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("file %s: %w", id, models.ErrNotLocked)
	}
	if err != nil {
		return nil, fmt.Errorf("UpdateFileContent: %w", err)
	}
	return f, nil
}

// LockFile sets the file lock holder to user, reentrantly.
func (r *PostgresFileRepository) LockFile(ctx context.Context, id, user string) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE files SET locked_by = $1
		 WHERE id = $2 AND (locked_by IS NULL OR locked_by = $1)
	`, user, id)
	if err != nil {
		return fmt.Errorf("LockFile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.lockFailure(ctx, id)
	}
	return nil
}

// UnlockFile clears a file lock held by user. An unlocked file stays unlocked.
func (r *PostgresFileRepository) UnlockFile(ctx context.Context, id, user string) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE files SET locked_by = NULL
		 WHERE id = $1 AND (locked_by IS NULL OR locked_by = $2)
	`, id, user)
	if err != nil {
		return fmt.Errorf("UnlockFile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.lockFailure(ctx, id)
	}
	return nil
}

func (r *PostgresFileRepository) lockFailure(ctx context.Context, id string) error {
	var holder string
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(locked_by, '') FROM files WHERE id = $1`, id).Scan(&holder)
	if err != nil {
		return notFound(err, "file "+id)
	}
	return &models.LockConflictError{Holder: holder}
}

// AddRelationship links a file to an item.
func (r *PostgresFileRepository) AddRelationship(ctx context.Context, rel *models.Relationship) error {
	err := r.DB.QueryRowContext(ctx, `
		INSERT INTO relationships (id, name, source_type, source_id, related_id, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, rel.ID, rel.Name, rel.SourceType, rel.SourceID, rel.RelatedID, rel.CreatedBy).Scan(&rel.CreatedAt)
	if err != nil {
		return fmt.Errorf("AddRelationship: %w", err)
	}
	return nil
}

// Relationships lists the named relationships of an item, oldest first.
func (r *PostgresFileRepository) Relationships(ctx context.Context, itemID, name string) ([]models.Relationship, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+relationshipColumns+` FROM relationships
		 WHERE source_id = $1 AND name = $2
		 ORDER BY created_at, id
	`, itemID, name)
	if err != nil {
		return nil, fmt.Errorf("Relationships: %w", err)
	}
	defer rows.Close()

	rels := []models.Relationship{}
	for rows.Next() {
		var rel models.Relationship
		if err := rows.Scan(&rel.ID, &rel.Name, &rel.SourceType, &rel.SourceID, &rel.RelatedID,
			&rel.CreatedBy, &rel.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		rels = append(rels, rel)
	}
	return rels, rows.Err()
}
