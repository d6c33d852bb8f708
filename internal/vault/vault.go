// Package vault stores file content for the registry server. Objects are
// keyed by file ID; metadata lives in the database.
package vault

import (
	"context"
	"fmt"
	"io"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/atinyakov/PLMSync/internal/config"
)

// Vault is a flat object store.
type Vault interface {
	// Put stores content under key, replacing any previous object.
	Put(ctx context.Context, key string, content io.ReadSeeker, size int64, contentType string) error
	// Get opens the object under key. A missing object yields models.ErrNotFound.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the object under key. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error
}

// Open builds the vault selected by opts.
func Open(ctx context.Context, opts config.VaultOptions) (Vault, error) {
	switch opts.Kind {
	case "fs":
		return NewFS(osfs.New(opts.Root)), nil
	case "memory":
		return NewFS(memfs.New()), nil
	case "s3":
		return NewS3(ctx, S3Config{
			Bucket:   opts.Bucket,
			Prefix:   opts.Prefix,
			Region:   opts.Region,
			Endpoint: opts.Endpoint,
		})
	}
	return nil, fmt.Errorf("unknown vault kind %q", opts.Kind)
}
