package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/go-git/go-billy/v5"

	"github.com/atinyakov/PLMSync/internal/models"
)

// FS keeps objects on a billy filesystem, sharded by the first two
// characters of the key.
type FS struct {
	fs billy.Filesystem
}

// NewFS returns a vault rooted at fs.
func NewFS(fs billy.Filesystem) *FS {
	return &FS{fs: fs}
}

func (v *FS) objectPath(key string) (string, error) {
	if key == "" || key != path.Base(key) || key == "." || key == ".." {
		return "", fmt.Errorf("%w: vault key %q", models.ErrInvalid, key)
	}
	shard := key
	if len(shard) > 2 {
		shard = shard[:2]
	}
	return path.Join(shard, key), nil
}

// Put writes content to a temporary object and renames it into place.
func (v *FS) Put(ctx context.Context, key string, content io.ReadSeeker, _ int64, _ string) error {
	p, err := v.objectPath(key)
	if err != nil {
		return err
	}
	if err := v.fs.MkdirAll(path.Dir(p), 0o755); err != nil {
		return fmt.Errorf("vault mkdir: %w", err)
	}

	tmp := p + ".tmp"
	f, err := v.fs.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("vault create: %w", err)
	}
	if _, err := io.Copy(f, readerWithContext(ctx, content)); err != nil {
		_ = f.Close()
		_ = v.fs.Remove(tmp)
		return fmt.Errorf("vault write: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = v.fs.Remove(tmp)
		return fmt.Errorf("vault close: %w", err)
	}
	if err := v.fs.Rename(tmp, p); err != nil {
		_ = v.fs.Remove(tmp)
		return fmt.Errorf("vault rename: %w", err)
	}
	return nil
}

// Get opens the object for reading.
func (v *FS) Get(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := v.objectPath(key)
	if err != nil {
		return nil, err
	}
	f, err := v.fs.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("vault object %s: %w", key, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("vault open: %w", err)
	}
	return f, nil
}

// Delete removes the object.
func (v *FS) Delete(_ context.Context, key string) error {
	p, err := v.objectPath(key)
	if err != nil {
		return err
	}
	if err := v.fs.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("vault delete: %w", err)
	}
	return nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return ctxReader{ctx: ctx, r: r}
}
