// Package workspace keeps working copies of registry files on a local
// filesystem, together with a small JSON index per folder that remembers
// which item and registry file each copy came from.
package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/atinyakov/PLMSync/internal/engine"
)

// IndexFile is the per-folder metadata file name.
const IndexFile = ".plmsync.json"

const (
	writablePerm = 0o644
	readOnlyPerm = 0o444
)

// index is the on-disk layout of IndexFile.
type index struct {
	Records map[string]engine.WorkingCopy `json:"records"`
}

// Store implements engine.Workspace on a billy filesystem.
type Store struct {
	fs billy.Filesystem
	mu sync.Mutex
}

// New returns a Store over fs.
func New(fs billy.Filesystem) *Store {
	return &Store{fs: fs}
}

// NewOS returns a Store over the host filesystem. Paths are used as given.
func NewOS() *Store {
	return New(osfs.New("/"))
}

// Write replaces path with the bytes produced by fill. Content is staged in a
// sibling file and renamed over the target only when fill succeeds.
func (s *Store) Write(path string, readOnly bool, fill func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create folder %s: %w", dir, err)
	}

	perm := os.FileMode(writablePerm)
	if readOnly {
		perm = readOnlyPerm
	}
	staging := path + ".part"
	_ = s.fs.Remove(staging)

	f, err := s.fs.OpenFile(staging, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("create %s: %w", staging, err)
	}
	if err := fill(f); err != nil {
		_ = f.Close()
		_ = s.fs.Remove(staging)
		return err
	}
	if err := f.Close(); err != nil {
		_ = s.fs.Remove(staging)
		return fmt.Errorf("close %s: %w", staging, err)
	}

	if err := s.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		_ = s.fs.Remove(staging)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	if err := s.fs.Rename(staging, path); err != nil {
		return fmt.Errorf("rename %s: %w", staging, err)
	}
	return nil
}

// Open opens a working copy for reading.
func (s *Store) Open(path string) (io.ReadCloser, error) {
	f, err := s.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

// Exists reports whether path exists.
func (s *Store) Exists(path string) (bool, error) {
	_, err := s.fs.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
}

// Probe returns the first existing folder/base+ext, or "" when none exists.
func (s *Store) Probe(folder, base string, exts []string) (string, error) {
	if base == "" {
		return "", nil
	}
	for _, ext := range exts {
		candidate := filepath.Join(folder, base+ext)
		ok, err := s.Exists(candidate)
		if err != nil {
			return "", err
		}
		if ok {
			return candidate, nil
		}
	}
	return "", nil
}

// Lookup returns the working copy record of itemID in folder, or nil.
func (s *Store) Lookup(folder, itemID string) (*engine.WorkingCopy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.load(folder)
	if err != nil {
		return nil, err
	}
	rec, ok := idx.Records[itemID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// Records returns every record kept in folder.
func (s *Store) Records(folder string) ([]engine.WorkingCopy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.load(folder)
	if err != nil {
		return nil, err
	}
	out := make([]engine.WorkingCopy, 0, len(idx.Records))
	for _, rec := range idx.Records {
		out = append(out, rec)
	}
	return out, nil
}

// Put stores rec in folder, replacing any record of the same item.
func (s *Store) Put(folder string, rec engine.WorkingCopy) error {
	if rec.ItemID == "" {
		return errors.New("working copy record without item id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.load(folder)
	if err != nil {
		return err
	}
	idx.Records[rec.ItemID] = rec
	return s.save(folder, idx)
}

// Forget removes the record of itemID from folder.
func (s *Store) Forget(folder, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.load(folder)
	if err != nil {
		return err
	}
	if _, ok := idx.Records[itemID]; !ok {
		return nil
	}
	delete(idx.Records, itemID)
	return s.save(folder, idx)
}

func (s *Store) load(folder string) (*index, error) {
	idx := &index{Records: map[string]engine.WorkingCopy{}}
	data, err := util.ReadFile(s.fs, filepath.Join(folder, IndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return idx, nil
		}
		return nil, fmt.Errorf("read index: %w", err)
	}
	if err := json.Unmarshal(data, idx); err != nil {
		return nil, fmt.Errorf("parse index: %w", err)
	}
	if idx.Records == nil {
		idx.Records = map[string]engine.WorkingCopy{}
	}
	return idx, nil
}

func (s *Store) save(folder string, idx *index) error {
	if err := s.fs.MkdirAll(folder, 0o755); err != nil {
		return fmt.Errorf("create folder %s: %w", folder, err)
	}
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	if err := util.WriteFile(s.fs, filepath.Join(folder, IndexFile), data, writablePerm); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return nil
}
