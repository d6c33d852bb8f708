package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atinyakov/PLMSync/internal/metrics"
	"github.com/atinyakov/PLMSync/internal/models"
	"github.com/atinyakov/PLMSync/internal/vault"
)

// ItemRepository persists items and their locks.
type ItemRepository interface {
	CreateItem(ctx context.Context, it *models.Item) error
	// GetItem resolves ref as an item ID or item number.
	GetItem(ctx context.Context, t models.ItemType, ref string) (*models.Item, error)
	SearchItems(ctx context.Context, t models.ItemType, filter map[string]string) ([]models.Item, error)
	SetState(ctx context.Context, id, state string) (*models.Item, error)
	LockItem(ctx context.Context, id, user string) (*models.Item, error)
	UnlockItem(ctx context.Context, id, user string) error
	SetProperty(ctx context.Context, id, name, value string) error
	// FileOwners returns the items that relate to the file or name it as
	// their native file.
	FileOwners(ctx context.Context, fileID string) ([]models.Item, error)
}

// FileRepository persists file metadata, file locks and relationships.
type FileRepository interface {
	CreateFile(ctx context.Context, f *models.File) error
	GetFile(ctx context.Context, id string) (*models.File, error)
	UpdateFileContent(ctx context.Context, id, user string, size int64, contentType, checksum string) (*models.File, error)
	LockFile(ctx context.Context, id, user string) error
	UnlockFile(ctx context.Context, id, user string) error
	AddRelationship(ctx context.Context, rel *models.Relationship) error
	Relationships(ctx context.Context, itemID, name string) ([]models.Relationship, error)
}

// RegistryService implements the registry primitives: items with
// lifecycle state and locks, vaulted files and item-file links.
type RegistryService struct {
	items    ItemRepository
	files    FileRepository
	vault    vault.Vault
	log      *zap.Logger
	spoolDir string
}

// RegistryOption configures a RegistryService.
type RegistryOption func(*RegistryService)

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) RegistryOption {
	return func(s *RegistryService) { s.log = l }
}

// WithSpoolDir sets where uploads are staged before reaching the vault.
func WithSpoolDir(dir string) RegistryOption {
	return func(s *RegistryService) { s.spoolDir = dir }
}

// NewRegistryService wires the service to its stores.
func NewRegistryService(items ItemRepository, files FileRepository, v vault.Vault, opts ...RegistryOption) *RegistryService {
	s := &RegistryService{items: items, files: files, vault: v, log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func checkType(t models.ItemType) error {
	if !t.Valid() {
		return fmt.Errorf("%w: item type %q", models.ErrInvalid, t)
	}
	return nil
}

// requireHolder passes only when user holds the item lock.
func requireHolder(it *models.Item, user string) error {
	switch it.LockedBy {
	case user:
		return nil
	case "":
		return fmt.Errorf("item %s: %w", it.ItemNumber, models.ErrNotLocked)
	default:
		return &models.LockConflictError{Holder: it.LockedBy}
	}
}

// requireFileOwner passes when user holds the lock of an item the file
// belongs to. A file no item refers to yet belongs to its creator.
func (s *RegistryService) requireFileOwner(ctx context.Context, user string, f *models.File) error {
	owners, err := s.items.FileOwners(ctx, f.ID)
	if err != nil {
		return err
	}
	if len(owners) == 0 {
		if f.CreatedBy == user {
			return nil
		}
		return fmt.Errorf("file %s: %w", f.ID, models.ErrNotLocked)
	}
	var first error
	for i := range owners {
		err := requireHolder(&owners[i], user)
		if err == nil {
			return nil
		}
		if first == nil {
			first = err
		}
	}
	return first
}

func lockOutcome(err error) string {
	var conflict *models.LockConflictError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &conflict):
		return "conflict"
	case errors.Is(err, models.ErrNotLocked):
		return "not_locked"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	}
	return "error"
}

// CreateItem adds an item in the Preliminary state at revision A.
func (s *RegistryService) CreateItem(ctx context.Context, t models.ItemType, number, name string, props map[string]string) (*models.Item, error) {
	if err := checkType(t); err != nil {
		return nil, err
	}
	number = strings.TrimSpace(number)
	if number == "" {
		return nil, fmt.Errorf("%w: empty item number", models.ErrInvalid)
	}
	it := &models.Item{
		ID:         uuid.NewString(),
		Type:       t,
		ItemNumber: number,
		Name:       name,
		State:      models.StatePreliminary,
		Revision:   "A",
		Properties: props,
	}
	if err := s.items.CreateItem(ctx, it); err != nil {
		return nil, err
	}
	return it, nil
}

// GetItem resolves an item by ID or item number.
func (s *RegistryService) GetItem(ctx context.Context, t models.ItemType, ref string) (*models.Item, error) {
	if err := checkType(t); err != nil {
		return nil, err
	}
	return s.items.GetItem(ctx, t, ref)
}

// SearchItems lists items of type t matching filter.
func (s *RegistryService) SearchItems(ctx context.Context, t models.ItemType, filter map[string]string) ([]models.Item, error) {
	if err := checkType(t); err != nil {
		return nil, err
	}
	return s.items.SearchItems(ctx, t, filter)
}

// SetState moves an item to state. An item locked by someone else cannot
// change state.
func (s *RegistryService) SetState(ctx context.Context, user string, t models.ItemType, ref, state string) (*models.Item, error) {
	if strings.TrimSpace(state) == "" {
		return nil, fmt.Errorf("%w: empty state", models.ErrInvalid)
	}
	it, err := s.GetItem(ctx, t, ref)
	if err != nil {
		return nil, err
	}
	if it.Locked() && it.LockedBy != user {
		return nil, &models.LockConflictError{Holder: it.LockedBy}
	}
	return s.items.SetState(ctx, it.ID, state)
}

// LockItem locks the item for user. Locking an item already held by user succeeds.
func (s *RegistryService) LockItem(ctx context.Context, user string, t models.ItemType, ref string) (*models.Item, error) {
	it, err := s.GetItem(ctx, t, ref)
	if err == nil {
		it, err = s.items.LockItem(ctx, it.ID, user)
	}
	metrics.RecordLock("item", "lock", lockOutcome(err))
	if err != nil {
		return nil, err
	}
	s.log.Info("item locked", zap.String("item", it.ItemNumber), zap.String("user", user))
	return it, nil
}

// UnlockItem releases the item lock held by user.
func (s *RegistryService) UnlockItem(ctx context.Context, user string, t models.ItemType, ref string) error {
	it, err := s.GetItem(ctx, t, ref)
	if err == nil {
		err = s.items.UnlockItem(ctx, it.ID, user)
	}
	metrics.RecordLock("item", "unlock", lockOutcome(err))
	if err != nil {
		return err
	}
	s.log.Info("item unlocked", zap.String("item", it.ItemNumber), zap.String("user", user))
	return nil
}

// RelatedFiles lists the item's relationships named name, oldest first.
func (s *RegistryService) RelatedFiles(ctx context.Context, t models.ItemType, ref, name string) ([]models.Relationship, error) {
	it, err := s.GetItem(ctx, t, ref)
	if err != nil {
		return nil, err
	}
	return s.files.Relationships(ctx, it.ID, name)
}

// AddRelationship relates a file to an item locked by user.
func (s *RegistryService) AddRelationship(ctx context.Context, user string, t models.ItemType, ref, name, fileID string) (*models.Relationship, error) {
	it, err := s.GetItem(ctx, t, ref)
	if err != nil {
		return nil, err
	}
	return s.link(ctx, user, it, name, fileID)
}

// AddRelationshipByID relates a file to an item addressed only by its ID.
func (s *RegistryService) AddRelationshipByID(ctx context.Context, user, name string, t models.ItemType, itemID, fileID string) (*models.Relationship, error) {
	it, err := s.GetItem(ctx, t, itemID)
	if err != nil {
		return nil, err
	}
	if it.ID != itemID {
		return nil, fmt.Errorf("item id %s: %w", itemID, models.ErrNotFound)
	}
	return s.link(ctx, user, it, name, fileID)
}

func (s *RegistryService) link(ctx context.Context, user string, it *models.Item, name, fileID string) (*models.Relationship, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: empty relationship name", models.ErrInvalid)
	}
	if err := requireHolder(it, user); err != nil {
		return nil, err
	}
	if _, err := s.files.GetFile(ctx, fileID); err != nil {
		return nil, err
	}
	rel := &models.Relationship{
		ID:         uuid.NewString(),
		Name:       name,
		SourceType: it.Type,
		SourceID:   it.ID,
		RelatedID:  fileID,
		CreatedBy:  user,
	}
	if err := s.files.AddRelationship(ctx, rel); err != nil {
		return nil, err
	}
	return rel, nil
}

// SetProperty writes a direct property of an item locked by user. The
// native file property must name an existing file.
func (s *RegistryService) SetProperty(ctx context.Context, user string, t models.ItemType, ref, name, value string) (*models.Item, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: empty property name", models.ErrInvalid)
	}
	it, err := s.GetItem(ctx, t, ref)
	if err != nil {
		return nil, err
	}
	if err := requireHolder(it, user); err != nil {
		return nil, err
	}
	if name == models.PropertyNativeFile && value != "" {
		if _, err := s.files.GetFile(ctx, value); err != nil {
			return nil, err
		}
	}
	if err := s.items.SetProperty(ctx, it.ID, name, value); err != nil {
		return nil, err
	}
	if it.Properties == nil {
		it.Properties = map[string]string{}
	}
	it.Properties[name] = value
	return it, nil
}

// CreateFile stores content as a new file created by user.
func (s *RegistryService) CreateFile(ctx context.Context, user, filename string, content io.Reader) (*models.File, error) {
	filename = path.Base(strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/"))
	if filename == "" || filename == "." || filename == "/" {
		return nil, fmt.Errorf("%w: empty filename", models.ErrInvalid)
	}
	sp, err := spool(s.spoolDir, content)
	if err != nil {
		return nil, err
	}
	defer sp.Close()

	f := &models.File{
		ID:          uuid.NewString(),
		Filename:    filename,
		Size:        sp.size,
		ContentType: sp.contentType,
		Checksum:    sp.checksum,
		CreatedBy:   user,
	}
	if err := s.vault.Put(ctx, f.ID, sp.file, sp.size, sp.contentType); err != nil {
		return nil, err
	}
	if err := s.files.CreateFile(ctx, f); err != nil {
		if derr := s.vault.Delete(context.WithoutCancel(ctx), f.ID); derr != nil {
			s.log.Warn("failed to remove vault object", zap.String("file", f.ID), zap.Error(derr))
		}
		return nil, err
	}
	metrics.FileBytesStored.Add(float64(sp.size))
	return f, nil
}

// GetFile returns file metadata.
func (s *RegistryService) GetFile(ctx context.Context, id string) (*models.File, error) {
	return s.files.GetFile(ctx, id)
}

// OpenFile returns file metadata and a reader over its content.
func (s *RegistryService) OpenFile(ctx context.Context, id string) (*models.File, io.ReadCloser, error) {
	f, err := s.files.GetFile(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.vault.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return f, rc, nil
}

// UpdateFileContent replaces the content of a file locked by user. The
// user must also hold an item the file belongs to.
func (s *RegistryService) UpdateFileContent(ctx context.Context, user, id string, content io.Reader) (*models.File, error) {
	f, err := s.files.GetFile(ctx, id)
	if err != nil {
		return nil, err
	}
	switch f.LockedBy {
	case user:
	case "":
		return nil, fmt.Errorf("file %s: %w", id, models.ErrNotLocked)
	default:
		return nil, &models.LockConflictError{Holder: f.LockedBy}
	}
	if err := s.requireFileOwner(ctx, user, f); err != nil {
		return nil, err
	}

	sp, err := spool(s.spoolDir, content)
	if err != nil {
		return nil, err
	}
	defer sp.Close()

	prev, err := s.backup(ctx, id)
	if err != nil {
		return nil, err
	}
	defer prev.Close()

	if err := s.vault.Put(ctx, id, sp.file, sp.size, sp.contentType); err != nil {
		return nil, err
	}
	updated, err := s.files.UpdateFileContent(ctx, id, user, sp.size, sp.contentType, sp.checksum)
	if err != nil {
		if rerr := s.vault.Put(context.WithoutCancel(ctx), id, prev.file, prev.size, f.ContentType); rerr != nil {
			s.log.Error("failed to restore vault object", zap.String("file", id), zap.Error(rerr))
		}
		return nil, err
	}
	metrics.FileBytesStored.Add(float64(sp.size))
	return updated, nil
}

// backup spools the current content of a file so a failed replacement
// can put it back.
func (s *RegistryService) backup(ctx context.Context, id string) (*spooled, error) {
	rc, err := s.vault.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return spool(s.spoolDir, rc)
}

// LockFile locks a file for content replacement by user. The user must
// hold an item the file belongs to.
func (s *RegistryService) LockFile(ctx context.Context, user, id string) error {
	f, err := s.files.GetFile(ctx, id)
	if err == nil {
		err = s.requireFileOwner(ctx, user, f)
	}
	if err == nil {
		err = s.files.LockFile(ctx, id, user)
	}
	metrics.RecordLock("file", "lock", lockOutcome(err))
	return err
}

// UnlockFile releases a file lock held by user.
func (s *RegistryService) UnlockFile(ctx context.Context, user, id string) error {
	err := s.files.UnlockFile(ctx, id, user)
	metrics.RecordLock("file", "unlock", lockOutcome(err))
	return err
}
