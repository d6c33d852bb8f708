package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/atinyakov/PLMSync/internal/models"
)

// fakeRegistry is an in-memory RegistryService with the server's lock rules.
type fakeRegistry struct {
	mu      sync.Mutex
	seq     int
	items   map[string]*models.Item
	files   map[string]*models.File
	content map[string][]byte
	rels    []models.Relationship
	// err, when set, is returned by every call.
	err error
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		items:   map[string]*models.Item{},
		files:   map[string]*models.File{},
		content: map[string][]byte{},
	}
}

func (f *fakeRegistry) nextID(prefix string) string {
	f.seq++
	return prefix + strconv.Itoa(f.seq)
}

func (f *fakeRegistry) find(t models.ItemType, ref string) (*models.Item, error) {
	for _, it := range f.items {
		if it.Type == t && (it.ID == ref || it.ItemNumber == ref) {
			return it, nil
		}
	}
	return nil, fmt.Errorf("%s %s: %w", t, ref, models.ErrNotFound)
}

func (f *fakeRegistry) holder(lockedBy, user string) error {
	switch {
	case lockedBy == "":
		return models.ErrNotLocked
	case lockedBy != user:
		return &models.LockConflictError{Holder: lockedBy}
	}
	return nil
}

func (f *fakeRegistry) CreateItem(_ context.Context, t models.ItemType, number, name string, props map[string]string) (*models.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if !t.Valid() || number == "" {
		return nil, models.ErrInvalid
	}
	if _, err := f.find(t, number); err == nil {
		return nil, fmt.Errorf("item %s: %w", number, models.ErrExists)
	}
	if props == nil {
		props = map[string]string{}
	}
	it := &models.Item{ID: f.nextID("item-"), Type: t, ItemNumber: number, Name: name,
		State: models.StatePreliminary, Revision: "A", Properties: props}
	f.items[it.ID] = it
	cp := *it
	return &cp, nil
}

func (f *fakeRegistry) GetItem(_ context.Context, t models.ItemType, ref string) (*models.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	it, err := f.find(t, ref)
	if err != nil {
		return nil, err
	}
	cp := *it
	return &cp, nil
}

func (f *fakeRegistry) SearchItems(_ context.Context, t models.ItemType, filter map[string]string) ([]models.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := []models.Item{}
	for _, it := range f.items {
		if it.Type != t {
			continue
		}
		if n, ok := filter["item_number"]; ok && n != it.ItemNumber {
			continue
		}
		out = append(out, *it)
	}
	return out, nil
}

func (f *fakeRegistry) SetState(_ context.Context, user string, t models.ItemType, ref, state string) (*models.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	it, err := f.find(t, ref)
	if err != nil {
		return nil, err
	}
	if it.LockedBy != "" && it.LockedBy != user {
		return nil, &models.LockConflictError{Holder: it.LockedBy}
	}
	it.State = state
	cp := *it
	return &cp, nil
}

func (f *fakeRegistry) LockItem(_ context.Context, user string, t models.ItemType, ref string) (*models.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	it, err := f.find(t, ref)
	if err != nil {
		return nil, err
	}
	if it.LockedBy != "" && it.LockedBy != user {
		return nil, &models.LockConflictError{Holder: it.LockedBy}
	}
	it.LockedBy = user
	cp := *it
	return &cp, nil
}

func (f *fakeRegistry) UnlockItem(_ context.Context, user string, t models.ItemType, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	it, err := f.find(t, ref)
	if err != nil {
		return err
	}
	if it.LockedBy != "" && it.LockedBy != user {
		return &models.LockConflictError{Holder: it.LockedBy}
	}
	it.LockedBy = ""
	return nil
}

func (f *fakeRegistry) RelatedFiles(_ context.Context, t models.ItemType, ref, name string) ([]models.Relationship, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	it, err := f.find(t, ref)
	if err != nil {
		return nil, err
	}
	out := []models.Relationship{}
	for _, r := range f.rels {
		if r.SourceID == it.ID && r.Name == name {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRegistry) link(user string, it *models.Item, name, fileID string) (*models.Relationship, error) {
	if err := f.holder(it.LockedBy, user); err != nil {
		return nil, err
	}
	if _, ok := f.files[fileID]; !ok {
		return nil, fmt.Errorf("file %s: %w", fileID, models.ErrNotFound)
	}
	rel := models.Relationship{ID: f.nextID("rel-"), Name: name, SourceType: it.Type,
		SourceID: it.ID, RelatedID: fileID, CreatedBy: user}
	f.rels = append(f.rels, rel)
	return &rel, nil
}

func (f *fakeRegistry) AddRelationship(_ context.Context, user string, t models.ItemType, ref, name, fileID string) (*models.Relationship, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	it, err := f.find(t, ref)
	if err != nil {
		return nil, err
	}
	return f.link(user, it, name, fileID)
}

func (f *fakeRegistry) AddRelationshipByID(_ context.Context, user, name string, t models.ItemType, itemID, fileID string) (*models.Relationship, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	it, ok := f.items[itemID]
	if !ok || it.Type != t {
		return nil, fmt.Errorf("%s %s: %w", t, itemID, models.ErrNotFound)
	}
	return f.link(user, it, name, fileID)
}

func (f *fakeRegistry) SetProperty(_ context.Context, user string, t models.ItemType, ref, name, value string) (*models.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	it, err := f.find(t, ref)
	if err != nil {
		return nil, err
	}
	if err := f.holder(it.LockedBy, user); err != nil {
		return nil, err
	}
	it.Properties[name] = value
	cp := *it
	return &cp, nil
}

func (f *fakeRegistry) CreateFile(_ context.Context, user, filename string, content io.Reader) (*models.File, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	file := &models.File{ID: f.nextID("file-"), Filename: filename, Size: int64(len(data)),
		ContentType: "application/octet-stream", Checksum: "sum", CreatedBy: user}
	f.files[file.ID] = file
	f.content[file.ID] = data
	cp := *file
	return &cp, nil
}

func (f *fakeRegistry) GetFile(_ context.Context, id string) (*models.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	file, ok := f.files[id]
	if !ok {
		return nil, fmt.Errorf("file %s: %w", id, models.ErrNotFound)
	}
	cp := *file
	return &cp, nil
}

func (f *fakeRegistry) OpenFile(ctx context.Context, id string) (*models.File, io.ReadCloser, error) {
	file, err := f.GetFile(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return file, io.NopCloser(bytes.NewReader(f.content[id])), nil
}

func (f *fakeRegistry) UpdateFileContent(_ context.Context, user, id string, content io.Reader) (*models.File, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	file, ok := f.files[id]
	if !ok {
		return nil, fmt.Errorf("file %s: %w", id, models.ErrNotFound)
	}
	if err := f.holder(file.LockedBy, user); err != nil {
		return nil, err
	}
	file.Size = int64(len(data))
	f.content[id] = data
	cp := *file
	return &cp, nil
}

func (f *fakeRegistry) LockFile(_ context.Context, user, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	file, ok := f.files[id]
	if !ok {
		return fmt.Errorf("file %s: %w", id, models.ErrNotFound)
	}
	if file.LockedBy != "" && file.LockedBy != user {
		return &models.LockConflictError{Holder: file.LockedBy}
	}
	file.LockedBy = user
	return nil
}

func (f *fakeRegistry) UnlockFile(_ context.Context, user, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	file, ok := f.files[id]
	if !ok {
		return fmt.Errorf("file %s: %w", id, models.ErrNotFound)
	}
	if file.LockedBy != "" && file.LockedBy != user {
		return &models.LockConflictError{Holder: file.LockedBy}
	}
	file.LockedBy = ""
	return nil
}
