package engine_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atinyakov/PLMSync/internal/engine"
	"github.com/atinyakov/PLMSync/internal/models"
)

// registryState is the shared store behind every fakeRegistry view.
type registryState struct {
	mu    sync.Mutex
	clock time.Time

	items   map[string]*models.Item
	files   map[string]*models.File
	content map[string][]byte
	rels    []models.Relationship

	calls []string

	failLock     error
	failDownload error
	failCreate   error
	failUpdate   error
	failLink     map[engine.LinkKind]error
	failUnlock   error
}

// fakeRegistry is an in-memory registry that enforces item and file locks
// the way the server does, seen as one user. Hooks let a test fail
// individual primitives.
type fakeRegistry struct {
	*registryState
	user string
}

func newFakeRegistry(user string) *fakeRegistry {
	return &fakeRegistry{
		registryState: &registryState{
			clock:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			items:    map[string]*models.Item{},
			files:    map[string]*models.File{},
			content:  map[string][]byte{},
			failLink: map[engine.LinkKind]error{},
		},
		user: user,
	}
}

// as returns a view of the same registry authenticated as user.
func (f *fakeRegistry) as(user string) *fakeRegistry {
	return &fakeRegistry{registryState: f.registryState, user: user}
}

func (f *fakeRegistry) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fakeRegistry) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeRegistry) addItem(t models.ItemType, number, state, lockedBy string) *models.Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	it := &models.Item{
		ID:         uuid.NewString(),
		Type:       t,
		ItemNumber: number,
		Name:       number,
		State:      state,
		LockedBy:   lockedBy,
		Revision:   "A",
		Properties: map[string]string{},
	}
	f.items[it.ID] = it
	return it
}

// attach stores a file and relates it to item under relationship.
func (f *fakeRegistry) attach(item *models.Item, relationship, filename string, data []byte) *models.File {
	f.mu.Lock()
	defer f.mu.Unlock()
	file := f.newFile(filename, data)
	f.rels = append(f.rels, models.Relationship{
		ID: uuid.NewString(), Name: relationship, SourceType: item.Type, SourceID: item.ID,
		RelatedID: file.ID, CreatedAt: f.tick(),
	})
	return file
}

func (f *fakeRegistry) newFile(filename string, data []byte) *models.File {
	file := &models.File{ID: uuid.NewString(), Filename: filename, Size: int64(len(data)), CreatedBy: f.user, CreatedAt: f.tick()}
	f.files[file.ID] = file
	f.content[file.ID] = append([]byte(nil), data...)
	return file
}

func (f *fakeRegistry) find(t models.ItemType, id string) (*models.Item, error) {
	if it, ok := f.items[id]; ok && it.Type == t {
		return it, nil
	}
	for _, it := range f.items {
		if it.Type == t && it.ItemNumber == id {
			return it, nil
		}
	}
	return nil, engine.ErrNotFound
}

func (f *fakeRegistry) item(t models.ItemType, id string) models.Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, err := f.find(t, id)
	if err != nil {
		panic(err)
	}
	cp := *it
	return cp
}

func (f *fakeRegistry) related(itemID string) []models.Relationship {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Relationship
	for _, r := range f.rels {
		if r.SourceID == itemID {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeRegistry) mutations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		switch {
		case len(c) >= 3 && (c[:3] == "get" || c[:3] == "rel" || c[:3] == "sea"):
		default:
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeRegistry) GetItem(_ context.Context, t models.ItemType, id string) (*models.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("get-item %s", id)
	it, err := f.find(t, id)
	if err != nil {
		return nil, err
	}
	cp := *it
	return &cp, nil
}

func (f *fakeRegistry) SearchItems(_ context.Context, t models.ItemType, filter map[string]string) ([]models.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("search %s", t)
	var out []models.Item
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

func (f *fakeRegistry) LockItem(_ context.Context, t models.ItemType, id string) (*models.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("lock-item %s", id)
	if f.failLock != nil {
		return nil, f.failLock
	}
	it, err := f.find(t, id)
	if err != nil {
		return nil, err
	}
	if it.LockedBy != "" && it.LockedBy != f.user {
		return nil, &engine.AlreadyLockedError{Holder: it.LockedBy}
	}
	it.LockedBy = f.user
	cp := *it
	return &cp, nil
}

func (f *fakeRegistry) UnlockItem(_ context.Context, t models.ItemType, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("unlock-item %s", id)
	if f.failUnlock != nil {
		return f.failUnlock
	}
	it, err := f.find(t, id)
	if err != nil {
		return err
	}
	if it.LockedBy != "" && it.LockedBy != f.user {
		return &engine.AlreadyLockedError{Holder: it.LockedBy}
	}
	it.LockedBy = ""
	return nil
}

func (f *fakeRegistry) GetFile(_ context.Context, id string) (*models.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("get-file %s", id)
	file, ok := f.files[id]
	if !ok {
		return nil, engine.ErrNotFound
	}
	cp := *file
	return &cp, nil
}

func (f *fakeRegistry) RelatedFiles(_ context.Context, t models.ItemType, id, name string) ([]models.Relationship, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("rel %s %s", id, name)
	var out []models.Relationship
	for _, r := range f.rels {
		if r.SourceType == t && r.SourceID == id && r.Name == name {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRegistry) CreateFile(_ context.Context, filename string, content io.Reader) (*models.File, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create-file %s", filename)
	if f.failCreate != nil {
		return nil, f.failCreate
	}
	file := f.newFile(filename, data)
	cp := *file
	return &cp, nil
}

func (f *fakeRegistry) LockFile(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("lock-file %s", id)
	file, ok := f.files[id]
	if !ok {
		return engine.ErrNotFound
	}
	if file.LockedBy != "" && file.LockedBy != f.user {
		return &engine.AlreadyLockedError{Holder: file.LockedBy}
	}
	file.LockedBy = f.user
	return nil
}

func (f *fakeRegistry) UnlockFile(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("unlock-file %s", id)
	if file, ok := f.files[id]; ok && file.LockedBy == f.user {
		file.LockedBy = ""
	}
	return nil
}

func (f *fakeRegistry) UpdateFileContent(_ context.Context, id string, content io.Reader) (*models.File, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("update-file %s", id)
	if f.failUpdate != nil {
		return nil, f.failUpdate
	}
	file, ok := f.files[id]
	if !ok {
		return nil, engine.ErrNotFound
	}
	if file.LockedBy != f.user {
		return nil, fmt.Errorf("file %s not locked by %s", id, f.user)
	}
	f.content[id] = data
	file.Size = int64(len(data))
	cp := *file
	return &cp, nil
}

func (f *fakeRegistry) LinkFile(_ context.Context, t models.ItemType, itemID, fileID string, m engine.LinkMethod) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("link %s %s", m.Kind, m.Name)
	if err := f.failLink[m.Kind]; err != nil {
		return err
	}
	it, err := f.find(t, itemID)
	if err != nil {
		return err
	}
	if it.LockedBy != f.user {
		return &engine.AlreadyLockedError{Holder: it.LockedBy}
	}
	if m.Kind == engine.LinkProperty {
		it.Properties[m.Name] = fileID
		return nil
	}
	f.rels = append(f.rels, models.Relationship{
		ID: uuid.NewString(), Name: m.Name, SourceType: t, SourceID: it.ID, RelatedID: fileID, CreatedAt: f.tick(),
	})
	return nil
}

func (f *fakeRegistry) DownloadFile(_ context.Context, id string, dst io.Writer) error {
	f.mu.Lock()
	data, ok := f.content[id]
	fail := f.failDownload
	f.record("download %s", id)
	f.mu.Unlock()
	if fail != nil {
		return fail
	}
	if !ok {
		return engine.ErrNotFound
	}
	_, err := io.Copy(dst, bytes.NewReader(data))
	return err
}

// fakeCad is a CAD session driven by fields.
type fakeCad struct {
	active  *engine.CadDocument
	err     error
	opened  []string
	saved   int
	closed  int
	openErr error
}

func (c *fakeCad) ActiveDocument(context.Context) (*engine.CadDocument, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.active, nil
}

func (c *fakeCad) Save(context.Context) error {
	if c.err != nil {
		return c.err
	}
	c.saved++
	return nil
}

func (c *fakeCad) Open(_ context.Context, path string) error {
	if c.err != nil {
		return c.err
	}
	if c.openErr != nil {
		return c.openErr
	}
	c.opened = append(c.opened, path)
	return nil
}

func (c *fakeCad) Close(context.Context, bool) error {
	if c.err != nil {
		return c.err
	}
	c.closed++
	return nil
}

type staticSession string

func (s staticSession) Identity() string { return string(s) }
