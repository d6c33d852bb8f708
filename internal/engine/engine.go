// Package engine drives check-out, check-in, get-latest and unlock as
// multi-step operations across a remote document registry, the local
// working copy, and an optional CAD session.
//
// The engine owns no durable state. The registry lock is the only session
// marker; working copy metadata lives next to the files. Each operation is a
// blocking sequence of remote calls, each bounded by the call timeout.
// Callers running an interactive loop must offload operations themselves.
package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/PLMSync/internal/models"
)

// DefaultCallTimeout bounds every remote call unless overridden.
const DefaultCallTimeout = 30 * time.Second

// DefaultCadExtensions are probed, in order, when a working copy has to be
// located by item number.
var DefaultCadExtensions = []string{
	".CATPart", ".CATProduct", ".CATDrawing", ".cgr", ".model", ".3dxml", ".stp", ".step", ".igs",
}

// Engine is the synchronization engine. It is safe for concurrent use as
// long as its collaborators are.
type Engine struct {
	registry Registry
	cad      CadSession
	ws       Workspace
	session  Session

	log           *zap.Logger
	callTimeout   time.Duration
	editableState string
	strategies    map[models.ItemType][]LinkMethod
	cadExtensions []string
	chooseFile    FileChooser
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithCallTimeout bounds each remote call. Zero disables the bound.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Engine) { e.callTimeout = d }
}

// WithEditableState sets the only lifecycle state check-in accepts.
func WithEditableState(state string) Option {
	return func(e *Engine) { e.editableState = state }
}

// WithLinkStrategies replaces the link strategy of the given item types.
func WithLinkStrategies(s map[models.ItemType][]LinkMethod) Option {
	return func(e *Engine) {
		for t, methods := range s {
			e.strategies[t] = methods
		}
	}
}

// WithCadExtensions sets the extensions probed when locating working copies.
func WithCadExtensions(exts []string) Option {
	return func(e *Engine) { e.cadExtensions = exts }
}

// WithFileChooser sets the last-resort working copy lookup used by check-in.
func WithFileChooser(f FileChooser) Option {
	return func(e *Engine) { e.chooseFile = f }
}

// New builds an Engine. cad may be nil when no CAD tool integration exists.
func New(reg Registry, cad CadSession, ws Workspace, sess Session, opts ...Option) *Engine {
	e := &Engine{
		registry:      reg,
		cad:           cad,
		ws:            ws,
		session:       sess,
		log:           zap.NewNop(),
		callTimeout:   DefaultCallTimeout,
		editableState: models.StatePreliminary,
		strategies:    DefaultLinkStrategies(),
		cadExtensions: DefaultCadExtensions,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EditableState returns the lifecycle state check-in accepts.
func (e *Engine) EditableState() string {
	return e.editableState
}

func (e *Engine) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.callTimeout)
}

func (e *Engine) getItem(ctx context.Context, t models.ItemType, id string) (*models.Item, error) {
	ctx, cancel := e.bound(ctx)
	defer cancel()
	item, err := e.registry.GetItem(ctx, t, id)
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", t, id, err)
	}
	return item, nil
}

// currentFile resolves the item's current file: the most recently created
// relationship, else a direct file-reference property, else nil.
func (e *Engine) currentFile(ctx context.Context, item *models.Item) (*models.File, error) {
	relationships, properties := fileSources(e.strategies[item.Type])

	var latest *models.Relationship
	for _, name := range relationships {
		rels, err := e.relatedFiles(ctx, item, name)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		for i := range rels {
			if latest == nil || rels[i].CreatedAt.After(latest.CreatedAt) {
				latest = &rels[i]
			}
		}
	}

	fileID := ""
	if latest != nil {
		fileID = latest.RelatedID
	} else {
		for _, name := range properties {
			if v := item.Properties[name]; v != "" {
				fileID = v
				break
			}
		}
	}
	if fileID == "" {
		return nil, nil
	}

	ctx, cancel := e.bound(ctx)
	defer cancel()
	file, err := e.registry.GetFile(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("get file %s: %w", fileID, err)
	}
	return file, nil
}

func (e *Engine) relatedFiles(ctx context.Context, item *models.Item, name string) ([]models.Relationship, error) {
	ctx, cancel := e.bound(ctx)
	defer cancel()
	rels, err := e.registry.RelatedFiles(ctx, item.Type, item.ID, name)
	if err != nil {
		return nil, fmt.Errorf("list %q of %s: %w", name, item.ItemNumber, err)
	}
	return rels, nil
}

// Unlock releases the caller's lock on the item.
func (e *Engine) Unlock(ctx context.Context, itemID string, t models.ItemType) (bool, error) {
	ctx, cancel := e.bound(ctx)
	defer cancel()
	if err := e.registry.UnlockItem(ctx, t, itemID); err != nil {
		e.log.Warn("unlock failed", zap.String("item", itemID), zap.String("type", string(t)), zap.Error(err))
		return false, fmt.Errorf("unlock %s %s: %w", t, itemID, err)
	}
	e.log.Info("unlocked", zap.String("item", itemID), zap.String("type", string(t)))
	return true, nil
}

// Search finds items of type t whose properties match filter.
func (e *Engine) Search(ctx context.Context, t models.ItemType, filter map[string]string) ([]models.Item, error) {
	ctx, cancel := e.bound(ctx)
	defer cancel()
	items, err := e.registry.SearchItems(ctx, t, filter)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", t, err)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ItemNumber < items[j].ItemNumber })
	return items, nil
}

func (e *Engine) cadOpen(ctx context.Context, path string) error {
	if e.cad == nil {
		return &CadError{Op: "open", Err: ErrCadToolUnavailable}
	}
	ctx, cancel := e.bound(ctx)
	defer cancel()
	if err := e.cad.Open(ctx, path); err != nil {
		return &CadError{Op: "open", Err: err}
	}
	return nil
}

func (e *Engine) cadActive(ctx context.Context) (*CadDocument, error) {
	if e.cad == nil {
		return nil, &CadError{Op: "active document", Err: ErrCadToolUnavailable}
	}
	ctx, cancel := e.bound(ctx)
	defer cancel()
	doc, err := e.cad.ActiveDocument(ctx)
	if err != nil {
		return nil, &CadError{Op: "active document", Err: err}
	}
	return doc, nil
}

func (e *Engine) cadSave(ctx context.Context) error {
	if e.cad == nil {
		return &CadError{Op: "save", Err: ErrCadToolUnavailable}
	}
	ctx, cancel := e.bound(ctx)
	defer cancel()
	if err := e.cad.Save(ctx); err != nil {
		return &CadError{Op: "save", Err: err}
	}
	return nil
}

func (e *Engine) cadClose(ctx context.Context, save bool) error {
	if e.cad == nil {
		return &CadError{Op: "close", Err: ErrCadToolUnavailable}
	}
	ctx, cancel := e.bound(ctx)
	defer cancel()
	if err := e.cad.Close(ctx, save); err != nil {
		return &CadError{Op: "close", Err: err}
	}
	return nil
}

// localName picks a safe local filename for a registry file.
func (e *Engine) localName(folder string, item *models.Item, file *models.File) string {
	if name := filepath.Base(file.Filename); file.Filename != "" && name != "." && name != string(filepath.Separator) {
		return name
	}
	if found, err := e.ws.Probe(folder, item.ItemNumber, e.cadExtensions); err == nil && found != "" {
		return filepath.Base(found)
	}
	if len(e.cadExtensions) > 0 && item.Type == models.ItemCAD {
		return item.ItemNumber + e.cadExtensions[0]
	}
	return item.ItemNumber
}
