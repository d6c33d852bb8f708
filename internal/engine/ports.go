package engine

import (
	"context"
	"io"
	"time"

	"github.com/atinyakov/PLMSync/internal/models"
)

// Registry is the remote document registry the engine drives.
// Implementations must map failures onto the engine error taxonomy:
// ErrNotFound, *AlreadyLockedError, ErrAuthExpired and ErrUnavailable.
type Registry interface {
	// GetItem resolves an item by ID or item number.
	GetItem(ctx context.Context, t models.ItemType, id string) (*models.Item, error)
	// SearchItems returns items whose properties match filter. Values may use % wildcards.
	SearchItems(ctx context.Context, t models.ItemType, filter map[string]string) ([]models.Item, error)
	// LockItem locks the item for the caller and returns the updated item.
	LockItem(ctx context.Context, t models.ItemType, id string) (*models.Item, error)
	// UnlockItem releases the caller's lock.
	UnlockItem(ctx context.Context, t models.ItemType, id string) error

	// GetFile returns file metadata.
	GetFile(ctx context.Context, fileID string) (*models.File, error)
	// RelatedFiles lists the relationships of the given name on the item.
	RelatedFiles(ctx context.Context, t models.ItemType, id, relationship string) ([]models.Relationship, error)
	// CreateFile uploads a new file.
	CreateFile(ctx context.Context, filename string, content io.Reader) (*models.File, error)
	// LockFile locks a file sub-object so its content can be replaced.
	LockFile(ctx context.Context, fileID string) error
	// UnlockFile releases a file sub-object lock.
	UnlockFile(ctx context.Context, fileID string) error
	// UpdateFileContent replaces a locked file's binary, keeping its identity.
	UpdateFileContent(ctx context.Context, fileID string, content io.Reader) (*models.File, error)
	// LinkFile attaches a file to an item using the given method.
	LinkFile(ctx context.Context, t models.ItemType, itemID, fileID string, m LinkMethod) error
	// DownloadFile streams file content into dst.
	DownloadFile(ctx context.Context, fileID string, dst io.Writer) error
}

// CadDocument describes the document open in the CAD tool.
type CadDocument struct {
	Path       string
	Saved      bool
	Properties map[string]string
}

// CadSession is the running CAD authoring tool. Every call may fail with
// ErrCadToolUnavailable when the tool is not running.
type CadSession interface {
	ActiveDocument(ctx context.Context) (*CadDocument, error)
	Save(ctx context.Context) error
	Open(ctx context.Context, path string) error
	Close(ctx context.Context, save bool) error
}

// WorkingCopy is the local metadata kept for a file fetched from the registry.
type WorkingCopy struct {
	Path       string          `json:"path"`
	ItemID     string          `json:"item_id"`
	ItemType   models.ItemType `json:"item_type"`
	ItemNumber string          `json:"item_number"`
	// OriginalFileID is the registry file the local copy was fetched from.
	// Check-in overwrites that file in place while it is still current.
	OriginalFileID string    `json:"original_file_id"`
	ReadOnly       bool      `json:"read_only"`
	FetchedAt      time.Time `json:"fetched_at"`
}

// Workspace stores working copies on local disk.
type Workspace interface {
	// Write replaces path with the bytes produced by fill. The previous
	// content survives when fill fails.
	Write(path string, readOnly bool, fill func(io.Writer) error) error
	// Open opens a working copy for reading.
	Open(path string) (io.ReadCloser, error)
	// Lookup returns the record of itemID in folder, or nil.
	Lookup(folder, itemID string) (*WorkingCopy, error)
	// Put stores rec in folder, replacing any record of the same item.
	Put(folder string, rec WorkingCopy) error
	// Probe returns the first existing folder/base+ext, or "".
	Probe(folder, base string, exts []string) (string, error)
}

// Session identifies the caller. It replaces any process-wide login state.
type Session interface {
	Identity() string
}

// FileChooser asks the user for the working copy of item when it cannot be
// located automatically. An empty path means the user chose nothing.
type FileChooser func(ctx context.Context, item *models.Item) (string, error)
