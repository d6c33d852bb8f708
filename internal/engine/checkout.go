package engine

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/PLMSync/internal/models"
)

// FetchRequest asks for an item's current file in DestFolder.
type FetchRequest struct {
	ItemID     string
	ItemType   models.ItemType
	DestFolder string
	// OpenInCad hands the downloaded file to the CAD session.
	OpenInCad bool
}

// CheckOut locks the item for the caller and downloads its current file.
//
// The lock is the primary success criterion. Once it is held, download and
// CAD failures are recorded as warnings and the lock is kept, so the user can
// retry or release it explicitly with Unlock.
func (e *Engine) CheckOut(ctx context.Context, req FetchRequest) Result {
	res := newResult(OpCheckOut, req.ItemType, req.ItemID)
	log := e.log.With(zap.String("op", string(OpCheckOut)), zap.String("item", req.ItemID), zap.String("type", string(req.ItemType)))

	item, err := e.getItem(ctx, req.ItemType, req.ItemID)
	if err != nil {
		log.Info("item not resolved", zap.Error(err))
		return res.fail(err)
	}
	res.attach(item)

	if item.Locked() && item.LockedBy != e.session.Identity() {
		log.Info("item locked by another user", zap.String("holder", item.LockedBy))
		return res.fail(&AlreadyLockedError{Holder: item.LockedBy})
	}

	locked, err := e.lockItem(ctx, item)
	if err != nil {
		log.Info("lock refused", zap.Error(err))
		return res.fail(err)
	}
	log.Debug("locked", zap.String("holder", locked.LockedBy))

	if err := e.fetch(ctx, res, locked, req, false, log); err != nil {
		return res.fail(err)
	}
	return res.finish()
}

// GetLatest downloads the item's current file read-only without locking.
// Any lifecycle state is fetchable. Unlike CheckOut, a failed download
// fails the operation: there is no lock to fall back on.
func (e *Engine) GetLatest(ctx context.Context, req FetchRequest) Result {
	res := newResult(OpGetLatest, req.ItemType, req.ItemID)
	log := e.log.With(zap.String("op", string(OpGetLatest)), zap.String("item", req.ItemID), zap.String("type", string(req.ItemType)))

	item, err := e.getItem(ctx, req.ItemType, req.ItemID)
	if err != nil {
		log.Info("item not resolved", zap.Error(err))
		return res.fail(err)
	}
	res.attach(item)

	if err := e.fetch(ctx, res, item, req, true, log); err != nil {
		return res.fail(err)
	}
	for _, w := range res.Warnings {
		if CodeOf(w) == CodeDownloadFailed {
			return res.fail(w)
		}
	}
	return res.finish()
}

func (e *Engine) lockItem(ctx context.Context, item *models.Item) (*models.Item, error) {
	ctx, cancel := e.bound(ctx)
	defer cancel()
	locked, err := e.registry.LockItem(ctx, item.Type, item.ID)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", item.ItemNumber, err)
	}
	if locked.LockedBy != "" && locked.LockedBy != e.session.Identity() {
		return nil, &AlreadyLockedError{Holder: locked.LockedBy}
	}
	return locked, nil
}

// fetch downloads the current file of item into the destination folder.
// Soft failures are recorded on res; the returned error is always hard.
func (e *Engine) fetch(ctx context.Context, res *Result, item *models.Item, req FetchRequest, readOnly bool, log *zap.Logger) error {
	file, err := e.currentFile(ctx, item)
	if err != nil {
		if IsHard(err) && CodeOf(err) != CodeNotFound {
			return err
		}
		log.Warn("current file not resolved", zap.Error(err))
		res.warn(&DownloadFailedError{Err: err})
		return nil
	}
	if file == nil {
		log.Info("no file attached")
		res.NoFileAttached = true
		return nil
	}
	res.RegistryFileID = file.ID

	path := filepath.Join(req.DestFolder, e.localName(req.DestFolder, item, file))
	err = e.ws.Write(path, readOnly, func(w io.Writer) error {
		ctx, cancel := e.bound(ctx)
		defer cancel()
		return e.registry.DownloadFile(ctx, file.ID, w)
	})
	if err != nil {
		if invalidatesState(err) {
			return err
		}
		log.Warn("download failed", zap.String("file", file.ID), zap.Error(err))
		res.warn(&DownloadFailedError{Err: err})
		return nil
	}
	res.LocalPath = path
	log.Debug("downloaded", zap.String("file", file.ID), zap.String("path", path))

	rec := WorkingCopy{
		Path:           path,
		ItemID:         item.ID,
		ItemType:       item.Type,
		ItemNumber:     item.ItemNumber,
		OriginalFileID: file.ID,
		ReadOnly:       readOnly,
		FetchedAt:      time.Now().UTC(),
	}
	if err := e.ws.Put(req.DestFolder, rec); err != nil {
		log.Warn("working copy record not saved", zap.Error(err))
		res.warn(&WorkspaceError{Err: err})
	}

	if req.OpenInCad {
		if err := e.cadOpen(ctx, path); err != nil {
			log.Warn("open in cad failed", zap.Error(err))
			res.warn(err)
		}
	}
	return nil
}
