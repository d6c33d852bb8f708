package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/PLMSync/internal/models"
)

// PropertyItemNumber is the CAD document property carrying the registry item number.
const PropertyItemNumber = "item_number"

// CheckInRequest describes one item to check in.
type CheckInRequest struct {
	// LocalPath is the working copy to upload. When empty the engine asks the
	// CAD session, then the working copy records, then probes DestFolder.
	LocalPath  string
	ItemID     string
	ItemType   models.ItemType
	DestFolder string
	// CloseInCad closes the CAD document after check-in.
	CloseInCad bool
}

// CheckIn uploads the working copy of an item the caller holds and releases the lock.
//
// The item must be locked by the caller and in the editable lifecycle state;
// otherwise nothing is mutated. Content is first written over the current
// registry file in place; when that is refused a new file is uploaded and
// linked using the item type's link strategy. An uploaded but unlinked file
// is a warning and the item is still unlocked. An upload failure keeps the
// lock so the check-in can be retried.
func (e *Engine) CheckIn(ctx context.Context, req CheckInRequest) Result {
	res := newResult(OpCheckIn, req.ItemType, req.ItemID)
	log := e.log.With(zap.String("op", string(OpCheckIn)), zap.String("item", req.ItemID), zap.String("type", string(req.ItemType)))

	item, err := e.getItem(ctx, req.ItemType, req.ItemID)
	if err != nil {
		log.Info("item not resolved", zap.Error(err))
		return res.fail(err)
	}
	res.attach(item)

	switch {
	case !item.Locked():
		return res.fail(fmt.Errorf("check in %s: %w", item.ItemNumber, ErrNotLocked))
	case item.LockedBy != e.session.Identity():
		return res.fail(&AlreadyLockedError{Holder: item.LockedBy})
	case item.State != e.editableState:
		log.Info("state gate refused", zap.String("state", item.State))
		return res.fail(&InvalidStateError{Current: item.State, Required: e.editableState})
	}

	path, rec, err := e.locateWorkingCopy(ctx, item, req, log)
	if err != nil {
		return res.fail(err)
	}

	if path == "" {
		log.Warn("no local file, unlocking only")
		res.warn(fmt.Errorf("check in %s: %w", item.ItemNumber, ErrNoLocalFile))
	} else {
		res.LocalPath = path
		fileID, err := e.push(ctx, res, item, path, rec, log)
		if err != nil {
			log.Warn("check-in stopped", zap.Error(err))
			return res.fail(err)
		}
		res.RegistryFileID = fileID
		e.recordCheckIn(res, item, path, fileID, log)
	}

	if err := e.unlockItem(ctx, item); err != nil {
		if invalidatesState(err) {
			return res.fail(err)
		}
		log.Warn("unlock after check-in failed", zap.Error(err))
		res.warn(&UnlockFailedError{Err: err})
	}

	if req.CloseInCad {
		if err := e.cadClose(ctx, false); err != nil {
			log.Info("cad close skipped", zap.Error(err))
		}
	}
	return res.finish()
}

// CheckInBatch checks in every request independently. One item's failure
// never stops its siblings.
func (e *Engine) CheckInBatch(ctx context.Context, reqs []CheckInRequest) BatchResult {
	var batch BatchResult
	for _, req := range reqs {
		if err := ctx.Err(); err != nil {
			r := newResult(OpCheckIn, req.ItemType, req.ItemID)
			batch.add(r.fail(err))
			continue
		}
		batch.add(e.CheckIn(ctx, req))
	}
	e.log.Info("batch check-in finished",
		zap.Int("succeeded", batch.Succeeded),
		zap.Int("warned", batch.Warned),
		zap.Int("failed", batch.Failed))
	return batch
}

func (e *Engine) unlockItem(ctx context.Context, item *models.Item) error {
	ctx, cancel := e.bound(ctx)
	defer cancel()
	if err := e.registry.UnlockItem(ctx, item.Type, item.ID); err != nil {
		return fmt.Errorf("unlock %s: %w", item.ItemNumber, err)
	}
	return nil
}

// locateWorkingCopy finds the file to upload and its working copy record.
func (e *Engine) locateWorkingCopy(ctx context.Context, item *models.Item, req CheckInRequest, log *zap.Logger) (string, *WorkingCopy, error) {
	if req.LocalPath != "" {
		e.saveOpenDocument(ctx, item, log)
		rec, err := e.ws.Lookup(filepath.Dir(req.LocalPath), item.ID)
		if err != nil {
			log.Warn("working copy record unreadable", zap.Error(err))
		}
		return req.LocalPath, rec, nil
	}

	doc, err := e.cadActive(ctx)
	switch {
	case err != nil:
		log.Info("cad session not usable, falling back", zap.Error(err))
	case doc != nil && matchesItem(doc, item):
		if !doc.Saved {
			if err := e.cadSave(ctx); err != nil {
				log.Warn("saving cad document failed", zap.Error(err))
			}
		}
		rec, _ := e.ws.Lookup(filepath.Dir(doc.Path), item.ID)
		return doc.Path, rec, nil
	}

	if req.DestFolder != "" {
		rec, err := e.ws.Lookup(req.DestFolder, item.ID)
		if err != nil {
			log.Warn("working copy record unreadable", zap.Error(err))
		}
		if rec != nil && rec.Path != "" {
			return rec.Path, rec, nil
		}
		found, err := e.ws.Probe(req.DestFolder, item.ItemNumber, e.cadExtensions)
		if err != nil {
			log.Warn("probing working copy failed", zap.Error(err))
		}
		if found != "" {
			return found, rec, nil
		}
	}

	if e.chooseFile != nil {
		path, err := e.chooseFile(ctx, item)
		if err != nil {
			return "", nil, fmt.Errorf("choose working copy of %s: %w", item.ItemNumber, err)
		}
		if path != "" {
			rec, _ := e.ws.Lookup(filepath.Dir(path), item.ID)
			return path, rec, nil
		}
	}
	return "", nil, nil
}

// saveOpenDocument saves the item's document when it is open in the CAD
// session with unsaved edits, so the upload and the later close see them.
func (e *Engine) saveOpenDocument(ctx context.Context, item *models.Item, log *zap.Logger) {
	doc, err := e.cadActive(ctx)
	if err != nil || doc == nil || doc.Saved || !matchesItem(doc, item) {
		return
	}
	if err := e.cadSave(ctx); err != nil {
		log.Warn("saving cad document failed", zap.Error(err))
	}
}

func matchesItem(doc *CadDocument, item *models.Item) bool {
	if n := doc.Properties[PropertyItemNumber]; n != "" {
		return n == item.ItemNumber
	}
	base := filepath.Base(doc.Path)
	return strings.TrimSuffix(base, filepath.Ext(base)) == item.ItemNumber
}

// push stores the working copy in the registry and returns the file ID.
// Link failures are recorded on res; the returned error is always hard.
func (e *Engine) push(ctx context.Context, res *Result, item *models.Item, path string, rec *WorkingCopy, log *zap.Logger) (string, error) {
	current, err := e.currentFile(ctx, item)
	if err != nil {
		if invalidatesState(err) {
			return "", err
		}
		log.Info("current file not resolved, uploading new file", zap.Error(err))
		current = nil
	}

	if current != nil && (rec == nil || rec.OriginalFileID == "" || rec.OriginalFileID == current.ID) {
		err := e.updateInPlace(ctx, current.ID, path)
		if err == nil {
			log.Debug("updated file in place", zap.String("file", current.ID))
			return current.ID, nil
		}
		// A file lock held elsewhere only refuses the update; losing the
		// item itself surfaces when the new file is linked.
		if errors.Is(err, ErrAuthExpired) {
			return "", err
		}
		log.Info("update in place refused, uploading new file", zap.String("file", current.ID), zap.Error(err))
	}

	file, err := e.createFile(ctx, path)
	if err != nil {
		return "", err
	}
	log.Debug("uploaded", zap.String("file", file.ID))

	attempts, err := e.link(ctx, item, file.ID)
	if err != nil {
		return "", err
	}
	if last := attempts[len(attempts)-1]; last.Err != nil {
		lf := &LinkFailedError{FileID: file.ID, Attempts: attempts}
		log.Warn("file uploaded but not linked", zap.Error(lf))
		res.warn(lf)
	}
	return file.ID, nil
}

func (e *Engine) updateInPlace(ctx context.Context, fileID, path string) error {
	lockCtx, cancel := e.bound(ctx)
	err := e.registry.LockFile(lockCtx, fileID)
	cancel()
	if err != nil {
		return fmt.Errorf("lock file %s: %w", fileID, err)
	}

	src, err := e.ws.Open(path)
	if err != nil {
		e.unlockFile(ctx, fileID)
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer src.Close()

	upCtx, cancel := e.bound(ctx)
	_, err = e.registry.UpdateFileContent(upCtx, fileID, src)
	cancel()
	if err != nil {
		e.unlockFile(ctx, fileID)
		return fmt.Errorf("update file %s: %w", fileID, err)
	}
	e.unlockFile(ctx, fileID)
	return nil
}

func (e *Engine) unlockFile(ctx context.Context, fileID string) {
	ctx, cancel := e.bound(ctx)
	defer cancel()
	if err := e.registry.UnlockFile(ctx, fileID); err != nil {
		e.log.Warn("file unlock failed", zap.String("file", fileID), zap.Error(err))
	}
}

func (e *Engine) createFile(ctx context.Context, path string) (*models.File, error) {
	src, err := e.ws.Open(path)
	if err != nil {
		return nil, &UploadFailedError{Err: fmt.Errorf("open %s: %w", path, err)}
	}
	defer src.Close()

	ctx, cancel := e.bound(ctx)
	defer cancel()
	file, err := e.registry.CreateFile(ctx, filepath.Base(path), src)
	if err != nil {
		return nil, &UploadFailedError{Err: err}
	}
	return file, nil
}

// link walks the item type's link strategy until one method succeeds.
// It returns every attempt made; the error is set only when the caller lost
// the item and the check-in has to stop.
func (e *Engine) link(ctx context.Context, item *models.Item, fileID string) ([]LinkAttempt, error) {
	methods := e.strategies[item.Type]
	if len(methods) == 0 {
		return []LinkAttempt{{Err: fmt.Errorf("no link strategy for %s", item.Type)}}, nil
	}
	attempts := make([]LinkAttempt, 0, len(methods))
	for _, m := range methods {
		callCtx, cancel := e.bound(ctx)
		err := e.registry.LinkFile(callCtx, item.Type, item.ID, fileID, m)
		cancel()
		attempts = append(attempts, LinkAttempt{Method: m, Err: err})
		if err == nil {
			return attempts, nil
		}
		if invalidatesState(err) {
			return attempts, fmt.Errorf("link %s: %w", m, err)
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			break
		}
	}
	return attempts, nil
}

func (e *Engine) recordCheckIn(res *Result, item *models.Item, path, fileID string, log *zap.Logger) {
	folder := filepath.Dir(path)
	rec := WorkingCopy{
		Path:           path,
		ItemID:         item.ID,
		ItemType:       item.Type,
		ItemNumber:     item.ItemNumber,
		OriginalFileID: fileID,
		FetchedAt:      time.Now().UTC(),
	}
	if err := e.ws.Put(folder, rec); err != nil {
		log.Warn("working copy record not saved", zap.Error(err))
		res.warn(&WorkspaceError{Err: err})
	}
}
