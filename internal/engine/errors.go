package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode classifies why a synchronization step failed.
type ErrorCode string

const (
	// CodeNotFound means the registry item or file does not exist.
	CodeNotFound ErrorCode = "NOT_FOUND"
	// CodeAlreadyLocked means another user holds the item lock.
	CodeAlreadyLocked ErrorCode = "ALREADY_LOCKED"
	// CodeNotLocked means a check-in was attempted on an item nobody holds.
	CodeNotLocked ErrorCode = "NOT_LOCKED"
	// CodeInvalidState means the item lifecycle state forbids the mutation.
	CodeInvalidState ErrorCode = "INVALID_STATE"
	// CodeUploadFailed means the new file content never reached the registry.
	CodeUploadFailed ErrorCode = "UPLOAD_FAILED"
	// CodeLinkFailed means an uploaded file could not be attached to its item.
	CodeLinkFailed ErrorCode = "LINK_FAILED"
	// CodeDownloadFailed means the item file could not be written locally.
	CodeDownloadFailed ErrorCode = "DOWNLOAD_FAILED"
	// CodeUnlockFailed means the item stayed locked after a check-in.
	CodeUnlockFailed ErrorCode = "UNLOCK_FAILED"
	// CodeCadToolUnavailable means the CAD tool is not running.
	CodeCadToolUnavailable ErrorCode = "CAD_TOOL_UNAVAILABLE"
	// CodeCadFailed means the CAD tool rejected an automation call.
	CodeCadFailed ErrorCode = "CAD_OPERATION_FAILED"
	// CodeAuthExpired means the registry no longer accepts the caller's identity.
	CodeAuthExpired ErrorCode = "AUTH_EXPIRED"
	// CodeUnavailable means the registry could not be reached.
	CodeUnavailable ErrorCode = "UNAVAILABLE"
	// CodeNoLocalFile means no working copy was found for a check-in.
	CodeNoLocalFile ErrorCode = "NO_LOCAL_FILE"
	// CodeWorkspace means the working copy metadata could not be updated.
	CodeWorkspace ErrorCode = "WORKSPACE_ERROR"
	// CodeUnknown is anything unclassified.
	CodeUnknown ErrorCode = "UNKNOWN"
)

var (
	// ErrNotFound is returned when a registry item or file does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNotLocked is returned when checking in an item that is not checked out.
	ErrNotLocked = errors.New("item is not locked")
	// ErrCadToolUnavailable is returned by CAD adapters when the tool is not running.
	ErrCadToolUnavailable = errors.New("cad tool unavailable")
	// ErrAuthExpired is returned when the registry rejects the caller's identity.
	ErrAuthExpired = errors.New("authentication expired")
	// ErrUnavailable is returned when the registry cannot be reached.
	ErrUnavailable = errors.New("registry unavailable")
	// ErrNoLocalFile is recorded when a check-in finds nothing to upload.
	ErrNoLocalFile = errors.New("no local file found")
)

// AlreadyLockedError reports the current lock holder of an item.
type AlreadyLockedError struct {
	Holder string
}

func (e *AlreadyLockedError) Error() string {
	return fmt.Sprintf("item is locked by %q", e.Holder)
}

// Code implements coded.
func (e *AlreadyLockedError) Code() ErrorCode { return CodeAlreadyLocked }

// InvalidStateError reports a lifecycle state that forbids check-in.
type InvalidStateError struct {
	Current  string
	Required string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("item state is %q, check-in requires %q", e.Current, e.Required)
}

// Code implements coded.
func (e *InvalidStateError) Code() ErrorCode { return CodeInvalidState }

// UploadFailedError wraps the reason a file upload failed.
type UploadFailedError struct {
	Err error
}

func (e *UploadFailedError) Error() string { return "upload failed: " + e.Err.Error() }
func (e *UploadFailedError) Unwrap() error { return e.Err }

// Code implements coded.
func (e *UploadFailedError) Code() ErrorCode { return CodeUploadFailed }

// DownloadFailedError wraps the reason a file download failed.
type DownloadFailedError struct {
	Err error
}

func (e *DownloadFailedError) Error() string { return "download failed: " + e.Err.Error() }
func (e *DownloadFailedError) Unwrap() error { return e.Err }

// Code implements coded.
func (e *DownloadFailedError) Code() ErrorCode { return CodeDownloadFailed }

// UnlockFailedError wraps the reason an item stayed locked.
type UnlockFailedError struct {
	Err error
}

func (e *UnlockFailedError) Error() string { return "unlock failed: " + e.Err.Error() }
func (e *UnlockFailedError) Unwrap() error { return e.Err }

// Code implements coded.
func (e *UnlockFailedError) Code() ErrorCode { return CodeUnlockFailed }

// LinkFailedError lists every link method tried for an uploaded file.
type LinkFailedError struct {
	FileID   string
	Attempts []LinkAttempt
}

func (e *LinkFailedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.String())
	}
	return fmt.Sprintf("file %s uploaded but not linked (%s)", e.FileID, strings.Join(parts, "; "))
}

// Code implements coded.
func (e *LinkFailedError) Code() ErrorCode { return CodeLinkFailed }

// AttemptedMethods returns the methods in the order they were tried.
func (e *LinkFailedError) AttemptedMethods() []LinkMethod {
	out := make([]LinkMethod, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		out = append(out, a.Method)
	}
	return out
}

// CadError wraps a failed CAD automation call.
type CadError struct {
	Op  string
	Err error
}

func (e *CadError) Error() string { return "cad " + e.Op + ": " + e.Err.Error() }
func (e *CadError) Unwrap() error { return e.Err }

// Code implements coded.
func (e *CadError) Code() ErrorCode {
	if errors.Is(e.Err, ErrCadToolUnavailable) {
		return CodeCadToolUnavailable
	}
	return CodeCadFailed
}

// WorkspaceError wraps a failed working copy metadata update.
type WorkspaceError struct {
	Err error
}

func (e *WorkspaceError) Error() string { return "workspace: " + e.Err.Error() }
func (e *WorkspaceError) Unwrap() error { return e.Err }

// Code implements coded.
func (e *WorkspaceError) Code() ErrorCode { return CodeWorkspace }

type coded interface {
	Code() ErrorCode
}

// CodeOf classifies err. The outermost coded error wins.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var c coded
	if errors.As(err, &c) {
		return c.Code()
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrNotLocked):
		return CodeNotLocked
	case errors.Is(err, ErrCadToolUnavailable):
		return CodeCadToolUnavailable
	case errors.Is(err, ErrAuthExpired):
		return CodeAuthExpired
	case errors.Is(err, ErrUnavailable):
		return CodeUnavailable
	case errors.Is(err, ErrNoLocalFile):
		return CodeNoLocalFile
	}
	return CodeUnknown
}

// IsHard reports whether err terminates the operation of a single item.
func IsHard(err error) bool {
	switch CodeOf(err) {
	case CodeNotFound, CodeAlreadyLocked, CodeNotLocked, CodeInvalidState, CodeAuthExpired:
		return true
	}
	return false
}

// IsConnectivity reports whether err stems from reaching or authenticating against the registry.
func IsConnectivity(err error) bool {
	return errors.Is(err, ErrAuthExpired) || errors.Is(err, ErrUnavailable)
}

// invalidatesState reports whether err means the caller no longer owns the
// item, in which case the check-in must not touch the lock again.
func invalidatesState(err error) bool {
	var locked *AlreadyLockedError
	return errors.Is(err, ErrAuthExpired) || errors.As(err, &locked)
}
