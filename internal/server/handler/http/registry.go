package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/atinyakov/PLMSync/internal/middleware"
	"github.com/atinyakov/PLMSync/internal/models"
)

// RegistryService defines the registry operations required by RegistryHandler.
type RegistryService interface {
	CreateItem(ctx context.Context, t models.ItemType, number, name string, props map[string]string) (*models.Item, error)
	GetItem(ctx context.Context, t models.ItemType, ref string) (*models.Item, error)
	SearchItems(ctx context.Context, t models.ItemType, filter map[string]string) ([]models.Item, error)
	SetState(ctx context.Context, user string, t models.ItemType, ref, state string) (*models.Item, error)
	LockItem(ctx context.Context, user string, t models.ItemType, ref string) (*models.Item, error)
	UnlockItem(ctx context.Context, user string, t models.ItemType, ref string) error
	RelatedFiles(ctx context.Context, t models.ItemType, ref, name string) ([]models.Relationship, error)
	AddRelationship(ctx context.Context, user string, t models.ItemType, ref, name, fileID string) (*models.Relationship, error)
	AddRelationshipByID(ctx context.Context, user, name string, t models.ItemType, itemID, fileID string) (*models.Relationship, error)
	SetProperty(ctx context.Context, user string, t models.ItemType, ref, name, value string) (*models.Item, error)

	CreateFile(ctx context.Context, user, filename string, content io.Reader) (*models.File, error)
	GetFile(ctx context.Context, id string) (*models.File, error)
	OpenFile(ctx context.Context, id string) (*models.File, io.ReadCloser, error)
	UpdateFileContent(ctx context.Context, user, id string, content io.Reader) (*models.File, error)
	LockFile(ctx context.Context, user, id string) error
	UnlockFile(ctx context.Context, user, id string) error
}

// RegistryHandler serves items, files and relationships.
type RegistryHandler struct {
	Service RegistryService
	Log     *zap.Logger
	// MaxUploadBytes caps file bodies; zero means unlimited.
	MaxUploadBytes int64
}

func param(r *http.Request, name string) string {
	v := chi.URLParam(r, name)
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}

func itemType(r *http.Request) models.ItemType {
	return models.ItemType(param(r, "type"))
}

func user(r *http.Request) string {
	return middleware.GetUserIDFromContext(r.Context())
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "invalid body")
		return false
	}
	return true
}

func (h *RegistryHandler) body(w http.ResponseWriter, r *http.Request) io.Reader {
	if h.MaxUploadBytes > 0 {
		return http.MaxBytesReader(w, r.Body, h.MaxUploadBytes)
	}
	return r.Body
}

// CreateItem handles POST /api/items/{type}.
func (h *RegistryHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemNumber string            `json:"item_number"`
		Name       string            `json:"name"`
		Properties map[string]string `json:"properties"`
	}
	if !decode(w, r, &req) {
		return
	}
	it, err := h.Service.CreateItem(r.Context(), itemType(r), req.ItemNumber, req.Name, req.Properties)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, it)
}

// SearchItems handles GET /api/items/{type}. Each query parameter filters
// on a column or property; % is a wildcard.
func (h *RegistryHandler) SearchItems(w http.ResponseWriter, r *http.Request) {
	filter := make(map[string]string)
	for k, vs := range r.URL.Query() {
		if len(vs) > 0 {
			filter[k] = vs[0]
		}
	}
	items, err := h.Service.SearchItems(r.Context(), itemType(r), filter)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// GetItem handles GET /api/items/{type}/{id}.
func (h *RegistryHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	it, err := h.Service.GetItem(r.Context(), itemType(r), param(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

// SetState handles PUT /api/items/{type}/{id}/state.
func (h *RegistryHandler) SetState(w http.ResponseWriter, r *http.Request) {
	var req struct {
		State string `json:"state"`
	}
	if !decode(w, r, &req) {
		return
	}
	it, err := h.Service.SetState(r.Context(), user(r), itemType(r), param(r, "id"), req.State)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

// LockItem handles POST /api/items/{type}/{id}/lock.
func (h *RegistryHandler) LockItem(w http.ResponseWriter, r *http.Request) {
	it, err := h.Service.LockItem(r.Context(), user(r), itemType(r), param(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

// UnlockItem handles DELETE /api/items/{type}/{id}/lock.
func (h *RegistryHandler) UnlockItem(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.UnlockItem(r.Context(), user(r), itemType(r), param(r, "id")); err != nil {
		writeError(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RelatedFiles handles GET /api/items/{type}/{id}/relationships/{name}.
func (h *RegistryHandler) RelatedFiles(w http.ResponseWriter, r *http.Request) {
	rels, err := h.Service.RelatedFiles(r.Context(), itemType(r), param(r, "id"), param(r, "name"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, rels)
}

// AddRelationship handles POST /api/items/{type}/{id}/relationships/{name}.
func (h *RegistryHandler) AddRelationship(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FileID string `json:"file_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	rel, err := h.Service.AddRelationship(r.Context(), user(r), itemType(r), param(r, "id"), param(r, "name"), req.FileID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, rel)
}

// AddRelationshipByID handles PUT /api/relationships/{name}.
func (h *RegistryHandler) AddRelationshipByID(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SourceType models.ItemType `json:"source_type"`
		SourceID   string          `json:"source_id"`
		RelatedID  string          `json:"related_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	rel, err := h.Service.AddRelationshipByID(r.Context(), user(r), param(r, "name"), req.SourceType, req.SourceID, req.RelatedID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, rel)
}

// SetProperty handles PUT /api/items/{type}/{id}/properties/{name}.
func (h *RegistryHandler) SetProperty(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value string `json:"value"`
	}
	if !decode(w, r, &req) {
		return
	}
	it, err := h.Service.SetProperty(r.Context(), user(r), itemType(r), param(r, "id"), param(r, "name"), req.Value)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

// CreateFile handles POST /api/files?filename=. The body is the raw content.
func (h *RegistryHandler) CreateFile(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("filename")
	if name == "" {
		badRequest(w, "filename is required")
		return
	}
	f, err := h.Service.CreateFile(r.Context(), user(r), name, h.body(w, r))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

// GetFile handles GET /api/files/{id}.
func (h *RegistryHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	f, err := h.Service.GetFile(r.Context(), param(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// DownloadFile handles GET /api/files/{id}/content.
func (h *RegistryHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	f, rc, err := h.Service.OpenFile(r.Context(), param(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	defer rc.Close()

	ct := f.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Length", strconv.FormatInt(f.Size, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": f.Filename}))
	if f.Checksum != "" {
		w.Header().Set("ETag", fmt.Sprintf("%q", f.Checksum))
	}
	if _, err := io.Copy(w, rc); err != nil && h.Log != nil {
		h.Log.Warn("download interrupted", zap.String("file", f.ID), zap.Error(err))
	}
}

// UpdateFileContent handles PUT /api/files/{id}/content.
func (h *RegistryHandler) UpdateFileContent(w http.ResponseWriter, r *http.Request) {
	f, err := h.Service.UpdateFileContent(r.Context(), user(r), param(r, "id"), h.body(w, r))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// LockFile handles POST /api/files/{id}/lock.
func (h *RegistryHandler) LockFile(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.LockFile(r.Context(), user(r), param(r, "id")); err != nil {
		writeError(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UnlockFile handles DELETE /api/files/{id}/lock.
func (h *RegistryHandler) UnlockFile(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.UnlockFile(r.Context(), user(r), param(r, "id")); err != nil {
		writeError(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
