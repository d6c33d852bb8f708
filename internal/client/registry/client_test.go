package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinyakov/PLMSync/internal/engine"
	"github.com/atinyakov/PLMSync/internal/models"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewWithHTTPClient(srv.URL, srv.Client())
}

func TestGetItem(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/items/Document/DOC-1" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		writeJSON(w, http.StatusOK, models.Item{ID: "id-1", Type: models.ItemDocument, ItemNumber: "DOC-1", LockedBy: "bob"})
	})

	item, err := c.GetItem(context.Background(), models.ItemDocument, "DOC-1")
	require.NoError(t, err)
	assert.Equal(t, "id-1", item.ID)
	assert.Equal(t, "bob", item.LockedBy)
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   any
		want   engine.ErrorCode
	}{
		{"not found", http.StatusNotFound, apiError{Error: "item not found"}, engine.CodeNotFound},
		{"locked", http.StatusConflict, apiError{Error: "locked", Holder: "alice"}, engine.CodeAlreadyLocked},
		{"unauthorized", http.StatusUnauthorized, apiError{Error: "no client certificate"}, engine.CodeAuthExpired},
		{"forbidden", http.StatusForbidden, apiError{Error: "user not found"}, engine.CodeAuthExpired},
		{"server error", http.StatusBadGateway, apiError{Error: "db down"}, engine.CodeUnavailable},
		{"bad request", http.StatusBadRequest, apiError{Error: "bad type"}, engine.CodeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			})
			_, err := c.LockItem(context.Background(), models.ItemPart, "P-1")
			require.Error(t, err)
			assert.Equal(t, tt.want, engine.CodeOf(err), "err: %v", err)
		})
	}
}

func TestStatusMapping_AlreadyLockedHolder(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, apiError{Error: "locked", Holder: "alice"})
	})

	_, err := c.LockItem(context.Background(), models.ItemPart, "P-1")

	var locked *engine.AlreadyLockedError
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, "alice", locked.Holder)
}

func TestStatusMapping_PlainTextBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "item not found", http.StatusNotFound)
	})

	_, err := c.GetFile(context.Background(), "f-1")

	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestTransportFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	c := NewWithHTTPClient(srv.URL, srv.Client())
	srv.Close()

	err := c.UnlockItem(context.Background(), models.ItemDocument, "id-1")

	assert.ErrorIs(t, err, engine.ErrUnavailable)
	assert.Equal(t, engine.ExitConnectivity, engine.ExitCode(engine.Result{Outcome: engine.Failed, Err: err}))
}

func TestCancelledContextIsNotUnavailable(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, models.Item{})
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.GetItem(ctx, models.ItemDocument, "id-1")

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, engine.ErrUnavailable))
}

func TestSearchItems_SendsFilter(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/items/CAD", r.URL.Path)
		assert.Equal(t, "CAD-%", r.URL.Query().Get("item_number"))
		writeJSON(w, http.StatusOK, []models.Item{{ItemNumber: "CAD-1"}, {ItemNumber: "CAD-2"}})
	})

	items, err := c.SearchItems(context.Background(), models.ItemCAD, map[string]string{"item_number": "CAD-%"})
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestRelatedFiles_EscapesName(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/items/Document/id-1/relationships/Document File", r.URL.Path)
		writeJSON(w, http.StatusOK, []models.Relationship{{ID: "r-1", RelatedID: "f-1"}})
	})

	rels, err := c.RelatedFiles(context.Background(), models.ItemDocument, "id-1", "Document File")
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "f-1", rels[0].RelatedID)
}

func TestCreateFile_StreamsRawBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/files", r.URL.Path)
		assert.Equal(t, "part.CATPart", r.URL.Query().Get("filename"))
		assert.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))
		data, _ := io.ReadAll(r.Body)
		assert.Equal(t, "geometry", string(data))
		writeJSON(w, http.StatusCreated, models.File{ID: "f-9", Filename: "part.CATPart", Size: int64(len(data))})
	})

	file, err := c.CreateFile(context.Background(), "part.CATPart", strings.NewReader("geometry"))
	require.NoError(t, err)
	assert.Equal(t, "f-9", file.ID)
	assert.EqualValues(t, 8, file.Size)
}

func TestUpdateFileContent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/files/f-1/content", r.URL.Path)
		writeJSON(w, http.StatusOK, models.File{ID: "f-1"})
	})

	file, err := c.UpdateFileContent(context.Background(), "f-1", strings.NewReader("v2"))
	require.NoError(t, err)
	assert.Equal(t, "f-1", file.ID)
}

func TestFileLocks(t *testing.T) {
	var seen []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Method+" "+r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.LockFile(context.Background(), "f-1"))
	require.NoError(t, c.UnlockFile(context.Background(), "f-1"))
	assert.Equal(t, []string{"POST /api/files/f-1/lock", "DELETE /api/files/f-1/lock"}, seen)
}

func TestLinkFile_Methods(t *testing.T) {
	tests := []struct {
		method   engine.LinkMethod
		wantReq  string
		wantBody map[string]string
	}{
		{
			engine.LinkMethod{Kind: engine.LinkRelationship, Name: "Document File"},
			"POST /api/items/Document/id-1/relationships/Document File",
			map[string]string{"file_id": "f-1"},
		},
		{
			engine.LinkMethod{Kind: engine.LinkRelationshipByID, Name: "Document File"},
			"PUT /api/relationships/Document File",
			map[string]string{"source_type": "Document", "source_id": "id-1", "related_id": "f-1"},
		},
		{
			engine.LinkMethod{Kind: engine.LinkProperty, Name: models.PropertyNativeFile},
			"PUT /api/items/Document/id-1/properties/native_file",
			map[string]string{"value": "f-1"},
		},
	}
	for _, tt := range tests {
		t.Run(string(tt.method.Kind), func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, tt.wantReq, r.Method+" "+r.URL.Path)
				var body map[string]string
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, tt.wantBody, body)
				w.WriteHeader(http.StatusNoContent)
			})
			require.NoError(t, c.LinkFile(context.Background(), models.ItemDocument, "id-1", "f-1", tt.method))
		})
	}
}

func TestLinkFile_UnknownKind(t *testing.T) {
	c := NewWithHTTPClient("http://127.0.0.1:0", http.DefaultClient)
	err := c.LinkFile(context.Background(), models.ItemDocument, "id-1", "f-1", engine.LinkMethod{Kind: "attachment", Name: "x"})
	assert.Error(t, err)
}

func TestDownloadFile(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/files/f-1/content":
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write([]byte("binary payload"))
		default:
			writeJSON(w, http.StatusNotFound, apiError{Error: "file not found"})
		}
	})

	var buf bytes.Buffer
	require.NoError(t, c.DownloadFile(context.Background(), "f-1", &buf))
	assert.Equal(t, "binary payload", buf.String())

	buf.Reset()
	err := c.DownloadFile(context.Background(), "missing", &buf)
	assert.ErrorIs(t, err, engine.ErrNotFound)
	assert.Zero(t, buf.Len())
}

func TestLogin(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/login", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "user": "bob"})
	})

	user, err := c.Login(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bob", user)
}

func TestRegister(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["login"] == "taken" {
			writeJSON(w, http.StatusConflict, apiError{Error: "user already exists"})
			return
		}
		writeJSON(w, http.StatusOK, Credentials{Cert: "CERT", Key: "KEY"})
	}))
	defer srv.Close()
	c := resty.NewWithClient(srv.Client()).SetBaseURL(srv.URL)

	creds, err := register(context.Background(), c, "bob")
	require.NoError(t, err)
	assert.Equal(t, "CERT", creds.Cert)

	_, err = register(context.Background(), c, "taken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user already exists")
}
