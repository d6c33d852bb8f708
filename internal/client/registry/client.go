// Package registry is the HTTPS client of the PLMSync registry server. It
// implements engine.Registry and maps transport and status failures onto
// the engine error taxonomy.
package registry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/atinyakov/PLMSync/internal/engine"
	"github.com/atinyakov/PLMSync/internal/models"
)

const (
	pathRegister     = "/api/register"
	pathLogin        = "/api/login"
	pathItems        = "/api/items/{type}"
	pathItem         = "/api/items/{type}/{id}"
	pathItemState    = "/api/items/{type}/{id}/state"
	pathItemLock     = "/api/items/{type}/{id}/lock"
	pathItemRel      = "/api/items/{type}/{id}/relationships/{name}"
	pathItemProperty = "/api/items/{type}/{id}/properties/{name}"
	pathRelByID      = "/api/relationships/{name}"
	pathFiles        = "/api/files"
	pathFile         = "/api/files/{id}"
	pathFileContent  = "/api/files/{id}/content"
	pathFileLock     = "/api/files/{id}/lock"
)

// apiError is the JSON error body returned by the server.
type apiError struct {
	Error  string `json:"error"`
	Holder string `json:"holder,omitempty"`
}

// Client talks to the registry server.
type Client struct {
	http *resty.Client
}

// Option configures a Client.
type Option func(*resty.Client)

// WithLogger routes resty's own diagnostics to l.
func WithLogger(l *zap.Logger) Option {
	return func(c *resty.Client) { c.SetLogger(l.Sugar()) }
}

// New returns a client for baseURL presenting the given mutual TLS configuration.
// No client-wide timeout is set; callers bound each call through ctx.
func New(baseURL string, tlsCfg *tls.Config, opts ...Option) *Client {
	c := resty.New().SetBaseURL(baseURL)
	if tlsCfg != nil {
		c.SetTLSClientConfig(tlsCfg)
	}
	for _, opt := range opts {
		opt(c)
	}
	return &Client{http: c}
}

// NewWithHTTPClient wraps an existing http.Client.
func NewWithHTTPClient(baseURL string, hc *http.Client, opts ...Option) *Client {
	c := resty.NewWithClient(hc).SetBaseURL(baseURL)
	for _, opt := range opts {
		opt(c)
	}
	return &Client{http: c}
}

func (c *Client) req(ctx context.Context) *resty.Request {
	return c.http.R().SetContext(ctx).SetError(&apiError{})
}

func itemParams(t models.ItemType, id string) map[string]string {
	return map[string]string{"type": string(t), "id": id}
}

// Login checks that the server knows the certificate identity and returns it.
func (c *Client) Login(ctx context.Context) (string, error) {
	var out struct {
		Status string `json:"status"`
		User   string `json:"user"`
	}
	resp, err := c.req(ctx).SetResult(&out).Post(pathLogin)
	if err := check("login", resp, err); err != nil {
		return "", err
	}
	return out.User, nil
}

// GetItem resolves an item by ID or item number.
func (c *Client) GetItem(ctx context.Context, t models.ItemType, id string) (*models.Item, error) {
	var item models.Item
	resp, err := c.req(ctx).SetPathParams(itemParams(t, id)).SetResult(&item).Get(pathItem)
	if err := check("get item", resp, err); err != nil {
		return nil, err
	}
	return &item, nil
}

// SearchItems lists items whose properties match filter.
func (c *Client) SearchItems(ctx context.Context, t models.ItemType, filter map[string]string) ([]models.Item, error) {
	var items []models.Item
	resp, err := c.req(ctx).
		SetPathParam("type", string(t)).
		SetQueryParams(filter).
		SetResult(&items).
		Get(pathItems)
	if err := check("search items", resp, err); err != nil {
		return nil, err
	}
	return items, nil
}

// CreateItem adds an item in the initial lifecycle state.
func (c *Client) CreateItem(ctx context.Context, t models.ItemType, number, name string, props map[string]string) (*models.Item, error) {
	var item models.Item
	body := map[string]any{"item_number": number, "name": name, "properties": props}
	resp, err := c.req(ctx).
		SetPathParam("type", string(t)).
		SetBody(body).
		SetResult(&item).
		Post(pathItems)
	if err := check("create item", resp, err); err != nil {
		return nil, err
	}
	return &item, nil
}

// SetState moves an item to another lifecycle state.
func (c *Client) SetState(ctx context.Context, t models.ItemType, id, state string) (*models.Item, error) {
	var item models.Item
	resp, err := c.req(ctx).
		SetPathParams(itemParams(t, id)).
		SetBody(map[string]string{"state": state}).
		SetResult(&item).
		Put(pathItemState)
	if err := check("set state", resp, err); err != nil {
		return nil, err
	}
	return &item, nil
}

// LockItem locks the item for the certificate identity.
func (c *Client) LockItem(ctx context.Context, t models.ItemType, id string) (*models.Item, error) {
	var item models.Item
	resp, err := c.req(ctx).SetPathParams(itemParams(t, id)).SetResult(&item).Post(pathItemLock)
	if err := check("lock item", resp, err); err != nil {
		return nil, err
	}
	return &item, nil
}

// UnlockItem releases the caller's lock on the item.
func (c *Client) UnlockItem(ctx context.Context, t models.ItemType, id string) error {
	resp, err := c.req(ctx).SetPathParams(itemParams(t, id)).Delete(pathItemLock)
	return check("unlock item", resp, err)
}

// GetFile returns file metadata.
func (c *Client) GetFile(ctx context.Context, fileID string) (*models.File, error) {
	var file models.File
	resp, err := c.req(ctx).SetPathParam("id", fileID).SetResult(&file).Get(pathFile)
	if err := check("get file", resp, err); err != nil {
		return nil, err
	}
	return &file, nil
}

// RelatedFiles lists the relationships of the given name on the item.
func (c *Client) RelatedFiles(ctx context.Context, t models.ItemType, id, relationship string) ([]models.Relationship, error) {
	var rels []models.Relationship
	params := itemParams(t, id)
	params["name"] = relationship
	resp, err := c.req(ctx).SetPathParams(params).SetResult(&rels).Get(pathItemRel)
	if err := check("related files", resp, err); err != nil {
		return nil, err
	}
	return rels, nil
}

// CreateFile uploads a new file.
func (c *Client) CreateFile(ctx context.Context, filename string, content io.Reader) (*models.File, error) {
	var file models.File
	resp, err := c.req(ctx).
		SetQueryParam("filename", filename).
		SetHeader("Content-Type", "application/octet-stream").
		SetBody(content).
		SetResult(&file).
		Post(pathFiles)
	if err := check("create file", resp, err); err != nil {
		return nil, err
	}
	return &file, nil
}

// LockFile locks a file so its content can be replaced.
func (c *Client) LockFile(ctx context.Context, fileID string) error {
	resp, err := c.req(ctx).SetPathParam("id", fileID).Post(pathFileLock)
	return check("lock file", resp, err)
}

// UnlockFile releases a file lock.
func (c *Client) UnlockFile(ctx context.Context, fileID string) error {
	resp, err := c.req(ctx).SetPathParam("id", fileID).Delete(pathFileLock)
	return check("unlock file", resp, err)
}

// UpdateFileContent replaces the content of a file locked by the caller.
func (c *Client) UpdateFileContent(ctx context.Context, fileID string, content io.Reader) (*models.File, error) {
	var file models.File
	resp, err := c.req(ctx).
		SetPathParam("id", fileID).
		SetHeader("Content-Type", "application/octet-stream").
		SetBody(content).
		SetResult(&file).
		Put(pathFileContent)
	if err := check("update file content", resp, err); err != nil {
		return nil, err
	}
	return &file, nil
}

// LinkFile attaches a file to an item using m.
func (c *Client) LinkFile(ctx context.Context, t models.ItemType, itemID, fileID string, m engine.LinkMethod) error {
	var (
		resp *resty.Response
		err  error
	)
	switch m.Kind {
	case engine.LinkRelationship:
		params := itemParams(t, itemID)
		params["name"] = m.Name
		resp, err = c.req(ctx).
			SetPathParams(params).
			SetBody(map[string]string{"file_id": fileID}).
			Post(pathItemRel)
	case engine.LinkRelationshipByID:
		resp, err = c.req(ctx).
			SetPathParam("name", m.Name).
			SetBody(map[string]string{"source_type": string(t), "source_id": itemID, "related_id": fileID}).
			Put(pathRelByID)
	case engine.LinkProperty:
		params := itemParams(t, itemID)
		params["name"] = m.Name
		resp, err = c.req(ctx).
			SetPathParams(params).
			SetBody(map[string]string{"value": fileID}).
			Put(pathItemProperty)
	default:
		return fmt.Errorf("unsupported link kind %q", m.Kind)
	}
	return check("link "+m.String(), resp, err)
}

// DownloadFile streams file content into dst.
func (c *Client) DownloadFile(ctx context.Context, fileID string, dst io.Writer) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", fileID).
		SetDoNotParseResponse(true).
		Get(pathFileContent)
	if err != nil {
		return transportError("download file", err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.IsError() {
		data, _ := io.ReadAll(io.LimitReader(body, 64<<10))
		return statusError("download file", resp.StatusCode(), data)
	}
	if _, err := io.Copy(dst, body); err != nil {
		return transportError("download file", err)
	}
	return nil
}

// check turns a resty outcome into an engine taxonomy error, or nil.
func check(op string, resp *resty.Response, err error) error {
	if err != nil {
		return transportError(op, err)
	}
	if !resp.IsError() {
		return nil
	}
	if e, ok := resp.Error().(*apiError); ok && (e.Error != "" || e.Holder != "") {
		return apiStatusError(op, resp.StatusCode(), e)
	}
	return statusError(op, resp.StatusCode(), resp.Body())
}

func transportError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, engine.ErrUnavailable, err)
}

func statusError(op string, status int, body []byte) error {
	var e apiError
	if err := json.Unmarshal(body, &e); err != nil || (e.Error == "" && e.Holder == "") {
		e.Error = string(body)
	}
	return apiStatusError(op, status, &e)
}

func apiStatusError(op string, status int, e *apiError) error {
	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, engine.ErrNotFound)
	case status == http.StatusConflict && e.Holder != "":
		return fmt.Errorf("%s: %w", op, &engine.AlreadyLockedError{Holder: e.Holder})
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%s: %w: %s", op, engine.ErrAuthExpired, e.Error)
	case status >= http.StatusInternalServerError:
		return fmt.Errorf("%s: %w: %d %s", op, engine.ErrUnavailable, status, e.Error)
	}
	return fmt.Errorf("%s: server returned %d: %s", op, status, e.Error)
}
