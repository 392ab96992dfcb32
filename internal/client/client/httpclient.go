package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/NadirInab/datavis-sub001/internal/client/models"
	"github.com/NadirInab/datavis-sub001/internal/common"
	"github.com/NadirInab/datavis-sub001/internal/netx"
)

// HTTPClient talks to a JSON REST backend:
//
//	GET    /ping
//	PUT    /files/{owner}/{recordID}
//	DELETE /files/{owner}/{recordID}
//	GET    /files/{owner}
type HTTPClient struct {
	baseURL string
	hc      *http.Client

	mu          sync.RWMutex
	accessToken string
}

type httpFile struct {
	Owner     string    `json:"owner"`
	RecordID  string    `json:"record_id"`
	Name      string    `json:"name"`
	Format    string    `json:"format,omitempty"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

type httpUpload struct {
	Name   string          `json:"name"`
	Format string          `json:"format"`
	Data   json.RawMessage `json:"data"`
}

func NewHTTPClient(baseURL string, hc *http.Client) *HTTPClient {
	if hc == nil {
		hc = &http.Client{}
	}
	return &HTTPClient{baseURL: strings.TrimRight(baseURL, "/"), hc: hc}
}

func (c *HTTPClient) SetAccessToken(token string) {
	c.mu.Lock()
	c.accessToken = token
	c.mu.Unlock()
}

func (c *HTTPClient) Close() error {
	c.hc.CloseIdleConnections()
	return nil
}

func (c *HTTPClient) header(key string) http.Header {
	h := http.Header{}
	c.mu.RLock()
	if c.accessToken != "" {
		h.Set(common.AuthorizationHeaderName, "Bearer "+c.accessToken)
	}
	c.mu.RUnlock()
	if key != "" {
		h.Set(common.IdempotencyKeyHeaderName, key)
	}
	return h
}

func (c *HTTPClient) fileURL(owner, recordID string) string {
	u := c.baseURL + "/files/" + url.PathEscape(owner)
	if recordID != "" {
		u += "/" + url.PathEscape(recordID)
	}
	return u
}

func (c *HTTPClient) Ping(ctx context.Context) error {
	err := netx.DoJSON(ctx, c.hc, http.MethodGet, c.baseURL+"/ping", c.header(""), nil, nil)
	return c.mapError("ping", err)
}

func (c *HTTPClient) Upload(ctx context.Context, req *UploadRequest) error {
	body := httpUpload{Name: req.Name, Format: req.Format, Data: req.Data}
	err := netx.DoJSON(ctx, c.hc, http.MethodPut, c.fileURL(req.Owner, req.RecordID), c.header(req.IdempotencyKey), body, nil)
	return c.mapError("upload", err)
}

func (c *HTTPClient) Delete(ctx context.Context, owner, recordID, key string) error {
	err := netx.DoJSON(ctx, c.hc, http.MethodDelete, c.fileURL(owner, recordID), c.header(key), nil, nil)
	return c.mapError("delete", err)
}

func (c *HTTPClient) List(ctx context.Context, owner string) ([]models.RemoteFile, error) {
	var out []httpFile
	if err := netx.DoJSON(ctx, c.hc, http.MethodGet, c.fileURL(owner, ""), c.header(""), nil, &out); err != nil {
		return nil, c.mapError("list", err)
	}

	files := make([]models.RemoteFile, 0, len(out))
	for _, f := range out {
		files = append(files, models.RemoteFile{
			Owner:     f.Owner,
			RecordID:  f.RecordID,
			Name:      f.Name,
			Size:      f.Size,
			UpdatedAt: f.UpdatedAt,
		})
	}
	return files, nil
}

func (c *HTTPClient) mapError(op string, err error) error {
	if err == nil {
		return nil
	}

	var se *netx.StatusError
	if errors.As(err, &se) {
		switch {
		case se.Code == http.StatusUnauthorized || se.Code == http.StatusForbidden:
			return ErrUnauthorized
		case se.Code >= http.StatusInternalServerError:
			return ErrUnavailable
		}
		return syncFailed("http "+op, err)
	}
	if netx.IsNetworkError(err) {
		return ErrUnavailable
	}
	return syncFailed("http "+op, err)
}
