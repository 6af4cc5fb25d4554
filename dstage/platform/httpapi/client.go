// Package httpapi is a Platform backed by a JSON-over-HTTP dataset service.
//
// Endpoints, relative to the base URL:
//
//	POST   /projects/{project}/datasets                  create
//	GET    /projects/{project}/datasets?name={name}      lookup (404 when absent)
//	DELETE /projects/{project}/datasets/{id}             delete
//	PATCH  /projects/{project}/datasets/{id}             {"sample_count": n}
//	POST   /projects/{project}/datasets/{id}/upload-url  {"file_size": n, "file_name": s}
//	PUT    /projects/{project}/datasets/{id}/cursor      {"last_file_number": n}
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ZanzyTHEbar/dataset-stager/dstage/config"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/types"

	"github.com/rs/zerolog"
)

// APIKeyHeader carries the project API key on every request.
const APIKeyHeader = "X-API-Key"

// StatusError is returned for any unexpected response status.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// Client talks to the dataset service for one project.
type Client struct {
	baseURL   string
	projectID string
	apiKey    string
	http      *http.Client
	log       zerolog.Logger
}

// NewClient creates a client from the platform section of the configuration.
func NewClient(cfg config.PlatformConfig, httpClient *http.Client, log zerolog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("platform base URL is not configured")
	}
	if cfg.ProjectID == "" {
		return nil, errors.New("platform project ID is not configured")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout()}
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		projectID: cfg.ProjectID,
		apiKey:    cfg.APIKey,
		http:      httpClient,
		log:       log,
	}, nil
}

func (c *Client) datasetsPath(parts ...string) string {
	p := "/projects/" + url.PathEscape(c.projectID) + "/datasets"
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

// do sends body as JSON and decodes a JSON response into out when non-nil.
// Any status outside 2xx is a *StatusError.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(APIKeyHeader, c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Method: method, Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	c.log.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("Platform request")

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: failed to decode response: %w", method, path, err)
	}
	return nil
}

func (c *Client) CreateDataset(ctx context.Context, name string) (*types.DatasetRecord, error) {
	var rec types.DatasetRecord
	if err := c.do(ctx, http.MethodPost, c.datasetsPath(), map[string]string{"name": name}, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *Client) GetCurrentDataset(ctx context.Context, name string) (*types.DatasetRecord, error) {
	var rec types.DatasetRecord
	err := c.do(ctx, http.MethodGet, c.datasetsPath()+"?name="+url.QueryEscape(name), nil, &rec)
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *Client) DeleteDataset(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.datasetsPath(id), nil, nil)
}

func (c *Client) PatchDatasetList(ctx context.Context, id string, sampleCount int) error {
	return c.do(ctx, http.MethodPatch, c.datasetsPath(id), map[string]int{"sample_count": sampleCount}, nil)
}

func (c *Client) GetPostURL(ctx context.Context, id string, fileSize int64, fileName string) (*types.UploadDestination, error) {
	body := struct {
		FileSize int64  `json:"file_size"`
		FileName string `json:"file_name"`
	}{fileSize, fileName}

	var dest types.UploadDestination
	if err := c.do(ctx, http.MethodPost, c.datasetsPath(id, "upload-url"), body, &dest); err != nil {
		return nil, err
	}
	if dest.URL == "" {
		return nil, fmt.Errorf("upload destination for %s has no URL", fileName)
	}
	return &dest, nil
}

func (c *Client) AdvanceCursor(ctx context.Context, id string, lastFileNumber int) error {
	return c.do(ctx, http.MethodPut, c.datasetsPath(id, "cursor"), map[string]int{"last_file_number": lastFileNumber}, nil)
}
