// Package client provides a Go SDK for talking to the coordinator's HTTP
// API, so callers don't have to hand-build requests and decode JSON
// themselves.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"filesync-coordinator/internal/coordinator"
	"filesync-coordinator/internal/model"
)

// Client talks to a single coordinator instance over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client. A zero timeout defaults to 10s — never call a
// network endpoint without one.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{baseURL: baseURL, httpClient: &http.Client{Timeout: timeout}}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// RegisterNode registers this node with the coordinator.
func (c *Client) RegisterNode(ctx context.Context, req coordinator.RegisterNodeRequest) (*coordinator.RegisterNodeResult, error) {
	var out coordinator.RegisterNodeResult
	if err := c.do(ctx, http.MethodPost, "/nodes", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListNodes(ctx context.Context) ([]model.Node, error) {
	var out struct {
		Nodes []model.Node `json:"nodes"`
	}
	if err := c.do(ctx, http.MethodGet, "/nodes", nil, &out); err != nil {
		return nil, err
	}
	return out.Nodes, nil
}

func (c *Client) RemoveNode(ctx context.Context, nodeID string) error {
	return c.do(ctx, http.MethodDelete, "/nodes/"+nodeID, nil, nil)
}

func (c *Client) Heartbeat(ctx context.Context, nodeID string) error {
	return c.do(ctx, http.MethodPost, "/nodes/"+nodeID+"/heartbeat", nil, nil)
}

// UploadFile uploads file content, requiring the caller to declare its
// SHA-256 — the coordinator rejects a mismatching or missing hash.
func (c *Client) UploadFile(ctx context.Context, req coordinator.UploadFileRequest) (*coordinator.UploadFileResult, error) {
	var out coordinator.UploadFileResult
	if err := c.do(ctx, http.MethodPost, "/files", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetFile(ctx context.Context, fileID string) (*model.FileMetadata, error) {
	var out model.FileMetadata
	if err := c.do(ctx, http.MethodGet, "/files/"+fileID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListFiles(ctx context.Context, owner string, includeDeleted bool) ([]model.FileMetadata, error) {
	path := fmt.Sprintf("/files?include_deleted=%t", includeDeleted)
	if owner != "" {
		path += "&owner=" + owner
	}
	var out struct {
		Files []model.FileMetadata `json:"files"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Files, nil
}

// DownloadFile fetches the current raw bytes of a file.
func (c *Client) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/files/"+fileID+"/content", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) DeleteFile(ctx context.Context, fileID, requesterID string) error {
	return c.do(ctx, http.MethodDelete, "/files/"+fileID+"?requester_id="+requesterID, nil, nil)
}

func (c *Client) RestoreVersion(ctx context.Context, fileID, versionID, requesterID string) (*model.FileVersion, error) {
	var out model.FileVersion
	path := fmt.Sprintf("/files/%s/restore/%s?requester_id=%s", fileID, versionID, requesterID)
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetFileHistory(ctx context.Context, fileID string) (*coordinator.FileHistory, error) {
	var out coordinator.FileHistory
	if err := c.do(ctx, http.MethodGet, "/files/"+fileID+"/history", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ApplyDeltaSync(ctx context.Context, fileID string, req coordinator.DeltaSyncRequest) (*coordinator.DeltaSyncResult, error) {
	var out coordinator.DeltaSyncResult
	if err := c.do(ctx, http.MethodPost, "/files/"+fileID+"/delta-sync", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListConflicts(ctx context.Context) ([]model.Conflict, error) {
	var out struct {
		Conflicts []model.Conflict `json:"conflicts"`
	}
	if err := c.do(ctx, http.MethodGet, "/conflicts", nil, &out); err != nil {
		return nil, err
	}
	return out.Conflicts, nil
}

func (c *Client) ResolveConflict(ctx context.Context, conflictID, strategy, resolvedVersionID string) error {
	body := map[string]string{"strategy": strategy, "resolved_version_id": resolvedVersionID}
	return c.do(ctx, http.MethodPost, "/conflicts/"+conflictID+"/resolve", body, nil)
}

func (c *Client) GetTopology(ctx context.Context) (*coordinator.Topology, error) {
	var out coordinator.Topology
	if err := c.do(ctx, http.MethodGet, "/topology", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ─── Errors ──────────────────────────────────────────────────────────────

// ErrNotFound is returned for any 404 response.
var ErrNotFound = fmt.Errorf("not found")

// APIError carries the HTTP status and message the server returned.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	var apiErr struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Error
	if msg == "" {
		msg = string(body)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
