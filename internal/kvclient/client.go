// Package kvclient is a small Go SDK for talking to a worker or the
// controller over HTTP, used by cmd/kvctl.
// It mirrors a typical thin REST client: per-call timeout, JSON
// request/response bodies, and a status-code-to-error mapping.
package kvclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to one worker and/or the controller. A single Client
// can be pointed at either role — it just issues HTTP calls against
// whatever baseURL it's given per-call's endpoint.
type Client struct {
	httpClient *http.Client
}

// New creates a Client with the given per-call timeout.
func New(timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{httpClient: &http.Client{Timeout: timeout}}
}

// ErrNotFound is returned by Get when the worker responds 404.
var ErrNotFound = fmt.Errorf("key not found")

// APIError carries the HTTP status and message body from a non-2xx
// response.
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

// ─── Worker KV endpoints ──────────────────────────────────────────────────────

// PutResponse is returned after a successful write.
type PutResponse struct {
	Result string `json:"result"`
	Acks   int    `json:"acks"`
}

// Put stores key=value on the worker at workerBaseURL.
func (c *Client) Put(ctx context.Context, workerBaseURL, key, value string) (*PutResponse, error) {
	body, _ := json.Marshal(map[string]string{"value": value})
	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		fmt.Sprintf("%s/kv/%s", workerBaseURL, key), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("PUT request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var out PutResponse
	return &out, json.NewDecoder(resp.Body).Decode(&out)
}

// GetResponse is returned for a successful read.
type GetResponse struct {
	Value string `json:"value"`
}

// Get retrieves key from the worker at workerBaseURL.
func (c *Client) Get(ctx context.Context, workerBaseURL, key string) (*GetResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/kv/%s", workerBaseURL, key), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var out GetResponse
	return &out, json.NewDecoder(resp.Body).Decode(&out)
}

// Delete removes key from the worker at workerBaseURL.
func (c *Client) Delete(ctx context.Context, workerBaseURL, key string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		fmt.Sprintf("%s/delete/%s", workerBaseURL, key), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("DELETE request failed: %w", err)
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// ─── Controller endpoints ─────────────────────────────────────────────────────

// WorkersResponse lists the controller's current worker registry.
type WorkersResponse map[string]struct {
	Address string `json:"address"`
}

// Workers fetches the controller's worker list.
func (c *Client) Workers(ctx context.Context, controllerBaseURL string) (WorkersResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, controllerBaseURL+"/workers", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var out WorkersResponse
	return out, json.NewDecoder(resp.Body).Decode(&out)
}

// MapResponse is the controller's key->replica mapping.
type MapResponse struct {
	Primary  string   `json:"primary"`
	Replicas []string `json:"replicas"`
}

// Map queries the controller for key's replica set.
func (c *Client) Map(ctx context.Context, controllerBaseURL, key string) (*MapResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, controllerBaseURL+"/map?key="+key, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var out MapResponse
	return &out, json.NewDecoder(resp.Body).Decode(&out)
}

// Health fetches a raw health JSON body from either a worker or the
// controller (both expose GET /health).
func (c *Client) Health(ctx context.Context, baseURL string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var out map[string]any
	return out, json.NewDecoder(resp.Body).Decode(&out)
}
