package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// HTTPControllerClient implements ControllerClient by calling the
// controller's GET /map?key=K endpoint.
type HTTPControllerClient struct {
	controllerAddr string
	httpClient     *http.Client
}

// NewHTTPControllerClient builds a client bound to controllerAddr.
func NewHTTPControllerClient(controllerAddr string, httpClient *http.Client) *HTTPControllerClient {
	return &HTTPControllerClient{controllerAddr: controllerAddr, httpClient: httpClient}
}

type mappingResponse struct {
	Primary  string   `json:"primary"`
	Replicas []string `json:"replicas"`
}

// Mapping queries the controller for key's replica set.
func (c *HTTPControllerClient) Mapping(ctx context.Context, key string) ([]string, error) {
	u := fmt.Sprintf("%s/map?key=%s", c.controllerAddr, url.QueryEscape(key))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("controller returned HTTP %d", resp.StatusCode)
	}
	var out mappingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Replicas, nil
}

// HTTPPeerClient implements PeerClient over the worker-to-worker
// /replicate/{key} endpoint.
type HTTPPeerClient struct {
	httpClient *http.Client
}

// NewHTTPPeerClient builds an HTTPPeerClient.
func NewHTTPPeerClient(httpClient *http.Client) *HTTPPeerClient {
	return &HTTPPeerClient{httpClient: httpClient}
}

type replicateRequest struct {
	Value string `json:"value"`
}

// Replicate POSTs value to addr's /replicate/{key} endpoint.
func (c *HTTPPeerClient) Replicate(ctx context.Context, addr, key, value string) error {
	body, err := json.Marshal(replicateRequest{Value: value})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, addr+"/replicate/"+url.PathEscape(key), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("peer %s returned HTTP %d", addr, resp.StatusCode)
	}
	return nil
}
