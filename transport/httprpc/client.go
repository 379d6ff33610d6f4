package httprpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	pipeline "github.com/gdevenyi/pydpiper"
	"github.com/gdevenyi/pydpiper/transport"
)

// Client talks to a coordinator's httprpc Server.
type Client struct {
	baseURL string
	http    *http.Client
}

// Compile-time check that Client implements transport.Client.
var _ transport.Client = (*Client)(nil)

// NewClient creates a client for the coordinator at addr (host:port or URL).
func NewClient(addr string) *Client {
	base := addr
	if len(base) < 7 || (base[:7] != "http://" && (len(base) < 8 || base[:8] != "https://")) {
		base = "http://" + base
	}
	return &Client{
		baseURL: base,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Register implements transport.Client.
func (c *Client) Register(ctx context.Context, capacity pipeline.Capacity) (string, error) {
	var resp registerResponse
	if err := c.post(ctx, "/register", registerRequest{Capacity: capacity}, &resp); err != nil {
		return "", err
	}
	return resp.WorkerID, nil
}

// Heartbeat implements transport.Client.
func (c *Client) Heartbeat(ctx context.Context, workerID string, running []int) (pipeline.HeartbeatAck, error) {
	var resp heartbeatResponse
	if err := c.post(ctx, "/heartbeat", heartbeatRequest{WorkerID: workerID, Running: running}, &resp); err != nil {
		return pipeline.HeartbeatAck{}, err
	}
	return pipeline.HeartbeatAck{Drain: resp.Drain}, nil
}

// Pull implements transport.Client.
func (c *Client) Pull(ctx context.Context, workerID string, free pipeline.Capacity) (pipeline.Assignment, error) {
	var resp pullResponse
	if err := c.post(ctx, "/pull", pullRequest{WorkerID: workerID, Free: free}, &resp); err != nil {
		return pipeline.Assignment{}, err
	}
	return pipeline.Assignment{
		Command: resp.Command,
		Stage:   fromWireStage(resp.Stage),
	}, nil
}

// Report implements transport.Client.
func (c *Client) Report(ctx context.Context, workerID string, ordinal int, outcome pipeline.Outcome) error {
	return c.post(ctx, "/report", reportRequest{WorkerID: workerID, Ordinal: ordinal, Outcome: outcome}, &struct{}{})
}

// Unregister implements transport.Client.
func (c *Client) Unregister(ctx context.Context, workerID string) error {
	return c.post(ctx, "/unregister", unregisterRequest{WorkerID: workerID}, &struct{}{})
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("building %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(path, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

func decodeError(path string, resp *http.Response) error {
	var er errorResponse
	_ = json.NewDecoder(resp.Body).Decode(&er)

	// Map the well-known statuses back to sentinel errors so callers can
	// react without string matching.
	switch resp.StatusCode {
	case http.StatusGone:
		return pipeline.ErrUnknownWorker
	case http.StatusServiceUnavailable:
		return pipeline.ErrNotDispatching
	case http.StatusNotFound:
		return pipeline.ErrStageNotFound
	}
	if er.Error != "" {
		return fmt.Errorf("%s: %s", path, er.Error)
	}
	return fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
}
