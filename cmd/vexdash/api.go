// ABOUTME: HTTP client for communicating with vexdashd over its Unix socket.
// ABOUTME: Provides the response shapes the CLI renders and JSON helpers.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const defaultSocketPath = "/run/vexdash/vexdashd.sock"

const (
	maxJSONOutputBytes = 16 << 20 // 16MB maximum JSON response size
	maxExportBytes     = 64 << 20 // 64MB maximum export download
)

// apiClient is an HTTP client for communicating with vexdashd over a Unix socket.
type apiClient struct {
	socketPath string
	httpClient *http.Client
	timeout    time.Duration
}

// apiError represents an error response from the vexdashd API.
type apiError struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type streamStatus struct {
	Connected   bool   `json:"connected"`
	LastEventAt string `json:"last_event_at,omitempty"`
	RetryIn     int    `json:"retry_in,omitempty"`
}

type upstreamStatus struct {
	Status string `json:"status"`
	URL    string `json:"url,omitempty"`
}

type canonicalEvent struct {
	ID        string `json:"internalId"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
}

type replayResponse struct {
	Active         bool            `json:"active"`
	Playing        bool            `json:"playing"`
	Cursor         int             `json:"cursor"`
	Length         int             `json:"length"`
	Source         string          `json:"source,omitempty"`
	World          string          `json:"world,omitempty"`
	Current        *canonicalEvent `json:"current,omitempty"`
	FirstTimestamp string          `json:"first_timestamp,omitempty"`
	LastTimestamp  string          `json:"last_timestamp,omitempty"`
}

type statusResponse struct {
	Version       string         `json:"version"`
	Stream        streamStatus   `json:"stream"`
	Upstream      upstreamStatus `json:"upstream"`
	BufferEvents  int            `json:"buffer_events"`
	ArchivedCount int            `json:"archived_count"`
	Replay        replayResponse `json:"replay"`
	Metrics       statusMetrics  `json:"metrics"`
	ReducedAt     string         `json:"reduced_at,omitempty"`
}

type statusMetrics struct {
	Enabled bool `json:"enabled"`
}

type instanceStats struct {
	RoomCount   int `json:"roomCount"`
	EntityCount int `json:"entityCount"`
	KillCount   int `json:"killCount"`
}

type instance struct {
	Name      string         `json:"name"`
	Rooms     map[string]any `json:"rooms"`
	Players   []string       `json:"players"`
	Active    bool           `json:"active"`
	Status    string         `json:"status"`
	StartedAt string         `json:"startedAt,omitempty"`
	Stats     instanceStats  `json:"stats"`
}

type summaryCounts struct {
	Total  int `json:"total"`
	Active int `json:"active"`
}

type snapshotResponse struct {
	World struct {
		Instances map[string]instance `json:"instances"`
		Players   map[string]any      `json:"players"`
		Portals   map[string]any      `json:"portals"`
	} `json:"world"`
	Summary struct {
		InstanceStats summaryCounts `json:"instanceStats"`
	} `json:"summary"`
	Presence []struct {
		UUID  string `json:"uuid"`
		Name  string `json:"name"`
		World string `json:"world,omitempty"`
	} `json:"presence"`
	Replaying bool   `json:"replaying"`
	ReducedAt string `json:"reduced_at,omitempty"`
}

type eventsResponse struct {
	Events   []canonicalEvent `json:"events"`
	Matched  int              `json:"matched"`
	Buffered int              `json:"buffered"`
}

type ingestResponse struct {
	Accepted int `json:"accepted"`
}

type archiveSummary struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Status    string `json:"status,omitempty"`
	Rooms     int    `json:"rooms"`
	Entities  int    `json:"entities"`
	Kills     int    `json:"kills"`
	Players   int    `json:"players"`
}

type archivesResponse struct {
	Archives []archiveSummary `json:"archives"`
}

type eventLogSummary struct {
	ID        string `json:"id"`
	Events    int    `json:"events"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

type eventLogsResponse struct {
	Logs []eventLogSummary `json:"logs"`
}

type replayStartRequest struct {
	Instance string            `json:"instance,omitempty"`
	Events   []json.RawMessage `json:"events,omitempty"`
}

type replaySeekRequest struct {
	Cursor int `json:"cursor"`
}

func newAPIClient(socketPath string, timeout time.Duration) *apiClient {
	path := socketPath
	if path == "" {
		path = defaultSocketPath
	}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", path)
		},
	}
	return &apiClient{
		socketPath: path,
		httpClient: &http.Client{Transport: transport},
		timeout:    timeout,
	}
}

// doJSON sends an HTTP request with a JSON payload and returns the JSON response.
func (c *apiClient) doJSON(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(payload); err != nil {
			return nil, err
		}
		body = buf
	}
	return c.doRaw(ctx, method, path, body, "application/json", maxJSONOutputBytes)
}

// doRaw sends body as-is and returns at most limit bytes of the response.
func (c *apiClient) doRaw(ctx context.Context, method, path string, body io.Reader, contentType string, limit int64) ([]byte, error) {
	data, _, err := c.do(ctx, method, path, body, contentType, limit)
	return data, err
}

func (c *apiClient) do(ctx context.Context, method, path string, body io.Reader, contentType string, limit int64) ([]byte, http.Header, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, "http://unix"+path, body)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil && contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("request %s %s via %s: %w", method, path, c.socketPath, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, nil, parseAPIError(resp.StatusCode, data)
	}
	return data, resp.Header, nil
}

// parseAPIError converts an HTTP error response into an error.
func parseAPIError(status int, data []byte) error {
	if len(data) > 0 {
		var apiErr apiError
		if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error != "" {
			if apiErr.Details != "" {
				return fmt.Errorf("%s: %s", apiErr.Error, apiErr.Details)
			}
			return errors.New(apiErr.Error)
		}
	}
	return fmt.Errorf("request failed with status %d", status)
}

// withTimeout adds the client's timeout to the context if configured.
func (c *apiClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c == nil || c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// prettyPrintJSON formats JSON data with indentation and writes it to the writer.
func prettyPrintJSON(w io.Writer, data []byte) error {
	var out bytes.Buffer
	if err := json.Indent(&out, data, "", "  "); err != nil {
		_, err = w.Write(data)
		return err
	}
	out.WriteByte('\n')
	_, err := w.Write(out.Bytes())
	return err
}
