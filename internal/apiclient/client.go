// ABOUTME: HTTP client for the game server's telemetry REST API.
// ABOUTME: Covers health, stats, world and player metadata, prefab sizes and remote archives.

// Package apiclient talks to the REST API exposed by the game server plugin.
//
// Every call is bounded by the client timeout. Non-2xx responses are returned
// as *StatusError so callers can tell an unreachable server from a refusal.
package apiclient

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
	"time"

	"github.com/mbround18/hytale-vex-lich-dungeon/internal/buildinfo"
	"github.com/mbround18/hytale-vex-lich-dungeon/internal/models"
	"github.com/mbround18/hytale-vex-lich-dungeon/internal/telemetry"
)

const maxResponseBytes = 8 << 20

// StatusError is returned for HTTP responses with status >= 400.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("upstream status %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("upstream status %d", e.Code)
}

// IsNotFound reports whether err is a 404 from the upstream.
func IsNotFound(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound
}

// Client is a game server API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	userAgent  string
}

// New constructs a Client for baseURL.
func New(baseURL string, timeout time.Duration) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return nil, errors.New("upstream url is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	return &Client{
		baseURL:    base,
		httpClient: &http.Client{},
		timeout:    timeout,
		userAgent:  buildinfo.UserAgent(),
	}, nil
}

// BaseURL returns the normalized upstream base URL.
func (c *Client) BaseURL() string {
	if c == nil {
		return ""
	}
	return c.baseURL
}

// PlayersResponse is the /metadata/players roster.
type PlayersResponse struct {
	Timestamp string                  `json:"timestamp,omitempty"`
	Players   []models.PlayerPresence `json:"players"`
}

type rawPlayer struct {
	UUID     string                 `json:"uuid"`
	PlayerID string                 `json:"playerId"`
	Name     string                 `json:"name"`
	World    string                 `json:"world"`
	Position *models.PlayerPosition `json:"position"`
}

// Health succeeds when GET /health returns 2xx.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/health", nil)
	return err
}

// Stats returns the raw /stats payload.
func (c *Client) Stats(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/stats", nil)
}

// Worlds returns the raw /metadata/worlds payload.
func (c *Client) Worlds(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/metadata/worlds", nil)
}

// Players returns the online roster. Entries without any id are skipped.
func (c *Client) Players(ctx context.Context) (PlayersResponse, error) {
	data, err := c.do(ctx, http.MethodGet, "/metadata/players", nil)
	if err != nil {
		return PlayersResponse{}, err
	}
	var payload struct {
		Timestamp string      `json:"timestamp"`
		Players   []rawPlayer `json:"players"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return PlayersResponse{}, fmt.Errorf("decode players: %w", err)
	}
	out := PlayersResponse{Timestamp: payload.Timestamp, Players: make([]models.PlayerPresence, 0, len(payload.Players))}
	for _, p := range payload.Players {
		id := firstNonEmpty(p.UUID, p.PlayerID, p.Name)
		if id == "" {
			continue
		}
		out.Players = append(out.Players, models.PlayerPresence{
			UUID:     id,
			Name:     firstNonEmpty(p.Name, id),
			World:    p.World,
			Position: p.Position,
			SeenAt:   payload.Timestamp,
		})
	}
	return out, nil
}

// Prefab fetches prefab metadata and resolves its footprint. A nil size with
// a nil error means the payload carried no usable dimensions.
func (c *Client) Prefab(ctx context.Context, prefabPath string) (*models.RoomSize, error) {
	if strings.TrimSpace(prefabPath) == "" {
		return nil, errors.New("prefab path is required")
	}
	data, err := c.do(ctx, http.MethodGet, "/metadata/prefab/"+url.PathEscape(prefabPath), nil)
	if err != nil {
		return nil, err
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode prefab %s: %w", prefabPath, err)
	}
	return telemetry.PrefabSize(payload), nil
}

// ListArchives returns the remote archive list. Both {"archives": [...]} and
// a bare array are accepted.
func (c *Client) ListArchives(ctx context.Context) ([]models.ArchiveRecord, error) {
	data, err := c.do(ctx, http.MethodGet, "/archives", nil)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(data)
	var records []models.ArchiveRecord
	if len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &records)
	} else {
		var wrapped struct {
			Archives []models.ArchiveRecord `json:"archives"`
		}
		err = json.Unmarshal(trimmed, &wrapped)
		records = wrapped.Archives
	}
	if err != nil {
		return nil, fmt.Errorf("decode archives: %w", err)
	}
	return records, nil
}

// SaveArchive upserts an archive on the upstream.
func (c *Client) SaveArchive(ctx context.Context, rec models.ArchiveRecord) error {
	_, err := c.do(ctx, http.MethodPost, "/archives", rec)
	return err
}

// DeleteArchive removes one upstream archive.
func (c *Client) DeleteArchive(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/archives/"+url.PathEscape(id), nil)
	return err
}

// ClearArchives removes every upstream archive.
func (c *Client) ClearArchives(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodDelete, "/archives", nil)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	if c == nil {
		return nil, errors.New("api client is nil")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	var body io.Reader
	if payload != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(payload); err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = buf
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", method, path, err)
	}
	if resp.StatusCode >= 400 {
		return nil, parseStatusError(resp.StatusCode, data)
	}
	return data, nil
}

func parseStatusError(status int, data []byte) error {
	statusErr := &StatusError{Code: status}
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
		statusErr.Message = payload.Error
	} else if text := strings.TrimSpace(string(data)); text != "" && len(text) <= 200 {
		statusErr.Message = text
	}
	return statusErr
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}
	return ""
}
