// Package stream consumes the game server's server-sent event feed and keeps
// the connection alive with capped exponential backoff.
package stream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// Named SSE events the game server emits.
const (
	EventMessage = "message"
	EventPrefab  = "prefab"
)

const (
	DefaultHeartbeat  = 5 * time.Second
	DefaultStaleAfter = 15 * time.Second

	maxLineBytes = 4 << 20
)

var errStale = errors.New("stream stale")

// Status is reported on every connection change.
// RetryIn is the rounded number of seconds until the next attempt.
type Status struct {
	Connected bool
	RetryIn   int
}

// Backoff computes reconnect delays.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxExponent int
	Jitter      time.Duration
}

// DefaultBackoff is 1s doubling up to 30s with up to 500ms of jitter.
var DefaultBackoff = Backoff{
	Base:        time.Second,
	Max:         30 * time.Second,
	MaxExponent: 5,
	Jitter:      500 * time.Millisecond,
}

// Delay returns the wait before the given 1-based attempt, excluding jitter.
func (b Backoff) Delay(attempt int) time.Duration {
	exp := min(max(attempt-1, 0), b.MaxExponent)
	delay := b.Base << exp
	if b.Max > 0 && delay > b.Max {
		delay = b.Max
	}
	return delay
}

// Options configure a Client.
type Options struct {
	BaseURL     string
	HTTPClient  *http.Client
	OnMessage   func(data []byte)
	OnPrefab    func(data []byte)
	OnStatus    func(Status)
	OnReconnect func(attempt int, delay time.Duration)
	// HealthCheck reports whether the upstream is reachable. A healthy
	// upstream retries after Backoff.Base instead of the escalated delay.
	HealthCheck func(ctx context.Context) bool
	Backoff     Backoff
	Heartbeat   time.Duration
	StaleAfter  time.Duration
	Logger      *log.Logger
	Now         func() time.Time
	// Jitter returns a random duration in [0, n). Defaults to math/rand/v2.
	Jitter func(n time.Duration) time.Duration
}

// Client is a reconnecting SSE consumer.
type Client struct {
	url         string
	httpClient  *http.Client
	onMessage   func([]byte)
	onPrefab    func([]byte)
	onStatus    func(Status)
	onReconnect func(int, time.Duration)
	healthCheck func(context.Context) bool
	backoff     Backoff
	heartbeat   time.Duration
	staleAfter  time.Duration
	logger      *log.Logger
	now         func() time.Time
	jitter      func(time.Duration) time.Duration

	lastEventAt atomic.Int64
}

// New constructs a Client for {BaseURL}/events.
func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("stream base url is required")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	backoff := opts.Backoff
	if backoff.Base <= 0 {
		backoff = DefaultBackoff
	}
	heartbeat := opts.Heartbeat
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	staleAfter := opts.StaleAfter
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	jitter := opts.Jitter
	if jitter == nil {
		jitter = func(n time.Duration) time.Duration {
			if n <= 0 {
				return 0
			}
			return rand.N(n)
		}
	}
	return &Client{
		url:         base + "/events",
		httpClient:  client,
		onMessage:   opts.OnMessage,
		onPrefab:    opts.OnPrefab,
		onStatus:    opts.OnStatus,
		onReconnect: opts.OnReconnect,
		healthCheck: opts.HealthCheck,
		backoff:     backoff,
		heartbeat:   heartbeat,
		staleAfter:  staleAfter,
		logger:      logger,
		now:         now,
		jitter:      jitter,
	}, nil
}

// Run connects and reconnects until ctx is canceled.
func (c *Client) Run(ctx context.Context) {
	attempt := 0
	for {
		sawEvent, err := c.connect(ctx)
		if ctx.Err() != nil {
			return
		}
		if sawEvent {
			attempt = 0
		}
		c.logger.Printf("vexdashd: event stream disconnected: %v", err)
		c.report(Status{Connected: false})

		attempt++
		delay := c.nextDelay(ctx, attempt)
		if c.onReconnect != nil {
			c.onReconnect(attempt, delay)
		}
		if delay <= 0 {
			continue
		}
		c.report(Status{Connected: false, RetryIn: max(1, int((delay+500*time.Millisecond)/time.Second))})
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// LastEventAt returns the time of the last received event or connection open.
func (c *Client) LastEventAt() time.Time {
	ms := c.lastEventAt.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func (c *Client) nextDelay(ctx context.Context, attempt int) time.Duration {
	if c.healthCheck != nil && c.healthCheck(ctx) {
		return c.backoff.Base
	}
	return c.backoff.Delay(attempt) + c.jitter(c.backoff.Jitter)
}

func (c *Client) report(status Status) {
	if c.onStatus != nil {
		c.onStatus(status)
	}
}

func (c *Client) touch() {
	c.lastEventAt.Store(c.now().UnixMilli())
}

// connect runs one connection until it fails. It reports whether at least one
// event arrived.
func (c *Client) connect(ctx context.Context) (bool, error) {
	connCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	req, err := http.NewRequestWithContext(connCtx, http.MethodGet, c.url, nil)
	if err != nil {
		return false, fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("open stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("open stream: unexpected status %s", resp.Status)
	}

	c.touch()
	c.report(Status{Connected: true})
	go c.watchLiveness(connCtx, cancel)

	sawEvent := false
	err = readEvents(resp.Body, func(name string, data []byte) {
		c.touch()
		sawEvent = true
		c.dispatch(name, data)
	})
	if cause := context.Cause(connCtx); errors.Is(cause, errStale) {
		return sawEvent, errStale
	}
	if err == nil {
		err = errors.New("stream closed by server")
	}
	return sawEvent, err
}

func (c *Client) watchLiveness(ctx context.Context, cancel context.CancelCauseFunc) {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			last := c.lastEventAt.Load()
			if last > 0 && c.now().UnixMilli()-last > c.staleAfter.Milliseconds() {
				cancel(errStale)
				return
			}
		}
	}
}

func (c *Client) dispatch(name string, data []byte) {
	switch name {
	case EventMessage:
		if c.onMessage != nil {
			c.onMessage(data)
		}
	case EventPrefab:
		if c.onPrefab != nil {
			c.onPrefab(data)
		}
	}
}

// readEvents parses an SSE body and calls emit for every dispatched event.
// Events without a name are "message" events.
func readEvents(body io.Reader, emit func(name string, data []byte)) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var (
		name string
		data bytes.Buffer
		has  bool
	)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if has {
				if name == "" {
					name = EventMessage
				}
				emit(name, bytes.Clone(data.Bytes()))
			}
			name, has = "", false
			data.Reset()
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = value
		case "data":
			if has {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			has = true
		}
	}
	return scanner.Err()
}
