package main

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w
	defer func() { os.Stdout = oldStdout }()

	fn()
	_ = w.Close()
	os.Stdout = oldStdout
	out, err := io.ReadAll(r)
	_ = r.Close()
	require.NoError(t, err)
	return string(out)
}

func startUnixHTTPServer(t *testing.T, handler http.Handler) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "vexcli")
	require.NoError(t, err)
	socketPath := filepath.Join(dir, "d.sock")
	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	server := &http.Server{Handler: handler}
	go func() {
		_ = server.Serve(listener)
	}()
	t.Cleanup(func() {
		_ = server.Close()
		_ = listener.Close()
		_ = os.RemoveAll(dir)
	})
	return socketPath
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func withInteractive(t *testing.T, interactive bool, input string) {
	t.Helper()
	oldInteractive, oldReader, oldWriter := isInteractive, confirmReader, confirmWriter
	isInteractive = func() bool { return interactive }
	confirmReader = strings.NewReader(input)
	confirmWriter = io.Discard
	t.Cleanup(func() {
		isInteractive, confirmReader, confirmWriter = oldInteractive, oldReader, oldWriter
	})
}

func TestCLIStatusHappyPath(t *testing.T) {
	lastEvent := time.Now().Add(-3 * time.Minute).UTC().Format(time.RFC3339)
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/status", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		writeJSON(t, w, http.StatusOK, statusResponse{
			Version:       "version=dev",
			Stream:        streamStatus{Connected: true, LastEventAt: lastEvent},
			Upstream:      upstreamStatus{Status: "online", URL: "http://game:8080"},
			BufferEvents:  12345,
			ArchivedCount: 2,
			Replay:        replayResponse{Active: true, Playing: true, Cursor: 4, Length: 10},
			Metrics:       statusMetrics{Enabled: true},
		})
	})
	base := commonFlags{socketPath: startUnixHTTPServer(t, mux), timeout: time.Second}

	out := captureStdout(t, func() {
		require.NoError(t, runStatus(context.Background(), nil, base))
	})
	assert.Contains(t, out, "connected")
	assert.Contains(t, out, "3 minutes ago")
	assert.Contains(t, out, "online (http://game:8080)")
	assert.Contains(t, out, "12,345")
	assert.Contains(t, out, "playing 5/10")

	base.jsonOutput = true
	jsonOut := captureStdout(t, func() {
		require.NoError(t, runStatus(context.Background(), nil, base))
	})
	var got statusResponse
	require.NoError(t, json.Unmarshal([]byte(jsonOut), &got))
	assert.True(t, got.Metrics.Enabled)
	assert.Equal(t, 12345, got.BufferEvents)
}

func TestCLISnapshot(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/snapshot", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{
			"world": {
				"instances": {
					"b-run": {"name":"b-run","status":"closed","players":[],"stats":{"roomCount":1}},
					"a-run": {"name":"a-run","status":"active","players":["Alice"],"stats":{"roomCount":3,"entityCount":5,"killCount":2}}
				},
				"players": {"p1": {}},
				"portals": {}
			},
			"summary": {"instanceStats": {"active": 1, "total": 2}},
			"presence": [{"uuid":"u-1","name":"Alice","world":"a-run"}],
			"replaying": false
		}`)
	})
	base := commonFlags{socketPath: startUnixHTTPServer(t, mux), timeout: time.Second}

	out := captureStdout(t, func() {
		require.NoError(t, runSnapshot(context.Background(), nil, base))
	})
	assert.Less(t, strings.Index(out, "a-run"), strings.Index(out, "b-run"))
	assert.Contains(t, out, "1 active of 2 instances, 1 players, 0 portals")
	assert.Contains(t, out, "PLAYER")
	assert.Contains(t, out, "u-1")
}

func TestCLIEventsListSendsQuery(t *testing.T) {
	queries := make(chan string, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/events", func(w http.ResponseWriter, r *http.Request) {
		queries <- r.URL.RawQuery
		writeJSON(t, w, http.StatusOK, eventsResponse{
			Events:   []canonicalEvent{{ID: "e1", Timestamp: "2026-01-01T00:00:00.000Z", Type: "RoomGenerated"}},
			Matched:  1200,
			Buffered: 4000,
		})
	})
	base := commonFlags{socketPath: startUnixHTTPServer(t, mux), timeout: time.Second}

	out := captureStdout(t, func() {
		require.NoError(t, runEventsCommand(context.Background(), []string{"--q", "lich", "--limit", "1"}, base))
	})
	assert.Equal(t, "limit=1&q=lich", <-queries)
	assert.Contains(t, out, "RoomGenerated")
	assert.Contains(t, out, "showing 1 of 1,200 matched (4,000 buffered)")

	err := runEventsCommand(context.Background(), []string{"--limit", "-2"}, base)
	require.Error(t, err)
}

func TestCLIEventsImport(t *testing.T) {
	var mu sync.Mutex
	var gotBody string
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/events", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotBody = string(data)
		mu.Unlock()
		writeJSON(t, w, http.StatusOK, ingestResponse{Accepted: 2})
	})
	base := commonFlags{socketPath: startUnixHTTPServer(t, mux), timeout: time.Second}

	path := filepath.Join(t.TempDir(), "vex_telemetry_1.json")
	payload := `[{"type":"a"},{"type":"b"}]`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o600))

	out := captureStdout(t, func() {
		require.NoError(t, runEventsCommand(context.Background(), []string{"import", path}, base))
	})
	mu.Lock()
	assert.Equal(t, payload, gotBody)
	mu.Unlock()
	assert.Contains(t, out, "imported 2 events from vex_telemetry_1.json")

	err := runEventsCommand(context.Background(), []string{"import", filepath.Join(t.TempDir(), "x.json.age")}, base)
	require.Error(t, err)

	agePath := filepath.Join(t.TempDir(), "x.json.age")
	require.NoError(t, os.WriteFile(agePath, []byte("age"), 0o600))
	err = runEventsCommand(context.Background(), []string{"import", agePath}, base)
	require.Error(t, err)
	_, _, hints := describeError(err)
	assert.Contains(t, hints, "pass --identity with your age key file")
}

func TestCLIDestructiveCommandsRequireConfirmation(t *testing.T) {
	var mu sync.Mutex
	var deletes []string
	mux := http.NewServeMux()
	record := func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		deletes = append(deletes, r.Method+" "+r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}
	mux.HandleFunc("/v1/events", record)
	mux.HandleFunc("/v1/archives", record)
	base := commonFlags{socketPath: startUnixHTTPServer(t, mux), timeout: time.Second}

	withInteractive(t, false, "")
	err := runArchivesCommand(context.Background(), []string{"clear"}, base)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-interactive")

	jsonBase := base
	jsonBase.jsonOutput = true
	err = runEventsCommand(context.Background(), []string{"purge"}, jsonBase)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--json mode")

	withInteractive(t, true, "no\n")
	err = runEventsCommand(context.Background(), []string{"purge"}, base)
	require.EqualError(t, err, "aborted")

	withInteractive(t, true, "yes\n")
	out := captureStdout(t, func() {
		require.NoError(t, runEventsCommand(context.Background(), []string{"purge"}, base))
		require.NoError(t, runArchivesCommand(context.Background(), []string{"clear", "--force"}, base))
	})
	assert.Contains(t, out, "purge: ok")
	assert.Contains(t, out, "clear: ok")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"DELETE /v1/events", "DELETE /v1/archives"}, deletes)
}

func TestCLIArchives(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/archives", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, archivesResponse{Archives: []archiveSummary{
			{ID: "run 1", Timestamp: "2026-01-01T00:00:00.000Z", Status: "closed", Rooms: 4, Kills: 9, Players: 2},
		}})
	})
	mux.HandleFunc("/v1/archives/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		case strings.HasSuffix(r.URL.Path, "/events"):
			writeJSON(t, w, http.StatusNotFound, apiError{Error: "event log not found"})
		default:
			assert.Equal(t, "/v1/archives/run%201", r.URL.EscapedPath())
			_, _ = io.WriteString(w, `{"id":"run 1","instance":{"name":"run 1"}}`)
		}
	})
	base := commonFlags{socketPath: startUnixHTTPServer(t, mux), timeout: time.Second}

	out := captureStdout(t, func() {
		require.NoError(t, runArchivesCommand(context.Background(), []string{"list"}, base))
		require.NoError(t, runArchivesCommand(context.Background(), []string{"show", "run 1"}, base))
		require.NoError(t, runArchivesCommand(context.Background(), []string{"delete", "run 1"}, base))
	})
	assert.Contains(t, out, "run 1")
	assert.Contains(t, out, "closed")
	assert.Contains(t, out, `"instance": {`)
	assert.Contains(t, out, "delete: ok")

	err := runArchivesCommand(context.Background(), []string{"events", "run 1"}, base)
	require.EqualError(t, err, "event log not found")

	captureStdout(t, func() {
		err = runArchivesCommand(context.Background(), []string{"show"}, base)
	})
	require.Error(t, err)
}

func TestCLIReplay(t *testing.T) {
	var mu sync.Mutex
	var startBodies []replayStartRequest
	var seekCursor int
	state := replayResponse{Active: true, Cursor: 0, Length: 2, Source: "instance", World: "run-1",
		Current: &canonicalEvent{Type: "RoomGenerated", Timestamp: "2026-01-01T00:00:00.000Z"}}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/replay", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var req replayStartRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			mu.Lock()
			startBodies = append(startBodies, req)
			mu.Unlock()
			writeJSON(t, w, http.StatusCreated, state)
		case http.MethodDelete:
			writeJSON(t, w, http.StatusOK, replayResponse{})
		default:
			writeJSON(t, w, http.StatusOK, state)
		}
	})
	mux.HandleFunc("/v1/replay/seek", func(w http.ResponseWriter, r *http.Request) {
		var req replaySeekRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		seekCursor = req.Cursor
		mu.Unlock()
		next := state
		next.Cursor = req.Cursor
		writeJSON(t, w, http.StatusOK, next)
	})
	mux.HandleFunc("/v1/replay/toggle", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusConflict, apiError{Error: "replay is not active"})
	})
	base := commonFlags{socketPath: startUnixHTTPServer(t, mux), timeout: time.Second}

	path := filepath.Join(t.TempDir(), "export.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"type":"a"},{"type":"b"}]`), 0o600))

	out := captureStdout(t, func() {
		require.NoError(t, runReplayCommand(context.Background(), []string{"start", "run-1"}, base))
		require.NoError(t, runReplayCommand(context.Background(), []string{"start", "--file", path}, base))
		require.NoError(t, runReplayCommand(context.Background(), []string{"seek", "1"}, base))
		require.NoError(t, runReplayCommand(context.Background(), []string{"stop"}, base))
	})
	assert.Contains(t, out, "paused 1/2")
	assert.Contains(t, out, "RoomGenerated at 2026-01-01T00:00:00.000Z")
	assert.Contains(t, out, "paused 2/2")
	assert.Contains(t, out, "inactive")

	mu.Lock()
	assert.Equal(t, 1, seekCursor)
	require.Len(t, startBodies, 2)
	assert.Equal(t, "run-1", startBodies[0].Instance)
	assert.Len(t, startBodies[1].Events, 2)
	mu.Unlock()

	err := runReplayCommand(context.Background(), []string{"toggle"}, base)
	require.EqualError(t, err, "replay is not active")

	captureStdout(t, func() {
		err = runReplayCommand(context.Background(), []string{"start", "run-1", "--file", path}, base)
	})
	require.Error(t, err)

	err = runReplayCommand(context.Background(), []string{"seek", "first"}, base)
	require.Error(t, err)
}

func TestCLIReplayLogs(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/event-logs", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		writeJSON(t, w, http.StatusOK, eventLogsResponse{Logs: []eventLogSummary{
			{ID: "instance-vex-7", Events: 42, UpdatedAt: "2026-01-01T00:00:00.000Z"},
			{ID: "instance-vex-8", Events: 3},
		}})
	})
	base := commonFlags{socketPath: startUnixHTTPServer(t, mux), timeout: time.Second}

	out := captureStdout(t, func() {
		require.NoError(t, runReplayCommand(context.Background(), []string{"logs"}, base))
	})
	assert.Contains(t, out, "INSTANCE")
	assert.Contains(t, out, "instance-vex-7")
	assert.Contains(t, out, "42")
	assert.Contains(t, out, "instance-vex-8")

	jsonBase := base
	jsonBase.jsonOutput = true
	out = captureStdout(t, func() {
		require.NoError(t, runReplayCommand(context.Background(), []string{"logs"}, jsonBase))
	})
	assert.Contains(t, out, `"events": 42`)
}

func TestCLIExportWritesFile(t *testing.T) {
	instances := make(chan string, 2)
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/export", func(w http.ResponseWriter, r *http.Request) {
		instances <- r.URL.Query().Get("instance")
		w.Header().Set("Content-Disposition", `attachment; filename="vex_instance_run-1_x.json"`)
		_, _ = io.WriteString(w, `[{"type":"a"}]`)
	})
	base := commonFlags{socketPath: startUnixHTTPServer(t, mux), timeout: time.Second}

	out := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, runExport(context.Background(), []string{"--instance", "run-1", "--out", out}, base))
	assert.Equal(t, "run-1", <-instances)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, `[{"type":"a"}]`, string(data))

	stdout := captureStdout(t, func() {
		require.NoError(t, runExport(context.Background(), []string{"--out", "-"}, base))
	})
	assert.Equal(t, `[{"type":"a"}]`, stdout)
}

func TestResolveExportTarget(t *testing.T) {
	disposition := `attachment; filename="vex_telemetry_2026.json.age"`
	assert.Equal(t, "custom.json", resolveExportTarget(" custom.json ", disposition, true))
	assert.Equal(t, "-", resolveExportTarget("", disposition, false))
	assert.Equal(t, "vex_telemetry_2026.json.age", resolveExportTarget("", disposition, true))
	assert.Equal(t, "evil.json", resolveExportTarget("", `attachment; filename="../../evil.json"`, true))
	assert.True(t, strings.HasPrefix(resolveExportTarget("", "", true), "vex_telemetry_"))
}

func TestCLIUnreachableSocketHint(t *testing.T) {
	base := commonFlags{socketPath: filepath.Join(t.TempDir(), "missing.sock"), timeout: time.Second}
	err := runStatus(context.Background(), nil, base)
	require.Error(t, err)
	msg, next, hints := describeError(err)
	assert.True(t, strings.HasPrefix(msg, "vexdashd is not reachable"), msg)
	assert.Equal(t, "check that vexdashd is running", next)
	assert.Equal(t, []string{"socket: " + base.socketPath}, hints)
}

func TestRelativeTime(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "-", relativeTime("", now))
	assert.Equal(t, "2 hours ago", relativeTime("2026-01-01T10:00:00.000Z", now))
	assert.Equal(t, "1 minute ago", relativeTime("1767268740000", now))
	assert.Equal(t, "garbage", relativeTime("garbage", now))
}

func TestReplaySummary(t *testing.T) {
	assert.Equal(t, "inactive", replaySummary(replayResponse{}))
	assert.Equal(t, "playing 3/9", replaySummary(replayResponse{Active: true, Playing: true, Cursor: 2, Length: 9}))
}
