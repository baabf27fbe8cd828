package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"filippo.io/age"

	"github.com/mbround18/hytale-vex-lich-dungeon/internal/apiclient"
	"github.com/mbround18/hytale-vex-lich-dungeon/internal/buildinfo"
	"github.com/mbround18/hytale-vex-lich-dungeon/internal/db"
	"github.com/mbround18/hytale-vex-lich-dungeon/internal/export"
	"github.com/mbround18/hytale-vex-lich-dungeon/internal/ingest"
	"github.com/mbround18/hytale-vex-lich-dungeon/internal/models"
	"github.com/mbround18/hytale-vex-lich-dungeon/internal/replay"
)

const (
	maxJSONBytes       = 1 << 20 // Maximum size for JSON request bodies (1MB)
	maxIngestBytes     = 8 << 20 // Maximum size for telemetry uploads (8MB)
	defaultEventsLimit = 200     // Default events returned per query
	maxEventsLimit     = 5000    // Maximum events allowed per query
)

// ControlAPI handles local control plane HTTP requests over the Unix socket.
//
// Endpoints:
//   - GET    /v1/status                 - Stream, upstream and replay summary
//   - GET    /v1/snapshot               - Reduced world state with overlays
//   - GET    /v1/events?q=&limit=       - Search the live buffer
//   - POST   /v1/events                 - Ingest an event object or array
//   - DELETE /v1/events                 - Purge the live buffer
//   - GET    /v1/archives               - List archived instances
//   - DELETE /v1/archives               - Remove every archive and event log
//   - GET    /v1/archives/{id}          - Get one archive
//   - DELETE /v1/archives/{id}          - Remove one archive and its event log
//   - GET    /v1/archives/{id}/events   - Get an instance event log
//   - GET    /v1/replay                 - Replay state
//   - POST   /v1/replay                 - Start a replay
//   - DELETE /v1/replay                 - Stop the replay
//   - POST   /v1/replay/seek            - Move the replay cursor
//   - POST   /v1/replay/toggle          - Play or pause the replay
//   - GET    /v1/export[?instance=]     - Download telemetry as JSON
//   - GET    /v1/upstream/stats         - Game server stats passthrough
//   - GET    /v1/upstream/worlds        - Game server worlds passthrough
type ControlAPI struct {
	session        *Session
	metricsEnabled bool
	recipients     []age.Recipient
	logger         *log.Logger
	now            func() time.Time
}

// NewControlAPI creates a control API over a session.
func NewControlAPI(session *Session, logger *log.Logger) *ControlAPI {
	if logger == nil {
		logger = log.Default()
	}
	return &ControlAPI{
		session: session,
		logger:  logger,
		now:     time.Now,
	}
}

// WithMetricsEnabled annotates the status response with metrics listener state.
func (api *ControlAPI) WithMetricsEnabled(enabled bool) *ControlAPI {
	if api == nil {
		return api
	}
	api.metricsEnabled = enabled
	return api
}

// WithExportRecipients encrypts exports to the given age recipients.
func (api *ControlAPI) WithExportRecipients(recipients []age.Recipient) *ControlAPI {
	if api == nil {
		return api
	}
	api.recipients = recipients
	return api
}

// Register registers all control API handlers with the provided mux.
func (api *ControlAPI) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/v1/status", api.handleStatus)
	mux.HandleFunc("/v1/snapshot", api.handleSnapshot)
	mux.HandleFunc("/v1/events", api.handleEvents)
	mux.HandleFunc("/v1/archives", api.handleArchives)
	mux.HandleFunc("/v1/archives/", api.handleArchiveByID)
	mux.HandleFunc("/v1/event-logs", api.handleEventLogs)
	mux.HandleFunc("/v1/replay", api.handleReplay)
	mux.HandleFunc("/v1/replay/seek", api.handleReplaySeek)
	mux.HandleFunc("/v1/replay/toggle", api.handleReplayToggle)
	mux.HandleFunc("/v1/export", api.handleExport)
	mux.HandleFunc("/v1/upstream/stats", api.handleUpstreamStats)
	mux.HandleFunc("/v1/upstream/worlds", api.handleUpstreamWorlds)
}

func (api *ControlAPI) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, []string{http.MethodGet})
		return
	}
	status := api.session.Status()
	resp := V1StatusResponse{
		Version: buildinfo.Version,
		Stream: V1StreamStatus{
			Connected: status.Stream.Connected,
			RetryIn:   status.Stream.RetryIn,
		},
		Upstream:      V1UpstreamStatus{Status: status.Upstream, URL: status.UpstreamURL},
		BufferEvents:  status.BufferEvents,
		ArchivedCount: status.ArchivedCount,
		Replay:        replayToV1(api.session.ReplayState()),
		Metrics:       V1StatusMetrics{Enabled: api.metricsEnabled},
		ReducedAt:     formatTime(status.ReducedAt),
	}
	if status.Stream.LastEventAt > 0 {
		resp.Stream.LastEventAt = models.FormatTimestamp(time.UnixMilli(status.Stream.LastEventAt))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (api *ControlAPI) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, []string{http.MethodGet})
		return
	}
	snap := api.session.Snapshot()
	presence := make([]models.PlayerPresence, 0, len(snap.Presence))
	for _, p := range snap.Presence {
		presence = append(presence, p)
	}
	sort.Slice(presence, func(i, j int) bool {
		if presence[i].Name != presence[j].Name {
			return presence[i].Name < presence[j].Name
		}
		return presence[i].UUID < presence[j].UUID
	})
	writeJSON(w, http.StatusOK, V1SnapshotResponse{
		World:     snap.World,
		Summary:   snap.Summary,
		Presence:  presence,
		Prefabs:   snap.Prefabs,
		Replaying: snap.Replaying,
		ReducedAt: formatTime(snap.ReducedAt),
	})
}

func (api *ControlAPI) handleEvents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		api.handleEventsList(w, r)
	case http.MethodPost:
		api.handleEventsIngest(w, r)
	case http.MethodDelete:
		api.session.Purge(r.Context())
		w.WriteHeader(http.StatusNoContent)
	default:
		writeMethodNotAllowed(w, []string{http.MethodGet, http.MethodPost, http.MethodDelete})
	}
}

func (api *ControlAPI) handleEventsList(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"), defaultEventsLimit, maxEventsLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	query := r.URL.Query().Get("q")
	matched := api.session.Events(query, 0)
	resp := V1EventsResponse{
		Matched:  len(matched),
		Buffered: api.session.Status().BufferEvents,
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	resp.Events = matched
	writeJSON(w, http.StatusOK, resp)
}

func (api *ControlAPI) handleEventsIngest(w http.ResponseWriter, r *http.Request) {
	if r.Body == nil {
		writeError(w, http.StatusBadRequest, "request body is required")
		return
	}
	defer r.Body.Close()
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIngestBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large", err)
		return
	}
	accepted, err := api.session.IngestJSON(r.Context(), data)
	if err != nil {
		if errors.Is(err, ingest.ErrMalformed) {
			writeError(w, http.StatusBadRequest, "malformed telemetry payload", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to ingest events", err)
		return
	}
	writeJSON(w, http.StatusOK, V1IngestResponse{Accepted: accepted})
}

func (api *ControlAPI) handleArchives(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		records, err := api.session.ListArchives(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list archives", err)
			return
		}
		resp := V1ArchivesResponse{Archives: make([]V1ArchiveSummary, 0, len(records))}
		for _, rec := range records {
			resp.Archives = append(resp.Archives, archiveSummary(rec))
		}
		writeJSON(w, http.StatusOK, resp)
	case http.MethodDelete:
		if err := api.session.ClearArchives(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to clear archives", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeMethodNotAllowed(w, []string{http.MethodGet, http.MethodDelete})
	}
}

func (api *ControlAPI) handleEventLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, []string{http.MethodGet})
		return
	}
	logs, err := api.session.EventLogs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list event logs", err)
		return
	}
	resp := V1EventLogsResponse{Logs: make([]V1EventLogSummary, 0, len(logs))}
	for _, summary := range logs {
		item := V1EventLogSummary{ID: summary.ID, Events: summary.EventCount}
		if !summary.UpdatedAt.IsZero() {
			item.UpdatedAt = models.FormatTimestamp(summary.UpdatedAt)
		}
		resp.Logs = append(resp.Logs, item)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (api *ControlAPI) handleArchiveByID(w http.ResponseWriter, r *http.Request) {
	tail := strings.TrimPrefix(r.URL.EscapedPath(), "/v1/archives/")
	parts := strings.Split(strings.Trim(tail, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "archive not found")
		return
	}
	id, err := url.PathUnescape(parts[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid archive id")
		return
	}

	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			api.handleArchiveGet(w, r, id)
		case http.MethodDelete:
			if err := api.session.DeleteArchive(r.Context(), id); err != nil {
				writeError(w, http.StatusInternalServerError, "failed to delete archive", err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			writeMethodNotAllowed(w, []string{http.MethodGet, http.MethodDelete})
		}
		return
	case len(parts) == 2 && parts[1] == "events":
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, []string{http.MethodGet})
			return
		}
		events, ok, err := api.session.ArchiveEvents(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load event log", err)
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "event log not found")
			return
		}
		writeJSON(w, http.StatusOK, V1ArchiveEventsResponse{ID: id, Events: events})
		return
	}
	writeError(w, http.StatusNotFound, "archive not found")
}

func (api *ControlAPI) handleArchiveGet(w http.ResponseWriter, r *http.Request, id string) {
	rec, err := api.session.GetArchive(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrArchiveNotFound) {
			writeError(w, http.StatusNotFound, "archive not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load archive", err)
		return
	}
	resp := V1ArchiveResponse{ID: rec.ID, Timestamp: rec.Timestamp}
	if err := json.Unmarshal(rec.Data, &resp.Instance); err != nil {
		writeError(w, http.StatusInternalServerError, "archive data is corrupt", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (api *ControlAPI) handleReplay(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, replayToV1(api.session.ReplayState()))
	case http.MethodPost:
		api.handleReplayStart(w, r)
	case http.MethodDelete:
		api.session.StopReplay()
		writeJSON(w, http.StatusOK, replayToV1(api.session.ReplayState()))
	default:
		writeMethodNotAllowed(w, []string{http.MethodGet, http.MethodPost, http.MethodDelete})
	}
}

func (api *ControlAPI) handleReplayStart(w http.ResponseWriter, r *http.Request) {
	var req V1ReplayStartRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Instance = strings.TrimSpace(req.Instance)
	if (req.Instance == "") == (len(req.Events) == 0) {
		writeError(w, http.StatusBadRequest, "exactly one of instance or events is required")
		return
	}
	var (
		state models.ReplayState
		err   error
	)
	if req.Instance != "" {
		state, err = api.session.StartReplay(r.Context(), req.Instance)
	} else {
		state, err = api.session.StartReplayEvents(req.Events)
	}
	if err != nil {
		writeReplayError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, replayToV1(state))
}

func (api *ControlAPI) handleReplaySeek(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, []string{http.MethodPost})
		return
	}
	var req V1ReplaySeekRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Cursor == nil {
		writeError(w, http.StatusBadRequest, "cursor is required")
		return
	}
	state, err := api.session.SeekReplay(*req.Cursor)
	if err != nil {
		writeReplayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, replayToV1(state))
}

func (api *ControlAPI) handleReplayToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, []string{http.MethodPost})
		return
	}
	state, err := api.session.ToggleReplay()
	if err != nil {
		writeReplayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, replayToV1(state))
}

func (api *ControlAPI) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, []string{http.MethodGet})
		return
	}
	instance := strings.TrimSpace(r.URL.Query().Get("instance"))
	events, filename := api.session.ExportEvents(r.Context(), instance)
	if events == nil {
		events = []models.CanonicalEvent{}
	}
	encrypted := len(api.recipients) > 0
	filename = export.Filename(filename, encrypted)
	contentType := "application/json"
	if encrypted {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if err := export.Write(w, events, api.recipients); err != nil {
		api.logger.Printf("vexdashd: export %s: %v", filename, err)
	}
}

func (api *ControlAPI) handleUpstreamStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, []string{http.MethodGet})
		return
	}
	data, err := api.session.UpstreamStats(r.Context())
	writeUpstream(w, data, err)
}

func (api *ControlAPI) handleUpstreamWorlds(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, []string{http.MethodGet})
		return
	}
	data, err := api.session.UpstreamWorlds(r.Context())
	writeUpstream(w, data, err)
}

func writeUpstream(w http.ResponseWriter, data json.RawMessage, err error) {
	if err != nil {
		if errors.Is(err, ErrUpstreamDisabled) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		var statusErr *apiclient.StatusError
		if errors.As(err, &statusErr) {
			writeError(w, http.StatusBadGateway, "upstream request failed", err)
			return
		}
		writeError(w, http.StatusBadGateway, "upstream unreachable", err)
		return
	}
	if !json.Valid(data) {
		writeError(w, http.StatusBadGateway, "upstream returned invalid json")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func writeReplayError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, replay.ErrNotActive):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, replay.ErrNoEvents):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func replayToV1(state models.ReplayState) V1ReplayResponse {
	resp := V1ReplayResponse{
		Active:  state.Active,
		Playing: state.Playing,
		Cursor:  state.Cursor,
		Length:  len(state.Events),
		Source:  string(state.Source),
		World:   state.World,
	}
	if state.Active && state.Cursor >= 0 && state.Cursor < len(state.Events) {
		current := state.Events[state.Cursor]
		resp.Current = &current
	}
	if len(state.Events) > 0 {
		resp.FirstTimestamp = state.Events[0].Timestamp
		resp.LastTimestamp = state.Events[len(state.Events)-1].Timestamp
	}
	return resp
}

func archiveSummary(rec models.ArchiveRecord) V1ArchiveSummary {
	summary := V1ArchiveSummary{ID: rec.ID, Timestamp: rec.Timestamp}
	var inst models.Instance
	if err := json.Unmarshal(rec.Data, &inst); err != nil {
		return summary
	}
	summary.Status = string(inst.Status)
	summary.Rooms = len(inst.Rooms)
	summary.Entities = inst.Stats.EntityCount
	summary.Kills = inst.Stats.KillCount
	summary.Players = len(inst.Players)
	return summary
}

func parseLimit(raw string, def, maxLimit int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit, nil
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return models.FormatTimestamp(ts)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("unexpected trailing data")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string, err ...error) {
	payload := V1ErrorResponse{Error: msg}
	if len(err) > 0 && err[0] != nil {
		payload.Details = err[0].Error()
	}
	writeJSON(w, status, payload)
}

func writeMethodNotAllowed(w http.ResponseWriter, methods []string) {
	w.Header().Set("Allow", strings.Join(methods, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
