package daemon

import "github.com/mbround18/hytale-vex-lich-dungeon/internal/models"

type V1ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type V1StatusMetrics struct {
	Enabled bool `json:"enabled"`
}

type V1StreamStatus struct {
	Connected   bool   `json:"connected"`
	LastEventAt string `json:"last_event_at,omitempty"`
	RetryIn     int    `json:"retry_in,omitempty"`
}

type V1UpstreamStatus struct {
	Status string `json:"status"`
	URL    string `json:"url,omitempty"`
}

type V1StatusResponse struct {
	Version       string           `json:"version"`
	Stream        V1StreamStatus   `json:"stream"`
	Upstream      V1UpstreamStatus `json:"upstream"`
	BufferEvents  int              `json:"buffer_events"`
	ArchivedCount int              `json:"archived_count"`
	Replay        V1ReplayResponse `json:"replay"`
	Metrics       V1StatusMetrics  `json:"metrics"`
	ReducedAt     string           `json:"reduced_at,omitempty"`
}

type V1SnapshotResponse struct {
	World     models.WorldState          `json:"world"`
	Summary   models.MetricsSummary      `json:"summary"`
	Presence  []models.PlayerPresence    `json:"presence"`
	Prefabs   map[string]models.RoomSize `json:"prefabs"`
	Replaying bool                       `json:"replaying"`
	ReducedAt string                     `json:"reduced_at,omitempty"`
}

type V1EventsResponse struct {
	Events   []models.CanonicalEvent `json:"events"`
	Matched  int                     `json:"matched"`
	Buffered int                     `json:"buffered"`
}

type V1IngestResponse struct {
	Accepted int `json:"accepted"`
}

type V1ArchiveSummary struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Status    string `json:"status,omitempty"`
	Rooms     int    `json:"rooms"`
	Entities  int    `json:"entities"`
	Kills     int    `json:"kills"`
	Players   int    `json:"players"`
}

type V1ArchivesResponse struct {
	Archives []V1ArchiveSummary `json:"archives"`
}

type V1ArchiveResponse struct {
	ID        string          `json:"id"`
	Timestamp string          `json:"timestamp"`
	Instance  models.Instance `json:"instance"`
}

type V1ArchiveEventsResponse struct {
	ID     string                  `json:"id"`
	Events []models.CanonicalEvent `json:"events"`
}

// V1EventLogSummary describes one replayable instance log.
type V1EventLogSummary struct {
	ID        string `json:"id"`
	Events    int    `json:"events"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

type V1EventLogsResponse struct {
	Logs []V1EventLogSummary `json:"logs"`
}

// V1ReplayStartRequest starts a replay from a stored instance or an
// explicit event list. Exactly one must be set.
type V1ReplayStartRequest struct {
	Instance string `json:"instance,omitempty"`
	Events   []any  `json:"events,omitempty"`
}

type V1ReplaySeekRequest struct {
	Cursor *int `json:"cursor"`
}

type V1ReplayResponse struct {
	Active         bool                   `json:"active"`
	Playing        bool                   `json:"playing"`
	Cursor         int                    `json:"cursor"`
	Length         int                    `json:"length"`
	Source         string                 `json:"source,omitempty"`
	World          string                 `json:"world,omitempty"`
	Current        *models.CanonicalEvent `json:"current,omitempty"`
	FirstTimestamp string                 `json:"first_timestamp,omitempty"`
	LastTimestamp  string                 `json:"last_timestamp,omitempty"`
}
