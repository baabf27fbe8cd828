package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mbround18/hytale-vex-lich-dungeon/internal/apiclient"
	"github.com/mbround18/hytale-vex-lich-dungeon/internal/bus"
	"github.com/mbround18/hytale-vex-lich-dungeon/internal/db"
	"github.com/mbround18/hytale-vex-lich-dungeon/internal/export"
	"github.com/mbround18/hytale-vex-lich-dungeon/internal/ingest"
	"github.com/mbround18/hytale-vex-lich-dungeon/internal/models"
	"github.com/mbround18/hytale-vex-lich-dungeon/internal/replay"
	"github.com/mbround18/hytale-vex-lich-dungeon/internal/stream"
	"github.com/mbround18/hytale-vex-lich-dungeon/internal/telemetry"
	"github.com/mbround18/hytale-vex-lich-dungeon/internal/world"
)

const (
	defaultHealthInterval     = 10 * time.Second
	defaultPlayerPollInterval = 5 * time.Second
	prefabFetchRate           = 5
	prefabFetchBurst          = 10

	reduceModeLive   = "live"
	reduceModeReplay = "replay"
)

// Upstream health as reported to clients.
const (
	UpstreamOnline   = "online"
	UpstreamSevered  = "severed"
	UpstreamUnknown  = "unknown"
	UpstreamDisabled = "disabled"
)

// ErrUpstreamDisabled is returned by upstream proxies when no game server is configured.
var ErrUpstreamDisabled = errors.New("upstream not configured")

// StreamSettings enable the live SSE feed from the upstream.
type StreamSettings struct {
	Backoff    stream.Backoff
	Heartbeat  time.Duration
	StaleAfter time.Duration
	HTTPClient *http.Client
}

// SessionOptions configure a Session. Bus is required; every other
// collaborator is optional.
type SessionOptions struct {
	Bus                *bus.Bus
	Store              *db.Store
	Upstream           *apiclient.Client
	Stream             *StreamSettings
	Metrics            *Metrics
	Logger             *log.Logger
	Now                func() time.Time
	ReplayTick         time.Duration
	HealthInterval     time.Duration
	PlayerPollInterval time.Duration
	RemoteArchives     bool
	SeedFiles          []string
}

// Session owns the daemon's telemetry state: the live buffer, ingestion,
// the reduced world, replay, archives and the upstream overlays.
type Session struct {
	bus                *bus.Bus
	store              *db.Store
	upstream           *apiclient.Client
	stream             *stream.Client
	ingester           *ingest.Ingester
	replay             *replay.Controller
	metrics            *Metrics
	logger             *log.Logger
	now                func() time.Time
	healthInterval     time.Duration
	playerPollInterval time.Duration
	remoteArchives     bool
	seedFiles          []string
	prefabLimiter      *rate.Limiter
	refresh            chan struct{}

	mu             sync.Mutex
	state          models.WorldState
	summary        models.MetricsSummary
	reducedAt      time.Time
	replaying      bool
	archived       map[string]struct{}
	presence       map[string]models.PlayerPresence
	prefabs        map[string]models.RoomSize
	pendingPrefabs map[string]struct{}
	upstreamStatus string
	runCtx         context.Context
	cancel         context.CancelFunc
	stopped        bool

	archiveMu     sync.Mutex
	archiveWarned bool
	startOnce     sync.Once
	stopOnce      sync.Once
	wg            sync.WaitGroup
}

// Snapshot is the reduced world plus the overlays that are not derived
// from events.
type Snapshot struct {
	World     models.WorldState                `json:"world"`
	Summary   models.MetricsSummary            `json:"summary"`
	Presence  map[string]models.PlayerPresence `json:"presence"`
	Prefabs   map[string]models.RoomSize       `json:"prefabs"`
	ReducedAt time.Time                        `json:"reducedAt"`
	Replaying bool                             `json:"replaying"`
}

// SessionStatus summarizes connection and replay state.
type SessionStatus struct {
	Stream        models.StreamStatus `json:"stream"`
	Upstream      string              `json:"upstream"`
	UpstreamURL   string              `json:"upstreamUrl,omitempty"`
	BufferEvents  int                 `json:"bufferEvents"`
	Replay        models.ReplayState  `json:"replay"`
	ArchivedCount int                 `json:"archivedCount"`
	ReducedAt     time.Time           `json:"reducedAt"`
}

// NewSession wires ingestion, replay and the optional stream client.
func NewSession(opts SessionOptions) (*Session, error) {
	if opts.Bus == nil {
		return nil, errors.New("session bus is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	healthInterval := opts.HealthInterval
	if healthInterval <= 0 {
		healthInterval = defaultHealthInterval
	}
	playerPollInterval := opts.PlayerPollInterval
	if playerPollInterval <= 0 {
		playerPollInterval = defaultPlayerPollInterval
	}
	upstreamStatus := UpstreamDisabled
	if opts.Upstream != nil {
		upstreamStatus = UpstreamUnknown
	}

	s := &Session{
		bus:                opts.Bus,
		store:              opts.Store,
		upstream:           opts.Upstream,
		metrics:            opts.Metrics,
		logger:             logger,
		now:                now,
		healthInterval:     healthInterval,
		playerPollInterval: playerPollInterval,
		remoteArchives:     opts.RemoteArchives,
		seedFiles:          append([]string(nil), opts.SeedFiles...),
		prefabLimiter:      rate.NewLimiter(rate.Limit(prefabFetchRate), prefabFetchBurst),
		refresh:            make(chan struct{}, 1),
		archived:           make(map[string]struct{}),
		presence:           make(map[string]models.PlayerPresence),
		prefabs:            make(map[string]models.RoomSize),
		pendingPrefabs:     make(map[string]struct{}),
		upstreamStatus:     upstreamStatus,
	}
	s.state, s.summary = world.Reduce(nil, now())
	s.reducedAt = now()

	s.replay = replay.New(replay.Options{
		Tick:   opts.ReplayTick,
		Apply:  s.applyReplay,
		OnStop: s.replayStopped,
		Logger: logger,
	})

	ingestOpts := ingest.Options{
		Bus:          opts.Bus,
		ReplayActive: s.replay.Active,
		Logger:       logger,
		Now:          now,
	}
	if opts.Store != nil {
		ingestOpts.EventLog = opts.Store
	}
	if opts.Metrics != nil {
		ingestOpts.Observer = opts.Metrics
	}
	s.ingester = ingest.New(ingestOpts)

	if opts.Stream != nil && opts.Upstream != nil {
		client, err := stream.New(stream.Options{
			BaseURL:     opts.Upstream.BaseURL(),
			HTTPClient:  opts.Stream.HTTPClient,
			OnMessage:   s.handleStreamMessage,
			OnPrefab:    s.handlePrefabPayload,
			OnStatus:    s.handleStreamStatus,
			OnReconnect: func(int, time.Duration) { s.metrics.IncStreamReconnect() },
			HealthCheck: s.upstreamHealthy,
			Backoff:     opts.Stream.Backoff,
			Heartbeat:   opts.Stream.Heartbeat,
			StaleAfter:  opts.Stream.StaleAfter,
			Logger:      logger,
			Now:         now,
		})
		if err != nil {
			return nil, fmt.Errorf("create stream client: %w", err)
		}
		s.stream = client
	}
	return s, nil
}

// Start launches the buffer watcher, pollers and stream client. Only the
// first call has any effect.
func (s *Session) Start(ctx context.Context) error {
	if s == nil {
		return errors.New("session is nil")
	}
	var err error
	s.startOnce.Do(func() {
		err = s.start(ctx)
	})
	return err
}

func (s *Session) start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.runCtx = runCtx
	s.cancel = cancel
	s.mu.Unlock()

	if err := s.bus.Attach(runCtx); err != nil {
		cancel()
		return fmt.Errorf("attach bus: %w", err)
	}
	s.loadArchivedIDs(runCtx)

	updates, unsubscribe := s.bus.Subscribe()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer unsubscribe()
		s.watchBuffer(runCtx, updates)
	}()

	statuses, unsubscribeStatus := s.bus.SubscribeStatus()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer unsubscribeStatus()
		s.watchStatus(runCtx, statuses)
	}()

	s.loadSeedFiles(runCtx)

	if s.upstream != nil {
		s.startPoller(runCtx, s.healthInterval, s.checkHealth)
		s.startPoller(runCtx, s.playerPollInterval, s.pollPlayers)
	}
	if s.stream != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.stream.Run(runCtx)
		}()
	}
	s.logger.Printf("vexdashd: session started (upstream=%s)", s.upstreamLabel())
	return nil
}

// Stop ends replay, cancels every background task and waits for them.
// Safe to call more than once.
func (s *Session) Stop() {
	if s == nil {
		return
	}
	s.stopOnce.Do(func() {
		s.replay.Stop()
		s.mu.Lock()
		s.stopped = true
		cancel := s.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		s.wg.Wait()
	})
}

func (s *Session) startPoller(ctx context.Context, interval time.Duration, poll func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		poll(ctx)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				poll(ctx)
			}
		}
	}()
}

func (s *Session) watchBuffer(ctx context.Context, updates <-chan []models.CanonicalEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case buffer, ok := <-updates:
			if !ok {
				return
			}
			s.metrics.SetBufferEvents(len(buffer))
			s.refreshLive(ctx, buffer)
		case <-s.refresh:
			s.refreshLive(ctx, s.bus.Snapshot())
		}
	}
}

// watchStatus mirrors the shared stream status into metrics, including
// status applied by peers over the bus transport.
func (s *Session) watchStatus(ctx context.Context, statuses <-chan models.StreamStatus) {
	connected := false
	for {
		select {
		case <-ctx.Done():
			return
		case status, ok := <-statuses:
			if !ok {
				return
			}
			s.metrics.SetStreamConnected(status.Connected)
			if status.Connected != connected {
				s.logger.Printf("vexdashd: stream connected=%t retry_in=%ds", status.Connected, status.RetryIn)
				connected = status.Connected
			}
		}
	}
}

// refreshLive reduces the live buffer and runs the post-reduce side
// effects. It is a no-op while a replay owns the world state.
func (s *Session) refreshLive(ctx context.Context, buffer []models.CanonicalEvent) {
	state, ok := s.setLive(buffer)
	if !ok {
		return
	}
	s.archiveClosed(ctx, state)
	s.ensurePrefabs(state)
}

func (s *Session) setLive(buffer []models.CanonicalEvent) (models.WorldState, bool) {
	started := time.Now()
	now := s.now()
	state, summary := world.Reduce(world.Chronological(buffer), now)
	s.metrics.ObserveReduce(reduceModeLive, time.Since(started))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replaying {
		return models.WorldState{}, false
	}
	s.state = state
	s.summary = summary
	s.reducedAt = now
	return state, true
}

// applyReplay runs under the replay controller lock.
func (s *Session) applyReplay(events []models.CanonicalEvent) {
	started := time.Now()
	now := s.now()
	state, summary := world.Reduce(events, now)
	s.metrics.ObserveReduce(reduceModeReplay, time.Since(started))

	s.mu.Lock()
	s.replaying = true
	s.state = state
	s.summary = summary
	s.reducedAt = now
	s.mu.Unlock()
	s.metrics.SetReplayActive(true)
}

// replayStopped runs under the replay controller lock. Archival is left to
// the buffer watcher.
func (s *Session) replayStopped() {
	s.mu.Lock()
	s.replaying = false
	s.mu.Unlock()
	s.metrics.SetReplayActive(false)
	s.setLive(s.bus.Snapshot())
	select {
	case s.refresh <- struct{}{}:
	default:
	}
}

// IngestJSON ingests an object or array and refreshes the world state.
func (s *Session) IngestJSON(ctx context.Context, data []byte) (int, error) {
	if s == nil {
		return 0, errors.New("session is nil")
	}
	accepted, err := s.ingester.IngestJSON(ctx, data)
	if accepted > 0 {
		s.refreshLive(ctx, s.bus.Snapshot())
	}
	return accepted, err
}

// Purge empties the live buffer on this process and its peers.
func (s *Session) Purge(ctx context.Context) {
	if s == nil {
		return
	}
	s.bus.Clear()
	s.refreshLive(ctx, nil)
	s.logger.Printf("vexdashd: event buffer purged")
}

// Events returns buffered events, newest first, whose type or payload
// contains query (case-insensitive). A non-positive limit returns all.
func (s *Session) Events(query string, limit int) []models.CanonicalEvent {
	if s == nil {
		return nil
	}
	buffer := s.bus.Snapshot()
	term := strings.ToLower(strings.TrimSpace(query))
	out := make([]models.CanonicalEvent, 0, len(buffer))
	for _, ev := range buffer {
		if term != "" && !matchesSearch(ev, term) {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func matchesSearch(ev models.CanonicalEvent, term string) bool {
	if strings.Contains(strings.ToLower(ev.Type), term) {
		return true
	}
	payload := ev.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(data)), term)
}

// Snapshot returns copies of the current world state and overlays.
func (s *Session) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	presence := make(map[string]models.PlayerPresence, len(s.presence))
	for id, p := range s.presence {
		presence[id] = p
	}
	prefabs := make(map[string]models.RoomSize, len(s.prefabs))
	for path, size := range s.prefabs {
		prefabs[path] = size
	}
	return Snapshot{
		World:     s.state,
		Summary:   s.summary,
		Presence:  presence,
		Prefabs:   prefabs,
		ReducedAt: s.reducedAt,
		Replaying: s.replaying,
	}
}

// Status reports stream, upstream and replay state.
func (s *Session) Status() SessionStatus {
	if s == nil {
		return SessionStatus{}
	}
	replayState := s.replay.State()
	replayState.Events = nil
	s.mu.Lock()
	defer s.mu.Unlock()
	status := SessionStatus{
		Stream:        s.bus.Status(),
		Upstream:      s.upstreamStatus,
		BufferEvents:  s.bus.Len(),
		Replay:        replayState,
		ArchivedCount: len(s.archived),
		ReducedAt:     s.reducedAt,
	}
	if s.upstream != nil {
		status.UpstreamURL = s.upstream.BaseURL()
	}
	return status
}

// StartReplay loads an instance's stored event log, or the matching live
// events when no log exists, and starts a paused replay over it.
func (s *Session) StartReplay(ctx context.Context, instance string) (models.ReplayState, error) {
	if s == nil {
		return models.ReplayState{}, errors.New("session is nil")
	}
	instance = strings.TrimSpace(instance)
	if instance == "" {
		return models.ReplayState{}, errors.New("instance is required")
	}
	events, source := s.instanceEvents(ctx, instance)
	if source == models.ReplaySourceBuffer {
		events = world.Sorted(events)
	}
	if err := s.replay.Start(events, source, instance); err != nil {
		return models.ReplayState{}, err
	}
	return s.replay.State(), nil
}

// StartReplayEvents replays an explicit sequence in the given order.
func (s *Session) StartReplayEvents(raws []any) (models.ReplayState, error) {
	if s == nil {
		return models.ReplayState{}, errors.New("session is nil")
	}
	now := s.now()
	events := make([]models.CanonicalEvent, 0, len(raws))
	for _, raw := range raws {
		ev, _ := telemetry.Normalize(raw, now, telemetry.NewEventID)
		events = append(events, ev)
	}
	if err := s.replay.Start(events, models.ReplaySourceManual, ""); err != nil {
		return models.ReplayState{}, err
	}
	return s.replay.State(), nil
}

func (s *Session) SeekReplay(cursor int) (models.ReplayState, error) {
	if s == nil {
		return models.ReplayState{}, replay.ErrNotActive
	}
	return s.replay.Seek(cursor)
}

func (s *Session) ToggleReplay() (models.ReplayState, error) {
	if s == nil {
		return models.ReplayState{}, replay.ErrNotActive
	}
	return s.replay.TogglePlay()
}

func (s *Session) StopReplay() {
	if s == nil {
		return
	}
	s.replay.Stop()
}

func (s *Session) ReplayState() models.ReplayState {
	if s == nil {
		return models.ReplayState{}
	}
	return s.replay.State()
}

// ExportEvents returns the events and download filename for a full
// telemetry export, or for one instance when instance is set.
func (s *Session) ExportEvents(ctx context.Context, instance string) ([]models.CanonicalEvent, string) {
	if s == nil {
		return nil, ""
	}
	now := s.now()
	instance = strings.TrimSpace(instance)
	if instance == "" {
		return s.bus.Snapshot(), export.TelemetryFilename(now)
	}
	events, _ := s.instanceEvents(ctx, instance)
	return events, export.InstanceFilename(instance, now)
}

// instanceEvents prefers the stored log. The buffer fallback keeps buffer
// order.
func (s *Session) instanceEvents(ctx context.Context, instance string) ([]models.CanonicalEvent, models.ReplaySource) {
	if s.store != nil {
		events, ok, err := s.store.LoadEventLog(ctx, instance)
		if err != nil {
			s.logger.Printf("vexdashd: load event log %s: %v", instance, err)
		} else if ok && len(events) > 0 {
			return events, models.ReplaySourceEventLog
		}
	}
	buffer := s.bus.Snapshot()
	filtered := make([]models.CanonicalEvent, 0)
	for _, ev := range buffer {
		if telemetry.WorldName(telemetry.Fields(ev)) == instance {
			filtered = append(filtered, ev)
		}
	}
	return filtered, models.ReplaySourceBuffer
}

func (s *Session) loadSeedFiles(ctx context.Context) {
	for _, path := range s.seedFiles {
		data, err := export.ReadFile(path, "")
		if err != nil {
			s.logger.Printf("vexdashd: seed file %s: %v", path, err)
			continue
		}
		accepted, err := s.IngestJSON(ctx, data)
		if err != nil {
			s.logger.Printf("vexdashd: seed file %s: %v", path, err)
			continue
		}
		s.logger.Printf("vexdashd: seeded %d events from %s", accepted, path)
	}
}

func (s *Session) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx == nil {
		return context.Background()
	}
	return s.runCtx
}

func (s *Session) upstreamLabel() string {
	if s.upstream == nil {
		return "none"
	}
	return s.upstream.BaseURL()
}
