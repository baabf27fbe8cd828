package daemon

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mbround18/hytale-vex-lich-dungeon/internal/apiclient"
	"github.com/mbround18/hytale-vex-lich-dungeon/internal/ingest"
	"github.com/mbround18/hytale-vex-lich-dungeon/internal/models"
	"github.com/mbround18/hytale-vex-lich-dungeon/internal/stream"
	"github.com/mbround18/hytale-vex-lich-dungeon/internal/telemetry"
)

func (s *Session) checkHealth(ctx context.Context) {
	s.upstreamHealthy(ctx)
}

// upstreamHealthy checks /health and records the result.
func (s *Session) upstreamHealthy(ctx context.Context) bool {
	if s.upstream == nil {
		return false
	}
	err := s.upstream.Health(ctx)
	if ctx.Err() != nil {
		return false
	}
	status := UpstreamOnline
	if err != nil {
		status = UpstreamSevered
	}
	s.mu.Lock()
	changed := s.upstreamStatus != status
	s.upstreamStatus = status
	s.mu.Unlock()
	s.metrics.SetUpstreamUp(err == nil)
	if changed {
		if err != nil {
			s.logger.Printf("vexdashd: upstream %s: %v", status, err)
		} else {
			s.logger.Printf("vexdashd: upstream %s", status)
		}
	}
	return err == nil
}

// pollPlayers merges the upstream roster into the presence overlay.
// Errors and empty rosters leave presence untouched.
func (s *Session) pollPlayers(ctx context.Context) {
	if s.upstream == nil {
		return
	}
	resp, err := s.upstream.Players(ctx)
	if err != nil || len(resp.Players) == 0 {
		return
	}
	s.mergePresence(resp)
}

func (s *Session) mergePresence(resp apiclient.PlayersResponse) {
	seenAt := resp.Timestamp
	if seenAt == "" {
		seenAt = models.FormatTimestamp(s.now())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range resp.Players {
		existing, ok := s.presence[p.UUID]
		if !ok {
			existing = models.PlayerPresence{UUID: p.UUID}
		}
		if p.Name != "" {
			existing.Name = p.Name
		}
		if p.World != "" {
			existing.World = p.World
		}
		if p.Position != nil {
			existing.Position = p.Position
		}
		existing.SeenAt = seenAt
		s.presence[p.UUID] = existing
	}
}

// ensurePrefabs schedules metadata fetches for rooms whose size is unknown.
func (s *Session) ensurePrefabs(state models.WorldState) {
	if s.upstream == nil {
		return
	}
	for _, inst := range state.Instances {
		for _, room := range inst.Rooms {
			if room.Prefab == "" || room.Size != nil {
				continue
			}
			s.ensurePrefab(room.Prefab)
		}
	}
}

// ensurePrefab fetches on the session context. Concurrent lookups of one
// path collapse into one request.
func (s *Session) ensurePrefab(path string) {
	s.mu.Lock()
	_, cached := s.prefabs[path]
	_, pending := s.pendingPrefabs[path]
	ctx := s.runCtx
	if cached || pending || ctx == nil || s.stopped || ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.pendingPrefabs[path] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.pendingPrefabs, path)
			s.mu.Unlock()
		}()
		s.fetchPrefab(ctx, path)
	}()
}

func (s *Session) fetchPrefab(ctx context.Context, path string) {
	if err := s.prefabLimiter.Wait(ctx); err != nil {
		return
	}
	size, err := s.upstream.Prefab(ctx, path)
	switch {
	case err != nil:
		if ctx.Err() != nil {
			return
		}
		s.metrics.IncPrefabFetch("error")
		if !apiclient.IsNotFound(err) {
			s.logger.Printf("vexdashd: prefab metadata %s: %v", path, err)
		}
	case size == nil:
		s.metrics.IncPrefabFetch("empty")
	default:
		s.metrics.IncPrefabFetch("ok")
		s.setPrefab(path, *size)
	}
}

func (s *Session) setPrefab(path string, size models.RoomSize) {
	s.mu.Lock()
	s.prefabs[path] = size
	s.mu.Unlock()
}

// handlePrefabPayload caches sizes pushed on the stream's prefab event.
// Malformed payloads are ignored.
func (s *Session) handlePrefabPayload(data []byte) {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	path := telemetry.PrefabPath(payload)
	size := telemetry.PrefabSize(payload)
	if path == "" || size == nil {
		return
	}
	s.setPrefab(path, *size)
}

// handleStreamMessage leaves the reduce to the buffer watcher.
func (s *Session) handleStreamMessage(data []byte) {
	if _, err := s.ingester.IngestJSON(s.context(), data); err != nil && !errors.Is(err, ingest.ErrMalformed) {
		s.logger.Printf("vexdashd: ingest stream message: %v", err)
	}
}

func (s *Session) handleStreamStatus(status stream.Status) {
	switch {
	case status.Connected:
		s.bus.SetConnected(true)
	case status.RetryIn > 0:
		s.bus.SetRetry(status.RetryIn)
	default:
		s.bus.SetConnected(false)
	}
}

// UpstreamStats proxies the game server /stats endpoint.
func (s *Session) UpstreamStats(ctx context.Context) (json.RawMessage, error) {
	if s == nil || s.upstream == nil {
		return nil, ErrUpstreamDisabled
	}
	return s.upstream.Stats(ctx)
}

// UpstreamWorlds proxies the game server /metadata/worlds endpoint.
func (s *Session) UpstreamWorlds(ctx context.Context) (json.RawMessage, error) {
	if s == nil || s.upstream == nil {
		return nil, ErrUpstreamDisabled
	}
	return s.upstream.Worlds(ctx)
}
