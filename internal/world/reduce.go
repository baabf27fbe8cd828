// Package world reconstructs instances, players and portals from telemetry.
//
// Reduce is a pure fold over an event sequence: the same events and the same
// clock always produce the same state, whatever order the events arrived in.
package world

import (
	"sort"
	"strings"
	"time"

	"github.com/mbround18/hytale-vex-lich-dungeon/internal/models"
	"github.com/mbround18/hytale-vex-lich-dungeon/internal/telemetry"
)

const (
	recentEventWindow  = 60 * time.Second
	unknownPortalWorld = "unknown"
	defaultRoomKey     = "0,0"
	vexDungeonMarker   = "vex_the_lich_dungeon"
)

// Chronological returns a newest-first buffer in arrival order.
func Chronological(buffer []models.CanonicalEvent) []models.CanonicalEvent {
	out := make([]models.CanonicalEvent, len(buffer))
	for i, ev := range buffer {
		out[len(buffer)-1-i] = ev
	}
	return out
}

// Reduce folds events into a world state and metrics summary as of now.
func Reduce(events []models.CanonicalEvent, now time.Time) (models.WorldState, models.MetricsSummary) {
	ordered := Sorted(events)
	b := newBuilder()
	for _, ev := range ordered {
		b.apply(ev)
	}
	return b.finish(ordered, now)
}

type timedEvent struct {
	ev models.CanonicalEvent
	ts time.Time
}

// Sorted returns a copy of events ordered by timestamp, then id, then type.
// Events with unparseable timestamps sort first.
func Sorted(events []models.CanonicalEvent) []models.CanonicalEvent {
	timed := make([]timedEvent, len(events))
	for i, ev := range events {
		ts, _ := ev.Time()
		timed[i] = timedEvent{ev: ev, ts: ts}
	}
	sort.SliceStable(timed, func(i, j int) bool {
		a, b := timed[i], timed[j]
		if !a.ts.Equal(b.ts) {
			return a.ts.Before(b.ts)
		}
		if a.ev.ID != b.ev.ID {
			return a.ev.ID < b.ev.ID
		}
		return a.ev.Type < b.ev.Type
	})
	out := make([]models.CanonicalEvent, len(timed))
	for i, item := range timed {
		out[i] = item.ev
	}
	return out
}

type instanceAcc struct {
	models.Instance
	members map[string]struct{}
}

type builder struct {
	instances     map[string]*instanceAcc
	players       map[string]models.Player
	portals       map[string]*models.Portal
	entityTypes   map[string]int
	totalEntities int
	totalKills    int
}

func newBuilder() *builder {
	b := &builder{
		instances:   make(map[string]*instanceAcc),
		players:     make(map[string]models.Player),
		portals:     make(map[string]*models.Portal),
		entityTypes: make(map[string]int),
	}
	hub := b.ensureInstance(models.HubWorld)
	hub.Status = models.InstanceHub
	hub.Active = true
	return b
}

func (b *builder) ensureInstance(name string) *instanceAcc {
	if inst, ok := b.instances[name]; ok {
		return inst
	}
	inst := &instanceAcc{
		Instance: models.Instance{
			Name:   name,
			Rooms:  make(map[string]models.Room),
			Active: true,
			Status: models.InstanceActive,
		},
		members: make(map[string]struct{}),
	}
	b.instances[name] = inst
	return inst
}

func (b *builder) apply(ev models.CanonicalEvent) {
	fields := telemetry.Fields(ev)
	switch models.EventType(ev.Type) {
	case models.EventInstanceInitialized:
		b.instanceInitialized(ev, fields)
	case models.EventInstanceTeardownStarted:
		b.teardownStarted(ev, fields)
	case models.EventInstanceTeardownCompleted:
		b.teardownCompleted(ev, fields)
	case models.EventRoomGenerated:
		b.roomGenerated(ev, fields)
	case models.EventWorldEntered, models.EventPlayerJoinedServer, models.EventInstanceEntered:
		b.playerEntered(ev, fields)
	case models.EventRoomEntered:
		b.roomEntered(ev, fields)
	case models.EventPortalCreated:
		b.portalCreated(ev, fields)
	case models.EventPortalEntered:
		b.portalEntered(ev, fields)
	case models.EventPortalClosed:
		b.portalClosed(ev, fields)
	case models.EventEntitySpawned, models.EventPrefabEntitySpawned:
		b.entitySpawned(fields)
	case models.EventEntityEliminated, models.EventElimination:
		b.entityEliminated(fields)
	}
}

func (b *builder) instanceInitialized(ev models.CanonicalEvent, fields map[string]any) {
	world := telemetry.WorldName(fields)
	if world == "" || world == models.HubWorld {
		return
	}
	inst := b.ensureInstance(world)
	inst.Active = true
	inst.Status = models.InstanceActive
	inst.StartedAt = ev.Timestamp
}

func (b *builder) teardownStarted(ev models.CanonicalEvent, fields map[string]any) {
	world := telemetry.WorldName(fields)
	if world == "" || world == models.HubWorld {
		return
	}
	inst := b.ensureInstance(world)
	inst.Status = models.InstanceTeardown
	inst.TeardownStartedAt = ev.Timestamp
}

func (b *builder) teardownCompleted(ev models.CanonicalEvent, fields map[string]any) {
	world := telemetry.WorldName(fields)
	if world == "" || world == models.HubWorld {
		return
	}
	inst := b.ensureInstance(world)
	inst.Status = models.InstanceClosed
	inst.Active = false
	inst.TeardownCompletedAt = ev.Timestamp
}

func (b *builder) roomGenerated(ev models.CanonicalEvent, fields map[string]any) {
	world := telemetry.WorldName(fields)
	x, z, ok := telemetry.RoomCoord(fields)
	if world == "" || !ok {
		return
	}
	inst := b.ensureInstance(world)
	key := telemetry.RoomKey(x, z)
	room, exists := inst.Rooms[key]
	room.X, room.Z = x, z
	room.Prefab = telemetry.PrefabPath(fields)
	if size := telemetry.RoomSize(fields); size != nil {
		room.Size = size
	}
	inst.Rooms[key] = room
	if exists {
		return
	}
	stats := inst.roomStats(key)
	inst.MaxRoomOrder++
	stats.Order = inst.MaxRoomOrder
	stats.GeneratedAt = ev.Timestamp
	inst.RoomStats[key] = stats
}

// entityInstance returns the instance an entity event counts toward. Worlds
// outside the instance namespace only count when already tracked.
func (b *builder) entityInstance(fields map[string]any) *instanceAcc {
	world := telemetry.WorldName(fields)
	if inst, ok := b.instances[world]; ok {
		return inst
	}
	if !models.IsInstanceWorld(world) {
		return nil
	}
	return b.ensureInstance(world)
}

func (inst *instanceAcc) roomStats(key string) models.RoomStats {
	if inst.RoomStats == nil {
		inst.RoomStats = make(map[string]models.RoomStats)
	}
	return inst.RoomStats[key]
}

func (b *builder) playerEntered(ev models.CanonicalEvent, fields map[string]any) {
	ref := telemetry.PlayerRef(fields)
	id := telemetry.PlayerID(ref)
	world := telemetry.WorldName(fields)
	if id == "" || world == "" {
		return
	}
	previous, known := b.players[id]
	if known && previous.World != world {
		if inst, ok := b.instances[previous.World]; ok {
			delete(inst.members, id)
		}
	}
	roomKey := previous.RoomKey
	if key := telemetry.EventRoomKey(fields); key != "" {
		roomKey = key
	}
	if roomKey == "" {
		roomKey = defaultRoomKey
	}
	uuid := previous.UUID
	if value, ok := ref["uuid"].(string); ok && strings.TrimSpace(value) != "" {
		uuid = strings.TrimSpace(value)
	}
	b.players[id] = models.Player{
		UUID:         uuid,
		Name:         telemetry.PlayerName(ref, id),
		World:        world,
		RoomKey:      roomKey,
		LastSeenAt:   ev.Timestamp,
		LastPortalID: previous.LastPortalID,
	}
	b.ensureInstance(world).members[id] = struct{}{}
}

func (b *builder) roomEntered(ev models.CanonicalEvent, fields map[string]any) {
	id := telemetry.PlayerID(telemetry.PlayerRef(fields))
	player, ok := b.players[id]
	if id == "" || !ok {
		return
	}
	if roomKey := telemetry.EventRoomKey(fields); roomKey != "" {
		player.RoomKey = roomKey
	}
	player.LastSeenAt = ev.Timestamp
	b.players[id] = player
}

func (b *builder) ensurePortal(id string) *models.Portal {
	if portal, ok := b.portals[id]; ok {
		return portal
	}
	portal := &models.Portal{
		ID:        id,
		World:     unknownPortalWorld,
		EnteredBy: []string{},
		Status:    models.PortalActive,
	}
	b.portals[id] = portal
	return portal
}

func (b *builder) portalCreated(ev models.CanonicalEvent, fields map[string]any) {
	id := telemetry.PortalID(fields)
	if id == "" {
		return
	}
	portal := b.ensurePortal(id)
	if world := telemetry.WorldName(fields); world != "" {
		portal.World = world
	}
	portal.CreatedAt = ev.Timestamp
	if expiresAt, ok := telemetry.ExpiresAt(fields); ok {
		portal.ExpiresAt = models.FormatTimestamp(expiresAt)
	}
	portal.Placement = telemetry.Placement(fields)
	portal.Status = models.PortalActive
}

func (b *builder) portalEntered(ev models.CanonicalEvent, fields map[string]any) {
	id := telemetry.PortalID(fields)
	if id == "" {
		return
	}
	portal := b.ensurePortal(id)
	portal.EnterCount++
	portal.LastEnteredAt = ev.Timestamp

	ref := telemetry.PlayerRef(fields)
	playerID := telemetry.PlayerID(ref)
	if len(ref) > 0 {
		portal.EnteredBy = append(portal.EnteredBy, telemetry.PlayerName(ref, playerID))
	}
	player, ok := b.players[playerID]
	if playerID == "" || !ok {
		return
	}
	player.LastPortalID = id
	b.players[playerID] = player
	if models.IsInstanceWorld(player.World) {
		portal.World = player.World
	}
}

func (b *builder) portalClosed(ev models.CanonicalEvent, fields map[string]any) {
	id := telemetry.PortalID(fields)
	if id == "" {
		return
	}
	portal := b.ensurePortal(id)
	portal.Status = models.PortalClosed
	portal.ClosedAt = ev.Timestamp
}

func (b *builder) entitySpawned(fields map[string]any) {
	b.totalEntities++
	b.entityTypes[telemetry.EntityType(fields)]++

	inst := b.entityInstance(fields)
	if inst == nil {
		return
	}
	inst.Stats.EntityCount++
	if key := telemetry.EventRoomKey(fields); key != "" {
		stats := inst.roomStats(key)
		stats.Entities++
		inst.RoomStats[key] = stats
	}
}

func (b *builder) entityEliminated(fields map[string]any) {
	b.totalKills++

	inst := b.entityInstance(fields)
	if inst == nil {
		return
	}
	inst.Stats.KillCount++
	if key := telemetry.EventRoomKey(fields); key != "" {
		stats := inst.roomStats(key)
		stats.Kills++
		inst.RoomStats[key] = stats
	}
	killer := telemetry.KillerID(fields)
	if killer == "" {
		return
	}
	if inst.PlayerStats == nil {
		inst.PlayerStats = make(map[string]models.PlayerStats)
	}
	stats := inst.PlayerStats[killer]
	if name := telemetry.KillerName(fields); name != "" {
		stats.Name = name
	}
	stats.Kills++
	stats.Points += telemetry.Points(fields)
	inst.PlayerStats[killer] = stats
}

func (b *builder) finish(ordered []models.CanonicalEvent, now time.Time) (models.WorldState, models.MetricsSummary) {
	state := models.WorldState{
		Instances: make(map[string]models.Instance, len(b.instances)),
		Players:   make(map[string]models.Player, len(b.players)),
		Portals:   make(map[string]models.Portal, len(b.portals)),
	}
	summary := models.MetricsSummary{
		TotalEntities: b.totalEntities,
		TotalKills:    b.totalKills,
		EntityTypes:   b.entityTypes,
		Prefabs:       make(map[string]int),
	}

	for name, acc := range b.instances {
		inst := acc.Instance
		inst.Players = make([]string, 0, len(acc.members))
		for id := range acc.members {
			inst.Players = append(inst.Players, id)
		}
		sort.Strings(inst.Players)
		for key, stats := range inst.RoomStats {
			stats.Cleared = stats.Entities > 0 && stats.Kills >= stats.Entities
			inst.RoomStats[key] = stats
		}
		inst.Stats.RoomCount = len(inst.Rooms)
		inst.VexDungeon = strings.Contains(strings.ToLower(name), vexDungeonMarker)
		state.Instances[name] = inst

		summary.RoomsGenerated += len(inst.Rooms)
		for _, room := range inst.Rooms {
			if room.Prefab != "" {
				summary.Prefabs[room.Prefab]++
			}
		}
		if name == models.HubWorld {
			continue
		}
		summary.InstanceStats.Total++
		if inst.Active {
			summary.InstanceStats.Active++
		}
	}

	for id, portal := range b.portals {
		if portal.Status != models.PortalClosed {
			if expiresAt, ok := models.ParseTimestamp(portal.ExpiresAt); ok && expiresAt.Before(now) {
				portal.Status = models.PortalExpired
			}
		}
		state.Portals[id] = *portal
		summary.PortalStats.Total++
		summary.PortalStats.Entered += portal.EnterCount
		switch portal.Status {
		case models.PortalActive:
			summary.PortalStats.Active++
		case models.PortalClosed:
			summary.PortalStats.Closed++
		case models.PortalExpired:
			summary.PortalStats.Expired++
		}
	}

	for id, player := range b.players {
		state.Players[id] = player
		summary.PlayerStats.Total++
		if models.IsInstanceWorld(player.World) {
			summary.PlayerStats.InInstances++
		}
	}
	summary.PlayerStats.InHub = summary.PlayerStats.Total - summary.PlayerStats.InInstances

	cutoff := now.Add(-recentEventWindow)
	for _, ev := range ordered {
		if ts, ok := ev.Time(); ok && !ts.Before(cutoff) {
			summary.InstanceStats.RecentEvents++
		}
	}
	return state, summary
}
