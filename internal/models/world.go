package models

import "encoding/json"

// InstanceStatus represents where an instance is in its lifecycle.
//
//	hub (default world only)
//	active → teardown → closed
type InstanceStatus string

const (
	InstanceHub      InstanceStatus = "hub"
	InstanceActive   InstanceStatus = "active"
	InstanceTeardown InstanceStatus = "teardown"
	InstanceClosed   InstanceStatus = "closed"
)

// PortalStatus represents the lifecycle of a portal.
type PortalStatus string

const (
	PortalActive  PortalStatus = "active"
	PortalClosed  PortalStatus = "closed"
	PortalExpired PortalStatus = "expired"
)

// WorldState is the world picture reconstructed from an event sequence.
type WorldState struct {
	Instances map[string]Instance `json:"instances"`
	Players   map[string]Player   `json:"players"`
	Portals   map[string]Portal   `json:"portals"`
}

// Instance is a single dungeon run (or the hub).
type Instance struct {
	Name                string                 `json:"name"`
	Rooms               map[string]Room        `json:"rooms"`
	Players             []string               `json:"players"`
	Active              bool                   `json:"active"`
	Status              InstanceStatus         `json:"status"`
	StartedAt           string                 `json:"startedAt,omitempty"`
	TeardownStartedAt   string                 `json:"teardownStartedAt,omitempty"`
	TeardownCompletedAt string                 `json:"teardownCompletedAt,omitempty"`
	MaxRoomOrder        int                    `json:"maxRoomOrder,omitempty"`
	VexDungeon          bool                   `json:"isVexDungeon,omitempty"`
	Stats               InstanceStats          `json:"stats"`
	RoomStats           map[string]RoomStats   `json:"roomStats,omitempty"`
	PlayerStats         map[string]PlayerStats `json:"playerStats,omitempty"`
}

// Room is a generated dungeon room keyed by "x,z" inside its instance.
type Room struct {
	X      int       `json:"x"`
	Z      int       `json:"z"`
	Prefab string    `json:"prefab,omitempty"`
	Size   *RoomSize `json:"size,omitempty"`
}

// RoomSize is a room footprint in tiles. Both dimensions are at least 1.
type RoomSize struct {
	W int `json:"w"`
	H int `json:"h"`
}

// RoomStats accumulates per-room activity.
type RoomStats struct {
	Order       int    `json:"order"`
	GeneratedAt string `json:"generatedAt,omitempty"`
	Entities    int    `json:"entities"`
	Kills       int    `json:"kills"`
	Cleared     bool   `json:"cleared,omitempty"`
}

// InstanceStats accumulates per-instance totals.
type InstanceStats struct {
	RoomCount   int `json:"roomCount"`
	EntityCount int `json:"entityCount"`
	KillCount   int `json:"killCount"`
}

// PlayerStats tracks eliminations credited to a player inside an instance.
type PlayerStats struct {
	Name   string `json:"name,omitempty"`
	Kills  int    `json:"kills"`
	Points int    `json:"points"`
}

// Player is the last known location of a player.
type Player struct {
	UUID         string `json:"uuid,omitempty"`
	Name         string `json:"name"`
	World        string `json:"world"`
	RoomKey      string `json:"roomKey"`
	LastSeenAt   string `json:"lastSeenAt,omitempty"`
	LastPortalID string `json:"lastPortalId,omitempty"`
}

// Portal is a temporary gateway between the hub and an instance.
type Portal struct {
	ID            string       `json:"id"`
	World         string       `json:"world"`
	CreatedAt     string       `json:"createdAt,omitempty"`
	ExpiresAt     string       `json:"expiresAt,omitempty"`
	ClosedAt      string       `json:"closedAt,omitempty"`
	LastEnteredAt string       `json:"lastEnteredAt,omitempty"`
	Placement     any          `json:"placement,omitempty"`
	EnteredBy     []string     `json:"enteredBy"`
	EnterCount    int          `json:"enterCount"`
	Status        PortalStatus `json:"status"`
}

// MetricsSummary aggregates counts derived from the same pass as WorldState.
type MetricsSummary struct {
	TotalEntities  int            `json:"totalEntities"`
	TotalKills     int            `json:"totalKills"`
	RoomsGenerated int            `json:"roomsGenerated"`
	EntityTypes    map[string]int `json:"entityTypes"`
	Prefabs        map[string]int `json:"prefabs"`
	PortalStats    PortalCounts   `json:"portalStats"`
	PlayerStats    PlayerCounts   `json:"playerStats"`
	InstanceStats  InstanceCounts `json:"instanceStats"`
}

// PortalCounts summarizes portals by status.
type PortalCounts struct {
	Total   int `json:"total"`
	Active  int `json:"active"`
	Closed  int `json:"closed"`
	Expired int `json:"expired"`
	Entered int `json:"entered"`
}

// PlayerCounts splits tracked players between instances and the hub.
type PlayerCounts struct {
	Total       int `json:"total"`
	InInstances int `json:"inInstances"`
	InHub       int `json:"inHub"`
}

// InstanceCounts excludes the hub instance.
type InstanceCounts struct {
	Active       int `json:"active"`
	Total        int `json:"total"`
	RecentEvents int `json:"recentEvents"`
}

// ArchiveRecord is a durable snapshot of a finished instance.
//
// Data holds the JSON encoded Instance at the time it was archived.
type ArchiveRecord struct {
	ID        string          `json:"id"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// EventLogRecord is the ordered list of events recorded for one instance.
type EventLogRecord struct {
	ID     string           `json:"id"`
	Events []CanonicalEvent `json:"events"`
}
