// Package models provides data structures and constants for vexdash.
//
// This package contains the core domain models shared by the daemon:
//   - CanonicalEvent: A normalized telemetry event from the game server
//   - WorldState: The reconstructed picture of instances, players and portals
//   - MetricsSummary: Aggregate counts derived alongside the world state
//   - ArchiveRecord / EventLogRecord: Durable snapshots of finished instances
//
// All models are designed for JSON serialization. Wire names follow the
// dashboard export format so that exported files can be ingested again.
package models

import (
	"strings"
	"time"
)

// EventType names a telemetry event emitted by the game server.
//
// Unknown types are carried through ingestion and ignored by the reducer.
type EventType string

const (
	EventInstanceInitialized       EventType = "InstanceInitializedEvent"
	EventInstanceTeardownStarted   EventType = "InstanceTeardownStartedEvent"
	EventInstanceTeardownCompleted EventType = "InstanceTeardownCompletedEvent"
	EventRoomGenerated             EventType = "RoomGeneratedEvent"
	EventRoomEntered               EventType = "RoomEnteredEvent"
	EventWorldEntered              EventType = "WorldEnteredEvent"
	EventPlayerJoinedServer        EventType = "PlayerJoinedServerEvent"
	EventInstanceEntered           EventType = "InstanceEnteredEvent"
	EventPortalCreated             EventType = "PortalCreatedEvent"
	EventPortalEntered             EventType = "PortalEnteredEvent"
	EventPortalClosed              EventType = "PortalClosedEvent"
	EventEntitySpawned             EventType = "EntitySpawnedEvent"
	EventPrefabEntitySpawned       EventType = "PrefabEntitySpawnedEvent"
	EventEntityEliminated          EventType = "EntityEliminatedEvent"
	EventElimination               EventType = "EliminationEvent"

	// EventUnknown is assigned when neither the envelope nor the payload names a type.
	EventUnknown EventType = "unknown.packet"
)

// HubWorld is the name of the always-present lobby instance.
const HubWorld = "default"

// InstanceWorldPrefix marks worlds that belong to a dungeon run.
const InstanceWorldPrefix = "instance-"

// IsInstanceWorld reports whether a world name is in the dungeon instance namespace.
func IsInstanceWorld(name string) bool {
	return strings.HasPrefix(name, InstanceWorldPrefix)
}

// CanonicalEvent is the normalized form of every telemetry event.
//
// Fields:
//   - ID: Upstream id when present, otherwise a synthesized 7-char id
//   - Timestamp: ISO-8601 timestamp, upstream or assigned at ingestion
//   - Type: Event type name, "unknown.packet" when missing
//   - Payload: Opaque upstream payload, read by the telemetry resolvers
type CanonicalEvent struct {
	ID        string `json:"internalId"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Payload   any    `json:"data,omitempty"`
}

// Time parses the event timestamp. The boolean is false when the timestamp
// is missing or not RFC 3339.
func (e CanonicalEvent) Time() (time.Time, bool) {
	return ParseTimestamp(e.Timestamp)
}

// ParseTimestamp accepts RFC 3339 timestamps with or without fractional seconds.
func ParseTimestamp(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// FormatTimestamp renders timestamps the way the game server and browser
// dashboard do: UTC with millisecond precision.
func FormatTimestamp(ts time.Time) string {
	return ts.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// StreamStatus describes the health of the live telemetry connection.
//
// LastEventAt is a unix millisecond timestamp; RetryIn is in seconds and
// only set while a reconnect is pending.
type StreamStatus struct {
	Connected   bool  `json:"connected"`
	LastEventAt int64 `json:"lastEventAt,omitempty"`
	RetryIn     int   `json:"retryIn,omitempty"`
}

// ReplaySource records where a replay sequence came from.
type ReplaySource string

const (
	ReplaySourceEventLog ReplaySource = "event_log"
	ReplaySourceBuffer   ReplaySource = "buffer"
	ReplaySourceManual   ReplaySource = "manual"
)

// ReplayState is the externally visible replay controller state.
type ReplayState struct {
	Active  bool             `json:"active"`
	Playing bool             `json:"playing"`
	Cursor  int              `json:"cursor"`
	Events  []CanonicalEvent `json:"events"`
	Source  ReplaySource     `json:"source,omitempty"`
	World   string           `json:"world,omitempty"`
}

// PlayerPresence is a roster entry from the game server metadata endpoint.
type PlayerPresence struct {
	UUID     string          `json:"uuid"`
	Name     string          `json:"name"`
	World    string          `json:"world,omitempty"`
	Position *PlayerPosition `json:"position,omitempty"`
	SeenAt   string          `json:"seenAt,omitempty"`
}

// PlayerPosition is a world-space position reported with presence.
type PlayerPosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}
