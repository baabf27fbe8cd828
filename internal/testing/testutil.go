// ABOUTME: Package testing provides shared test utilities and helper functions for vexdash.
//
// This package contains test helpers, factory functions for telemetry
// events, and assertion utilities that keep tests across packages consistent.
//
// Key utilities:
//   - Event factories: NewTestEvent, RoomGenerated, PlayerEntered, PortalEntered, ...
//   - Test helpers: TempFile, MkdirTempInDir, AssertJSONEqual
//   - Test constants: FixedTime, TestInstance, TestPlayerID
//
// The package is designed to work with github.com/stretchr/testify.
package testing

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbround18/hytale-vex-lich-dungeon/internal/models"
)

// FixedTime is a fixed timestamp for deterministic tests.
var FixedTime = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// Common test constants used across the test suite.
const (
	TestInstance    = "instance-vex_the_lich_dungeon-1"
	TestInstanceAlt = "instance-vex_the_lich_dungeon-2"
	TestPlayerID    = "7f9c2ba4-e88f-4d1f-9a3b-8c1f1b2b0001"
	TestPlayerName  = "Vexling"
	TestPortalID    = "0c7d9a3e-3c55-4bcb-9ad5-2b9e5e5f0001"
	TestPrefab      = "Vex/Rooms/Crypt_Hall"
)

var eventSeq atomic.Int64

// At returns FixedTime shifted by offset.
func At(offset time.Duration) time.Time {
	return FixedTime.Add(offset)
}

// AssertJSONEqual asserts that two values encode to semantically equal JSON.
func AssertJSONEqual(t *testing.T, want, got any, msgAndArgs ...interface{}) {
	t.Helper()
	wantBytes, err := json.Marshal(want)
	require.NoError(t, err, "failed to marshal 'want' to JSON")
	gotBytes, err := json.Marshal(got)
	require.NoError(t, err, "failed to marshal 'got' to JSON")

	var wantAny, gotAny any
	require.NoError(t, json.Unmarshal(wantBytes, &wantAny), "failed to unmarshal 'want'")
	require.NoError(t, json.Unmarshal(gotBytes, &gotAny), "failed to unmarshal 'got'")

	assert.Equal(t, wantAny, gotAny, msgAndArgs...)
}

// TempFile creates a temporary file with the given content and returns its path.
func TempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "testfile")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644), "failed to write temp file")
	return path
}

// MkdirTempInDir creates a temporary directory under parentDir that is
// removed when the test completes.
func MkdirTempInDir(t *testing.T, parentDir string) string {
	t.Helper()
	path, err := os.MkdirTemp(parentDir, "testdir*")
	require.NoError(t, err, "failed to create temp dir")
	t.Cleanup(func() {
		_ = os.RemoveAll(path)
	})
	return path
}

// ============================================================================
// Event Factory Functions
// ============================================================================

// EventOpts holds optional parameters for NewTestEvent.
//
// Empty fields use defaults: a unique id, FixedTime and an empty field map.
type EventOpts struct {
	ID     string
	Type   models.EventType
	At     time.Time
	Fields map[string]any
}

// NewTestEvent creates a canonical event shaped like a decoded server payload.
func NewTestEvent(opts EventOpts) models.CanonicalEvent {
	id := opts.ID
	if id == "" {
		id = fmt.Sprintf("T%06d", eventSeq.Add(1))
	}
	at := opts.At
	if at.IsZero() {
		at = FixedTime
	}
	fields := opts.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	eventType := opts.Type
	if eventType == "" {
		eventType = models.EventUnknown
	}
	return models.CanonicalEvent{
		ID:        id,
		Timestamp: models.FormatTimestamp(at),
		Type:      string(eventType),
		Payload: map[string]any{
			"type":   string(eventType),
			"fields": fields,
		},
	}
}

// RawEvent returns the JSON an SSE "message" would carry for these options.
func RawEvent(t *testing.T, opts EventOpts) []byte {
	t.Helper()
	ev := NewTestEvent(opts)
	data, err := json.Marshal(map[string]any{
		"type":      ev.Type,
		"timestamp": ev.Timestamp,
		"fields":    ev.Payload.(map[string]any)["fields"],
	})
	require.NoError(t, err)
	return data
}

func worldField(world string) map[string]any {
	return map[string]any{"name": world}
}

func roomField(x, z int) map[string]any {
	return map[string]any{"x": float64(x), "z": float64(z)}
}

func playerField(id, name string) map[string]any {
	return map[string]any{"uuid": id, "name": name}
}

// InstanceInitialized creates an InstanceInitializedEvent.
func InstanceInitialized(world string, at time.Time) models.CanonicalEvent {
	return NewTestEvent(EventOpts{Type: models.EventInstanceInitialized, At: at, Fields: map[string]any{
		"world": worldField(world),
	}})
}

// InstanceTeardownStarted creates an InstanceTeardownStartedEvent.
func InstanceTeardownStarted(world string, at time.Time) models.CanonicalEvent {
	return NewTestEvent(EventOpts{Type: models.EventInstanceTeardownStarted, At: at, Fields: map[string]any{
		"worldName": world,
	}})
}

// InstanceTeardownCompleted creates an InstanceTeardownCompletedEvent.
func InstanceTeardownCompleted(world string, at time.Time) models.CanonicalEvent {
	return NewTestEvent(EventOpts{Type: models.EventInstanceTeardownCompleted, At: at, Fields: map[string]any{
		"worldName": world,
	}})
}

// RoomGenerated creates a RoomGeneratedEvent.
func RoomGenerated(world string, x, z int, prefab string, at time.Time) models.CanonicalEvent {
	return NewTestEvent(EventOpts{Type: models.EventRoomGenerated, At: at, Fields: map[string]any{
		"world":      worldField(world),
		"room":       roomField(x, z),
		"prefabPath": prefab,
	}})
}

// RoomEntered creates a RoomEnteredEvent.
func RoomEntered(world, playerID, name string, x, z int, at time.Time) models.CanonicalEvent {
	return NewTestEvent(EventOpts{Type: models.EventRoomEntered, At: at, Fields: map[string]any{
		"world":     worldField(world),
		"playerRef": playerField(playerID, name),
		"room":      roomField(x, z),
	}})
}

// PlayerEntered creates a world, instance or server join event.
func PlayerEntered(kind models.EventType, world, playerID, name string, at time.Time) models.CanonicalEvent {
	return NewTestEvent(EventOpts{Type: kind, At: at, Fields: map[string]any{
		"world":     worldField(world),
		"playerRef": playerField(playerID, name),
	}})
}

// PortalCreated creates a PortalCreatedEvent expiring at expiresAt.
func PortalCreated(id, world string, expiresAt, at time.Time) models.CanonicalEvent {
	return NewTestEvent(EventOpts{Type: models.EventPortalCreated, At: at, Fields: map[string]any{
		"portalId":  id,
		"world":     worldField(world),
		"placement": map[string]any{"x": float64(10), "y": float64(64), "z": float64(-4)},
		"expiresAt": float64(expiresAt.UnixMilli()),
	}})
}

// PortalEntered creates a PortalEnteredEvent.
func PortalEntered(id, playerID, name string, at time.Time) models.CanonicalEvent {
	return NewTestEvent(EventOpts{Type: models.EventPortalEntered, At: at, Fields: map[string]any{
		"portalId":  id,
		"playerRef": playerField(playerID, name),
	}})
}

// PortalClosed creates a PortalClosedEvent.
func PortalClosed(id string, at time.Time) models.CanonicalEvent {
	return NewTestEvent(EventOpts{Type: models.EventPortalClosed, At: at, Fields: map[string]any{
		"portalId": id,
	}})
}

// EntitySpawned creates an EntitySpawnedEvent in a room.
func EntitySpawned(world string, x, z int, entityType string, at time.Time) models.CanonicalEvent {
	return NewTestEvent(EventOpts{Type: models.EventEntitySpawned, At: at, Fields: map[string]any{
		"world":      worldField(world),
		"room":       roomField(x, z),
		"entityType": entityType,
	}})
}

// EntityEliminated creates an EntityEliminatedEvent credited to a killer.
func EntityEliminated(world string, x, z int, killerID, killerName string, points int, at time.Time) models.CanonicalEvent {
	fields := map[string]any{
		"world":  worldField(world),
		"room":   roomField(x, z),
		"entity": map[string]any{"id": fmt.Sprintf("entity-%d", eventSeq.Add(1)), "type": "Skeleton"},
		"points": float64(points),
	}
	if killerID != "" {
		fields["player"] = playerField(killerID, killerName)
	}
	return NewTestEvent(EventOpts{Type: models.EventEntityEliminated, At: at, Fields: fields})
}
