// Package telemetry isolates every lookup into raw game server payloads.
//
// Upstream events carry loosely structured JSON whose shape differs between
// event classes and server versions. Each resolver checks a fixed list of
// paths and returns a zero value when nothing matches, so callers never need
// to guard against malformed input.
package telemetry

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/mbround18/hytale-vex-lich-dungeon/internal/models"
)

// Fields returns the event's field map: data.fields, then data.data.fields.
func Fields(ev models.CanonicalEvent) map[string]any {
	data := asMap(ev.Payload)
	if fields := asMap(data["fields"]); fields != nil {
		return fields
	}
	if fields := asMap(lookup(data, "data", "fields")); fields != nil {
		return fields
	}
	return map[string]any{}
}

// WorldName resolves the world an event happened in.
func WorldName(fields map[string]any) string {
	if name := firstString(
		lookup(fields, "world", "name"),
		fields["worldName"],
		lookup(fields, "world", "worldName"),
	); name != "" {
		return name
	}
	if name, ok := fields["world"].(string); ok {
		return strings.TrimSpace(name)
	}
	return ""
}

// PlayerRef returns the player object attached to an event, if any.
func PlayerRef(fields map[string]any) map[string]any {
	if ref := asMap(fields["playerRef"]); ref != nil {
		return ref
	}
	return asMap(fields["player"])
}

// PlayerID resolves a stable id for a player reference.
func PlayerID(ref map[string]any) string {
	return firstString(ref["uuid"], ref["playerId"], ref["id"], ref["name"], ref["username"])
}

// PlayerName resolves a display name, falling back to fallback and then "Unknown".
func PlayerName(ref map[string]any, fallback string) string {
	if name := firstString(ref["name"], ref["username"]); name != "" {
		return name
	}
	if fallback = strings.TrimSpace(fallback); fallback != "" {
		return fallback
	}
	return "Unknown"
}

// RoomCoord resolves the room grid coordinate of an event.
func RoomCoord(fields map[string]any) (x, z int, ok bool) {
	room := asMap(fields["room"])
	if room == nil {
		return 0, 0, false
	}
	x, okX := intValue(room["x"])
	z, okZ := intValue(room["z"])
	if !okX || !okZ {
		return 0, 0, false
	}
	return x, z, true
}

// RoomKey formats a room coordinate as "x,z".
func RoomKey(x, z int) string {
	return strconv.Itoa(x) + "," + strconv.Itoa(z)
}

// EventRoomKey returns the "x,z" key of an event's room or "".
func EventRoomKey(fields map[string]any) string {
	x, z, ok := RoomCoord(fields)
	if !ok {
		return ""
	}
	return RoomKey(x, z)
}

// RoomSize resolves the footprint declared on a room event.
func RoomSize(fields map[string]any) *models.RoomSize {
	for _, key := range []string{"roomSize", "size", "dimensions"} {
		if size := sizeFrom(asMap(fields[key])); size != nil {
			return size
		}
	}
	return nil
}

// PrefabSize resolves a footprint from prefab metadata, either an SSE
// "prefab" message or a /metadata/prefab response.
func PrefabSize(payload map[string]any) *models.RoomSize {
	for _, key := range []string{"roomSize", "size", "dimensions", "tiles"} {
		if size := sizeFrom(asMap(payload[key])); size != nil {
			return size
		}
	}
	return sizeFrom(payload)
}

func sizeFrom(m map[string]any) *models.RoomSize {
	if m == nil {
		return nil
	}
	w, okW := firstInt(m["width"], m["w"], m["x"])
	h, okH := firstInt(m["height"], m["h"], m["z"])
	if !okW || !okH {
		return nil
	}
	return &models.RoomSize{W: max(1, w), H: max(1, h)}
}

// PrefabPath resolves the prefab used by a room event.
func PrefabPath(fields map[string]any) string {
	return firstString(fields["prefabPath"], fields["prefab"])
}

// PortalID resolves the portal an event refers to.
func PortalID(fields map[string]any) string {
	return firstString(fields["portalId"], lookup(fields, "portal", "id"))
}

// EntityType resolves the spawned or eliminated entity's type name.
func EntityType(fields map[string]any) string {
	if value := firstString(fields["entityType"], fields["modelId"], lookup(fields, "entity", "type")); value != "" {
		return value
	}
	return "Unknown"
}

// KillerID resolves the player credited with an elimination.
func KillerID(fields map[string]any) string {
	if id := firstString(fields["killerId"], lookup(fields, "killer", "uuid")); id != "" {
		return id
	}
	return PlayerID(PlayerRef(fields))
}

// KillerName resolves the display name of the credited player.
func KillerName(fields map[string]any) string {
	if name := firstString(fields["killerName"], lookup(fields, "killer", "name")); name != "" {
		return name
	}
	return firstString(PlayerRef(fields)["name"], PlayerRef(fields)["username"])
}

// Points resolves the score awarded by an elimination.
func Points(fields map[string]any) int {
	points, _ := intValue(fields["points"])
	return points
}

// ExpiresAt resolves a portal expiry given as unix milliseconds or RFC 3339.
func ExpiresAt(fields map[string]any) (time.Time, bool) {
	switch value := fields["expiresAt"].(type) {
	case string:
		if ts, ok := models.ParseTimestamp(value); ok {
			return ts, true
		}
		if ms, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil && ms > 0 {
			return time.UnixMilli(ms).UTC(), true
		}
	default:
		if ms, ok := intValue(value); ok && ms > 0 {
			return time.UnixMilli(int64(ms)).UTC(), true
		}
	}
	return time.Time{}, false
}

// Placement returns the raw portal placement, if any.
func Placement(fields map[string]any) any {
	return fields["placement"]
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func lookup(m map[string]any, path ...string) any {
	var current any = m
	for _, key := range path {
		next := asMap(current)
		if next == nil {
			return nil
		}
		current = next[key]
	}
	return current
}

func firstString(values ...any) string {
	for _, value := range values {
		if s := stringValue(value); s != "" {
			return s
		}
	}
	return ""
}

func stringValue(v any) string {
	switch value := v.(type) {
	case string:
		return strings.TrimSpace(value)
	case json.Number:
		return value.String()
	case float64:
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return ""
		}
		return strconv.FormatFloat(value, 'f', -1, 64)
	case int:
		return strconv.Itoa(value)
	case int64:
		return strconv.FormatInt(value, 10)
	default:
		return ""
	}
}

func firstInt(values ...any) (int, bool) {
	for _, value := range values {
		if n, ok := intValue(value); ok {
			return n, true
		}
	}
	return 0, false
}

func intValue(v any) (int, bool) {
	switch value := v.(type) {
	case float64:
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return 0, false
		}
		return int(math.Floor(value)), true
	case int:
		return value, true
	case int64:
		return int(value), true
	case json.Number:
		f, err := value.Float64()
		if err != nil {
			return 0, false
		}
		return int(math.Floor(f)), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return 0, false
		}
		return int(math.Floor(f)), true
	default:
		return 0, false
	}
}
