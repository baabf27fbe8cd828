package telemetry

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/mbround18/hytale-vex-lich-dungeon/internal/models"
)

const (
	eventIDLength   = 7
	eventIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// NewEventID returns a random 7-character uppercase alphanumeric id.
func NewEventID() string {
	buf := make([]byte, eventIDLength)
	_, _ = rand.Read(buf) // never returns an error since Go 1.24
	for i, b := range buf {
		buf[i] = eventIDAlphabet[int(b)%len(eventIDAlphabet)]
	}
	return string(buf)
}

// Normalize maps a decoded upstream payload onto a CanonicalEvent.
//
// A payload that already carries an internalId is a canonical event (for
// example from an exported file) and passes through unchanged. The boolean
// result reports whether the timestamp was declared by the payload rather
// than assigned from now.
func Normalize(raw any, now time.Time, newID func() string) (models.CanonicalEvent, bool) {
	if newID == nil {
		newID = NewEventID
	}
	envelope := asMap(raw)
	if id := stringValue(envelope["internalId"]); id != "" {
		ev := models.CanonicalEvent{
			ID:        id,
			Timestamp: timestampValue(envelope["timestamp"]),
			Type:      stringValue(envelope["type"]),
			Payload:   envelope["data"],
		}
		return ev, ev.Timestamp != ""
	}

	data := asMap(envelope["data"])
	id := firstString(envelope["id"], envelope["eventId"])
	if id == "" {
		id = newID()
	}
	timestamp := timestampValue(envelope["timestamp"])
	if timestamp == "" {
		timestamp = timestampValue(data["timestamp"])
	}
	declared := timestamp != ""
	if !declared {
		timestamp = models.FormatTimestamp(now)
	}
	eventType := firstString(envelope["type"], data["type"])
	if eventType == "" {
		eventType = string(models.EventUnknown)
	}
	var payload any = raw
	if envelope != nil && envelope["data"] != nil {
		payload = envelope["data"]
	}
	return models.CanonicalEvent{
		ID:        id,
		Timestamp: timestamp,
		Type:      eventType,
		Payload:   payload,
	}, declared
}

// Fingerprint builds the content key used to suppress re-sent events.
//
// The key joins type, world, player, room, portal and prefab with "|". The
// timestamp is left out so that re-sends stamped a few hundred milliseconds
// apart still collide inside the fingerprint window.
func Fingerprint(ev models.CanonicalEvent) string {
	fields := Fields(ev)
	parts := []string{ev.Type, WorldName(fields), PlayerID(PlayerRef(fields)), EventRoomKey(fields), PortalID(fields), PrefabPath(fields)}
	return strings.Join(parts, "|")
}

func timestampValue(v any) string {
	switch value := v.(type) {
	case string:
		return strings.TrimSpace(value)
	default:
		if ms, ok := intValue(value); ok && ms > 0 {
			return models.FormatTimestamp(time.UnixMilli(int64(ms)))
		}
	}
	return ""
}
