// Package ingest turns raw upstream payloads into canonical events, drops
// duplicates and fans accepted events out to the bus and the instance logs.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/mbround18/hytale-vex-lich-dungeon/internal/bus"
	"github.com/mbround18/hytale-vex-lich-dungeon/internal/models"
	"github.com/mbround18/hytale-vex-lich-dungeon/internal/telemetry"
)

const (
	// MaxSeenIDs bounds the recent-id set. Overflow clears the whole set, so a
	// stale duplicate can slip through once after a burst of this many events.
	MaxSeenIDs = 3000

	// FingerprintWindow is how long an identical fingerprint suppresses re-sends.
	FingerprintWindow = 1200 * time.Millisecond

	maxFingerprints  = 1000
	keepFingerprints = 300
)

// Drop reasons reported to the Observer.
const (
	DropDuplicateID          = "duplicate_id"
	DropDuplicateFingerprint = "duplicate_fingerprint"
	DropMalformed            = "malformed"
)

// ErrMalformed is returned when bytes cannot be decoded as JSON.
var ErrMalformed = errors.New("malformed telemetry payload")

// EventLogAppender persists events of an instance for later replay.
type EventLogAppender interface {
	AppendEvent(ctx context.Context, instance string, ev models.CanonicalEvent) error
}

// Observer receives ingestion counters. A nil Observer is allowed.
type Observer interface {
	EventIngested(eventType string)
	EventDropped(reason string)
}

// Options configure an Ingester.
type Options struct {
	Bus          *bus.Bus
	EventLog     EventLogAppender
	ReplayActive func() bool
	Observer     Observer
	Logger       *log.Logger
	Now          func() time.Time
	NewID        func() string
}

// Ingester normalizes and deduplicates telemetry. Safe for concurrent use.
type Ingester struct {
	bus          *bus.Bus
	eventLog     EventLogAppender
	replayActive func() bool
	observer     Observer
	logger       *log.Logger
	now          func() time.Time
	newID        func() string

	mu           sync.Mutex
	seen         map[string]struct{}
	fingerprints map[string]time.Time
}

// New constructs an Ingester.
func New(opts Options) *Ingester {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = telemetry.NewEventID
	}
	replayActive := opts.ReplayActive
	if replayActive == nil {
		replayActive = func() bool { return false }
	}
	return &Ingester{
		bus:          opts.Bus,
		eventLog:     opts.EventLog,
		replayActive: replayActive,
		observer:     opts.Observer,
		logger:       logger,
		now:          now,
		newID:        newID,
		seen:         make(map[string]struct{}),
		fingerprints: make(map[string]time.Time),
	}
}

// Ingest normalizes raw and, unless it is a duplicate, publishes it.
// The boolean reports whether the event was accepted.
func (i *Ingester) Ingest(ctx context.Context, raw any) (models.CanonicalEvent, bool) {
	if i == nil {
		return models.CanonicalEvent{}, false
	}
	now := i.now()
	ev, _ := telemetry.Normalize(raw, now, i.newID)
	if reason := i.admit(ev, now); reason != "" {
		i.dropped(reason)
		return ev, false
	}

	i.bus.Publish(ev)
	if i.observer != nil {
		i.observer.EventIngested(ev.Type)
	}
	i.appendLog(ctx, ev)
	return ev, true
}

// IngestBatch ingests each payload in order and returns the number accepted.
func (i *Ingester) IngestBatch(ctx context.Context, raws []any) int {
	accepted := 0
	for _, raw := range raws {
		if _, ok := i.Ingest(ctx, raw); ok {
			accepted++
		}
	}
	return accepted
}

// IngestJSON decodes a JSON object or array of objects and ingests it.
// Undecodable input is counted, logged and reported as ErrMalformed.
func (i *Ingester) IngestJSON(ctx context.Context, data []byte) (int, error) {
	if i == nil {
		return 0, errors.New("ingester is nil")
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var raws []any
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return 0, i.malformed(err)
		}
		return i.IngestBatch(ctx, raws), nil
	}
	var raw any
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return 0, i.malformed(err)
	}
	if _, ok := i.Ingest(ctx, raw); ok {
		return 1, nil
	}
	return 0, nil
}

// admit records ev in the dedup state and returns a drop reason, or "".
func (i *Ingester) admit(ev models.CanonicalEvent, now time.Time) string {
	i.mu.Lock()
	defer i.mu.Unlock()

	if _, ok := i.seen[ev.ID]; ok {
		return DropDuplicateID
	}
	if len(i.seen) >= MaxSeenIDs {
		i.seen = make(map[string]struct{})
	}
	i.seen[ev.ID] = struct{}{}

	fingerprint := telemetry.Fingerprint(ev)
	if last, ok := i.fingerprints[fingerprint]; ok && now.Sub(last) < FingerprintWindow {
		return DropDuplicateFingerprint
	}
	i.fingerprints[fingerprint] = now
	if len(i.fingerprints) > maxFingerprints {
		i.pruneFingerprints()
	}
	return ""
}

// pruneFingerprints keeps the most recently seen fingerprints.
func (i *Ingester) pruneFingerprints() {
	type entry struct {
		key  string
		seen time.Time
	}
	entries := make([]entry, 0, len(i.fingerprints))
	for key, seen := range i.fingerprints {
		entries = append(entries, entry{key: key, seen: seen})
	}
	sort.Slice(entries, func(a, b int) bool {
		return entries[a].seen.After(entries[b].seen)
	})
	kept := make(map[string]time.Time, keepFingerprints)
	for _, e := range entries[:keepFingerprints] {
		kept[e.key] = e.seen
	}
	i.fingerprints = kept
}

func (i *Ingester) appendLog(ctx context.Context, ev models.CanonicalEvent) {
	if i.eventLog == nil || i.replayActive() {
		return
	}
	world := telemetry.WorldName(telemetry.Fields(ev))
	if !models.IsInstanceWorld(world) {
		return
	}
	if err := i.eventLog.AppendEvent(ctx, world, ev); err != nil {
		i.logger.Printf("vexdashd: append event log %s: %v", world, err)
	}
}

func (i *Ingester) dropped(reason string) {
	if i.observer != nil {
		i.observer.EventDropped(reason)
	}
}

func (i *Ingester) malformed(err error) error {
	i.dropped(DropMalformed)
	i.logger.Printf("vexdashd: drop malformed payload: %v", err)
	return fmt.Errorf("%w: %v", ErrMalformed, err)
}
