// Package bus holds the bounded, newest-first event buffer shared by every
// consumer in the daemon and mirrors it to peer processes.
//
// Buffer mutations are expressed as actions (event, batch, clear) applied by
// a pure reducer. Subscribers receive the full buffer snapshot after every
// action. Peers exchange the same actions over a Transport, tagged with a
// per-process source id so a bus ignores its own echoes.
package bus

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mbround18/hytale-vex-lich-dungeon/internal/models"
)

// DefaultMaxEvents is the buffer cap when none is configured.
const DefaultMaxEvents = 1500

// ActionKind names a buffer mutation.
type ActionKind string

const (
	ActionEvent ActionKind = "event"
	ActionBatch ActionKind = "batch"
	ActionClear ActionKind = "clear"
)

// Action is a single buffer mutation.
type Action struct {
	Kind   ActionKind
	Event  models.CanonicalEvent
	Events []models.CanonicalEvent
}

// Reduce applies an action to a newest-first buffer and returns the new buffer.
//
// Batches are given oldest first, matching arrival order, and are prepended
// in reverse so the newest event stays at index 0. The input is not modified.
func Reduce(buffer []models.CanonicalEvent, action Action, maxEvents int) []models.CanonicalEvent {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	switch action.Kind {
	case ActionEvent:
		next := make([]models.CanonicalEvent, 0, min(len(buffer)+1, maxEvents))
		next = append(next, action.Event)
		next = append(next, buffer[:min(len(buffer), maxEvents-1)]...)
		return next
	case ActionBatch:
		if len(action.Events) == 0 {
			return buffer
		}
		next := make([]models.CanonicalEvent, 0, min(len(buffer)+len(action.Events), maxEvents))
		for i := len(action.Events) - 1; i >= 0 && len(next) < maxEvents; i-- {
			next = append(next, action.Events[i])
		}
		remaining := maxEvents - len(next)
		next = append(next, buffer[:min(len(buffer), remaining)]...)
		return next
	case ActionClear:
		return []models.CanonicalEvent{}
	default:
		return buffer
	}
}

// Transport carries bus messages between processes.
type Transport interface {
	Publish(data []byte) error
	Subscribe(handler func(data []byte)) (func(), error)
}

// Options configure a Bus.
type Options struct {
	MaxEvents int
	Transport Transport
	Logger    *log.Logger
	Now       func() time.Time
}

// Bus owns the event buffer and stream status.
type Bus struct {
	mu        sync.Mutex
	events    []models.CanonicalEvent
	status    models.StreamStatus
	maxEvents int
	sourceID  string
	transport Transport
	logger    *log.Logger
	now       func() time.Time

	nextSubID   int
	subscribers map[int]chan []models.CanonicalEvent
	statusSubs  map[int]chan models.StreamStatus
}

// New constructs a Bus. A nil transport keeps the bus process-local.
func New(opts Options) *Bus {
	maxEvents := opts.MaxEvents
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Bus{
		events:      []models.CanonicalEvent{},
		maxEvents:   maxEvents,
		sourceID:    uuid.NewString(),
		transport:   opts.Transport,
		logger:      logger,
		now:         now,
		subscribers: make(map[int]chan []models.CanonicalEvent),
		statusSubs:  make(map[int]chan models.StreamStatus),
	}
}

// SourceID identifies this bus on the transport.
func (b *Bus) SourceID() string {
	if b == nil {
		return ""
	}
	return b.sourceID
}

// Publish prepends one event, marks the stream live and broadcasts to peers.
func (b *Bus) Publish(ev models.CanonicalEvent) {
	if b == nil {
		return
	}
	b.apply(Action{Kind: ActionEvent, Event: ev})
	b.markLive()
	b.broadcast(messageEvent, ev)
}

// PublishBatch prepends events given in arrival order.
func (b *Bus) PublishBatch(events []models.CanonicalEvent) {
	if b == nil || len(events) == 0 {
		return
	}
	b.apply(Action{Kind: ActionBatch, Events: events})
	b.markLive()
	b.broadcast(messageEvents, events)
}

// Clear empties the buffer locally and on peers.
func (b *Bus) Clear() {
	if b == nil {
		return
	}
	b.apply(Action{Kind: ActionClear})
	b.broadcast(messageClear, nil)
}

// Snapshot returns a copy of the buffer, newest first.
func (b *Bus) Snapshot() []models.CanonicalEvent {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.CanonicalEvent, len(b.events))
	copy(out, b.events)
	return out
}

// Len returns the number of buffered events.
func (b *Bus) Len() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// Status returns the current stream status.
func (b *Bus) Status() models.StreamStatus {
	if b == nil {
		return models.StreamStatus{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// SetConnected records a transport connect or disconnect. LastEventAt is kept.
func (b *Bus) SetConnected(connected bool) {
	if b == nil {
		return
	}
	b.updateStatus(func(status *models.StreamStatus) {
		status.Connected = connected
		if connected {
			status.RetryIn = 0
		}
	}, true)
}

// SetRetry records a pending reconnect delay in seconds.
func (b *Bus) SetRetry(seconds int) {
	if b == nil {
		return
	}
	b.updateStatus(func(status *models.StreamStatus) {
		status.Connected = false
		status.RetryIn = max(0, seconds)
	}, true)
}

// Subscribe returns a channel that receives the buffer after every change,
// starting with the current buffer. Slow subscribers only see the latest
// snapshot. The cancel function closes the channel.
func (b *Bus) Subscribe() (<-chan []models.CanonicalEvent, func()) {
	ch := make(chan []models.CanonicalEvent, 1)
	if b == nil {
		close(ch)
		return ch, func() {}
	}
	b.mu.Lock()
	id := b.nextSubID
	b.nextSubID++
	b.subscribers[id] = ch
	offerLatest(ch, cloneEvents(b.events))
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// SubscribeStatus is Subscribe for stream status changes.
func (b *Bus) SubscribeStatus() (<-chan models.StreamStatus, func()) {
	ch := make(chan models.StreamStatus, 1)
	if b == nil {
		close(ch)
		return ch, func() {}
	}
	b.mu.Lock()
	id := b.nextSubID
	b.nextSubID++
	b.statusSubs[id] = ch
	offerLatest(ch, b.status)
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.statusSubs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// Attach starts consuming peer messages until ctx ends.
func (b *Bus) Attach(ctx context.Context) error {
	if b == nil || b.transport == nil {
		return nil
	}
	unsubscribe, err := b.transport.Subscribe(b.handleMessage)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		unsubscribe()
	}()
	return nil
}

func (b *Bus) apply(action Action) {
	b.mu.Lock()
	b.events = Reduce(b.events, action, b.maxEvents)
	snapshot := cloneEvents(b.events)
	for _, ch := range b.subscribers {
		offerLatest(ch, snapshot)
	}
	b.mu.Unlock()
}

func (b *Bus) markLive() {
	b.updateStatus(func(status *models.StreamStatus) {
		status.Connected = true
		status.RetryIn = 0
		status.LastEventAt = b.now().UnixMilli()
	}, false)
}

func (b *Bus) updateStatus(mutate func(*models.StreamStatus), broadcast bool) {
	b.mu.Lock()
	mutate(&b.status)
	status := b.status
	for _, ch := range b.statusSubs {
		offerLatest(ch, status)
	}
	b.mu.Unlock()
	if broadcast {
		b.broadcast(messageStatus, status)
	}
}

func (b *Bus) applyStatus(status models.StreamStatus) {
	b.updateStatus(func(current *models.StreamStatus) {
		*current = status
	}, false)
}

func (b *Bus) broadcast(kind string, payload any) {
	if b.transport == nil {
		return
	}
	data, err := encodeMessage(b.sourceID, kind, payload)
	if err != nil {
		b.logger.Printf("bus: encode %s message: %v", kind, err)
		return
	}
	if err := b.transport.Publish(data); err != nil {
		b.logger.Printf("bus: publish %s message: %v", kind, err)
	}
}

func (b *Bus) handleMessage(data []byte) {
	msg, err := decodeMessage(data)
	if err != nil {
		b.logger.Printf("bus: drop peer message: %v", err)
		return
	}
	if msg.SourceID == b.sourceID {
		return
	}
	switch msg.Type {
	case messageEvent:
		var ev models.CanonicalEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			b.logger.Printf("bus: decode peer event: %v", err)
			return
		}
		b.apply(Action{Kind: ActionEvent, Event: ev})
		b.markLive()
	case messageEvents:
		var events []models.CanonicalEvent
		if err := json.Unmarshal(msg.Payload, &events); err != nil {
			b.logger.Printf("bus: decode peer batch: %v", err)
			return
		}
		b.apply(Action{Kind: ActionBatch, Events: events})
		b.markLive()
	case messageStatus:
		var status models.StreamStatus
		if err := json.Unmarshal(msg.Payload, &status); err != nil {
			b.logger.Printf("bus: decode peer status: %v", err)
			return
		}
		b.applyStatus(status)
	case messageClear:
		b.apply(Action{Kind: ActionClear})
	}
}

func offerLatest[T any](ch chan T, value T) {
	select {
	case ch <- value:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- value:
	default:
	}
}

func cloneEvents(events []models.CanonicalEvent) []models.CanonicalEvent {
	out := make([]models.CanonicalEvent, len(events))
	copy(out, events)
	return out
}
