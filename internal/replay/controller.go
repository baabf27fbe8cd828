// Package replay steps through a recorded event sequence on a timer.
package replay

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/mbround18/hytale-vex-lich-dungeon/internal/models"
)

// DefaultTick is the interval between cursor advances while playing.
const DefaultTick = 450 * time.Millisecond

var (
	ErrNotActive = errors.New("no replay is active")
	ErrNoEvents  = errors.New("replay has no events")
)

// ApplyFunc receives the events up to and including the cursor.
type ApplyFunc func(events []models.CanonicalEvent)

// Options configure a Controller.
//
// Apply and OnStop run while the controller lock is held and must not call
// back into the controller.
type Options struct {
	Tick   time.Duration
	Apply  ApplyFunc
	OnStop func()
	Logger *log.Logger
}

// Controller owns one replay session at a time.
//
//	Idle → Loaded (paused, cursor 0) → Playing ⇄ Paused → Idle
type Controller struct {
	tick   time.Duration
	apply  ApplyFunc
	onStop func()
	logger *log.Logger

	mu      sync.Mutex
	active  bool
	playing bool
	cursor  int
	events  []models.CanonicalEvent
	source  models.ReplaySource
	world   string
	stopCh  chan struct{}
}

// New constructs an idle Controller.
func New(opts Options) *Controller {
	tick := opts.Tick
	if tick <= 0 {
		tick = DefaultTick
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Controller{
		tick:   tick,
		apply:  opts.Apply,
		onStop: opts.OnStop,
		logger: logger,
	}
}

// Start loads events paused at cursor 0, replacing any running replay.
func (c *Controller) Start(events []models.CanonicalEvent, source models.ReplaySource, world string) error {
	if c == nil {
		return errors.New("replay controller is nil")
	}
	if len(events) == 0 {
		return ErrNoEvents
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelTimerLocked()
	c.active = true
	c.playing = false
	c.cursor = 0
	c.events = append([]models.CanonicalEvent(nil), events...)
	c.source = source
	c.world = world
	c.logger.Printf("vexdashd: replay loaded %d events from %s", len(events), source)
	c.applyLocked()
	return nil
}

// Seek moves the cursor, clamped to the sequence bounds. Allowed while playing.
func (c *Controller) Seek(cursor int) (models.ReplayState, error) {
	if c == nil {
		return models.ReplayState{}, ErrNotActive
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return models.ReplayState{}, ErrNotActive
	}
	c.cursor = min(max(cursor, 0), len(c.events)-1)
	c.applyLocked()
	return c.stateLocked(), nil
}

// TogglePlay pauses a playing replay or resumes a paused one.
func (c *Controller) TogglePlay() (models.ReplayState, error) {
	if c == nil {
		return models.ReplayState{}, ErrNotActive
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return models.ReplayState{}, ErrNotActive
	}
	if c.playing {
		c.playing = false
		c.cancelTimerLocked()
		return c.stateLocked(), nil
	}
	c.playing = true
	stopCh := make(chan struct{})
	c.stopCh = stopCh
	go c.run(stopCh)
	return c.stateLocked(), nil
}

// Stop ends the replay and returns to idle. Stopping an idle controller is a no-op.
func (c *Controller) Stop() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return
	}
	c.cancelTimerLocked()
	c.active = false
	c.playing = false
	c.cursor = 0
	c.events = nil
	c.source = ""
	c.world = ""
	c.logger.Printf("vexdashd: replay stopped")
	if c.onStop != nil {
		c.onStop()
	}
}

// Active reports whether a replay is loaded.
func (c *Controller) Active() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// State returns a copy of the current replay state.
func (c *Controller) State() models.ReplayState {
	if c == nil {
		return models.ReplayState{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) run(stopCh chan struct{}) {
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if !c.step(stopCh) {
				return
			}
		}
	}
}

// step advances the cursor once. It returns false when the loop should end.
func (c *Controller) step(stopCh chan struct{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopCh != stopCh || !c.playing {
		return false
	}
	if c.cursor >= len(c.events)-1 {
		c.playing = false
		c.cancelTimerLocked()
		return false
	}
	c.cursor++
	c.applyLocked()
	return true
}

// cancelTimerLocked stops the playback loop. Safe to call repeatedly.
func (c *Controller) cancelTimerLocked() {
	if c.stopCh == nil {
		return
	}
	close(c.stopCh)
	c.stopCh = nil
}

func (c *Controller) applyLocked() {
	if c.apply == nil {
		return
	}
	c.apply(c.events[:c.cursor+1])
}

func (c *Controller) stateLocked() models.ReplayState {
	state := models.ReplayState{
		Active:  c.active,
		Playing: c.playing,
		Cursor:  c.cursor,
		Source:  c.source,
		World:   c.world,
	}
	if c.active {
		state.Events = append([]models.CanonicalEvent(nil), c.events...)
	}
	return state
}
