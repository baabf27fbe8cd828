package replay

import (
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbround18/hytale-vex-lich-dungeon/internal/models"
	testutil "github.com/mbround18/hytale-vex-lich-dungeon/internal/testing"
)

type recorder struct {
	mu      sync.Mutex
	lengths []int
	stops   int
}

func (r *recorder) apply(events []models.CanonicalEvent) {
	r.mu.Lock()
	r.lengths = append(r.lengths, len(events))
	r.mu.Unlock()
}

func (r *recorder) stop() {
	r.mu.Lock()
	r.stops++
	r.mu.Unlock()
}

func (r *recorder) last() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.lengths) == 0 {
		return 0
	}
	return r.lengths[len(r.lengths)-1]
}

func sequence(n int) []models.CanonicalEvent {
	events := make([]models.CanonicalEvent, n)
	for i := range events {
		events[i] = testutil.RoomGenerated(testutil.TestInstance, i, 0, testutil.TestPrefab, testutil.At(time.Duration(i)*time.Second))
	}
	return events
}

func newController(tick time.Duration) (*Controller, *recorder) {
	rec := &recorder{}
	c := New(Options{
		Tick:   tick,
		Apply:  rec.apply,
		OnStop: rec.stop,
		Logger: log.New(io.Discard, "", 0),
	})
	return c, rec
}

func TestStartLoadsPausedAtZero(t *testing.T) {
	c, rec := newController(time.Hour)
	require.NoError(t, c.Start(sequence(3), models.ReplaySourceEventLog, testutil.TestInstance))

	state := c.State()
	assert.True(t, state.Active)
	assert.False(t, state.Playing)
	assert.Equal(t, 0, state.Cursor)
	assert.Len(t, state.Events, 3)
	assert.Equal(t, models.ReplaySourceEventLog, state.Source)
	assert.Equal(t, testutil.TestInstance, state.World)
	assert.Equal(t, []int{1}, rec.lengths)
}

func TestStartRejectsEmptySequence(t *testing.T) {
	c, _ := newController(time.Hour)
	assert.ErrorIs(t, c.Start(nil, models.ReplaySourceManual, ""), ErrNoEvents)
	assert.False(t, c.Active())
}

func TestSeekClampsAndApplies(t *testing.T) {
	c, rec := newController(time.Hour)
	require.NoError(t, c.Start(sequence(5), models.ReplaySourceBuffer, testutil.TestInstance))

	state, err := c.Seek(3)
	require.NoError(t, err)
	assert.Equal(t, 3, state.Cursor)
	assert.Equal(t, 4, rec.last())

	state, err = c.Seek(99)
	require.NoError(t, err)
	assert.Equal(t, 4, state.Cursor)
	assert.Equal(t, 5, rec.last())

	state, err = c.Seek(-7)
	require.NoError(t, err)
	assert.Equal(t, 0, state.Cursor)
	assert.Equal(t, 1, rec.last())
}

func TestCommandsRequireActiveReplay(t *testing.T) {
	c, rec := newController(time.Hour)
	_, err := c.Seek(1)
	assert.ErrorIs(t, err, ErrNotActive)
	_, err = c.TogglePlay()
	assert.ErrorIs(t, err, ErrNotActive)

	c.Stop()
	assert.Zero(t, rec.stops, "stopping an idle controller is a no-op")
}

func TestPlayAdvancesAndAutoPauses(t *testing.T) {
	c, rec := newController(5 * time.Millisecond)
	require.NoError(t, c.Start(sequence(4), models.ReplaySourceEventLog, testutil.TestInstance))

	state, err := c.TogglePlay()
	require.NoError(t, err)
	assert.True(t, state.Playing)

	require.Eventually(t, func() bool {
		s := c.State()
		return !s.Playing && s.Cursor == 3
	}, 2*time.Second, 5*time.Millisecond)

	rec.mu.Lock()
	assert.Equal(t, []int{1, 2, 3, 4}, rec.lengths)
	rec.mu.Unlock()
	assert.True(t, c.Active(), "auto-pause keeps the replay loaded")
}

func TestPauseStopsAdvancing(t *testing.T) {
	c, _ := newController(5 * time.Millisecond)
	require.NoError(t, c.Start(sequence(1000), models.ReplaySourceEventLog, testutil.TestInstance))

	_, err := c.TogglePlay()
	require.NoError(t, err)
	require.Eventually(t, func() bool { return c.State().Cursor >= 2 }, 2*time.Second, time.Millisecond)

	state, err := c.TogglePlay()
	require.NoError(t, err)
	assert.False(t, state.Playing)
	paused := state.Cursor

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, paused, c.State().Cursor)
}

func TestSeekWhilePlaying(t *testing.T) {
	c, _ := newController(5 * time.Millisecond)
	require.NoError(t, c.Start(sequence(1000), models.ReplaySourceEventLog, testutil.TestInstance))
	_, err := c.TogglePlay()
	require.NoError(t, err)

	state, err := c.Seek(900)
	require.NoError(t, err)
	assert.True(t, state.Playing)
	require.Eventually(t, func() bool { return c.State().Cursor > 900 }, 2*time.Second, time.Millisecond)
	c.Stop()
}

func TestStopReturnsToIdleOnce(t *testing.T) {
	c, rec := newController(5 * time.Millisecond)
	require.NoError(t, c.Start(sequence(100), models.ReplaySourceEventLog, testutil.TestInstance))
	_, err := c.TogglePlay()
	require.NoError(t, err)

	c.Stop()
	c.Stop()

	state := c.State()
	assert.Equal(t, models.ReplayState{}, state)
	assert.Equal(t, 1, rec.stops)

	applied := rec.last()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, applied, rec.last(), "timer is cancelled")
}

func TestRestartReplacesSequence(t *testing.T) {
	c, rec := newController(time.Hour)
	require.NoError(t, c.Start(sequence(5), models.ReplaySourceEventLog, testutil.TestInstance))
	_, err := c.Seek(4)
	require.NoError(t, err)

	require.NoError(t, c.Start(sequence(2), models.ReplaySourceBuffer, testutil.TestInstanceAlt))
	state := c.State()
	assert.Equal(t, 0, state.Cursor)
	assert.Len(t, state.Events, 2)
	assert.Equal(t, testutil.TestInstanceAlt, state.World)
	assert.Equal(t, 1, rec.last())
}

func TestNilController(t *testing.T) {
	var c *Controller
	assert.Error(t, c.Start(sequence(1), models.ReplaySourceManual, ""))
	c.Stop()
	assert.False(t, c.Active())
	assert.Equal(t, models.ReplayState{}, c.State())
}
