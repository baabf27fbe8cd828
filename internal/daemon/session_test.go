package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbround18/hytale-vex-lich-dungeon/internal/apiclient"
	"github.com/mbround18/hytale-vex-lich-dungeon/internal/bus"
	"github.com/mbround18/hytale-vex-lich-dungeon/internal/db"
	"github.com/mbround18/hytale-vex-lich-dungeon/internal/models"
	"github.com/mbround18/hytale-vex-lich-dungeon/internal/replay"
	testutil "github.com/mbround18/hytale-vex-lich-dungeon/internal/testing"
)

type sessionFixture struct {
	session *Session
	bus     *bus.Bus
	store   *db.Store
	metrics *Metrics
}

type fixtureOpt func(*SessionOptions)

func withoutStore() fixtureOpt {
	return func(o *SessionOptions) { o.Store = nil }
}

func withUpstream(t *testing.T, baseURL string) fixtureOpt {
	t.Helper()
	client, err := apiclient.New(baseURL, time.Second)
	require.NoError(t, err)
	return func(o *SessionOptions) {
		o.Upstream = client
		o.HealthInterval = 20 * time.Millisecond
		o.PlayerPollInterval = 20 * time.Millisecond
	}
}

func newSessionFixture(t *testing.T, opts ...fixtureOpt) *sessionFixture {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "vexdash.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	logger := log.New(io.Discard, "", 0)
	b := bus.New(bus.Options{MaxEvents: 500, Logger: logger})
	sessionOpts := SessionOptions{
		Bus:        b,
		Store:      store,
		Metrics:    NewMetrics(),
		Logger:     logger,
		Now:        func() time.Time { return testutil.At(time.Hour) },
		ReplayTick: 10 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&sessionOpts)
	}
	session, err := NewSession(sessionOpts)
	require.NoError(t, err)
	t.Cleanup(session.Stop)
	return &sessionFixture{session: session, bus: b, store: sessionOpts.Store, metrics: sessionOpts.Metrics}
}

func encodeEvents(t *testing.T, events ...models.CanonicalEvent) []byte {
	t.Helper()
	data, err := json.Marshal(events)
	require.NoError(t, err)
	return data
}

func (f *sessionFixture) ingest(t *testing.T, events ...models.CanonicalEvent) int {
	t.Helper()
	accepted, err := f.session.IngestJSON(context.Background(), encodeEvents(t, events...))
	require.NoError(t, err)
	return accepted
}

func dungeonRun(world string) []models.CanonicalEvent {
	return []models.CanonicalEvent{
		testutil.InstanceInitialized(world, testutil.At(0)),
		testutil.RoomGenerated(world, 0, 0, testutil.TestPrefab, testutil.At(time.Second)),
		testutil.RoomGenerated(world, 1, 0, testutil.TestPrefab, testutil.At(2*time.Second)),
		testutil.EntityEliminated(world, 1, 0, testutil.TestPlayerID, testutil.TestPlayerName, 10, testutil.At(3*time.Second)),
	}
}

func TestNewSessionRequiresBus(t *testing.T) {
	_, err := NewSession(SessionOptions{})
	require.Error(t, err)
}

func TestSessionIngestReducesWorld(t *testing.T) {
	f := newSessionFixture(t)
	accepted := f.ingest(t, dungeonRun(testutil.TestInstance)...)
	assert.Equal(t, 4, accepted)

	snap := f.session.Snapshot()
	inst, ok := snap.World.Instances[testutil.TestInstance]
	require.True(t, ok)
	assert.True(t, inst.Active)
	assert.Len(t, inst.Rooms, 2)
	assert.Equal(t, 1, inst.Stats.KillCount)
	assert.False(t, snap.Replaying)
	assert.Equal(t, testutil.At(time.Hour), snap.ReducedAt)

	status := f.session.Status()
	assert.Equal(t, 4, status.BufferEvents)
	assert.Equal(t, UpstreamDisabled, status.Upstream)
	assert.Empty(t, status.UpstreamURL)
}

func TestSessionIngestMalformed(t *testing.T) {
	f := newSessionFixture(t)
	accepted, err := f.session.IngestJSON(context.Background(), []byte("{not json"))
	assert.Zero(t, accepted)
	require.Error(t, err)
	assert.Equal(t, 0, f.session.Status().BufferEvents)
}

func TestSessionArchivesClosedInstanceOnce(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	events := append(dungeonRun(testutil.TestInstance),
		testutil.InstanceTeardownCompleted(testutil.TestInstance, testutil.At(time.Minute)))
	f.ingest(t, events...)

	records, err := f.store.ListArchives(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, testutil.TestInstance, records[0].ID)
	assert.Equal(t, 1, f.session.Status().ArchivedCount)

	var archived models.Instance
	require.NoError(t, json.Unmarshal(records[0].Data, &archived))
	assert.Equal(t, models.InstanceClosed, archived.Status)
	assert.Len(t, archived.Rooms, 2)

	// Later events for the closed run do not produce a second save.
	f.ingest(t, testutil.RoomGenerated(testutil.TestInstance, 2, 0, testutil.TestPrefab, testutil.At(2*time.Minute)))
	records, err = f.store.ListArchives(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NoError(t, json.Unmarshal(records[0].Data, &archived))
	assert.Len(t, archived.Rooms, 2)
}

func TestSessionActiveAndHubInstancesAreNotArchived(t *testing.T) {
	f := newSessionFixture(t)
	f.ingest(t, dungeonRun(testutil.TestInstance)...)
	f.ingest(t, testutil.PlayerEntered(models.EventPlayerJoinedServer, models.HubWorld, testutil.TestPlayerID, testutil.TestPlayerName, testutil.At(0)))

	records, err := f.session.ListArchives(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSessionArchiveWithoutStoreIsRetried(t *testing.T) {
	f := newSessionFixture(t, withoutStore())
	f.ingest(t, testutil.InstanceInitialized(testutil.TestInstance, testutil.At(0)),
		testutil.InstanceTeardownCompleted(testutil.TestInstance, testutil.At(time.Minute)))

	assert.Zero(t, f.session.Status().ArchivedCount)
	records, err := f.session.ListArchives(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSessionMissingArchiveStoreLoggedOnce(t *testing.T) {
	var logs bytes.Buffer
	f := newSessionFixture(t, withoutStore(), func(o *SessionOptions) { o.Logger = log.New(&logs, "", 0) })
	f.ingest(t, testutil.InstanceInitialized(testutil.TestInstance, testutil.At(0)),
		testutil.InstanceTeardownCompleted(testutil.TestInstance, testutil.At(time.Minute)))
	f.ingest(t, testutil.RoomGenerated(testutil.TestInstance, 0, 0, testutil.TestPrefab, testutil.At(2*time.Minute)))
	f.ingest(t, testutil.InstanceInitialized(testutil.TestInstanceAlt, testutil.At(0)),
		testutil.InstanceTeardownCompleted(testutil.TestInstanceAlt, testutil.At(time.Minute)))

	assert.Equal(t, 1, strings.Count(logs.String(), ErrNoArchiveStore.Error()))
	assert.Zero(t, f.session.Status().ArchivedCount)
}

func TestSessionDeleteArchiveAllowsReArchive(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	f.ingest(t, testutil.InstanceInitialized(testutil.TestInstance, testutil.At(0)),
		testutil.InstanceTeardownCompleted(testutil.TestInstance, testutil.At(time.Minute)))

	require.NoError(t, f.session.DeleteArchive(ctx, testutil.TestInstance))
	_, err := f.session.GetArchive(ctx, testutil.TestInstance)
	require.ErrorIs(t, err, db.ErrArchiveNotFound)
	assert.Zero(t, f.session.Status().ArchivedCount)

	f.ingest(t, testutil.RoomGenerated(testutil.TestInstance, 0, 0, testutil.TestPrefab, testutil.At(2*time.Minute)))
	rec, err := f.session.GetArchive(ctx, testutil.TestInstance)
	require.NoError(t, err)
	assert.Equal(t, testutil.TestInstance, rec.ID)
}

func TestSessionClearArchives(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	for _, world := range []string{testutil.TestInstance, testutil.TestInstanceAlt} {
		f.ingest(t, testutil.InstanceInitialized(world, testutil.At(0)),
			testutil.InstanceTeardownCompleted(world, testutil.At(time.Minute)))
	}
	records, err := f.session.ListArchives(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)

	require.NoError(t, f.session.ClearArchives(ctx))
	records, err = f.session.ListArchives(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
	_, ok, err := f.session.ArchiveEvents(ctx, testutil.TestInstance)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionLoadsArchivedIDsOnStart(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SaveArchive(ctx, models.ArchiveRecord{
		ID:        testutil.TestInstance,
		Timestamp: models.FormatTimestamp(testutil.FixedTime),
		Data:      json.RawMessage(`{"name":"` + testutil.TestInstance + `"}`),
	}))
	require.NoError(t, f.session.Start(ctx))

	f.ingest(t, testutil.InstanceInitialized(testutil.TestInstance, testutil.At(0)),
		testutil.InstanceTeardownCompleted(testutil.TestInstance, testutil.At(time.Minute)))

	rec, err := f.session.GetArchive(ctx, testutil.TestInstance)
	require.NoError(t, err)
	assert.Equal(t, models.FormatTimestamp(testutil.FixedTime), rec.Timestamp, "existing archive is kept")
}

func TestSessionReplayFromEventLog(t *testing.T) {
	f := newSessionFixture(t)
	f.ingest(t, dungeonRun(testutil.TestInstance)...)

	state, err := f.session.StartReplay(context.Background(), testutil.TestInstance)
	require.NoError(t, err)
	assert.True(t, state.Active)
	assert.False(t, state.Playing)
	assert.Equal(t, models.ReplaySourceEventLog, state.Source)
	assert.Equal(t, testutil.TestInstance, state.World)
	assert.Len(t, state.Events, 4)

	snap := f.session.Snapshot()
	assert.True(t, snap.Replaying)
	assert.Empty(t, snap.World.Instances[testutil.TestInstance].Rooms)

	state, err = f.session.SeekReplay(2)
	require.NoError(t, err)
	assert.Equal(t, 2, state.Cursor)
	assert.Len(t, f.session.Snapshot().World.Instances[testutil.TestInstance].Rooms, 2)

	// Live ingestion during replay does not disturb the replayed world.
	f.ingest(t, testutil.RoomGenerated(testutil.TestInstance, 5, 5, testutil.TestPrefab, testutil.At(time.Minute)))
	assert.Len(t, f.session.Snapshot().World.Instances[testutil.TestInstance].Rooms, 2)

	f.session.StopReplay()
	snap = f.session.Snapshot()
	assert.False(t, snap.Replaying)
	assert.Len(t, snap.World.Instances[testutil.TestInstance].Rooms, 3)
	assert.False(t, f.session.ReplayState().Active)
}

func TestSessionReplayMatchesLiveAtEveryCursor(t *testing.T) {
	f := newSessionFixture(t)
	world := testutil.TestInstance
	events := []models.CanonicalEvent{
		testutil.InstanceInitialized(world, testutil.At(0)),
		testutil.RoomGenerated(world, 0, 0, testutil.TestPrefab, testutil.At(time.Second)),
		testutil.RoomGenerated(world, 1, 0, testutil.TestPrefab, testutil.At(2*time.Second)),
		testutil.PlayerEntered(models.EventWorldEntered, world, testutil.TestPlayerID, testutil.TestPlayerName, testutil.At(3*time.Second)),
		testutil.RoomEntered(world, testutil.TestPlayerID, testutil.TestPlayerName, 1, 0, testutil.At(4*time.Second)),
		testutil.EntitySpawned(world, 1, 0, "Skeleton", testutil.At(5*time.Second)),
		testutil.EntityEliminated(world, 1, 0, testutil.TestPlayerID, testutil.TestPlayerName, 10, testutil.At(6*time.Second)),
		testutil.InstanceTeardownStarted(world, testutil.At(7*time.Second)),
	}

	live := make([]Snapshot, len(events))
	for i, ev := range events {
		require.Equal(t, 1, f.ingest(t, ev))
		live[i] = f.session.Snapshot()
	}
	assert.Equal(t, 2, live[3].Summary.RoomsGenerated)
	assert.Equal(t, 1, live[3].Summary.PlayerStats.InInstances)

	state, err := f.session.StartReplay(context.Background(), world)
	require.NoError(t, err)
	require.Len(t, state.Events, len(events))
	for i := range events {
		_, err := f.session.SeekReplay(i)
		require.NoError(t, err)
		replayed := f.session.Snapshot()
		assert.Equal(t, live[i].World, replayed.World, "world at cursor %d", i)
		assert.Equal(t, live[i].Summary, replayed.Summary, "summary at cursor %d", i)
	}
}

func TestSessionReplayFallsBackToBuffer(t *testing.T) {
	f := newSessionFixture(t, withoutStore())
	events := dungeonRun(testutil.TestInstance)
	// Ingest out of order; the replay sequence is chronological.
	f.ingest(t, events[3], events[1], events[0], events[2])
	f.ingest(t, dungeonRun(testutil.TestInstanceAlt)...)

	state, err := f.session.StartReplay(context.Background(), testutil.TestInstance)
	require.NoError(t, err)
	assert.Equal(t, models.ReplaySourceBuffer, state.Source)
	require.Len(t, state.Events, 4)
	for i, ev := range state.Events {
		assert.Equal(t, events[i].ID, ev.ID)
	}
}

func TestSessionReplayUnknownInstance(t *testing.T) {
	f := newSessionFixture(t)
	_, err := f.session.StartReplay(context.Background(), "instance-missing")
	require.ErrorIs(t, err, replay.ErrNoEvents)
	_, err = f.session.StartReplay(context.Background(), "  ")
	require.Error(t, err)
	assert.False(t, f.session.Snapshot().Replaying)
}

func TestSessionReplayEventsAndPlayback(t *testing.T) {
	f := newSessionFixture(t)
	raws := make([]any, 0, 4)
	for _, ev := range dungeonRun(testutil.TestInstance) {
		raws = append(raws, map[string]any{
			"internalId": ev.ID,
			"timestamp":  ev.Timestamp,
			"type":       ev.Type,
			"data":       ev.Payload,
		})
	}
	state, err := f.session.StartReplayEvents(raws)
	require.NoError(t, err)
	assert.Equal(t, models.ReplaySourceManual, state.Source)

	state, err = f.session.ToggleReplay()
	require.NoError(t, err)
	assert.True(t, state.Playing)

	require.Eventually(t, func() bool {
		s := f.session.ReplayState()
		return s.Cursor == 3 && !s.Playing
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, f.session.Snapshot().World.Instances[testutil.TestInstance].Stats.KillCount)
}

func TestSessionReplayControlsRequireActiveReplay(t *testing.T) {
	f := newSessionFixture(t)
	_, err := f.session.SeekReplay(1)
	require.ErrorIs(t, err, replay.ErrNotActive)
	_, err = f.session.ToggleReplay()
	require.ErrorIs(t, err, replay.ErrNotActive)
	_, err = f.session.StartReplayEvents(nil)
	require.ErrorIs(t, err, replay.ErrNoEvents)
	f.session.StopReplay()
}

func TestSessionEventsSearch(t *testing.T) {
	f := newSessionFixture(t)
	f.ingest(t, dungeonRun(testutil.TestInstance)...)
	f.ingest(t, testutil.PortalClosed(testutil.TestPortalID, testutil.At(time.Minute)))

	all := f.session.Events("", 0)
	require.Len(t, all, 5)
	assert.Equal(t, string(models.EventPortalClosed), all[0].Type, "newest first")

	rooms := f.session.Events("roomgenerated", 0)
	assert.Len(t, rooms, 2)

	byPayload := f.session.Events(strings.ToUpper(testutil.TestPortalID), 0)
	require.Len(t, byPayload, 1)
	assert.Equal(t, string(models.EventPortalClosed), byPayload[0].Type)

	assert.Len(t, f.session.Events("", 2), 2)
	assert.Empty(t, f.session.Events("no-such-term", 0))
}

func TestSessionPurge(t *testing.T) {
	f := newSessionFixture(t)
	f.ingest(t, dungeonRun(testutil.TestInstance)...)
	f.session.Purge(context.Background())

	assert.Zero(t, f.session.Status().BufferEvents)
	snap := f.session.Snapshot()
	_, ok := snap.World.Instances[testutil.TestInstance]
	assert.False(t, ok)
	_, ok = snap.World.Instances[models.HubWorld]
	assert.True(t, ok)
}

func TestSessionExportEvents(t *testing.T) {
	f := newSessionFixture(t, withoutStore())
	f.ingest(t, dungeonRun(testutil.TestInstance)...)
	f.ingest(t, testutil.InstanceInitialized(testutil.TestInstanceAlt, testutil.At(0)))

	all, filename := f.session.ExportEvents(context.Background(), "")
	assert.Len(t, all, 5)
	assert.True(t, strings.HasPrefix(filename, "vex_telemetry_"), filename)

	one, filename := f.session.ExportEvents(context.Background(), testutil.TestInstance)
	assert.Len(t, one, 4)
	assert.True(t, strings.HasPrefix(filename, "vex_instance_instance-vex_the_lich_dungeon-1_"), filename)
}

func TestSessionWatcherReducesPeerEvents(t *testing.T) {
	f := newSessionFixture(t)
	require.NoError(t, f.session.Start(context.Background()))

	f.bus.PublishBatch(dungeonRun(testutil.TestInstance))
	require.Eventually(t, func() bool {
		inst, ok := f.session.Snapshot().World.Instances[testutil.TestInstance]
		return ok && len(inst.Rooms) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSessionMirrorsStreamStatusIntoMetrics(t *testing.T) {
	f := newSessionFixture(t)
	require.NoError(t, f.session.Start(context.Background()))

	f.bus.SetConnected(true)
	require.Eventually(t, func() bool {
		return strings.Contains(scrape(t, f.metrics), "vexdash_stream_connected 1")
	}, 2*time.Second, 10*time.Millisecond)

	f.bus.SetRetry(3)
	require.Eventually(t, func() bool {
		return strings.Contains(scrape(t, f.metrics), "vexdash_stream_connected 0")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSessionSeedFiles(t *testing.T) {
	path := testutil.TempFile(t, string(encodeEvents(t, dungeonRun(testutil.TestInstance)...)))
	missing := filepath.Join(t.TempDir(), "missing.json")
	f := newSessionFixture(t, func(o *SessionOptions) { o.SeedFiles = []string{path, missing} })
	require.NoError(t, f.session.Start(context.Background()))

	assert.Equal(t, 4, f.session.Status().BufferEvents)
	assert.Len(t, f.session.Snapshot().World.Instances[testutil.TestInstance].Rooms, 2)
}

func TestSessionUpstreamDisabled(t *testing.T) {
	f := newSessionFixture(t)
	_, err := f.session.UpstreamStats(context.Background())
	require.ErrorIs(t, err, ErrUpstreamDisabled)
	_, err = f.session.UpstreamWorlds(context.Background())
	require.ErrorIs(t, err, ErrUpstreamDisabled)
}

type fakeUpstream struct {
	healthy     atomic.Bool
	prefabCalls atomic.Int32
	remoteSaves atomic.Int32
}

func (u *fakeUpstream) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		if !u.healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"tps":20}`))
	})
	mux.HandleFunc("/metadata/players", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"timestamp":"2026-01-01T13:00:00.000Z","players":[{"uuid":"` + testutil.TestPlayerID + `","name":"` + testutil.TestPlayerName + `","world":"default","position":{"x":1,"y":2,"z":3}}]}`))
	})
	mux.HandleFunc("/metadata/prefab/", func(w http.ResponseWriter, _ *http.Request) {
		u.prefabCalls.Add(1)
		_, _ = w.Write([]byte(`{"roomSize":{"width":3,"height":2}}`))
	})
	mux.HandleFunc("/archives", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			u.remoteSaves.Add(1)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	})
	return mux
}

func TestSessionUpstreamOverlays(t *testing.T) {
	upstream := &fakeUpstream{}
	upstream.healthy.Store(true)
	srv := httptest.NewServer(upstream.handler())
	t.Cleanup(srv.Close)

	f := newSessionFixture(t, withUpstream(t, srv.URL))
	assert.Equal(t, UpstreamUnknown, f.session.Status().Upstream)
	require.NoError(t, f.session.Start(context.Background()))

	require.Eventually(t, func() bool {
		return f.session.Status().Upstream == UpstreamOnline
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		_, ok := f.session.Snapshot().Presence[testutil.TestPlayerID]
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	presence := f.session.Snapshot().Presence[testutil.TestPlayerID]
	assert.Equal(t, testutil.TestPlayerName, presence.Name)
	require.NotNil(t, presence.Position)
	assert.Equal(t, 3.0, presence.Position.Z)

	f.ingest(t, dungeonRun(testutil.TestInstance)...)
	require.Eventually(t, func() bool {
		size, ok := f.session.Snapshot().Prefabs[testutil.TestPrefab]
		return ok && size == models.RoomSize{W: 3, H: 2}
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), upstream.prefabCalls.Load(), "one fetch per prefab path")

	stats, err := f.session.UpstreamStats(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"tps":20}`, string(stats))

	upstream.healthy.Store(false)
	require.Eventually(t, func() bool {
		return f.session.Status().Upstream == UpstreamSevered
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSessionMirrorsArchivesUpstream(t *testing.T) {
	upstream := &fakeUpstream{}
	upstream.healthy.Store(true)
	srv := httptest.NewServer(upstream.handler())
	t.Cleanup(srv.Close)

	f := newSessionFixture(t, withUpstream(t, srv.URL), func(o *SessionOptions) { o.RemoteArchives = true })
	f.ingest(t, testutil.InstanceInitialized(testutil.TestInstance, testutil.At(0)),
		testutil.InstanceTeardownCompleted(testutil.TestInstance, testutil.At(time.Minute)))

	assert.Equal(t, int32(1), upstream.remoteSaves.Load())
	records, err := f.store.ListArchives(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestSessionStopIsIdempotent(t *testing.T) {
	f := newSessionFixture(t)
	require.NoError(t, f.session.Start(context.Background()))
	f.session.Stop()
	f.session.Stop()

	var nilSession *Session
	nilSession.Stop()
	assert.Equal(t, Snapshot{}, nilSession.Snapshot())
}
