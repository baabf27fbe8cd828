package db

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbround18/hytale-vex-lich-dungeon/internal/models"
	testutil "github.com/mbround18/hytale-vex-lich-dungeon/internal/testing"
)

func TestAppendEventCreatesAndExtendsLog(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, ok, err := store.LoadEventLog(ctx, testutil.TestInstance)
	require.NoError(t, err)
	assert.False(t, ok)

	first := testutil.InstanceInitialized(testutil.TestInstance, testutil.At(0))
	second := testutil.RoomGenerated(testutil.TestInstance, 0, 0, testutil.TestPrefab, testutil.At(time.Second))
	require.NoError(t, store.AppendEvent(ctx, testutil.TestInstance, first))
	require.NoError(t, store.AppendEvent(ctx, testutil.TestInstance, second))

	events, ok, err := store.LoadEventLog(ctx, testutil.TestInstance)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []models.CanonicalEvent{first, second}, events)

	logs, err := store.ListEventLogs(ctx)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, testutil.TestInstance, logs[0].ID)
	assert.Equal(t, 2, logs[0].EventCount)
	assert.False(t, logs[0].UpdatedAt.IsZero())
}

func TestAppendEventConcurrentWritersKeepEveryEvent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ev := testutil.EntitySpawned(testutil.TestInstance, i, 0, "Skeleton", testutil.At(time.Duration(i)*time.Second))
			assert.NoError(t, store.AppendEvent(ctx, testutil.TestInstance, ev))
		}(i)
	}
	wg.Wait()

	events, ok, err := store.LoadEventLog(ctx, testutil.TestInstance)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, events, writers)
}

func TestAppendEventRequiresID(t *testing.T) {
	store := openTestStore(t)
	err := store.AppendEvent(context.Background(), "  ", testutil.InstanceInitialized(testutil.TestInstance, testutil.FixedTime))
	assert.EqualError(t, err, "event log id is required")
}
