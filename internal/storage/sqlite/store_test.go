package sqlite

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *RunStore {
	t.Helper()
	store, err := OpenRunStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleRun() *Run {
	return &Run{
		ImagePath:       "scene.png",
		DepthPath:       "scene_depth.tif",
		Segmenter:       "flood",
		Width:           640,
		Height:          480,
		Segments:        12,
		BackgroundCells: 3,
		SampleCount:     250,
		LSAIterations:   40,
		LSAConverged:    true,
		DurationMS:      1234,
		ParamsJSON:      json.RawMessage(`{"epsilon_fraction":0.02}`),
	}
}

func TestRunStore_InsertGet(t *testing.T) {
	t.Parallel()
	store := setupTestStore(t)

	run := sampleRun()
	require.NoError(t, store.Insert(run))
	_, err := uuid.Parse(run.RunID)
	require.NoError(t, err, "insert should assign a uuid")
	assert.False(t, run.CreatedAt.IsZero())

	got, err := store.Get(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, run.RunID, got.RunID)
	assert.Equal(t, run.CreatedAt.UnixNano(), got.CreatedAt.UnixNano())
	assert.Equal(t, "flood", got.Segmenter)
	assert.Equal(t, 640, got.Width)
	assert.Equal(t, 480, got.Height)
	assert.Equal(t, uint32(12), got.Segments)
	assert.Equal(t, 3, got.BackgroundCells)
	assert.Equal(t, 250, got.SampleCount)
	assert.Equal(t, 40, got.LSAIterations)
	assert.True(t, got.LSAConverged)
	assert.Equal(t, int64(1234), got.DurationMS)
	assert.JSONEq(t, `{"epsilon_fraction":0.02}`, string(got.ParamsJSON))
}

func TestRunStore_KeepsExplicitID(t *testing.T) {
	t.Parallel()
	store := setupTestStore(t)

	run := sampleRun()
	run.RunID = "fixed-id"
	run.CreatedAt = time.Unix(1700000000, 0)
	run.ParamsJSON = nil
	run.ErrorKind = "empty_near_zero_set"
	run.ErrorMessage = "no cells below near-zero depth threshold"
	require.NoError(t, store.Insert(run))

	got, err := store.Get("fixed-id")
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), got.CreatedAt.Unix())
	assert.Nil(t, got.ParamsJSON)
	assert.Equal(t, "empty_near_zero_set", got.ErrorKind)
	assert.Equal(t, run.ErrorMessage, got.ErrorMessage)

	assert.Error(t, store.Insert(run), "duplicate id must fail")
}

func TestRunStore_GetMissing(t *testing.T) {
	t.Parallel()
	store := setupTestStore(t)
	_, err := store.Get("nope")
	assert.True(t, errors.Is(err, ErrRunNotFound))
}

func TestRunStore_ListNewestFirst(t *testing.T) {
	t.Parallel()
	store := setupTestStore(t)

	base := time.Unix(1700000000, 0)
	for i, id := range []string{"a", "b", "c"} {
		run := sampleRun()
		run.RunID = id
		run.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.Insert(run))
	}

	all, err := store.List(0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].RunID)
	assert.Equal(t, "b", all[1].RunID)
	assert.Equal(t, "a", all[2].RunID)

	limited, err := store.List(2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "c", limited[0].RunID)
}

func TestRunStore_Delete(t *testing.T) {
	t.Parallel()
	store := setupTestStore(t)

	run := sampleRun()
	require.NoError(t, store.Insert(run))
	require.NoError(t, store.Delete(run.RunID))

	_, err := store.Get(run.RunID)
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, store.Delete(run.RunID), ErrRunNotFound)
}

func TestMigrations_VersionAndDown(t *testing.T) {
	t.Parallel()
	store := setupTestStore(t)

	version, dirty, err := MigrateVersion(store.db, MigrationsFS())
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	// Applying again is a no-op.
	require.NoError(t, MigrateUp(store.db, MigrationsFS()))

	require.NoError(t, MigrateDown(store.db, MigrationsFS()))
	version, _, err = MigrateVersion(store.db, MigrationsFS())
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)

	_, err = store.List(0)
	assert.Error(t, err, "table should be gone after down migration")
}

func TestRetryOnBusy(t *testing.T) {
	t.Parallel()

	calls := 0
	err := retryOnBusy(func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked (5) (SQLITE_BUSY)")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	permanent := errors.New("constraint failed")
	err = retryOnBusy(func() error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)

	calls = 0
	err = retryOnBusy(func() error {
		calls++
		return errors.New("SQLITE_BUSY")
	})
	assert.Error(t, err)
	assert.Equal(t, busyRetries+1, calls)
}
