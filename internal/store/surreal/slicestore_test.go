package surreal

import (
	"context"
	"testing"
	"time"

	"github.com/bobmcallan/rocketd/internal/models"
	"github.com/stretchr/testify/require"
)

func TestSliceStoreInsertAndNextSlice(t *testing.T) {
	db := testDB(t)
	store := NewSliceStore(db, testLogger(), "inputs_slicetest1")
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, &models.Slice{ID: "1", Records: []string{"a"}, State: models.SliceQueued}))
	require.NoError(t, store.Insert(ctx, &models.Slice{ID: "2", Records: []string{"b"}, State: models.SliceQueued}))

	claimed, err := store.NextSlice(ctx, "server-1", time.Now())
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, "1", claimed.ID)
	require.Equal(t, models.SliceRunning, claimed.State)

	queued, err := store.QueuedCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, queued)

	active, err := store.ActiveCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, active)
}

func TestSliceStoreRequeueFailed(t *testing.T) {
	db := testDB(t)
	store := NewSliceStore(db, testLogger(), "inputs_slicetest2")
	ctx := context.Background()

	slice := &models.Slice{ID: "1", Records: []string{"a"}, State: models.SliceRunning, ServerName: "s1"}
	require.NoError(t, store.Insert(ctx, slice))
	slice.Failure(models.Exception{Class: "Boom", Message: "boom"}, 1)
	require.NoError(t, store.Update(ctx, slice))

	failed, err := store.FailedCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, failed)

	n, err := store.RequeueFailed(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	queued, err := store.QueuedCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, queued)
}

func TestSliceStoreEachFailedRecord(t *testing.T) {
	db := testDB(t)
	store := NewSliceStore(db, testLogger(), "inputs_slicetest3")
	ctx := context.Background()

	slice := &models.Slice{ID: "1", Records: []string{"first", "second"}, State: models.SliceRunning}
	require.NoError(t, store.Insert(ctx, slice))
	slice.Failure(models.Exception{Class: "Boom", Message: "boom"}, 2)
	require.NoError(t, store.Update(ctx, slice))

	var seen []string
	err := store.EachFailedRecord(ctx, func(record string, s *models.Slice) error {
		seen = append(seen, record)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"second"}, seen)
}
