package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/bobmcallan/rocketd/internal/common"
	"github.com/bobmcallan/rocketd/internal/models"
	"github.com/bobmcallan/rocketd/internal/store/memory"
	"github.com/stretchr/testify/require"
)

func TestNextJobClaimsHighestPriorityQueued(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	require.NoError(t, store.Jobs().Insert(ctx, &models.Job{ID: "low", State: models.StateQueued, Priority: 5}))
	require.NoError(t, store.Jobs().Insert(ctx, &models.Job{ID: "high", State: models.StateQueued, Priority: 1}))

	d := New(store.Jobs(), common.NewSilentLogger(), 5, 0)
	job, err := d.NextJob(ctx, "server-1")
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, "high", job.ID)
	require.Equal(t, models.StateRunning, job.State)
	require.Equal(t, "server-1", job.ServerName)
}

func TestNextJobReturnsNilWhenQueueEmpty(t *testing.T) {
	store := memory.New()
	d := New(store.Jobs(), common.NewSilentLogger(), 5, 0)
	job, err := d.NextJob(context.Background(), "server-1")
	require.NoError(t, err)
	require.Nil(t, job)
}

func TestPollStopsOnShutdownFlag(t *testing.T) {
	store := memory.New()
	d := New(store.Jobs(), common.NewSilentLogger(), 1, 0)
	d.MinPollInterval = time.Millisecond

	job, err := d.Poll(context.Background(), "server-1", func() bool { return true })
	require.NoError(t, err)
	require.Nil(t, job)
}

func TestPollReturnsJobOnceEnqueued(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	d := New(store.Jobs(), common.NewSilentLogger(), 1, 0)
	d.MinPollInterval = time.Millisecond

	go func() {
		time.Sleep(5 * time.Millisecond)
		_ = store.Jobs().Insert(ctx, &models.Job{ID: "late", State: models.StateQueued, Priority: 1})
	}()

	deadline, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	job, err := d.Poll(deadline, "server-1", func() bool { return false })
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, "late", job.ID)
}

func TestPollRespectsContextCancellation(t *testing.T) {
	store := memory.New()
	d := New(store.Jobs(), common.NewSilentLogger(), 1, 0)
	d.MinPollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	job, err := d.Poll(ctx, "server-1", func() bool { return false })
	require.Error(t, err)
	require.Nil(t, job)
}
