package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/bobmcallan/rocketd/internal/codec"
	"github.com/bobmcallan/rocketd/internal/common"
	"github.com/bobmcallan/rocketd/internal/dispatcher"
	"github.com/bobmcallan/rocketd/internal/interfaces"
	"github.com/bobmcallan/rocketd/internal/models"
	"github.com/bobmcallan/rocketd/internal/rocket"
	"github.com/bobmcallan/rocketd/internal/store/memory"
	"github.com/bobmcallan/rocketd/internal/worker"
	"github.com/stretchr/testify/require"
)

type countingWorker struct{ calls *int }

func (w countingWorker) Perform(args []any) (any, error) {
	*w.calls++
	return nil, nil
}

func newTestEngine(store interfaces.Store, calls *int) *rocket.Engine {
	registry := worker.NewRegistry()
	registry.Register("noop", func() interfaces.Worker { return countingWorker{calls: calls} })
	cdc := &codec.Codec{Keys: map[byte][]byte{1: []byte("test-secret")}, CurrentVersion: 1}
	return rocket.NewEngine(store, registry, cdc, common.NewSilentLogger())
}

func TestSupervisorStartWorksQueuedJob(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.Jobs().Insert(ctx, &models.Job{
		ID: "j1", Kind: models.KindSingleton, ClassName: "noop", State: models.StateQueued,
	}))

	calls := 0
	engine := newTestEngine(store, &calls)
	d := dispatcher.New(store.Jobs(), common.NewSilentLogger(), 1, 0)
	d.MinPollInterval = time.Millisecond

	sup := New(store, engine, d, common.NewSilentLogger(), "test-server", common.RocketConfig{
		MaxWorkerThreads: 1, HeartbeatSeconds: 1, MaxPollSeconds: 1, ReCheckSeconds: 1,
	})
	require.NoError(t, sup.Start(ctx))

	require.Eventually(t, func() bool { return calls == 1 }, time.Second, time.Millisecond)
	sup.Stop()

	job, err := store.Jobs().Find(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, models.StateCompleted, job.State)
}

func TestSupervisorRegistersServerOnStart(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	engine := newTestEngine(store, new(int))
	d := dispatcher.New(store.Jobs(), common.NewSilentLogger(), 1, 0)

	sup := New(store, engine, d, common.NewSilentLogger(), "svr-a", common.RocketConfig{
		MaxWorkerThreads: 0, HeartbeatSeconds: 1, MaxPollSeconds: 1, ReCheckSeconds: 1,
	})
	require.NoError(t, sup.Start(ctx))
	defer sup.Stop()

	server, err := store.Servers().Find(ctx, "svr-a")
	require.NoError(t, err)
	require.Equal(t, models.ServerRunning, server.State)
}

func TestRecoverDeadServersRequeuesSingletonJob(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	require.NoError(t, store.Servers().Upsert(ctx, &models.Server{
		Name:      "dead-server",
		State:     models.ServerRunning,
		Heartbeat: models.Heartbeat{UpdatedAt: time.Now().Add(-time.Hour)},
	}))
	require.NoError(t, store.Jobs().Insert(ctx, &models.Job{
		ID: "orphan", Kind: models.KindSingleton, State: models.StateRunning, ServerName: "dead-server",
	}))

	require.NoError(t, RecoverDeadServers(ctx, store, common.NewSilentLogger(), 5))

	job, err := store.Jobs().Find(ctx, "orphan")
	require.NoError(t, err)
	require.Equal(t, models.StateQueued, job.State)
	require.Empty(t, job.ServerName)

	_, err = store.Servers().Find(ctx, "dead-server")
	require.Error(t, err)
}

func TestRecoverDeadServersRequeuesSlicedJobSlices(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	require.NoError(t, store.Servers().Upsert(ctx, &models.Server{
		Name:      "dead-server",
		State:     models.ServerRunning,
		Heartbeat: models.Heartbeat{UpdatedAt: time.Now().Add(-time.Hour)},
	}))
	require.NoError(t, store.Jobs().Insert(ctx, &models.Job{
		ID: "sliced1", Kind: models.KindSliced, State: models.StateRunning, SubState: models.SubStateProcessing, ServerName: "dead-server",
	}))
	started := time.Now()
	require.NoError(t, store.InputSlices("sliced1").Insert(ctx, &models.Slice{
		ID: "00000001", State: models.SliceRunning, ServerName: "dead-server", StartedAt: &started,
	}))

	require.NoError(t, RecoverDeadServers(ctx, store, common.NewSilentLogger(), 5))

	slice, err := store.InputSlices("sliced1").Find(ctx, "00000001")
	require.NoError(t, err)
	require.Equal(t, models.SliceQueued, slice.State)
	require.Empty(t, slice.ServerName)
}

func TestRecoverDeadServersSkipsLiveServers(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.Servers().Upsert(ctx, &models.Server{
		Name: "live-server", State: models.ServerRunning, Heartbeat: models.Heartbeat{UpdatedAt: time.Now()},
	}))

	require.NoError(t, RecoverDeadServers(ctx, store, common.NewSilentLogger(), 5))

	_, err := store.Servers().Find(ctx, "live-server")
	require.NoError(t, err)
}
