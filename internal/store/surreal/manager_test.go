package surreal

import (
	"context"
	"testing"
	"time"

	"github.com/bobmcallan/rocketd/internal/models"
	"github.com/stretchr/testify/require"
)

// newTestManager wires a Manager directly from two connections into the
// same test database, skipping common.Config/NewManager's dial step since
// testDB already performs sign-in and namespace selection.
func newTestManager(t *testing.T) *Manager {
	t.Helper()
	db := testDB(t)
	return &Manager{
		jobsDB:      db,
		slicesDB:    db,
		logger:      testLogger(),
		jobStore:    NewJobStore(db, testLogger()),
		serverStore: NewServerStore(db, testLogger()),
		configStore: NewConfigStore(db, testLogger()),
	}
}

func TestManagerInputOutputSlicesAreIndependent(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	job := &models.Job{ID: "job-42", Kind: models.KindSliced, State: models.StateRunning, CreatedAt: time.Now()}
	require.NoError(t, m.Jobs().Insert(ctx, job))

	require.NoError(t, m.InputSlices(job.ID).Insert(ctx, &models.Slice{ID: "1", Records: []string{"a"}, State: models.SliceQueued}))
	require.NoError(t, m.OutputSlices(job.ID).Insert(ctx, &models.Slice{ID: "1", Records: []string{"a-out"}, State: models.SliceCompleted}))

	inCount, err := m.InputSlices(job.ID).Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, inCount)

	outCount, err := m.OutputSlices(job.ID).Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, outCount)

	require.NoError(t, m.DropSlices(ctx, job.ID))

	inCount, err = m.InputSlices(job.ID).Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, inCount)
}

func TestManagerConfigLoadDefaultsWhenUnset(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	cfg, err := m.Config().Load(ctx)
	require.NoError(t, err)
	require.Equal(t, 10, cfg.MaxWorkerThreads)

	cfg.MaxWorkerThreads = 20
	require.NoError(t, m.Config().Save(ctx, cfg))

	got, err := m.Config().Load(ctx)
	require.NoError(t, err)
	require.Equal(t, 20, got.MaxWorkerThreads)
}
