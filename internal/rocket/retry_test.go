package rocket

import (
	"context"
	"testing"
	"time"

	"github.com/bobmcallan/rocketd/internal/interfaces"
	"github.com/bobmcallan/rocketd/internal/models"
	"github.com/bobmcallan/rocketd/internal/worker"
	"github.com/stretchr/testify/require"
)

// TestFailSetsRunAtFromRetryDelay covers spec §5's back-off formula: a
// failed singleton job gets a future RunAt so RetryEligibleFailures knows
// when it is next eligible.
func TestFailSetsRunAtFromRetryDelay(t *testing.T) {
	e, store := newEngine()
	reg := e.Registry.(*worker.Registry)
	reg.Register("Boom", func() interfaces.Worker { return alwaysFailWorker{} })

	job := &models.Job{ID: "j1", ClassName: "Boom", State: models.StateRunning, CreatedAt: time.Now()}
	require.NoError(t, store.Jobs().Insert(context.Background(), job))

	require.NoError(t, e.Work(context.Background(), job, fakeServer{name: "s1", running: true}, 0))

	got, err := store.Jobs().Find(context.Background(), "j1")
	require.NoError(t, err)
	require.Equal(t, models.StateFailed, got.State)
	require.NotNil(t, got.RunAt)
	require.True(t, got.RunAt.After(time.Now()), "RunAt must be backed off into the future")
}

// TestRetryEligibleFailuresRetriesOnlyElapsedSingletons covers
// RetryEligibleFailures: a failed job whose RunAt has passed is retried
// automatically; one whose back-off hasn't elapsed, and a failed sliced
// job (which backs off per-slice, not at the job level), are left alone.
func TestRetryEligibleFailuresRetriesOnlyElapsedSingletons(t *testing.T) {
	e, store := newEngine()
	ctx := context.Background()
	now := time.Now()

	elapsed := now.Add(-time.Minute)
	notYet := now.Add(time.Hour)

	due := &models.Job{ID: "due", Kind: models.KindSingleton, State: models.StateFailed, CreatedAt: now, RunAt: &elapsed}
	pending := &models.Job{ID: "pending", Kind: models.KindSingleton, State: models.StateFailed, CreatedAt: now, RunAt: &notYet}
	sliced := &models.Job{ID: "sliced", Kind: models.KindSliced, State: models.StateFailed, CreatedAt: now, RunAt: &elapsed}

	require.NoError(t, store.Jobs().Insert(ctx, due))
	require.NoError(t, store.Jobs().Insert(ctx, pending))
	require.NoError(t, store.Jobs().Insert(ctx, sliced))

	retried, err := e.RetryEligibleFailures(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 1, retried)

	gotDue, err := store.Jobs().Find(ctx, "due")
	require.NoError(t, err)
	require.Equal(t, models.StateRunning, gotDue.State)

	gotPending, err := store.Jobs().Find(ctx, "pending")
	require.NoError(t, err)
	require.Equal(t, models.StateFailed, gotPending.State)

	gotSliced, err := store.Jobs().Find(ctx, "sliced")
	require.NoError(t, err)
	require.Equal(t, models.StateFailed, gotSliced.State)
}
