package rocket

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bobmcallan/rocketd/internal/interfaces"
	"github.com/bobmcallan/rocketd/internal/models"
	"github.com/bobmcallan/rocketd/internal/worker"
	"github.com/stretchr/testify/require"
)

type recordFailWorker struct{}

func (recordFailWorker) Perform(args []any) (any, error) {
	return nil, errors.New("record processing always fails")
}

type recordPassWorker struct{}

func (recordPassWorker) Perform(args []any) (any, error) {
	// args is [...jobArgs, record, slice]; the record is second-to-last.
	return args[len(args)-2], nil
}

func newSlicedJob(id string, recordCount int) *models.Job {
	return &models.Job{
		ID:            id,
		Kind:          models.KindSliced,
		ClassName:     "Slicer",
		PerformMethod: "perform",
		State:         models.StateRunning,
		SubState:      models.SubStateProcessing,
		CreatedAt:     time.Now(),
		RecordCount:   recordCount,
		SliceSize:     1,
		CollectOutput: true,
	}
}

func insertInputSlices(t *testing.T, store interfaces.SliceStore, records []string) {
	t.Helper()
	ctx := context.Background()
	for i, r := range records {
		id := string(rune('1' + i))
		require.NoError(t, store.Insert(ctx, &models.Slice{ID: id, Records: []string{r}, State: models.SliceQueued}))
	}
}

// TestSlicedJobRetryOnException covers spec's end-to-end scenario 1.
func TestSlicedJobRetryOnException(t *testing.T) {
	e, store := newEngine()
	reg := e.Registry.(*worker.Registry)
	reg.Register("Slicer", func() interfaces.Worker { return recordFailWorker{} })

	job := newSlicedJob("j1", 5)
	require.NoError(t, store.Jobs().Insert(context.Background(), job))

	records := []string{"this is some", "data", "a", "that we can delimit", "as necessary"}
	insertInputSlices(t, store.InputSlices(job.ID), records)

	ctx := context.Background()
	server := fakeServer{name: "s1", running: true}

	require.NoError(t, e.Work(ctx, job, server, 0))

	failed, err := store.InputSlices(job.ID).FailedCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, failed)

	outCount, err := store.OutputSlices(job.ID).Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, outCount)

	got, err := store.Jobs().Find(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.StateFailed, got.State)

	// Retry: still failing.
	job, err = e.Retry(ctx, got)
	require.NoError(t, err)
	require.NoError(t, e.Work(ctx, job, server, 0))

	failed, err = store.InputSlices(job.ID).FailedCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, failed)

	got, err = store.Jobs().Find(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.StateFailed, got.State)

	// Requeue failed slices and switch to a pass-through worker.
	_, err = store.InputSlices(job.ID).RequeueFailed(ctx)
	require.NoError(t, err)
	reg.Register("Slicer", func() interfaces.Worker { return recordPassWorker{} })

	job, err = e.Retry(ctx, got)
	require.NoError(t, err)
	require.NoError(t, e.Work(ctx, job, server, 0))

	failed, err = store.InputSlices(job.ID).FailedCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, failed)

	outCount, err = store.OutputSlices(job.ID).Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, outCount)

	got, err = store.Jobs().Find(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.StateCompleted, got.State)
}

// TestSlicedJobThrottle covers spec's end-to-end scenario 6.
func TestSlicedJobThrottle(t *testing.T) {
	e, store := newEngine()
	reg := e.Registry.(*worker.Registry)
	reg.Register("Slicer", func() interfaces.Worker { return recordPassWorker{} })

	job := newSlicedJob("j1", 5)
	job.MaxActiveWorkers = 2
	require.NoError(t, store.Jobs().Insert(context.Background(), job))

	ctx := context.Background()
	input := store.InputSlices(job.ID)
	for i := 0; i < 5; i++ {
		id := string(rune('1' + i))
		started := time.Now()
		require.NoError(t, input.Insert(ctx, &models.Slice{ID: id, Records: []string{"r"}, State: models.SliceRunning, ServerName: "other", StartedAt: &started}))
	}

	active, err := input.ActiveCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, active)

	require.NoError(t, e.Work(ctx, job, fakeServer{name: "s1", running: true}, 0))

	// No slice should have been claimed by this server; all 5 remain
	// running and owned by "other".
	active, err = input.ActiveCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, active)
}

// TestSlicedJobCompletionRace covers spec's end-to-end scenario 4: two
// workers race to observe an empty input collection; only one wins the
// subState CAS and completes the job.
func TestSlicedJobCompletionRace(t *testing.T) {
	e, store := newEngine()
	reg := e.Registry.(*worker.Registry)
	reg.Register("Slicer", func() interfaces.Worker { return recordPassWorker{} })

	job := newSlicedJob("j1", 0)
	require.NoError(t, store.Jobs().Insert(context.Background(), job))

	ctx := context.Background()
	server1 := fakeServer{name: "s1", running: true}
	server2 := fakeServer{name: "s2", running: true}

	var wg sync.WaitGroup
	results := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		j, _ := store.Jobs().Find(ctx, job.ID)
		results[0] = e.evaluateSlicedCompletion(ctx, j, server1)
	}()
	go func() {
		defer wg.Done()
		j, _ := store.Jobs().Find(ctx, job.ID)
		results[1] = e.evaluateSlicedCompletion(ctx, j, server2)
	}()
	wg.Wait()

	require.NoError(t, results[0])
	require.NoError(t, results[1])

	got, err := store.Jobs().Find(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.StateCompleted, got.State)
}

// TestSlicedJobClaimedViaNextJobRunsBeforeAndAfterHooks is a regression test
// for the dispatcher's atomic claim: it drives a sliced job through
// JobStore.NextJob (the real dispatch path), not a hand-inserted
// State=running/SubState=processing fixture, and checks that before_<method>
// actually runs and the job reaches completed instead of hanging forever in
// running with sub_state stuck at "".
func TestSlicedJobClaimedViaNextJobRunsBeforeAndAfterHooks(t *testing.T) {
	e, store := newEngine()
	reg := e.Registry.(*worker.Registry)

	var beforeCalls, afterCalls int
	reg.Register("Slicer", func() interfaces.Worker { return &hookCountingWorker{before: &beforeCalls, after: &afterCalls} })

	job := &models.Job{
		ID:            "j1",
		Kind:          models.KindSliced,
		ClassName:     "Slicer",
		PerformMethod: "perform",
		State:         models.StateQueued,
		CreatedAt:     time.Now(),
		RecordCount:   2,
		SliceSize:     1,
		CollectOutput: true,
	}
	ctx := context.Background()
	require.NoError(t, store.Jobs().Insert(ctx, job))
	insertInputSlices(t, store.InputSlices(job.ID), []string{"a", "b"})

	claimed, err := store.Jobs().NextJob(ctx, "s1", time.Now())
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, models.StateRunning, claimed.State)
	require.Equal(t, models.SubStateBefore, claimed.SubState, "claim must fire the start transition's sub_state=before side effect")

	server := fakeServer{name: "s1", running: true}
	require.NoError(t, e.Work(ctx, claimed, server, 0))

	require.Equal(t, 1, beforeCalls)
	require.Equal(t, 1, afterCalls)

	got, err := store.Jobs().Find(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.StateCompleted, got.State)
	require.Equal(t, float64(100), got.PercentComplete)
}

type hookCountingWorker struct {
	before *int
	after  *int
}

func (w *hookCountingWorker) Before(args []any) error {
	*w.before++
	return nil
}

func (w *hookCountingWorker) After(args []any) error {
	*w.after++
	return nil
}

func (w *hookCountingWorker) Perform(args []any) (any, error) {
	return args[len(args)-2], nil
}
