package rocket

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/bobmcallan/rocketd/internal/codec"
	"github.com/bobmcallan/rocketd/internal/interfaces"
	"github.com/bobmcallan/rocketd/internal/models"
)

// Server is the minimal view of a supervisor the sliced work loop needs:
// whether it is still accepting work and its name (for claims).
type Server interface {
	Running() bool
	Name() string
}

// workSliced implements spec's "SlicedJob.work(server)": the
// before/processing/after loop, the maxActiveWorkers throttle, and the
// completion-race CAS. reCheckSeconds bounds how long the loop stays on
// this job before returning to let the caller re-poll the dispatcher for
// higher-priority work.
func (e *Engine) workSliced(ctx context.Context, job *models.Job, server Server, reCheckSeconds int) error {
	factory, ok := e.Registry.Lookup(job.ClassName)
	if !ok {
		exc := models.Exception{Class: "ErrWorkerNotRegistered", Message: fmt.Sprintf("no worker registered for class %q", job.ClassName), ServerName: server.Name()}
		if _, failErr := e.Fail(ctx, job, exc); failErr != nil {
			return fmt.Errorf("rocket: %w, and failing job also errored: %v", ErrWorkerNotRegistered, failErr)
		}
		return fmt.Errorf("%w: %s", ErrWorkerNotRegistered, job.ClassName)
	}

	input := e.Store.InputSlices(job.ID)

	if job.SubState == models.SubStateBefore {
		w := factory()
		if err := e.runHook(w, "before", job.Arguments); err != nil {
			return e.failSliced(ctx, job, server, err)
		}
		updated, err := e.casSubState(ctx, job, models.SubStateBefore, models.SubStateProcessing, nil)
		if err == nil {
			*job = *updated
		} else if reloaded, reloadErr := e.Store.Jobs().Find(ctx, job.ID); reloadErr == nil {
			*job = *reloaded
		}
		// A lost race here means another worker already advanced the job;
		// the reload replaces the stale in-memory copy, which processSlice
		// would otherwise write back with its progress update.
	}

	if job.SubState == models.SubStateAfter {
		w := factory()
		if err := e.runHook(w, "after", job.Arguments); err != nil {
			return e.failSliced(ctx, job, server, err)
		}
		_, err := e.Complete(ctx, job)
		return err
	}

	deadline := time.Now().Add(time.Duration(reCheckSeconds) * time.Second)

	for {
		if !server.Running() {
			break
		}
		if reCheckSeconds > 0 && time.Now().After(deadline) {
			break
		}

		if job.MaxActiveWorkers > 0 {
			active, err := input.ActiveCount(ctx)
			if err != nil {
				return fmt.Errorf("rocket: active count for job %s: %w", job.ID, err)
			}
			if active >= job.MaxActiveWorkers {
				break
			}
		}

		slice, err := input.NextSlice(ctx, server.Name(), time.Now())
		if err != nil {
			return fmt.Errorf("rocket: next slice for job %s: %w", job.ID, err)
		}
		if slice == nil {
			break
		}

		w := factory()
		if err := e.processSlice(ctx, job, w, slice, input); err != nil {
			return err
		}

		if slice.State == models.SliceFailed {
			queued, err := input.QueuedCount(ctx)
			if err != nil {
				return fmt.Errorf("rocket: queued count for job %s: %w", job.ID, err)
			}
			if queued == 0 {
				exc := *slice.Exception
				_, failErr := e.Fail(ctx, job, exc)
				return failErr
			}
		}
	}

	return e.evaluateSlicedCompletion(ctx, job, server)
}

func (e *Engine) failSliced(ctx context.Context, job *models.Job, server Server, cause error) error {
	exc := models.Exception{Class: "WorkerException", Message: cause.Error(), ServerName: server.Name()}
	_, failErr := e.Fail(ctx, job, exc)
	if failErr != nil {
		return fmt.Errorf("rocket: hook failed (%v), and CAS to failed also errored: %w", cause, failErr)
	}
	return nil
}

// processSlice decodes an encoded Payload (a decode failure fails the slice
// with ErrCodec and record number 0), runs the worker's perform method once
// per record, optionally writes an output slice, and removes the input
// slice on success. On any exception it records the failure on the slice
// (not the job) and re-raises only in inline mode, matching spec's
// "WorkerException ... recorded on the slice" rule.
func (e *Engine) processSlice(ctx context.Context, job *models.Job, w interfaces.Worker, slice *models.Slice, input interfaces.SliceStore) (runErr error) {
	records := slice.Records
	if len(slice.Payload) > 0 {
		decoded, err := e.Codec.Decode(slice.Payload, codec.Options{})
		if err != nil {
			runErr = fmt.Errorf("%w: slice %s: %v", ErrCodec, slice.ID, err)
			slice.Failure(models.Exception{Class: "CodecError", Message: runErr.Error()}, 0)
		}
		records = decoded
	}
	output := make([]any, 0, len(records))

	func() {
		defer func() {
			if r := recover(); r != nil {
				runErr = fmt.Errorf("worker panic: %v\n%s", r, debug.Stack())
				slice.Failure(models.Exception{Class: "WorkerPanic", Message: runErr.Error()}, 0)
			}
		}()
		for i, record := range records {
			result, err := w.Perform(append(append([]any{}, job.Arguments...), record, slice))
			if err != nil {
				if hook, ok := w.(interfaces.OnExceptionHook); ok {
					hook.OnException(err)
				}
				runErr = fmt.Errorf("record %d: %w", i+1, err)
				slice.Failure(models.Exception{Class: "WorkerException", Message: runErr.Error()}, i+1)
				return
			}
			output = append(output, result)
		}
	}()

	if runErr != nil {
		if updErr := input.Update(ctx, slice); updErr != nil {
			return fmt.Errorf("rocket: persist failed slice %s: %w", slice.ID, updErr)
		}
		if e.InlineMode {
			return runErr
		}
		return nil
	}

	slice.State = models.SliceCompleted

	if job.CollectOutput {
		nonNil := false
		for _, o := range output {
			if o != nil {
				nonNil = true
				break
			}
		}
		// collectNilOutput=false compacts the batch and skips the slice
		// entirely only if every record produced a nil result (the
		// resolved reading of the ambiguous source behaviour).
		records := make([]string, 0, len(output))
		for _, o := range output {
			if o == nil {
				if !job.CollectNilOutput {
					continue
				}
				records = append(records, "")
				continue
			}
			records = append(records, fmt.Sprint(o))
		}
		if job.CollectNilOutput || nonNil {
			outSlice := &models.Slice{ID: slice.ID, Records: records, State: models.SliceCompleted}
			if err := e.Store.OutputSlices(job.ID).Insert(ctx, outSlice); err != nil {
				return fmt.Errorf("rocket: insert output slice %s: %w", slice.ID, err)
			}
		}
	}

	if err := input.Remove(ctx, slice.ID); err != nil {
		return fmt.Errorf("rocket: remove completed input slice %s: %w", slice.ID, err)
	}

	job.ProcessedRecords += len(records)
	job.PercentComplete = percentComplete(job)
	if err := e.Store.Jobs().Update(ctx, job); err != nil {
		return fmt.Errorf("rocket: persist progress for job %s: %w", job.ID, err)
	}
	return nil
}

// evaluateSlicedCompletion implements spec's completion check: when the
// input collection is empty, the CAS winner runs after_<method> and
// transitions to completed; losers reload and, if they observe aborted,
// drop the slice collections.
func (e *Engine) evaluateSlicedCompletion(ctx context.Context, job *models.Job, server Server) error {
	count, err := e.Store.InputSlices(job.ID).Count(ctx)
	if err != nil {
		return fmt.Errorf("rocket: input count for job %s: %w", job.ID, err)
	}
	if count != 0 {
		return nil
	}

	updated, err := e.casSubState(ctx, job, models.SubStateProcessing, models.SubStateAfter, nil)
	if err != nil {
		reloaded, reloadErr := e.Store.Jobs().Find(ctx, job.ID)
		if reloadErr != nil {
			return fmt.Errorf("rocket: reload job %s after lost completion race: %w", job.ID, reloadErr)
		}
		if reloaded.State == models.StateAborted {
			return e.Store.DropSlices(ctx, job.ID)
		}
		return nil
	}
	*job = *updated

	factory, ok := e.Registry.Lookup(job.ClassName)
	if !ok {
		return fmt.Errorf("%w: %s", ErrWorkerNotRegistered, job.ClassName)
	}
	w := factory()
	if err := e.runHook(w, "after", job.Arguments); err != nil {
		return e.failSliced(ctx, job, server, err)
	}
	_, err = e.Complete(ctx, job)
	return err
}

func (e *Engine) runHook(w interfaces.Worker, which string, args []any) error {
	switch which {
	case "before":
		if hook, ok := w.(interfaces.BeforeHook); ok {
			return hook.Before(args)
		}
	case "after":
		if hook, ok := w.(interfaces.AfterHook); ok {
			return hook.After(args)
		}
	}
	return nil
}
