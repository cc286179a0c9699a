package rocket

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/bobmcallan/rocketd/internal/models"
)

// workSingleton implements spec's "Singleton Job.work(server)": requires
// State==running, instantiates the worker, runs before/perform/after, and
// transitions the job to completed or failed. A worker panic is recovered
// and converted into the same Failure path as a returned error, matching
// the "exception-for-control-flow -> result types" design note.
func (e *Engine) workSingleton(ctx context.Context, job *models.Job, serverName string) (runErr error) {
	if job.State != models.StateRunning {
		return fmt.Errorf("%w: job %s is not running", ErrValidation, job.ID)
	}

	factory, ok := e.Registry.Lookup(job.ClassName)
	if !ok {
		exc := models.Exception{Class: "ErrWorkerNotRegistered", Message: fmt.Sprintf("no worker registered for class %q", job.ClassName), ServerName: serverName}
		_, failErr := e.Fail(ctx, job, exc)
		if failErr != nil {
			return fmt.Errorf("rocket: %w, and failing job also errored: %v", ErrWorkerNotRegistered, failErr)
		}
		return fmt.Errorf("%w: %s", ErrWorkerNotRegistered, job.ClassName)
	}
	w := factory()

	result, workErr := func() (result any, workErr error) {
		defer func() {
			if r := recover(); r != nil {
				workErr = fmt.Errorf("worker panic: %v\n%s", r, debug.Stack())
			}
		}()

		if hook, ok := w.(interface{ Before([]any) error }); ok {
			if err := hook.Before(job.Arguments); err != nil {
				return nil, fmt.Errorf("before hook: %w", err)
			}
		}
		result, err := w.Perform(job.Arguments)
		if err != nil {
			return nil, err
		}
		if hook, ok := w.(interface{ After([]any) error }); ok {
			if err := hook.After(job.Arguments); err != nil {
				return nil, fmt.Errorf("after hook: %w", err)
			}
		}
		return result, nil
	}()

	if workErr != nil {
		if hook, ok := w.(interface{ OnException(error) }); ok {
			hook.OnException(workErr)
		}
		exc := models.Exception{Class: "WorkerException", Message: workErr.Error(), ServerName: serverName}
		_, failErr := e.Fail(ctx, job, exc)
		if failErr != nil {
			return fmt.Errorf("rocket: job failed (%v), and CAS to failed also errored: %w", workErr, failErr)
		}
		return nil
	}

	if job.CollectOutput {
		if m, ok := result.(map[string]any); ok {
			job.Output = m
		} else if result != nil {
			job.Output = map[string]any{"result": result}
		}
	}

	_, err := e.Complete(ctx, job)
	return err
}
