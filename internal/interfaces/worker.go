package interfaces

// Worker is user-supplied job code. A worker declares a Perform method and
// may optionally implement BeforeHook/AfterHook/OnException; the runtime
// probes for these via the optional interfaces below rather than Go
// reflection, keeping dispatch a static type assertion instead of
// method-name lookup by string (the one piece of the runtime that can't be
// a registry, since Go has no reflective method invocation idiom the rest
// of the pack uses).
type Worker interface {
	// Perform runs the job's performMethod against arguments. For a
	// sliced job it is invoked once per record, with the record and its
	// owning slice appended to arguments.
	Perform(args []any) (any, error)
}

// BeforeHook is implemented by workers that need setup before the first
// perform call (singleton) or before slice processing begins (sliced).
type BeforeHook interface {
	Before(args []any) error
}

// AfterHook is implemented by workers that need teardown after the last
// perform call.
type AfterHook interface {
	After(args []any) error
}

// OnExceptionHook is implemented by workers that want a callback when
// Perform (or a hook) returns an error, before the runtime records the
// Failure.
type OnExceptionHook interface {
	OnException(err error)
}

// Factory constructs a fresh Worker instance for one job invocation.
// Workers are stateless between jobs by convention; the registry holds
// factories, not singletons, per the job-scoped worker lifetime spec.md
// implies (one instantiation per Job.work call).
type Factory func() Worker

// Registry resolves a job's ClassName to a worker Factory. Unknown keys
// fail the job with ErrWorkerNotRegistered rather than panicking the
// worker task.
type Registry interface {
	Register(className string, factory Factory)
	Lookup(className string) (Factory, bool)
}
