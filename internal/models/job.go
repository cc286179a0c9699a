// Package models defines the persistent document shapes shared by the
// store, dispatcher, and rocket packages.
package models

import "time"

// State is a job's position in its lifecycle state machine.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StatePaused    State = "paused"
	StateFailed    State = "failed"
	StateRetry     State = "retry"
	StateAborted   State = "aborted"
)

// SubState is the sliced-job execution phase within StateRunning.
type SubState string

const (
	SubStateNone       SubState = ""
	SubStateBefore     SubState = "before"
	SubStateProcessing SubState = "processing"
	SubStateAfter      SubState = "after"
)

// Kind distinguishes a singleton job from a sliced job. Go has no class
// hierarchy to lean on here, so Job carries its kind as a tag and the
// sliced-only fields live alongside the common header, unset for
// singletons.
type Kind string

const (
	KindSingleton Kind = "singleton"
	KindSliced    Kind = "sliced"
)

// Exception is the structured failure record attached to a job or slice.
// Field names mirror what operators expect to see in a retry dashboard.
type Exception struct {
	Class        string `json:"class"`
	Message      string `json:"message"`
	Backtrace    string `json:"backtrace,omitempty"`
	ServerName   string `json:"server_name,omitempty"`
	RecordNumber int    `json:"record_number,omitempty"`
}

// Job is the persistent document for both singleton and sliced jobs.
// Sliced-only fields (Compress, Encrypt, SliceSize, RecordCount,
// MaxActiveWorkers, CollectNilOutput) are zero-valued for singletons.
type Job struct {
	ID            string   `json:"id"`
	Kind          Kind     `json:"kind"`
	ClassName     string   `json:"class_name"`
	PerformMethod string   `json:"perform_method"`
	Arguments     []any    `json:"arguments"`
	Priority      int      `json:"priority"`
	State         State    `json:"state"`
	SubState      SubState `json:"sub_state,omitempty"`

	RunAt     *time.Time `json:"run_at,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Schedule  string     `json:"schedule,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	FailureCount int        `json:"failure_count"`
	Exception    *Exception `json:"exception,omitempty"`

	ServerName string `json:"server_name,omitempty"`

	PercentComplete float64        `json:"percent_complete"`
	Output          map[string]any `json:"output,omitempty"`
	CollectOutput   bool           `json:"collect_output"`

	DestroyOnComplete bool   `json:"destroy_on_complete"`
	Repeatable        bool   `json:"repeatable"`
	LogLevel          string `json:"log_level,omitempty"`
	Group             string `json:"group,omitempty"`

	// Sliced-job-only fields.
	Compress         bool `json:"compress,omitempty"`
	Encrypt          bool `json:"encrypt,omitempty"`
	SliceSize        int  `json:"slice_size,omitempty"`
	RecordCount      int  `json:"record_count,omitempty"`
	MaxActiveWorkers int  `json:"max_active_workers,omitempty"`
	CollectNilOutput bool `json:"collect_nil_output,omitempty"`

	// ProcessedRecords counts records consumed out of input slices so far
	// (incremented as each slice completes). Drives the percentComplete
	// projection; spec's prose disagrees with itself on whether that
	// projection is outputSlices/recordCount or a record-weighted ratio,
	// so this tracks records directly and percentComplete
	// (internal/rocket/status.go) derives it from ProcessedRecords/RecordCount.
	ProcessedRecords int `json:"processed_records,omitempty"`
}

// Sliced reports whether the job is a SlicedJob.
func (j *Job) Sliced() bool {
	return j.Kind == KindSliced
}

// DefaultPerformMethod is used when a job does not name one explicitly.
const DefaultPerformMethod = "perform"

// DefaultPriority is assigned to a job that doesn't specify one.
const DefaultPriority = 50

// DefaultSliceSize is the slice batch size used when a sliced job does not
// specify one.
const DefaultSliceSize = 100

// Runnable reports whether the job currently satisfies the dispatcher's
// query: queued, or running-and-processing (the latter lets additional
// workers join a sliced job already in flight).
func (j *Job) Runnable(now time.Time) bool {
	if j.RunAt != nil && j.RunAt.After(now) {
		return false
	}
	if j.State == StateQueued {
		return true
	}
	return j.State == StateRunning && j.SubState == SubStateProcessing
}
