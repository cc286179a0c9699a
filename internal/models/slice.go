package models

import "time"

// SliceState is a slice's position in its lifecycle.
type SliceState string

const (
	SliceQueued    SliceState = "queued"
	SliceRunning   SliceState = "running"
	SliceCompleted SliceState = "completed"
	SliceFailed    SliceState = "failed"
)

// Slice is a fixed-size batch of records processed as one atomic unit.
// Records holds the plain record array when the slice is stored unencoded;
// Payload holds the raw codec output (compressed and/or encrypted) instead,
// with Records left empty; the two are never populated at once.
type Slice struct {
	ID           string     `json:"id"`
	Records      []string   `json:"records,omitempty"`
	Payload      []byte     `json:"payload,omitempty"`
	State        SliceState `json:"state"`
	FailureCount int        `json:"failure_count"`
	ServerName   string     `json:"server_name,omitempty"`
	Exception    *Exception `json:"exception,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
}

// Failure records a worker exception against the slice: sets it to failed,
// increments FailureCount, clears the claim, and records the offending
// record index.
func (s *Slice) Failure(exc Exception, recordNumber int) {
	exc.RecordNumber = recordNumber
	s.State = SliceFailed
	s.FailureCount++
	s.ServerName = ""
	s.Exception = &exc
}
