// Package memory implements the rocketd store contracts with
// mutex-guarded in-process maps. It is grounded on the teacher's
// preference for hand-written fakes over a mocking framework in
// service-level tests (internal/services/jobmanager/manager_test.go) and
// doubles as the backing store for inline_mode, which bypasses the
// dispatcher and a live database entirely.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bobmcallan/rocketd/internal/interfaces"
	"github.com/bobmcallan/rocketd/internal/models"
)

var errNotFound = errors.New("memory: not found or state changed")

// Store is an in-memory implementation of interfaces.Store.
type Store struct {
	jobs    *JobStore
	servers *ServerStore
	config  *ConfigStore

	mu      sync.Mutex
	inputs  map[string]*SliceStore
	outputs map[string]*SliceStore
}

// New constructs an empty in-memory Store.
func New() *Store {
	return &Store{
		jobs:    newJobStore(),
		servers: newServerStore(),
		config:  newConfigStore(),
		inputs:  make(map[string]*SliceStore),
		outputs: make(map[string]*SliceStore),
	}
}

func (s *Store) Jobs() interfaces.JobStore       { return s.jobs }
func (s *Store) Servers() interfaces.ServerStore { return s.servers }
func (s *Store) Config() interfaces.ConfigStore  { return s.config }

func (s *Store) InputSlices(jobID string) interfaces.SliceStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	store, ok := s.inputs[jobID]
	if !ok {
		store = newSliceStore()
		s.inputs[jobID] = store
	}
	return store
}

func (s *Store) OutputSlices(jobID string) interfaces.SliceStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	store, ok := s.outputs[jobID]
	if !ok {
		store = newSliceStore()
		s.outputs[jobID] = store
	}
	return store
}

func (s *Store) DropSlices(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inputs, jobID)
	delete(s.outputs, jobID)
	return nil
}

func (s *Store) Close() error { return nil }

// JobStore is the in-memory jobs collection.
type JobStore struct {
	mu   sync.Mutex
	byID map[string]*models.Job
}

func newJobStore() *JobStore {
	return &JobStore{byID: make(map[string]*models.Job)}
}

func (j *JobStore) Insert(ctx context.Context, job *models.Job) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, exists := j.byID[job.ID]; exists {
		return nil // duplicate key on insert is treated as success
	}
	cp := *job
	j.byID[job.ID] = &cp
	return nil
}

func (j *JobStore) Find(ctx context.Context, id string) (*models.Job, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	job, ok := j.byID[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, errNotFound)
	}
	cp := *job
	return &cp, nil
}

func (j *JobStore) NextJob(ctx context.Context, serverName string, now time.Time) (*models.Job, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var candidates []*models.Job
	for _, job := range j.byID {
		if job.Runnable(now) {
			candidates = append(candidates, job)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(a, b int) bool {
		if candidates[a].Priority != candidates[b].Priority {
			return candidates[a].Priority < candidates[b].Priority
		}
		return candidates[a].CreatedAt.Before(candidates[b].CreatedAt)
	})

	job := candidates[0]
	job.ServerName = serverName
	if job.State == models.StateQueued {
		// Claiming a queued job fires its "start" transition inline: the
		// claim itself must carry the same side effects Engine.Start would
		// apply (StartedAt, and SubState=before for sliced jobs), since
		// nothing else in the dispatch path calls Engine.Start afterward.
		job.State = models.StateRunning
		job.StartedAt = &now
		if job.Kind == models.KindSliced {
			job.SubState = models.SubStateBefore
		}
	}
	cp := *job
	return &cp, nil
}

func (j *JobStore) CompareAndSwap(ctx context.Context, id string, expectState models.State, mutate func(*models.Job)) (*models.Job, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	job, ok := j.byID[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, errNotFound)
	}
	if job.State != expectState {
		return nil, fmt.Errorf("job %s: expected state %q, got %q: %w", id, expectState, job.State, errNotFound)
	}
	mutate(job)
	cp := *job
	return &cp, nil
}

func (j *JobStore) CompareAndSwapSubState(ctx context.Context, id string, expectState models.State, expectSubState models.SubState, mutate func(*models.Job)) (*models.Job, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	job, ok := j.byID[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, errNotFound)
	}
	if job.State != expectState || job.SubState != expectSubState {
		return nil, fmt.Errorf("job %s: expected (%q,%q), got (%q,%q): %w", id, expectState, expectSubState, job.State, job.SubState, errNotFound)
	}
	mutate(job)
	cp := *job
	return &cp, nil
}

func (j *JobStore) Update(ctx context.Context, job *models.Job) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.byID[job.ID]; !ok {
		return fmt.Errorf("job %s: %w", job.ID, errNotFound)
	}
	cp := *job
	j.byID[job.ID] = &cp
	return nil
}

func (j *JobStore) Delete(ctx context.Context, id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.byID, id)
	return nil
}

func (j *JobStore) ListRunning(ctx context.Context) ([]*models.Job, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []*models.Job
	for _, job := range j.byID {
		if job.State == models.StateRunning {
			cp := *job
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (j *JobStore) List(ctx context.Context, limit int) ([]*models.Job, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]*models.Job, 0, len(j.byID))
	for _, job := range j.byID {
		cp := *job
		out = append(out, &cp)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
