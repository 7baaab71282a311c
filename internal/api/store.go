package api

import (
	"sync"
	"time"
)

// JobStore keeps finished quantization jobs in memory.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
	}
}

func (s *JobStore) Create(req JobRequest, now time.Time) *Job {
	job := &Job{
		ID:        newJobID(),
		Object:    "quantization.job",
		CreatedAt: now.Unix(),
		Request:   req,
	}
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
	return job
}

// Finish records the outcome of a job and returns a copy for the response.
func (s *JobStore) Finish(id string, now time.Time, update func(j *Job)) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	update(job)
	job.CompletedAt = now.Unix()
	return *job, true
}

func (s *JobStore) Get(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

func (s *JobStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return false
	}
	delete(s.jobs, id)
	return true
}
