// Package scheduler runs the daemon's periodic maintenance tasks:
// retransmission sweeps and puzzle-cache rotation, each its own
// ticking Job independent of the others.
package scheduler

import (
	"sync"
	"sync/atomic"
	"time"
)

// Scheduler is the process-wide registry of running maintenance jobs.
type Scheduler struct {
	jobs      map[int]*Job
	nextJobID int64
	mu        sync.RWMutex
}

var (
	instance *Scheduler
	once     sync.Once
)

// GetScheduler returns the process-wide Scheduler, creating it on
// first use.
func GetScheduler() *Scheduler {
	once.Do(func() {
		instance = &Scheduler{
			jobs: make(map[int]*Job),
		}
	})
	return instance
}

// AddJob registers and starts a new job named name, calling run every
// interval, returning its ID.
func (s *Scheduler) AddJob(name string, interval time.Duration, run func(now time.Time)) int {
	jobID := int(atomic.AddInt64(&s.nextJobID, 1))

	job := NewJob(jobID, name, interval, run)
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	job.Start()
	return jobID
}

// RemoveJob stops and forgets the job with the given ID.
func (s *Scheduler) RemoveJob(jobID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job, exists := s.jobs[jobID]; exists {
		job.Stop()
		delete(s.jobs, jobID)
		return true
	}
	return false
}

// GetJob returns the job with the given ID, if it is still registered.
func (s *Scheduler) GetJob(jobID int) (*Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[jobID]
	return job, exists
}

// StopAll stops and forgets every registered job, used during daemon
// shutdown.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	s.jobs = make(map[int]*Job)
	s.mu.Unlock()

	for _, job := range jobs {
		job.Stop()
	}
}
