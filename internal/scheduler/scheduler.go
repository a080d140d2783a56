// Package scheduler runs the periodic lifecycle sweeps. Each job ticks on its
// own interval and, when a Locker is configured, runs only on the instance that
// holds the job's lease for that tick.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"
)

type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Locker grants at most one holder per key until ttl passes or release is called.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

type Scheduler struct {
	jobs     []Job
	locker   Locker
	leaseTTL time.Duration
}

// New builds a scheduler. A nil locker runs every job on every tick, which is
// correct for a single instance: each item transition is still serialized by
// its row lock.
func New(locker Locker, leaseTTL time.Duration, jobs ...Job) *Scheduler {
	return &Scheduler{jobs: jobs, locker: locker, leaseTTL: leaseTTL}
}

// Run starts every job and blocks until ctx is cancelled and all in-flight
// runs have returned.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup

	for _, job := range s.jobs {
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			s.loop(ctx, job)
		}(job)
	}

	wg.Wait()
	log.Println("[scheduler] stopped")
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	log.Printf("[scheduler] %s started, every %s", job.Name, job.Interval)

	s.RunOnce(ctx, job)

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx, job)
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce runs one tick of job, reporting whether it actually ran.
func (s *Scheduler) RunOnce(ctx context.Context, job Job) bool {
	if ctx.Err() != nil {
		return false
	}

	if s.locker != nil {
		ttl := s.leaseTTL
		if ttl <= 0 {
			ttl = job.Interval
		}

		// A lease store outage degrades to running unleased; row locks
		// still serialize every transition.
		release, ok, err := s.locker.Acquire(ctx, "scheduler:lease:"+job.Name, ttl)
		switch {
		case err != nil:
			log.Printf("[scheduler] %s: acquire lease: %v; running without it", job.Name, err)
		case !ok:
			return false
		default:
			defer release()
		}
	}

	start := time.Now()
	if err := job.Run(ctx); err != nil && ctx.Err() == nil {
		log.Printf("[scheduler] %s failed after %s: %v", job.Name, time.Since(start), err)
	}
	return true
}
