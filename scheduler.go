package partstore

import (
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// Scheduler runs tasks on behalf of maintenance operations such as Compress
// and RebuildIndex. Implementations may run tasks concurrently.
type Scheduler interface {
	// Go schedules a task.
	Go(task func() error)
	// Wait waits for all tasks and returns their combined error.
	Wait() error
}

// NewGroupScheduler returns a Scheduler that runs at most limit tasks at a
// time. Unlike a plain errgroup, a failing task does not hide failures of
// other tasks; all errors are returned.
func NewGroupScheduler(limit int) Scheduler {
	s := &groupScheduler{}
	if limit > 0 {
		s.g.SetLimit(limit)
	}
	return s
}

type groupScheduler struct {
	g errgroup.Group

	mu   sync.Mutex
	errs *multierror.Error
}

func (s *groupScheduler) Go(task func() error) {
	s.g.Go(func() error {
		if err := task(); err != nil {
			s.mu.Lock()
			s.errs = multierror.Append(s.errs, err)
			s.mu.Unlock()
		}
		return nil
	})
}

func (s *groupScheduler) Wait() error {
	_ = s.g.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errs.ErrorOrNil()
}

// SequentialScheduler runs tasks in the calling goroutine.
func SequentialScheduler(int) Scheduler { return &sequentialScheduler{} }

type sequentialScheduler struct{ errs *multierror.Error }

func (s *sequentialScheduler) Go(task func() error) {
	if err := task(); err != nil {
		s.errs = multierror.Append(s.errs, err)
	}
}

func (s *sequentialScheduler) Wait() error { return s.errs.ErrorOrNil() }
