package pricesync

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrSchedulerClosed is returned when scheduling on a closed Scheduler.
var ErrSchedulerClosed = errors.New("scheduler is closed")

// Scheduler owns named recurring jobs. Each job runs in its own goroutine and its
// callbacks never overlap with each other.
type Scheduler struct {
	mu     sync.Mutex
	jobs   map[string]*job
	wg     sync.WaitGroup
	closed bool
	logger *zap.Logger
}

type job struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{jobs: make(map[string]*job), logger: logger}
}

// Every runs fn each interval under name, replacing a job with the same name. When
// immediate is set, fn also runs once right away. fn receives a context that is
// cancelled when the job is stopped.
func (s *Scheduler) Every(name string, interval time.Duration, immediate bool, fn func(ctx context.Context)) error {
	if interval <= 0 {
		return errors.Errorf("job %s: interval must be positive", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSchedulerClosed
	}
	if prev, ok := s.jobs[name]; ok {
		prev.cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &job{cancel: cancel, done: make(chan struct{})}
	s.jobs[name] = j

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(j.done)

		if immediate {
			fn(ctx)
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if ctx.Err() != nil {
					return
				}
				fn(ctx)
			}
		}
	}()

	s.logger.Debug("job scheduled", zap.String("job", name), zap.Duration("interval", interval), zap.Bool("immediate", immediate))
	return nil
}

// Stop cancels the named job without waiting for a running callback. It reports
// whether the job existed.
func (s *Scheduler) Stop(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[name]
	if !ok {
		return false
	}
	j.cancel()
	delete(s.jobs, name)

	s.logger.Debug("job stopped", zap.String("job", name))
	return true
}

// Active lists the scheduled job names in sorted order.
func (s *Scheduler) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close stops every job and waits for running callbacks to return.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for name, j := range s.jobs {
		j.cancel()
		delete(s.jobs, name)
	}
	s.mu.Unlock()

	s.wg.Wait()
}
