package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Task is one unit of recurring work.
type Task func(ctx context.Context)

type entry struct {
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// Scheduler runs keyed recurring tasks, one goroutine per key.
type Scheduler struct {
	tasks  map[string]*entry
	logger zerolog.Logger
	mu     sync.Mutex
	wg     sync.WaitGroup
}

// NewScheduler creates and returns a new Scheduler instance.
func NewScheduler(logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		tasks:  make(map[string]*entry),
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// Schedule starts task under id, running it immediately and then every
// interval until Cancel or ctx cancellation. It reports false without doing
// anything if id is already scheduled or interval is not positive.
func (s *Scheduler) Schedule(ctx context.Context, id string, interval time.Duration, task Task) bool {
	if interval <= 0 {
		s.logger.Warn().Str("task", id).Dur("interval", interval).Msg("Invalid interval, task not scheduled")
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[id]; exists {
		return false
	}

	taskCtx, cancel := context.WithCancel(ctx)
	e := &entry{interval: interval, cancel: cancel, done: make(chan struct{})}
	s.tasks[id] = e

	s.logger.Info().Str("task", id).Dur("interval", interval).Msg("Starting recurring task")
	s.wg.Add(1)
	go s.run(taskCtx, id, e, task)
	return true
}

func (s *Scheduler) run(ctx context.Context, id string, e *entry, task Task) {
	defer s.wg.Done()
	defer close(e.done)
	defer s.forget(id, e)

	// Run immediately on start
	s.logger.Debug().Str("task", id).Msg("Running task for the first time")
	task(ctx)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			task(ctx)
		case <-ctx.Done():
			s.logger.Info().Str("task", id).Msg("Task received shutdown signal")
			return
		}
	}
}

// forget drops id only if it still maps to e, so a rescheduled task under the
// same id is left alone.
func (s *Scheduler) forget(id string, e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.tasks[id]; ok && cur == e {
		delete(s.tasks, id)
	}
}

// Cancel stops the task registered under id. It reports whether a task was
// running. An in-flight run is allowed to finish.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	e, exists := s.tasks[id]
	if exists {
		delete(s.tasks, id)
	}
	s.mu.Unlock()

	if !exists {
		return false
	}
	e.cancel()
	s.logger.Info().Str("task", id).Msg("Recurring task cancelled")
	return true
}

// Running reports whether id has a live task.
func (s *Scheduler) Running(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[id]
	return ok
}

// Tasks returns the ids of all live tasks.
func (s *Scheduler) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	return ids
}

// Stop cancels every task and waits for their goroutines to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for id, e := range s.tasks {
		e.cancel()
		delete(s.tasks, id)
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info().Msg("Scheduler stopped")
}
