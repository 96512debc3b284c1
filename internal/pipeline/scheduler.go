package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/hpungsan/dayloom/internal/errors"
)

const defaultTickInterval = 60 * time.Second

// Scheduler fires Tick on the configured interval. The interval is re-read
// from config before each wait. Stop halts future firings; ticks already in
// flight run to completion (see Wait).
type Scheduler struct {
	p *Pipeline

	stopChan chan struct{}
	mu       sync.Mutex
	started  bool
	stopped  bool
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler for p.
func NewScheduler(p *Pipeline) *Scheduler {
	return &Scheduler{
		p:        p,
		stopChan: make(chan struct{}),
	}
}

// Start begins ticking immediately. A scheduler can be started once.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.NewConflict("scheduler already started")
	}
	s.started = true

	s.wg.Add(1)
	go s.loop()
	s.p.log.Info("scheduler started")
	return nil
}

// Stop halts the timer. It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.stopChan)
	s.p.log.Info("scheduler stopped")
}

// Wait blocks until the loop has exited and in-flight ticks have finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	s.fire()
	for {
		timer := time.NewTimer(s.interval())
		select {
		case <-s.stopChan:
			timer.Stop()
			return
		case <-timer.C:
			s.fire()
		}
	}
}

// fire runs a tick in its own goroutine so a slow tick never delays the
// timer; overlapping firings collapse in Tick's single-flight.
func (s *Scheduler) fire() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		res, err := s.p.Tick(context.Background())
		switch {
		case err != nil:
			s.p.log.Error("tick failed", "error", err)
		case res.Skipped:
			s.p.log.Debug("tick skipped; previous tick still running")
		case res.Drain != nil && res.Drain.Failed != nil:
			s.p.log.Warn("drain stopped on failed batch", "batch_id", res.Drain.Failed.BatchID)
		}
	}()
}

func (s *Scheduler) interval() time.Duration {
	cfg, err := s.p.cfg.Current()
	if err != nil {
		s.p.log.Warn("config unavailable; using default tick interval", "error", err)
		return defaultTickInterval
	}
	if d := cfg.TickInterval(); d > 0 {
		return d
	}
	return defaultTickInterval
}
