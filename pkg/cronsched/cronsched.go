// Package cronsched triggers schedule-mode workloads on cron expressions.
// It mirrors the source's ScheduleManager: a single ticking loop holding a
// set of named entries, each advanced to its next trigger time after
// firing, with concurrent-firing coalesced by skipping (not queueing) an
// overlapping trigger.
package cronsched

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cuemby/mctl/pkg/log"
)

// Callback is invoked when an entry's cron expression triggers. It is run
// synchronously on the scheduler's single background goroutine, matching
// the source's "invoke and await completion" semantics — a slow callback
// delays the next tick's scan but never the entries' own cadence (next_run
// is computed from the old next_run, not wall clock).
type Callback func(name string)

type entry struct {
	name     string
	schedule cron.Schedule
	callback Callback
	nextRun  time.Time
	running  bool
}

// Scheduler ticks once a second, firing any entry whose next_run has
// passed and is not already running.
type Scheduler struct {
	parser cron.Parser

	mu      sync.Mutex
	entries map[string]*entry

	stopCh chan struct{}
	doneCh chan struct{}
}

// New returns a Scheduler using the standard five-field cron syntax.
func New() *Scheduler {
	return &Scheduler{
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		entries: make(map[string]*entry),
	}
}

// Add registers name with cronExpr, validating the expression and
// computing its first next_run from now. Re-adding an existing name
// replaces it.
func (s *Scheduler) Add(name, cronExpr string, callback Callback) error {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q for %q: %w", cronExpr, name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[name] = &entry{
		name:     name,
		schedule: schedule,
		callback: callback,
		nextRun:  schedule.Next(time.Now()),
	}
	return nil
}

// Remove deletes the named entry. Tolerant: removing an unknown name is a
// no-op.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, name)
}

// NextRun returns the named entry's next scheduled fire time.
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return time.Time{}, false
	}
	return e.nextRun, true
}

// Start begins the 1Hz tick loop in a background goroutine.
func (s *Scheduler) Start() {
	s.mu.Lock()
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	stopCh := s.stopCh
	doneCh := s.doneCh
	s.mu.Unlock()

	go s.run(stopCh, doneCh)
}

// Stop cancels the tick loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	stopCh := s.stopCh
	doneCh := s.doneCh
	s.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
}

func (s *Scheduler) run(stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick fires every due, non-running entry, coalescing missed triggers by
// advancing next_run until it is back in the future, firing at most once.
func (s *Scheduler) tick() {
	now := time.Now()

	s.mu.Lock()
	due := make([]*entry, 0)
	for _, e := range s.entries {
		if e.running {
			log.Logger.Warn().Str("entry", e.name).Msg("cron trigger skipped: previous invocation still running")
			continue
		}
		if !e.nextRun.After(now) {
			e.running = true
			due = append(due, e)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		s.fire(e, now)
	}
}

func (s *Scheduler) fire(e *entry, now time.Time) {
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Logger.Error().Interface("panic", r).Str("entry", e.name).Msg("cron callback panicked")
			}
		}()
		e.callback(e.name)
	}()

	s.mu.Lock()
	next := e.nextRun
	for !next.After(now) {
		next = e.schedule.Next(next)
	}
	e.nextRun = next
	e.running = false
	s.mu.Unlock()
}
