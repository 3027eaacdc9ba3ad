// Package trigger schedules one-shot and daily-recurring trigger fires.
//
// All trigger evaluation happens in a single fixed reference zone (UTC+9)
// regardless of the caller's zone, so displayed and actually fired times
// cannot drift apart.
package trigger

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidSchedule is returned when a one-shot trigger is armed for an
// instant that is not strictly in the future.
var ErrInvalidSchedule = errors.New("trigger: scheduled time must be in the future")

// ReferenceZone is the zone every trigger is evaluated in.
var ReferenceZone = time.FixedZone("UTC+9", 9*60*60)

// Scheduler arms and disarms triggers under string keys. Arming a key that
// already holds a trigger replaces it; at most one live trigger exists per
// key. Keys follow the "call-<id>" convention so the per-call uniqueness
// falls out of key uniqueness.
type Scheduler struct {
	mu sync.Mutex

	log *slog.Logger
	loc *time.Location

	c       *cron.Cron
	entries map[string]cron.EntryID
	timers  map[string]*time.Timer

	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewScheduler(log *slog.Logger) *Scheduler {
	return NewSchedulerIn(log, ReferenceZone)
}

// NewSchedulerIn builds a scheduler evaluating in loc. Exposed for tests;
// production callers use NewScheduler.
func NewSchedulerIn(log *slog.Logger, loc *time.Location) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	c := cron.New(cron.WithLocation(loc))
	c.Start()
	return &Scheduler{
		log:     log,
		loc:     loc,
		c:       c,
		entries: map[string]cron.EntryID{},
		timers:  map[string]*time.Timer{},
		clock:   time.Now,
	}
}

// ArmOnce schedules job to run exactly once at the given instant, replacing
// any trigger already armed under key.
func (s *Scheduler) ArmOnce(key string, at time.Time, job func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := at.Sub(s.clock())
	if d <= 0 {
		return ErrInvalidSchedule
	}

	s.disarmLocked(key)
	s.timers[key] = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, key)
		s.mu.Unlock()
		job()
	})
	return nil
}

// ArmDaily schedules job every day at the hour:minute of at, extracted in the
// reference zone. The date component of at is ignored. Replaces any trigger
// already armed under key.
func (s *Scheduler) ArmDaily(key string, at time.Time, job func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	local := at.In(s.loc)
	spec := fmt.Sprintf("%d %d * * *", local.Minute(), local.Hour())

	s.disarmLocked(key)
	id, err := s.c.AddFunc(spec, job)
	if err != nil {
		return fmt.Errorf("trigger: arm %q: %w", key, err)
	}
	s.entries[key] = id
	return nil
}

// ArmCron schedules job on a raw cron spec in the reference zone. Used by the
// periodic cleanup sweep.
func (s *Scheduler) ArmCron(key, spec string, job func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.disarmLocked(key)
	id, err := s.c.AddFunc(spec, job)
	if err != nil {
		return fmt.Errorf("trigger: arm %q: %w", key, err)
	}
	s.entries[key] = id
	return nil
}

// Disarm stops the trigger under key. Disarming an absent key is a no-op.
func (s *Scheduler) Disarm(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disarmLocked(key)
}

func (s *Scheduler) disarmLocked(key string) {
	if id, ok := s.entries[key]; ok {
		s.c.Remove(id)
		delete(s.entries, key)
	}
	if t, ok := s.timers[key]; ok {
		t.Stop()
		delete(s.timers, key)
	}
}

// Armed reports whether a trigger is live under key.
func (s *Scheduler) Armed(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, cronOK := s.entries[key]
	_, timerOK := s.timers[key]
	return cronOK || timerOK
}

// Stop halts the underlying cron runner and all one-shot timers. In-flight
// jobs are allowed to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.entries {
		s.c.Remove(s.entries[key])
		delete(s.entries, key)
	}
	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
	s.c.Stop()
}

// Key returns the trigger key for a call identifier.
func Key(id string) string { return "call-" + id }
