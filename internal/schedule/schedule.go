// Package schedule decides when the next solar-panel reminder is owed and
// fires it exactly once per slot, surviving restarts via a persisted
// watermark.
package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"solarbot/internal/config"
)

// postTimeout bounds one reminder-posting attempt. A timed-out post is
// treated as failed and retried on the next tick.
const postTimeout = 15 * time.Second

// Watermarker persists the last-fired watermark across restarts.
type Watermarker interface {
	Watermark() (time.Time, bool)
	SetWatermark(time.Time) error
}

// PostFunc posts the reminder for the given slot and returns once the
// message is live (or the attempt failed).
type PostFunc func(ctx context.Context, slot time.Time) error

// Scheduler is a level-triggered two-state machine: idle until the clock
// crosses into an unserved slot, firing while a post is in flight. The
// check is evaluated on every tick against the persisted watermark rather
// than armed as a one-shot timer, so a crash, restart, or clock jump can
// neither double-fire a served slot nor skip an unserved one.
type Scheduler struct {
	policy   string
	interval time.Duration
	loc      *time.Location
	marks    Watermarker
	post     PostFunc

	mu     sync.Mutex
	firing bool
}

func New(cfg *config.Config, marks Watermarker, post PostFunc) *Scheduler {
	loc := cfg.ScheduleLocation
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		policy:   cfg.SchedulePolicy,
		interval: cfg.ReminderInterval,
		loc:      loc,
		marks:    marks,
		post:     post,
	}
}

// Due reports whether a reminder is owed at now, and for which slot. It
// is a pure read: evaluating it any number of times without a fire in
// between yields the same answer.
func (s *Scheduler) Due(now time.Time) (time.Time, bool) {
	wm, fired := s.marks.Watermark()

	switch s.policy {
	case config.PolicyInterval:
		if !fired || now.Sub(wm) >= s.interval {
			return now, true
		}
		return time.Time{}, false
	default: // config.PolicyAligned
		slot := s.slotStart(now)
		if !fired || wm.Before(slot) {
			return slot, true
		}
		return time.Time{}, false
	}
}

// slotStart truncates now to the start of its slot: slots are counted
// from local midnight in the configured zone, so a 30m interval yields
// :00/:30 boundaries.
func (s *Scheduler) slotStart(now time.Time) time.Time {
	local := now.In(s.loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
	return midnight.Add(local.Sub(midnight).Truncate(s.interval))
}

// Tick evaluates one scheduling tick. At most one post happens per call,
// and the watermark is persisted before Tick returns, closing the
// duplicate-fire window across a crash-restart. Returns true when a
// reminder was posted.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) bool {
	s.mu.Lock()
	if s.firing {
		s.mu.Unlock()
		return false
	}
	slot, due := s.Due(now)
	if !due {
		s.mu.Unlock()
		return false
	}
	s.firing = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.firing = false
		s.mu.Unlock()
	}()

	postCtx, cancel := context.WithTimeout(ctx, postTimeout)
	defer cancel()

	if err := s.post(postCtx, slot); err != nil {
		slog.Error("reminder post failed, will retry next tick", "slot", slot, "error", err)
		return false
	}

	if err := s.marks.SetWatermark(slot); err != nil {
		// The post went out but the watermark write failed; surface it
		// loudly since the next tick may now fire the same slot again.
		slog.Error("failed to persist schedule watermark", "slot", slot, "error", err)
		return true
	}

	slog.Info("reminder posted", "slot", slot)
	return true
}

// Run drives the scheduler from a ticker until ctx is cancelled. One
// tick is evaluated immediately so a process restarted mid-slot serves
// any backlog without waiting a full period.
func (s *Scheduler) Run(ctx context.Context, tickEvery time.Duration) {
	s.Tick(ctx, time.Now())

	ticker := time.NewTicker(tickEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case now := <-ticker.C:
			s.Tick(ctx, now)
		}
	}
}
