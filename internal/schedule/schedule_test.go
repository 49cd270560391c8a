package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"solarbot/internal/config"
)

// memMarks is an in-memory Watermarker with the same monotonic contract
// as the durable store.
type memMarks struct {
	wm     time.Time
	ok     bool
	setErr error
}

func (m *memMarks) Watermark() (time.Time, bool) { return m.wm, m.ok }

func (m *memMarks) SetWatermark(t time.Time) error {
	if m.setErr != nil {
		return m.setErr
	}
	if m.ok && t.Before(m.wm) {
		return nil
	}
	m.wm, m.ok = t, true
	return nil
}

func alignedConfig(interval time.Duration) *config.Config {
	return &config.Config{
		SchedulePolicy:   config.PolicyAligned,
		ReminderInterval: interval,
		ScheduleLocation: time.UTC,
	}
}

func intervalConfig(interval time.Duration) *config.Config {
	return &config.Config{
		SchedulePolicy:   config.PolicyInterval,
		ReminderInterval: interval,
		ScheduleLocation: time.UTC,
	}
}

func countingPost(posts *int, err error) PostFunc {
	return func(ctx context.Context, slot time.Time) error {
		if err != nil {
			return err
		}
		*posts++
		return nil
	}
}

func TestDueAligned(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 17, 0, 0, time.UTC)
	slot1200 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	slot1230 := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)

	tests := []struct {
		name     string
		wm       time.Time
		hasWM    bool
		now      time.Time
		wantSlot time.Time
		wantDue  bool
	}{
		{"first ever run", time.Time{}, false, base, slot1200, true},
		{"slot already served", slot1200, true, base, time.Time{}, false},
		{"later within same slot", slot1200, true, base.Add(10 * time.Minute), time.Time{}, false},
		{"next slot boundary crossed", slot1200, true, slot1230.Add(time.Second), slot1230, true},
		{"stale watermark from yesterday", slot1200.Add(-24 * time.Hour), true, base, slot1200, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			marks := &memMarks{wm: tt.wm, ok: tt.hasWM}
			s := New(alignedConfig(30*time.Minute), marks, nil)

			slot, due := s.Due(tt.now)
			if due != tt.wantDue {
				t.Fatalf("Due(%v) = %v, want %v", tt.now, due, tt.wantDue)
			}
			if due && !slot.Equal(tt.wantSlot) {
				t.Errorf("Due slot = %v, want %v", slot, tt.wantSlot)
			}
		})
	}
}

func TestDueAlignedTimezone(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("loading location: %v", err)
	}
	cfg := &config.Config{
		SchedulePolicy:   config.PolicyAligned,
		ReminderInterval: 30 * time.Minute,
		ScheduleLocation: loc,
	}
	s := New(cfg, &memMarks{}, nil)

	// 16:47 UTC is 11:47 in New York; the slot starts at 11:30 local.
	now := time.Date(2026, 3, 1, 16, 47, 0, 0, time.UTC)
	slot, due := s.Due(now)
	if !due {
		t.Fatal("expected a due slot on first run")
	}
	want := time.Date(2026, 3, 1, 11, 30, 0, 0, loc)
	if !slot.Equal(want) {
		t.Errorf("slot = %v, want %v", slot, want)
	}
}

func TestDueInterval(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		wm      time.Time
		hasWM   bool
		now     time.Time
		wantDue bool
	}{
		{"first ever run", time.Time{}, false, base, true},
		{"too soon after fire", base, true, base.Add(10 * time.Minute), false},
		{"interval elapsed", base, true, base.Add(30 * time.Minute), true},
		{"well past interval", base, true, base.Add(3 * time.Hour), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			marks := &memMarks{wm: tt.wm, ok: tt.hasWM}
			s := New(intervalConfig(30*time.Minute), marks, nil)

			_, due := s.Due(tt.now)
			if due != tt.wantDue {
				t.Errorf("Due(%v) = %v, want %v", tt.now, due, tt.wantDue)
			}
		})
	}
}

func TestTickFiresOncePerSlot(t *testing.T) {
	marks := &memMarks{}
	posts := 0
	s := New(alignedConfig(30*time.Minute), marks, countingPost(&posts, nil))

	now := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		s.Tick(context.Background(), now.Add(time.Duration(i)*time.Minute))
	}

	if posts != 1 {
		t.Errorf("expected exactly 1 post across repeated ticks in one slot, got %d", posts)
	}
	wm, ok := marks.Watermark()
	if !ok {
		t.Fatal("watermark should be set after a fire")
	}
	want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if !wm.Equal(want) {
		t.Errorf("watermark = %v, want slot start %v", wm, want)
	}
}

func TestTickRetriesAfterPostFailure(t *testing.T) {
	marks := &memMarks{}
	posts := 0
	postErr := errors.New("gateway down")
	failing := true
	s := New(alignedConfig(30*time.Minute), marks, func(ctx context.Context, slot time.Time) error {
		if failing {
			return postErr
		}
		posts++
		return nil
	})

	now := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)

	if fired := s.Tick(context.Background(), now); fired {
		t.Error("Tick should report no fire when the post fails")
	}
	if _, ok := marks.Watermark(); ok {
		t.Fatal("watermark must not move on a failed post")
	}

	// The next tick picks the slot up again.
	failing = false
	if fired := s.Tick(context.Background(), now.Add(time.Minute)); !fired {
		t.Error("Tick should fire on the retry")
	}
	if posts != 1 {
		t.Errorf("posts = %d, want 1", posts)
	}
}

func TestRestartSafety(t *testing.T) {
	marks := &memMarks{}
	posts := 0
	now := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)

	s := New(alignedConfig(30*time.Minute), marks, countingPost(&posts, nil))
	if fired := s.Tick(context.Background(), now); !fired {
		t.Fatal("first tick should fire")
	}

	// Simulate a restart: a fresh scheduler sees the same persisted
	// watermark. Same slot, same or later time: no duplicate post.
	restarted := New(alignedConfig(30*time.Minute), marks, countingPost(&posts, nil))
	restarted.Tick(context.Background(), now.Add(2*time.Minute))
	restarted.Tick(context.Background(), now.Add(20*time.Minute))

	if posts != 1 {
		t.Errorf("posts after restart = %d, want 1", posts)
	}

	// The next slot fires exactly once.
	restarted.Tick(context.Background(), time.Date(2026, 3, 1, 12, 31, 0, 0, time.UTC))
	if posts != 2 {
		t.Errorf("posts after next slot = %d, want 2", posts)
	}
}

func TestTickIntervalPolicyPersistsFireTime(t *testing.T) {
	marks := &memMarks{}
	posts := 0
	s := New(intervalConfig(time.Hour), marks, countingPost(&posts, nil))

	now := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)
	if fired := s.Tick(context.Background(), now); !fired {
		t.Fatal("first tick should fire")
	}
	wm, ok := marks.Watermark()
	if !ok || !wm.Equal(now) {
		t.Errorf("watermark = %v,%v, want fire time %v", wm, ok, now)
	}

	s.Tick(context.Background(), now.Add(30*time.Minute))
	if posts != 1 {
		t.Errorf("posts before interval elapsed = %d, want 1", posts)
	}
	s.Tick(context.Background(), now.Add(time.Hour))
	if posts != 2 {
		t.Errorf("posts after interval elapsed = %d, want 2", posts)
	}
}
