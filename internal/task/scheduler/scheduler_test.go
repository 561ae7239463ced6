package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	logx "surveybot/pkg/logx"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in      string
		kind    SpecKind
		every   time.Duration
		cron    string
		wantErr bool
	}{
		{in: "*/15 * * * *", kind: SpecCron, cron: "*/15 * * * *"},
		{in: "@hourly", kind: SpecCron, cron: "@hourly"},
		{in: "cron:0 9 * * 1", kind: SpecCron, cron: "0 9 * * 1"},
		{in: "15m", kind: SpecInterval, every: 15 * time.Minute},
		{in: "00:15", kind: SpecInterval, every: 15 * time.Minute},
		{in: "every:02:30", kind: SpecInterval, every: 150 * time.Minute},
		{in: "interval:1h", kind: SpecInterval, every: time.Hour},
		{in: "00:00", wantErr: true},
		{in: "01:75", wantErr: true},
		{in: "-5m", wantErr: true},
		{in: "soon", wantErr: true},
		{in: "", wantErr: true},
		{in: "cron:", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseSchedule(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error, got %+v", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: %v", tc.in, err)
		}
		if got.Kind != tc.kind || got.Every != tc.every || got.Cron != tc.cron {
			t.Fatalf("%q: got %+v", tc.in, got)
		}
	}
}

func TestAddOnceRunsJob(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := New(Config{}, logx.Nop())
	s.Start(context.Background())

	done := make(chan struct{})
	if err := s.AddOnce("kick", time.Now().Add(10*time.Millisecond), time.Second, func(ctx context.Context) error {
		close(done)
		return nil
	}); err != nil {
		t.Fatalf("AddOnce: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	snap := s.Snapshot()
	if len(snap.History) != 1 || snap.History[0].Name != "kick" || len(snap.Once) != 0 {
		t.Fatalf("snapshot=%+v", snap)
	}
}

func TestRemoveCancelsOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := New(Config{}, logx.Nop())
	s.Start(context.Background())
	var ran atomic.Bool
	_ = s.AddOnce("later", time.Now().Add(50*time.Millisecond), time.Second, func(context.Context) error {
		ran.Store(true)
		return nil
	})
	if !s.Remove("later") {
		t.Fatal("Remove reported nothing removed")
	}
	time.Sleep(100 * time.Millisecond)
	if ran.Load() {
		t.Fatal("removed job ran")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = s.Stop(ctx)
}

func TestDispatchSkipsOverlap(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := New(Config{}, logx.Nop())
	s.Start(context.Background())

	release := make(chan struct{})
	var runs atomic.Int32
	job := func(ctx context.Context) error {
		runs.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}
	st := &runState{}
	s.dispatch("sweep", time.Second, job, TaskOptions{}, st)
	// Wait until the first run holds the state.
	deadline := time.Now().Add(time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	s.dispatch("sweep", time.Second, job, TaskOptions{}, st)
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if runs.Load() != 1 {
		t.Fatalf("runs=%d want 1", runs.Load())
	}
	if snap := s.Snapshot(); snap.Skipped != 1 {
		t.Fatalf("skipped=%d want 1", snap.Skipped)
	}
}

func TestJobTimeoutAndFailureRecorded(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := New(Config{}, logx.Nop())
	s.Start(context.Background())
	done := make(chan struct{})
	_ = s.AddOnce("slow", time.Now(), 20*time.Millisecond, func(ctx context.Context) error {
		defer close(done)
		<-ctx.Done()
		return ctx.Err()
	})
	<-done
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = s.Stop(ctx)

	h := s.Snapshot().History
	if len(h) != 1 || h[0].Error != context.DeadlineExceeded.Error() {
		t.Fatalf("history=%+v", h)
	}
}

func TestRegisterUpsertsByName(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := New(Config{Timezone: "UTC"}, logx.Nop())
	noop := func(context.Context) error { return nil }
	if err := s.AddSchedule("sweep", "15m", time.Second, noop); err != nil {
		t.Fatalf("AddSchedule: %v", err)
	}
	s.Start(context.Background())
	if err := s.AddSchedule("sweep", "*/5 * * * *", time.Second, noop); err != nil {
		t.Fatalf("AddSchedule again: %v", err)
	}
	if err := s.AddCron("bad", "not a cron", time.Second, noop); err == nil {
		t.Fatal("expected cron parse error")
	}

	snap := s.Snapshot()
	if len(snap.Schedules) != 1 || snap.Schedules[0].Spec != "*/5 * * * *" || snap.Schedules[0].Next.IsZero() {
		t.Fatalf("schedules=%+v", snap.Schedules)
	}
	if snap.Timezone != "UTC" || !snap.Running {
		t.Fatalf("snapshot=%+v", snap)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Stop: %v", err)
	}
}
