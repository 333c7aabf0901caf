// SPDX-License-Identifier: MIT
package engine

import (
	"testing"
	"time"
)

func TestIntervalSchedulerTicks(t *testing.T) {
	s := NewIntervalScheduler(2 * time.Millisecond)
	ticks := s.Start()
	defer s.Stop()

	for i := range 3 {
		select {
		case <-ticks:
		case <-time.After(time.Second):
			t.Fatalf("tick %d never arrived", i)
		}
	}
}

func TestIntervalSchedulerRestart(t *testing.T) {
	s := NewIntervalScheduler(time.Millisecond)
	s.Start()
	s.Stop()
	s.Stop()

	ticks := s.Start()
	defer s.Stop()
	select {
	case <-ticks:
	case <-time.After(time.Second):
		t.Fatal("no tick after restart")
	}
}

func TestRefreshSchedulerFollowsFrameSignal(t *testing.T) {
	frames := make(chan time.Time)
	s := NewRefreshScheduler(60, frames)
	ticks := s.Start()
	defer s.Stop()

	at := time.Unix(42, 0)
	frames <- at
	select {
	case tk := <-ticks:
		if !tk.Time.Equal(at) {
			t.Errorf("tick time = %v, want %v", tk.Time, at)
		}
	case <-time.After(time.Second):
		t.Fatal("frame signal not forwarded")
	}
}

func TestRefreshSchedulerOwnClock(t *testing.T) {
	s := NewRefreshScheduler(500, nil)
	ticks := s.Start()
	defer s.Stop()
	select {
	case <-ticks:
	case <-time.After(time.Second):
		t.Fatal("no tick from built-in refresh clock")
	}
}

func TestManualSchedulerNotRunning(t *testing.T) {
	s := NewManualScheduler()
	if s.Tick() {
		t.Error("Tick succeeded before Start")
	}
	s.Start()
	s.Stop()
	if s.Tick() {
		t.Error("Tick succeeded after Stop")
	}
}

func TestManualSchedulerWaitsForAck(t *testing.T) {
	s := NewManualScheduler()
	ticks := s.Start()
	defer s.Stop()

	processed := make(chan struct{})
	go func() {
		tk := <-ticks
		close(processed)
		close(tk.done)
	}()
	if !s.Tick() {
		t.Fatal("Tick failed while running")
	}
	select {
	case <-processed:
	default:
		t.Error("Tick returned before the tick was handled")
	}
}

func TestParseCadence(t *testing.T) {
	for _, name := range []string{"interval", "refresh", "manual"} {
		if c, err := ParseCadence(name); err != nil || string(c) != name {
			t.Errorf("ParseCadence(%q) = %q, %v", name, c, err)
		}
	}
	if _, err := ParseCadence("raf"); err == nil {
		t.Error("unknown cadence accepted")
	}
}
