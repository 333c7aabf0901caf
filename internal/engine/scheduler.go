// SPDX-License-Identifier: MIT
package engine

import (
	"sync"
	"time"
)

// Tick is one analysis beat.
type Tick struct {
	Time time.Time
	done chan struct{} // closed by the engine once the tick is processed
}

// Scheduler paces the analysis loop. Start and Stop are called by the
// engine only, never concurrently with each other.
type Scheduler interface {
	// Start begins ticking and returns the channel ticks arrive on.
	Start() <-chan Tick
	// Stop ends ticking. No tick is produced after Stop returns.
	Stop()
}

// ticker forwards a time source into a Tick channel until stopped. Ticks
// are dropped while the engine is busy, the same way time.Ticker drops.
type ticker struct {
	mu   sync.Mutex
	stop chan struct{}
	wg   sync.WaitGroup
}

func (t *ticker) run(src <-chan time.Time, release func()) <-chan Tick {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		close(t.stop)
		t.wg.Wait()
	}
	out := make(chan Tick, 1)
	stop := make(chan struct{})
	t.stop = stop
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if release != nil {
			defer release()
		}
		for {
			select {
			case <-stop:
				return
			case now, ok := <-src:
				if !ok {
					return
				}
				select {
				case out <- Tick{Time: now}:
				default:
				}
			}
		}
	}()
	return out
}

func (t *ticker) halt() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop == nil {
		return
	}
	close(t.stop)
	t.stop = nil
	t.wg.Wait()
}

// IntervalScheduler ticks at a fixed period.
type IntervalScheduler struct {
	Interval time.Duration
	t        ticker
}

func NewIntervalScheduler(interval time.Duration) *IntervalScheduler {
	return &IntervalScheduler{Interval: interval}
}

func (s *IntervalScheduler) Start() <-chan Tick {
	tk := time.NewTicker(s.Interval)
	return s.t.run(tk.C, tk.Stop)
}

func (s *IntervalScheduler) Stop() { s.t.halt() }

// RefreshScheduler follows a display frame clock. Frames, when set, is an
// external vsync-like signal; otherwise a ticker at Rate frames per second
// stands in for it.
type RefreshScheduler struct {
	Rate   float64
	Frames <-chan time.Time
	t      ticker
}

func NewRefreshScheduler(rate float64, frames <-chan time.Time) *RefreshScheduler {
	return &RefreshScheduler{Rate: rate, Frames: frames}
}

func (s *RefreshScheduler) Start() <-chan Tick {
	if s.Frames != nil {
		return s.t.run(s.Frames, nil)
	}
	tk := time.NewTicker(time.Duration(float64(time.Second) / s.Rate))
	return s.t.run(tk.C, tk.Stop)
}

func (s *RefreshScheduler) Stop() { s.t.halt() }

// ManualScheduler ticks only when Tick is called. It serves offline
// rendering and tests.
type ManualScheduler struct {
	mu   sync.Mutex
	c    chan Tick
	stop chan struct{}
}

func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

func (s *ManualScheduler) Start() <-chan Tick {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		close(s.stop)
	}
	s.c = make(chan Tick)
	s.stop = make(chan struct{})
	return s.c
}

func (s *ManualScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}

// Tick delivers one tick and blocks until the engine has emitted its frame.
// It reports false when analysis is not running.
func (s *ManualScheduler) Tick() bool {
	s.mu.Lock()
	c, stop := s.c, s.stop
	s.mu.Unlock()
	if stop == nil {
		return false
	}

	done := make(chan struct{})
	select {
	case c <- Tick{Time: time.Now(), done: done}:
	case <-stop:
		return false
	}
	<-done
	return true
}

var (
	_ Scheduler = (*IntervalScheduler)(nil)
	_ Scheduler = (*RefreshScheduler)(nil)
	_ Scheduler = (*ManualScheduler)(nil)
)
