// Package scheduler samples frames at a fixed cadence and hands them to a
// sink with at most one send in flight.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/signbridge/signbridge/internal/capture"
)

// FrameGrabber produces the next frame to send.
type FrameGrabber interface {
	CaptureFrame() (capture.Frame, error)
}

// Sink delivers one frame. It runs on its own goroutine.
type Sink func(ctx context.Context, frame capture.Frame) error

// Stats counts scheduler activity since creation.
type Stats struct {
	Ticks   uint64 `json:"ticks"`
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
}

// Scheduler fires the sink once per interval. A tick that arrives while the
// previous send is still running is dropped.
type Scheduler struct {
	interval time.Duration
	grabber  FrameGrabber
	sink     Sink

	mu       sync.Mutex
	cancel   context.CancelFunc
	loopDone chan struct{}

	inFlight atomic.Bool
	sends    sync.WaitGroup

	ticks   atomic.Uint64
	sent    atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// New creates a stopped scheduler.
func New(interval time.Duration, grabber FrameGrabber, sink Sink) *Scheduler {
	if interval <= 0 {
		interval = 150 * time.Millisecond
	}
	return &Scheduler{
		interval: interval,
		grabber:  grabber,
		sink:     sink,
	}
}

// Start begins ticking. Starting a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.loopDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				if loopCtx.Err() != nil {
					return
				}
				s.tick(loopCtx)
			}
		}
	}()
}

func (s *Scheduler) tick(ctx context.Context) {
	s.ticks.Add(1)

	if !s.inFlight.CompareAndSwap(false, true) {
		s.dropped.Add(1)
		return
	}

	s.sends.Add(1)
	go func() {
		defer s.sends.Done()
		defer s.inFlight.Store(false)

		frame, err := s.grabber.CaptureFrame()
		if err != nil {
			s.failed.Add(1)
			slog.DebugContext(ctx, "scheduler: capture failed", slog.String("error", err.Error()))
			return
		}
		if err := s.sink(ctx, frame); err != nil {
			s.failed.Add(1)
			slog.DebugContext(ctx, "scheduler: send failed", slog.String("error", err.Error()))
			return
		}
		s.sent.Add(1)
	}()
}

// Stop halts the scheduler and waits for the in-flight send to return. No
// tick fires after Stop returns. Stop is idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.loopDone
	s.cancel, s.loopDone = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.sends.Wait()
}

// Running reports whether the scheduler is ticking.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Stats returns the current counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Ticks:   s.ticks.Load(),
		Sent:    s.sent.Load(),
		Dropped: s.dropped.Load(),
		Failed:  s.failed.Load(),
	}
}
