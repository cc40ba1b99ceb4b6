package session

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/signbridge/signbridge/internal/connection"
	"github.com/signbridge/signbridge/pkg/events"
	"github.com/signbridge/signbridge/pkg/recognition"
)

// ensureLoop starts the goroutine that consumes transport events in
// receipt order.
func (s *Session) ensureLoop(ctx context.Context) {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()

	if s.loopCancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	s.loopCancel = cancel
	s.loopDone = done

	go func() {
		defer close(done)
		for {
			select {
			case <-loopCtx.Done():
				return
			case ev := <-s.transport.Events():
				s.handle(loopCtx, ev)
			}
		}
	}()
}

func (s *Session) handle(ctx context.Context, ev connection.Event) {
	switch ev.Kind {
	case connection.EventMessage:
		s.handleMessage(ctx, ev)
	case connection.EventDropped:
		s.mu.Lock()
		if s.state == StateConnected || s.state == StateRecognizing {
			s.sched.Stop()
			s.setLocked(ctx, StateConnecting, "", "connection dropped")
		}
		s.mu.Unlock()
	case connection.EventReconnecting:
		slog.InfoContext(ctx, "session: reconnecting",
			slog.String("session_id", s.id), slog.Int("attempt", ev.Attempt))
		s.mu.Lock()
		if s.state == StateConnecting {
			s.broadcast(s.snapshotLocked())
		}
		s.mu.Unlock()
	case connection.EventOpened:
		s.mu.Lock()
		if s.state == StateConnecting {
			s.setLocked(ctx, StateConnected, "", "reconnected after "+strconv.Itoa(ev.Attempt)+" attempt(s)")
		}
		s.mu.Unlock()
	case connection.EventFailed:
		s.mu.Lock()
		if s.state != StateDisconnected && s.state != StateError {
			s.sched.Stop()
			reason := "reconnect exhausted"
			if ev.Err != nil {
				reason = ev.Err.Error()
			}
			s.setLocked(ctx, StateError, msgConnectionLost, reason)
		}
		s.mu.Unlock()
	}
}

func (s *Session) handleMessage(ctx context.Context, ev connection.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRecognizing {
		return
	}

	pred, ok, err := recognition.ParsePrediction(ev.Payload, ev.ReceivedAt)
	if err != nil {
		slog.WarnContext(ctx, "session: ignoring recognizer message",
			slog.String("session_id", s.id), slog.String("error", err.Error()))
		return
	}
	if !ok {
		return
	}

	if s.resolver != nil {
		text, accept := s.resolver.Resolve(pred.Label, pred.Confidence)
		if !accept {
			return
		}
		pred.Label = text
	}

	s.history.Append(pred)
	s.broadcast(s.snapshotLocked())

	if err := s.pub.Emit(ctx, events.PredictionReceived, s.id, events.PredictionData{
		Label:      pred.Label,
		Confidence: pred.Confidence,
		Timestamp:  pred.Timestamp,
	}); err != nil {
		slog.WarnContext(ctx, "session: emit prediction", slog.String("error", err.Error()))
	}
}
