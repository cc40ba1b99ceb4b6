// Package session drives one live recognition session: it owns the socket
// connection, the frame scheduler and the prediction history, and exposes
// a single observable state.
package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/signbridge/signbridge/internal/capture"
	"github.com/signbridge/signbridge/internal/connection"
	"github.com/signbridge/signbridge/internal/history"
	"github.com/signbridge/signbridge/internal/scheduler"
	"github.com/signbridge/signbridge/pkg/events"
	"github.com/signbridge/signbridge/pkg/recognition"
)

// Transport is the duplex socket a session drives.
type Transport interface {
	Connect(ctx context.Context) error
	Send(payload []byte) bool
	Close() error
	Events() <-chan connection.Event
	Reconnects() int64
}

// Resolver maps a recognized label to display text and decides whether a
// prediction is confident enough to keep.
type Resolver interface {
	Resolve(label string, confidence float64) (string, bool)
}

var errNotConnected = errors.New("socket not connected")

// Displayable messages for terminal states.
const (
	msgConnectFailed  = "Unable to connect to the recognition service."
	msgConnectionLost = "Connection to the recognition service was lost."
)

// Config holds session settings.
type Config struct {
	ID              string
	CaptureInterval time.Duration
	SendDataURL     bool
	HistorySize     int
}

// Option configures optional collaborators.
type Option func(*Session)

// WithResolver filters and renames predictions through r.
func WithResolver(r Resolver) Option {
	return func(s *Session) { s.resolver = r }
}

// WithPublisher emits session events through p.
func WithPublisher(p *events.Publisher) Option {
	return func(s *Session) { s.pub = p }
}

// Snapshot is a copy of the session's observable state.
type Snapshot struct {
	ID              string                         `json:"id"`
	State           State                          `json:"state"`
	Error           string                         `json:"error,omitempty"`
	Latest          *recognition.PredictionResult  `json:"latest,omitempty"`
	Predictions     []recognition.PredictionResult `json:"predictions"`
	HistoryCapacity int                            `json:"history_capacity"`
	Scheduler       scheduler.Stats                `json:"scheduler"`
	Reconnects      int64                          `json:"reconnects"`
	UpdatedAt       time.Time                      `json:"updated_at"`
}

// Session is the recognition state machine.
type Session struct {
	id        string
	cfg       Config
	transport Transport
	history   *history.History
	sched     *scheduler.Scheduler
	resolver  Resolver
	pub       *events.Publisher

	mu        sync.Mutex
	state     State
	errMsg    string
	updatedAt time.Time

	subMu       sync.RWMutex
	subscribers map[string]chan Snapshot

	loopMu     sync.Mutex
	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

// New creates a disconnected session that streams frames from source over
// transport.
func New(transport Transport, source scheduler.FrameGrabber, cfg Config, opts ...Option) *Session {
	s := &Session{
		id:          cfg.ID,
		cfg:         cfg,
		transport:   transport,
		history:     history.New(cfg.HistorySize),
		state:       StateDisconnected,
		updatedAt:   time.Now().UTC(),
		subscribers: make(map[string]chan Snapshot),
	}
	s.sched = scheduler.New(cfg.CaptureInterval, source, s.sendFrame)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Connect opens the socket. Allowed from disconnected or error.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if err := checkTransition("connect", s.state); err != nil {
		s.mu.Unlock()
		return err
	}
	s.setLocked(ctx, StateConnecting, "", "connect requested")
	s.mu.Unlock()

	s.ensureLoop(ctx)

	err := s.transport.Connect(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConnecting {
		// Disconnected or failed while dialing.
		if err == nil && s.state == StateError {
			return fmt.Errorf("%w: socket failed while opening", connection.ErrConnectionLost)
		}
		return err
	}
	if err != nil {
		slog.WarnContext(ctx, "session: connect failed",
			slog.String("session_id", s.id), slog.String("error", err.Error()))
		s.setLocked(ctx, StateError, msgConnectFailed, err.Error())
		return err
	}
	s.setLocked(ctx, StateConnected, "", "socket open")
	return nil
}

// StartRecognition begins streaming frames. Allowed only while connected.
func (s *Session) StartRecognition(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := checkTransition("start", s.state); err != nil {
		return err
	}
	s.sched.Start(context.WithoutCancel(ctx))
	s.setLocked(ctx, StateRecognizing, "", "recognition started")
	return nil
}

// StopRecognition halts frame streaming and keeps the socket open.
func (s *Session) StopRecognition(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := checkTransition("stop", s.state); err != nil {
		return err
	}
	s.sched.Stop()
	s.setLocked(ctx, StateConnected, "", "recognition stopped")
	return nil
}

// Disconnect stops streaming and closes the socket from any state.
func (s *Session) Disconnect(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sched.Stop()
	if err := s.transport.Close(); err != nil {
		slog.DebugContext(ctx, "session: close socket", slog.String("error", err.Error()))
	}
	s.drainLocked()

	if s.state == StateDisconnected {
		return
	}
	s.setLocked(ctx, StateDisconnected, "", "disconnect requested")
}

// Close disconnects and stops the event loop.
func (s *Session) Close(ctx context.Context) {
	s.Disconnect(ctx)

	s.loopMu.Lock()
	cancel, done := s.loopCancel, s.loopDone
	s.loopCancel, s.loopDone = nil, nil
	s.loopMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Snapshot returns the current observable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// History returns the owned prediction history.
func (s *Session) History() *history.History {
	return s.history
}

// ClearHistory empties the prediction history.
func (s *Session) ClearHistory(ctx context.Context) int {
	s.mu.Lock()
	removed := s.history.Clear()
	s.updatedAt = time.Now().UTC()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.broadcast(snap)
	if err := s.pub.Emit(ctx, events.HistoryCleared, s.id, events.HistoryClearedData{Removed: removed}); err != nil {
		slog.WarnContext(ctx, "session: emit history cleared", slog.String("error", err.Error()))
	}
	return removed
}

// Subscribe returns a channel receiving a snapshot after every change.
// Slow subscribers miss snapshots rather than block the session.
func (s *Session) Subscribe(id string, bufSize int) <-chan Snapshot {
	if bufSize <= 0 {
		bufSize = 16
	}
	ch := make(chan Snapshot, bufSize)
	s.subMu.Lock()
	if old, ok := s.subscribers[id]; ok {
		close(old)
	}
	s.subscribers[id] = ch
	s.subMu.Unlock()
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (s *Session) Unsubscribe(id string) {
	s.subMu.Lock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subMu.Unlock()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:              s.id,
		State:           s.state,
		Error:           s.errMsg,
		Predictions:     s.history.Items(),
		HistoryCapacity: s.history.Cap(),
		Scheduler:       s.sched.Stats(),
		Reconnects:      s.transport.Reconnects(),
		UpdatedAt:       s.updatedAt,
	}
	if n := len(snap.Predictions); n > 0 {
		latest := snap.Predictions[n-1]
		snap.Latest = &latest
	}
	return snap
}

// setLocked moves to state and notifies observers. Must hold s.mu.
func (s *Session) setLocked(ctx context.Context, to State, errMsg, reason string) {
	from := s.state
	s.state = to
	s.errMsg = errMsg
	s.updatedAt = time.Now().UTC()

	slog.InfoContext(ctx, "session: state changed",
		slog.String("session_id", s.id),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.String("reason", reason),
	)

	s.broadcast(s.snapshotLocked())
	if err := s.pub.Emit(ctx, events.SessionState, s.id, events.SessionStateData{
		FromState: string(from),
		ToState:   string(to),
		Reason:    reason,
	}); err != nil {
		slog.WarnContext(ctx, "session: emit state", slog.String("error", err.Error()))
	}
}

func (s *Session) broadcast(snap Snapshot) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for id, ch := range s.subscribers {
		select {
		case ch <- snap:
		default:
			slog.Debug("session: snapshot dropped, subscriber full", slog.String("subscriber", id))
		}
	}
}

// sendFrame is the scheduler sink.
func (s *Session) sendFrame(_ context.Context, frame capture.Frame) error {
	if !s.transport.Send(encodeFrame(frame.Data, frame.ContentType, s.cfg.SendDataURL)) {
		return errNotConnected
	}
	return nil
}

func encodeFrame(data []byte, contentType string, dataURL bool) []byte {
	encoded := base64.StdEncoding.EncodeToString(data)
	if !dataURL {
		return []byte(encoded)
	}
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return []byte("data:" + contentType + ";base64," + encoded)
}

// drainLocked discards events queued by a socket that has been closed.
func (s *Session) drainLocked() {
	for {
		select {
		case <-s.transport.Events():
		default:
			return
		}
	}
}
