// Package connection owns the duplex websocket to the remote recognizer.
// Payloads are delivered verbatim; interpretation is left to the caller.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

var (
	ErrConnectionFailed = errors.New("connection failed")
	ErrConnectionLost   = errors.New("connection lost")
)

// State is the manager's view of the socket.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// EventKind identifies a connection event.
type EventKind int

const (
	// EventMessage carries one inbound payload.
	EventMessage EventKind = iota + 1
	// EventDropped reports an unexpected closure.
	EventDropped
	// EventReconnecting is emitted before each reconnect attempt.
	EventReconnecting
	// EventOpened reports a successful reconnect.
	EventOpened
	// EventFailed reports that reconnect attempts are exhausted.
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventMessage:
		return "message"
	case EventDropped:
		return "dropped"
	case EventReconnecting:
		return "reconnecting"
	case EventOpened:
		return "opened"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is delivered on Manager.Events in the order it occurred.
type Event struct {
	Kind       EventKind
	Payload    []byte
	Attempt    int
	Err        error
	ReceivedAt time.Time
}

// Config controls dialing, keepalive and reconnect.
type Config struct {
	URL    string
	Header http.Header

	MaxReconnects  int
	BackoffInitial time.Duration
	BackoffMax     time.Duration

	// PingInterval of zero disables keepalive pings and read deadlines.
	PingInterval time.Duration
	WriteTimeout time.Duration
	DialTimeout  time.Duration

	EventBuffer int
	Dialer      *websocket.Dialer
}

// Manager dials the recognizer and keeps the socket alive with a bounded
// number of reconnects after unexpected closure. Close never reconnects.
type Manager struct {
	cfg    Config
	dialer *websocket.Dialer
	events chan Event

	mu     sync.Mutex
	state  State
	conn   *websocket.Conn
	cancel context.CancelFunc
	gen    uint64

	writeMu    sync.Mutex
	reconnects atomic.Int64
	wg         sync.WaitGroup
}

// NewManager creates a disconnected manager.
func NewManager(cfg Config) *Manager {
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 500 * time.Millisecond
	}
	if cfg.BackoffMax < cfg.BackoffInitial {
		cfg.BackoffMax = cfg.BackoffInitial
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &Manager{
		cfg:    cfg,
		dialer: dialer,
		events: make(chan Event, cfg.EventBuffer),
		state:  StateDisconnected,
	}
}

// Events returns the channel on which connection events are delivered.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Reconnects returns the total number of reconnect attempts made.
func (m *Manager) Reconnects() int64 {
	return m.reconnects.Load()
}

// Connect dials the recognizer and returns once the socket is open.
// Calling Connect while connecting or connected is a no-op.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateConnected || m.state == StateConnecting {
		m.mu.Unlock()
		return nil
	}
	m.gen++
	gen := m.gen
	m.state = StateConnecting
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	m.mu.Unlock()

	conn, err := m.dial(ctx)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		cancel()
		if conn != nil {
			conn.Close()
		}
		return fmt.Errorf("%w: closed while dialing", ErrConnectionFailed)
	}
	if err != nil {
		m.state = StateError
		m.cancel = nil
		m.mu.Unlock()
		cancel()
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	m.conn = conn
	m.state = StateConnected
	m.mu.Unlock()

	slog.InfoContext(ctx, "connection: opened", slog.String("url", m.cfg.URL))

	m.wg.Add(1)
	go m.supervise(runCtx, gen, conn)
	return nil
}

// Send writes payload as a text frame. It is a no-op returning false
// unless the socket is connected.
func (m *Manager) Send(payload []byte) bool {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected || conn == nil {
		return false
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		// The read pump observes the broken socket and starts reconnecting.
		conn.Close()
		return false
	}
	return true
}

// Close shuts the socket down without reconnecting. It is idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.gen++
	cancel, conn := m.cancel, m.conn
	m.cancel, m.conn = nil, nil
	m.state = StateDisconnected
	m.mu.Unlock()

	var err error
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(m.cfg.WriteTimeout))
		err = conn.Close()
	}
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	return err
}

func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	defer cancel()

	conn, resp, err := m.dialer.DialContext(ctx, m.cfg.URL, m.cfg.Header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, backoff.Permanent(fmt.Errorf("handshake rejected: %s", resp.Status))
		}
		return nil, err
	}
	return conn, nil
}

// supervise serves conn and, after an unexpected closure, runs the bounded
// reconnect loop.
func (m *Manager) supervise(ctx context.Context, gen uint64, conn *websocket.Conn) {
	defer m.wg.Done()

	for {
		err := m.serve(ctx, conn)
		if ctx.Err() != nil {
			return
		}

		slog.WarnContext(ctx, "connection: dropped", slog.String("error", errString(err)))
		if !m.setState(gen, StateConnecting, nil) {
			return
		}
		m.emit(ctx, Event{Kind: EventDropped, Err: err})

		next, attempt, err := m.reconnect(ctx)
		if ctx.Err() != nil {
			if next != nil {
				next.Close()
			}
			return
		}
		if err != nil {
			slog.ErrorContext(ctx, "connection: reconnect exhausted", slog.String("error", err.Error()))
			m.setState(gen, StateError, nil)
			m.emit(ctx, Event{Kind: EventFailed, Attempt: attempt, Err: fmt.Errorf("%w: %v", ErrConnectionLost, err)})
			return
		}
		if !m.setState(gen, StateConnected, next) {
			next.Close()
			return
		}
		slog.InfoContext(ctx, "connection: reconnected", slog.Int("attempt", attempt))
		m.emit(ctx, Event{Kind: EventOpened, Attempt: attempt})
		conn = next
	}
}

// serve runs the read and keepalive pumps until either fails or ctx ends.
func (m *Manager) serve(ctx context.Context, conn *websocket.Conn) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.readPump(gctx, conn) })
	g.Go(func() error { return m.pingPump(gctx, conn) })
	g.Go(func() error {
		<-gctx.Done()
		conn.Close()
		return nil
	})
	return g.Wait()
}

func (m *Manager) readPump(ctx context.Context, conn *websocket.Conn) error {
	if m.cfg.PingInterval > 0 {
		pongWait := 2 * m.cfg.PingInterval
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return fmt.Errorf("read: %w", err)
			}
			return err
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		m.emit(ctx, Event{Kind: EventMessage, Payload: payload})
	}
}

func (m *Manager) pingPump(ctx context.Context, conn *websocket.Conn) error {
	if m.cfg.PingInterval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(m.cfg.WriteTimeout)); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

func (m *Manager) reconnect(ctx context.Context) (*websocket.Conn, int, error) {
	if m.cfg.MaxReconnects <= 0 {
		return nil, 0, errors.New("reconnect disabled")
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.cfg.BackoffInitial
	b.MaxInterval = m.cfg.BackoffMax
	b.Multiplier = 2
	b.RandomizationFactor = 0

	timer := time.NewTimer(m.cfg.BackoffInitial)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	case <-timer.C:
	}

	attempt := 0
	conn, err := backoff.Retry(ctx, func() (*websocket.Conn, error) {
		attempt++
		m.reconnects.Add(1)
		m.emit(ctx, Event{Kind: EventReconnecting, Attempt: attempt})
		return m.dial(ctx)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(m.cfg.MaxReconnects)),
		backoff.WithMaxElapsedTime(0),
	)
	return conn, attempt, err
}

func (m *Manager) setState(gen uint64, state State, conn *websocket.Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return false
	}
	m.state = state
	m.conn = conn
	return true
}

// emit blocks until the event is consumed or ctx ends.
func (m *Manager) emit(ctx context.Context, ev Event) {
	ev.ReceivedAt = time.Now()
	select {
	case m.events <- ev:
	case <-ctx.Done():
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
