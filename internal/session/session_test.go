package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/signbridge/signbridge/internal/capture"
	"github.com/signbridge/signbridge/internal/connection"
)

type fakeTransport struct {
	mu         sync.Mutex
	connectErr error
	connected  bool
	sent       [][]byte
	closed     int
	events     chan connection.Event
	onConnect  func(f *fakeTransport)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan connection.Event)}
}

func (f *fakeTransport) Connect(_ context.Context) error {
	f.mu.Lock()
	if f.connectErr != nil {
		f.mu.Unlock()
		return f.connectErr
	}
	f.connected = true
	hook := f.onConnect
	f.mu.Unlock()

	if hook != nil {
		hook(f)
	}
	return nil
}

func (f *fakeTransport) Send(payload []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return false
	}
	f.sent = append(f.sent, payload)
	return true
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.closed++
	return nil
}

func (f *fakeTransport) Events() <-chan connection.Event { return f.events }
func (f *fakeTransport) Reconnects() int64               { return 0 }

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeTransport) closedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// flush returns once every previously sent event has been handled. The
// channel is unbuffered and the session consumes events serially.
func (f *fakeTransport) flush() {
	f.events <- connection.Event{}
}

func (f *fakeTransport) drop() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	f.events <- connection.Event{Kind: connection.EventDropped}
}

func (f *fakeTransport) message(payload string) {
	f.events <- connection.Event{Kind: connection.EventMessage, Payload: []byte(payload), ReceivedAt: time.Now()}
}

type fakeSource struct{}

func (fakeSource) CaptureFrame() (capture.Frame, error) {
	return capture.Frame{Data: []byte("jpeg-bytes"), ContentType: "image/jpeg"}, nil
}

func testConfig() Config {
	return Config{ID: "test", CaptureInterval: 5 * time.Millisecond, SendDataURL: true, HistorySize: 10}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartRecognitionFromDisconnected(t *testing.T) {
	tr := newFakeTransport()
	s := New(tr, fakeSource{}, testConfig())

	err := s.StartRecognition(t.Context())
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	if got := s.Snapshot().State; got != StateDisconnected {
		t.Errorf("state = %q, want disconnected", got)
	}

	time.Sleep(20 * time.Millisecond)
	if tr.sentCount() != 0 {
		t.Error("frames sent after rejected start")
	}
}

func TestInvalidTransitions(t *testing.T) {
	tr := newFakeTransport()
	s := New(tr, fakeSource{}, testConfig())
	defer s.Close(t.Context())

	if err := s.StopRecognition(t.Context()); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("stop from disconnected: err = %v", err)
	}
	if err := s.Connect(t.Context()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := s.Connect(t.Context()); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("connect while connected: err = %v", err)
	}
}

// Scenario: frames are streamed and two responses in different shapes
// become two history entries in receipt order.
func TestRecognitionAppendsPredictionsInOrder(t *testing.T) {
	tr := newFakeTransport()
	s := New(tr, fakeSource{}, testConfig())
	defer s.Close(t.Context())

	if err := s.Connect(t.Context()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := s.StartRecognition(t.Context()); err != nil {
		t.Fatalf("StartRecognition: %v", err)
	}
	waitFor(t, "three frames", func() bool { return tr.sentCount() >= 3 })

	tr.message(`{"prediction":"HELLO","confidence":0.92}`)
	tr.message(`{"current_word":"THANKS","confidence":87}`)
	waitFor(t, "two predictions", func() bool { return len(s.Snapshot().Predictions) == 2 })

	snap := s.Snapshot()
	if snap.State != StateRecognizing {
		t.Errorf("state = %q, want recognizing", snap.State)
	}
	first, second := snap.Predictions[0], snap.Predictions[1]
	if first.Label != "HELLO" || first.Confidence != 0.92 {
		t.Errorf("first = %+v", first)
	}
	if second.Label != "THANKS" || second.Confidence != 0.87 {
		t.Errorf("second = %+v", second)
	}
	if snap.Latest == nil || snap.Latest.Label != "THANKS" {
		t.Errorf("latest = %+v", snap.Latest)
	}

	tr.mu.Lock()
	frame := string(tr.sent[0])
	tr.mu.Unlock()
	if !strings.HasPrefix(frame, "data:image/jpeg;base64,") {
		t.Errorf("frame = %q, want data URL", frame)
	}
}

func TestMessagesIgnoredOutsideRecognition(t *testing.T) {
	tr := newFakeTransport()
	s := New(tr, fakeSource{}, testConfig())
	defer s.Close(t.Context())

	if err := s.Connect(t.Context()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	tr.message(`{"prediction":"HELLO","confidence":0.9}`)
	tr.flush()

	if err := s.StartRecognition(t.Context()); err != nil {
		t.Fatalf("StartRecognition: %v", err)
	}
	tr.message(`not json`)
	tr.message(`{"confidence":0.4}`)
	tr.message(`{"prediction":"YES","confidence":0.8}`)
	waitFor(t, "one prediction", func() bool { return len(s.Snapshot().Predictions) == 1 })

	snap := s.Snapshot()
	if snap.Predictions[0].Label != "YES" {
		t.Errorf("prediction = %+v", snap.Predictions[0])
	}
	if snap.State != StateRecognizing {
		t.Errorf("malformed message changed state to %q", snap.State)
	}
}

type floorResolver struct{}

func (floorResolver) Resolve(label string, confidence float64) (string, bool) {
	return strings.ToLower(label), confidence >= 0.5
}

func TestResolverFiltersPredictions(t *testing.T) {
	tr := newFakeTransport()
	s := New(tr, fakeSource{}, testConfig(), WithResolver(floorResolver{}))
	defer s.Close(t.Context())

	if err := s.Connect(t.Context()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := s.StartRecognition(t.Context()); err != nil {
		t.Fatalf("StartRecognition: %v", err)
	}
	tr.message(`{"prediction":"MAYBE","confidence":0.2}`)
	tr.message(`{"prediction":"HELLO","confidence":0.9}`)
	waitFor(t, "one prediction", func() bool { return len(s.Snapshot().Predictions) == 1 })

	if got := s.Snapshot().Predictions[0].Label; got != "hello" {
		t.Errorf("label = %q, want hello", got)
	}
}

func TestStopRecognitionKeepsSocket(t *testing.T) {
	tr := newFakeTransport()
	s := New(tr, fakeSource{}, testConfig())
	defer s.Close(t.Context())

	if err := s.Connect(t.Context()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := s.StartRecognition(t.Context()); err != nil {
		t.Fatalf("StartRecognition: %v", err)
	}
	waitFor(t, "a frame", func() bool { return tr.sentCount() >= 1 })

	if err := s.StopRecognition(t.Context()); err != nil {
		t.Fatalf("StopRecognition: %v", err)
	}
	sent := tr.sentCount()
	time.Sleep(30 * time.Millisecond)
	if tr.sentCount() != sent {
		t.Error("frames sent after StopRecognition")
	}
	if got := s.Snapshot().State; got != StateConnected {
		t.Errorf("state = %q, want connected", got)
	}
	if tr.closedCount() != 0 {
		t.Error("StopRecognition closed the socket")
	}

	s.Disconnect(t.Context())
	if got := s.Snapshot().State; got != StateDisconnected {
		t.Errorf("state = %q, want disconnected", got)
	}
}

func TestConnectFailureIsError(t *testing.T) {
	tr := newFakeTransport()
	tr.connectErr = connection.ErrConnectionFailed
	s := New(tr, fakeSource{}, testConfig())
	defer s.Close(t.Context())

	if err := s.Connect(t.Context()); !errors.Is(err, connection.ErrConnectionFailed) {
		t.Fatalf("err = %v", err)
	}
	snap := s.Snapshot()
	if snap.State != StateError || snap.Error == "" {
		t.Errorf("snapshot = %q %q, want error with message", snap.State, snap.Error)
	}

	// Error state allows a fresh connect.
	tr.connectErr = nil
	if err := s.Connect(t.Context()); err != nil {
		t.Fatalf("reconnect from error: %v", err)
	}
}

func TestConnectFailedWhileOpening(t *testing.T) {
	tr := newFakeTransport()
	tr.onConnect = func(f *fakeTransport) {
		f.events <- connection.Event{Kind: connection.EventFailed, Err: connection.ErrConnectionLost}
		f.flush()
	}
	s := New(tr, fakeSource{}, testConfig())
	defer s.Close(t.Context())

	err := s.Connect(t.Context())
	if !errors.Is(err, connection.ErrConnectionLost) {
		t.Fatalf("Connect err = %v, want ErrConnectionLost", err)
	}
	if got := s.Snapshot().State; got != StateError {
		t.Errorf("state = %q, want %q", got, StateError)
	}
}

func TestDropAndReconnect(t *testing.T) {
	tr := newFakeTransport()
	s := New(tr, fakeSource{}, testConfig())
	defer s.Close(t.Context())

	if err := s.Connect(t.Context()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := s.StartRecognition(t.Context()); err != nil {
		t.Fatalf("StartRecognition: %v", err)
	}

	tr.drop()
	waitFor(t, "connecting", func() bool { return s.Snapshot().State == StateConnecting })

	tr.events <- connection.Event{Kind: connection.EventReconnecting, Attempt: 1}
	tr.events <- connection.Event{Kind: connection.EventOpened, Attempt: 1}
	waitFor(t, "connected", func() bool { return s.Snapshot().State == StateConnected })
}

func TestSubscribeReceivesSnapshots(t *testing.T) {
	tr := newFakeTransport()
	s := New(tr, fakeSource{}, testConfig())
	defer s.Close(t.Context())

	ch := s.Subscribe("ui", 8)
	if err := s.Connect(t.Context()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	var states []State
	for len(states) < 2 {
		select {
		case snap := <-ch:
			states = append(states, snap.State)
		case <-time.After(time.Second):
			t.Fatalf("received %v", states)
		}
	}
	if states[0] != StateConnecting || states[1] != StateConnected {
		t.Errorf("states = %v", states)
	}

	s.Unsubscribe("ui")
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Unsubscribe")
	}
}

func TestClearHistory(t *testing.T) {
	tr := newFakeTransport()
	s := New(tr, fakeSource{}, testConfig())
	defer s.Close(t.Context())

	if err := s.Connect(t.Context()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := s.StartRecognition(t.Context()); err != nil {
		t.Fatalf("StartRecognition: %v", err)
	}
	tr.message(`{"prediction":"HELLO","confidence":0.9}`)
	waitFor(t, "a prediction", func() bool { return len(s.Snapshot().Predictions) == 1 })

	if n := s.ClearHistory(t.Context()); n != 1 {
		t.Errorf("ClearHistory = %d, want 1", n)
	}
	if got := len(s.Snapshot().Predictions); got != 0 {
		t.Errorf("predictions after clear = %d", got)
	}
}

// Scenario: the recognizer closes the socket while recognizing and refuses
// every reconnect. The session ends in error after at most three attempts
// with the scheduler stopped.
func TestUnexpectedCloseEndsInError(t *testing.T) {
	var (
		handshakes atomic.Int32
		upgrader   websocket.Upgrader
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handshakes.Add(1) > 1 {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for range 2 {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		conn.Close()
	}))
	defer srv.Close()

	mgr := connection.NewManager(connection.Config{
		URL:            "ws" + strings.TrimPrefix(srv.URL, "http"),
		MaxReconnects:  3,
		BackoffInitial: time.Millisecond,
		BackoffMax:     4 * time.Millisecond,
	})
	s := New(mgr, fakeSource{}, testConfig())
	defer s.Close(t.Context())

	if err := s.Connect(t.Context()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := s.StartRecognition(t.Context()); err != nil {
		t.Fatalf("StartRecognition: %v", err)
	}

	waitFor(t, "error state", func() bool { return s.Snapshot().State == StateError })

	snap := s.Snapshot()
	if snap.Error == "" {
		t.Error("error state without displayable message")
	}
	if got := handshakes.Load(); got > 4 {
		t.Errorf("handshakes = %d, want at most 1 + 3 reconnects", got)
	}
	if snap.Reconnects != 3 {
		t.Errorf("reconnects = %d, want 3", snap.Reconnects)
	}
	if s.sched.Running() {
		t.Error("scheduler still running after connection loss")
	}
}

func TestEncodeFrame(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		dataURL     bool
		want        string
	}{
		{name: "raw base64", dataURL: false, want: "AQID"},
		{name: "data url", contentType: "image/jpeg", dataURL: true, want: "data:image/jpeg;base64,AQID"},
		{name: "data url default type", dataURL: true, want: "data:image/jpeg;base64,AQID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(encodeFrame([]byte{1, 2, 3}, tt.contentType, tt.dataURL)); got != tt.want {
				t.Errorf("encodeFrame = %q, want %q", got, tt.want)
			}
		})
	}
}
