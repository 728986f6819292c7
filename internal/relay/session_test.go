package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/crosstalk/relay/domain"
	"github.com/crosstalk/relay/internal/metrics"
	"github.com/crosstalk/relay/internal/upstream"
)

// fakeUpstream is a scriptable in-process upstream session.
type fakeUpstream struct {
	events chan upstream.Event

	mu      sync.Mutex
	audio   [][]byte
	flushes int
	ends    int
	closed  bool
	sendErr error
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{events: make(chan upstream.Event, 64)}
}

func (f *fakeUpstream) Events() <-chan upstream.Event { return f.events }

func (f *fakeUpstream) SendAudio(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	f.audio = append(f.audio, buf)
	return nil
}

func (f *fakeUpstream) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
	return nil
}

func (f *fakeUpstream) End() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ends++
	return nil
}

func (f *fakeUpstream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

func (f *fakeUpstream) audioFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.audio))
	copy(out, f.audio)
	return out
}

type testRelay struct {
	server  *Server
	metrics *metrics.Metrics
	conn    *websocket.Conn
}

func setupRelay(t *testing.T, dial UpstreamDialer, queueCap int) *testRelay {
	t.Helper()

	m := metrics.New(prometheus.NewRegistry())
	server := NewServer(dial, 2*time.Second, queueCap, m, zap.NewNop())

	e := echo.New()
	e.GET("/ws", server.HandleWebSocket)
	ts := httptest.NewServer(e)
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("client dial failed: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		server.Shutdown()
	})

	return &testRelay{server: server, metrics: m, conn: conn}
}

func setupRelayWithFake(t *testing.T, fake *fakeUpstream, queueCap int) *testRelay {
	return setupRelay(t, func(ctx context.Context) (UpstreamStream, error) {
		return fake, nil
	}, queueCap)
}

func readEvent(t *testing.T, conn *websocket.Conn) domain.TranscriptEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read event failed: %v", err)
	}
	ev, err := domain.ParseTranscriptEvent(data)
	if err != nil {
		t.Fatalf("unparsable event %q: %v", data, err)
	}
	return ev
}

func waitCounter(t *testing.T, c prometheus.Counter, want float64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if testutil.ToFloat64(c) >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("counter never reached %v, at %v", want, testutil.ToFloat64(c))
}

func waitAudioFrames(t *testing.T, fake *fakeUpstream, want int) [][]byte {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if frames := fake.audioFrames(); len(frames) >= want {
			return frames
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("upstream never received %d frames, got %d", want, len(fake.audioFrames()))
	return nil
}

func TestQueuedAudioFlushesInOrder(t *testing.T) {
	fake := newFakeUpstream()
	r := setupRelayWithFake(t, fake, 16)

	// Three frames arrive while the upstream handshake is still pending.
	for i := 0; i < 3; i++ {
		frame := []byte(fmt.Sprintf("frame-%d", i))
		if err := r.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			t.Fatalf("write frame %d: %v", i, err)
		}
	}
	waitCounter(t, r.metrics.FramesQueued, 3)

	if got := fake.audioFrames(); len(got) != 0 {
		t.Fatalf("no audio should reach upstream before ready, got %d frames", len(got))
	}

	fake.events <- upstream.Event{Kind: upstream.SessionReady}

	if ev := readEvent(t, r.conn); ev.Type != domain.EventSessionCreated {
		t.Fatalf("expected session.created, got %s", ev.Type)
	}

	// A fourth frame after readiness must land after the flushed queue.
	if err := r.conn.WriteMessage(websocket.BinaryMessage, []byte("frame-3")); err != nil {
		t.Fatalf("write frame 3: %v", err)
	}

	frames := waitAudioFrames(t, fake, 4)
	for i, frame := range frames {
		want := fmt.Sprintf("frame-%d", i)
		if string(frame) != want {
			t.Errorf("frame %d: got %q, want %q", i, frame, want)
		}
	}
}

func TestUpstreamEventsForwardedInOrder(t *testing.T) {
	fake := newFakeUpstream()
	r := setupRelayWithFake(t, fake, 16)

	fake.events <- upstream.Event{Kind: upstream.SessionReady}
	fake.events <- upstream.Event{Kind: upstream.TextDelta, Text: "goede"}
	fake.events <- upstream.Event{Kind: upstream.LanguageDetected, Language: "nl"}
	fake.events <- upstream.Event{Kind: upstream.TextDelta, Text: "morgen"}
	fake.events <- upstream.Event{Kind: upstream.Segment, Text: "goedemorgen", Language: "nl", Start: 0.1, End: 1.8}
	fake.events <- upstream.Event{Kind: upstream.Done}

	want := []domain.TranscriptEvent{
		{Type: domain.EventSessionCreated},
		{Type: domain.EventTextDelta, Text: "goede"},
		{Type: domain.EventLanguage, Language: "nl"},
		{Type: domain.EventTextDelta, Text: "morgen"},
		{Type: domain.EventSegment, Text: "goedemorgen", Language: "nl", Start: 0.1, End: 1.8},
		{Type: domain.EventDone},
	}

	for i, expected := range want {
		got := readEvent(t, r.conn)
		if got != expected {
			t.Errorf("event %d: got %+v, want %+v", i, got, expected)
		}
	}
}

func TestUpstreamErrorIsNotFatal(t *testing.T) {
	fake := newFakeUpstream()
	r := setupRelayWithFake(t, fake, 16)

	fake.events <- upstream.Event{Kind: upstream.SessionReady}
	fake.events <- upstream.Event{Kind: upstream.ErrorEvent, Err: "transient overload"}
	fake.events <- upstream.Event{Kind: upstream.TextDelta, Text: "still here"}

	readEvent(t, r.conn) // session.created

	if ev := readEvent(t, r.conn); ev.Type != domain.EventError || ev.Error != "transient overload" {
		t.Fatalf("expected error event, got %+v", ev)
	}
	if ev := readEvent(t, r.conn); ev.Type != domain.EventTextDelta || ev.Text != "still here" {
		t.Fatalf("session should survive an upstream error, got %+v", ev)
	}
}

func TestUpstreamDialFailureSurfacesError(t *testing.T) {
	r := setupRelay(t, func(ctx context.Context) (UpstreamStream, error) {
		return nil, errors.New("connection refused")
	}, 16)

	ev := readEvent(t, r.conn)
	if ev.Type != domain.EventError {
		t.Fatalf("expected error event, got %s", ev.Type)
	}
	if !strings.Contains(ev.Error, "connection refused") {
		t.Errorf("error should carry the dial failure, got %q", ev.Error)
	}

	// The session is closed afterwards; the next read fails.
	r.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := r.conn.ReadMessage(); err == nil {
		t.Error("expected the client socket to close after a dial failure")
	}
}

func TestHandshakeTimeout(t *testing.T) {
	fake := newFakeUpstream()

	m := metrics.New(prometheus.NewRegistry())
	server := NewServer(func(ctx context.Context) (UpstreamStream, error) {
		return fake, nil
	}, 100*time.Millisecond, 16, m, zap.NewNop())

	e := echo.New()
	e.GET("/ws", server.HandleWebSocket)
	ts := httptest.NewServer(e)
	defer ts.Close()
	defer server.Shutdown()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("client dial failed: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("expected a timeout error event, read failed: %v", err)
	}
	ev, err := domain.ParseTranscriptEvent(data)
	if err != nil {
		t.Fatalf("unparsable event: %v", err)
	}
	if ev.Type != domain.EventError || !strings.Contains(ev.Error, "timed out") {
		t.Errorf("expected handshake timeout error, got %+v", ev)
	}
}

func TestSlowDialConsumesHandshakeBudget(t *testing.T) {
	fake := newFakeUpstream()

	m := metrics.New(prometheus.NewRegistry())
	server := NewServer(func(ctx context.Context) (UpstreamStream, error) {
		time.Sleep(900 * time.Millisecond)
		return fake, nil
	}, time.Second, 16, m, zap.NewNop())

	e := echo.New()
	e.GET("/ws", server.HandleWebSocket)
	ts := httptest.NewServer(e)
	defer ts.Close()
	defer server.Shutdown()

	start := time.Now()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("client dial failed: %v", err)
	}
	defer conn.Close()

	// The dial ate most of the one-second budget, so the ready wait gets
	// only the remainder; the timeout must fire near the overall budget,
	// not at dial time plus a second full window.
	ev := readEvent(t, conn)
	elapsed := time.Since(start)
	if ev.Type != domain.EventError || !strings.Contains(ev.Error, "timed out") {
		t.Fatalf("expected handshake timeout error, got %+v", ev)
	}
	if elapsed > 1500*time.Millisecond {
		t.Errorf("timeout surfaced after %v, budget is 1s", elapsed)
	}
}

func TestControlCommandsReachUpstream(t *testing.T) {
	fake := newFakeUpstream()
	r := setupRelayWithFake(t, fake, 16)

	fake.events <- upstream.Event{Kind: upstream.SessionReady}
	readEvent(t, r.conn) // session.created

	r.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"flush"}`))
	r.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"end"}`))

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		fake.mu.Lock()
		flushes, ends := fake.flushes, fake.ends
		fake.mu.Unlock()
		if flushes == 1 && ends == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("control commands never reached upstream: flushes=%d ends=%d", fake.flushes, fake.ends)
}

func TestMalformedControlIsIgnored(t *testing.T) {
	fake := newFakeUpstream()
	r := setupRelayWithFake(t, fake, 16)

	fake.events <- upstream.Event{Kind: upstream.SessionReady}
	readEvent(t, r.conn)

	r.conn.WriteMessage(websocket.TextMessage, []byte(`{{{not json`))
	waitCounter(t, r.metrics.MalformedEvents, 1)

	// The session must survive; a subsequent event still arrives.
	fake.events <- upstream.Event{Kind: upstream.TextDelta, Text: "alive"}
	if ev := readEvent(t, r.conn); ev.Type != domain.EventTextDelta {
		t.Fatalf("session should survive malformed control, got %+v", ev)
	}
}

func TestQueueOverflowFailsSession(t *testing.T) {
	fake := newFakeUpstream()
	r := setupRelayWithFake(t, fake, 2)

	for i := 0; i < 3; i++ {
		if err := r.conn.WriteMessage(websocket.BinaryMessage, []byte{byte(i)}); err != nil {
			t.Fatalf("write frame %d: %v", i, err)
		}
	}

	ev := readEvent(t, r.conn)
	if ev.Type != domain.EventError || !strings.Contains(ev.Error, "overflow") {
		t.Fatalf("expected queue overflow error, got %+v", ev)
	}
}

func TestUpstreamCloseEndsSession(t *testing.T) {
	fake := newFakeUpstream()
	r := setupRelayWithFake(t, fake, 16)

	fake.events <- upstream.Event{Kind: upstream.SessionReady}
	readEvent(t, r.conn)

	fake.Close()

	if ev := readEvent(t, r.conn); ev.Type != domain.EventDone {
		t.Fatalf("expected done after upstream close, got %+v", ev)
	}

	r.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if _, _, err := r.conn.ReadMessage(); err != nil {
			break
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if r.server.ActiveSessions() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session accounting never drained: %d", r.server.ActiveSessions())
}

func TestClientDisconnectSignalsEndOfAudio(t *testing.T) {
	fake := newFakeUpstream()
	r := setupRelayWithFake(t, fake, 16)

	fake.events <- upstream.Event{Kind: upstream.SessionReady}
	readEvent(t, r.conn)

	r.conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		fake.mu.Lock()
		ends, closed := fake.ends, fake.closed
		fake.mu.Unlock()
		if ends >= 1 && closed {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("upstream never received end-of-audio after client disconnect")
}
