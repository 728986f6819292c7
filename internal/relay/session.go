package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/crosstalk/relay/domain"
	"github.com/crosstalk/relay/internal/upstream"
)

const (
	// Time allowed to write a message to the client.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the client.
	pongWait = 60 * time.Second

	// Send pings to the client with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from the client. Generous for PCM frames.
	maxMessageSize = 512 * 1024

	// Outbound event buffer per session. Events beyond this are dropped, not
	// queued; a stalled client must never grow relay memory.
	sendBuffer = 256
)

// State is the lifecycle phase of a relay session.
type State int

const (
	StateConnecting State = iota
	StateHandshaking
	StateReady
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// UpstreamStream is the relay's view of one upstream transcription session.
// *upstream.Client satisfies it; tests substitute fakes.
type UpstreamStream interface {
	Events() <-chan upstream.Event
	SendAudio(data []byte) error
	Flush() error
	End() error
	Close() error
}

// UpstreamDialer opens a new upstream session. The context bounds the
// connection attempt.
type UpstreamDialer func(ctx context.Context) (UpstreamStream, error)

// Session bridges one client WebSocket to one upstream transcription
// session. All state mutations are serialized by mu; the client-facing and
// upstream-facing sockets are driven by independent goroutines.
type Session struct {
	id     string
	server *Server
	conn   *websocket.Conn
	logger *zap.Logger

	send chan []byte
	done chan struct{}

	mu       sync.Mutex
	state    State
	upstream UpstreamStream
	queue    [][]byte

	closeOnce sync.Once
}

func newSession(id string, server *Server, conn *websocket.Conn) *Session {
	return &Session{
		id:     id,
		server: server,
		conn:   conn,
		logger: server.logger.With(zap.String("sessionID", id)),
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		state:  StateConnecting,
	}
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// run dials the upstream service and drives its event stream until it ends.
// The dial and the session-ready wait share one handshake budget.
func (s *Session) run() {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), s.server.handshakeTimeout)
	up, err := s.server.dial(ctx)
	cancel()
	if err != nil {
		s.logger.Error("Upstream connection failed", zap.Error(err))
		s.emit(domain.TranscriptEvent{Type: domain.EventError, Error: "upstream connection failed: " + err.Error()})
		s.close("upstream dial failed")
		return
	}

	s.mu.Lock()
	if s.state >= StateClosing {
		s.mu.Unlock()
		up.Close()
		return
	}
	s.upstream = up
	s.state = StateHandshaking
	s.mu.Unlock()

	// The session-ready signal must arrive within what the dial left of the
	// handshake window.
	remaining := s.server.handshakeTimeout - time.Since(start)
	if remaining < time.Millisecond {
		remaining = time.Millisecond
	}
	handshake := time.AfterFunc(remaining, func() {
		if st := s.State(); st == StateHandshaking {
			s.logger.Warn("Upstream handshake timed out")
			s.emit(domain.TranscriptEvent{Type: domain.EventError, Error: "upstream handshake timed out"})
			s.close("handshake timeout")
		}
	})
	defer handshake.Stop()

	for ev := range up.Events() {
		s.handleUpstreamEvent(ev)
	}

	// Upstream hung up. Tell the client the stream is over before closing.
	s.emit(domain.TranscriptEvent{Type: domain.EventDone})
	s.close("upstream closed")
}

// handleUpstreamEvent translates one upstream event into a client-facing
// transcript event, in arrival order, with no buffering or coalescing.
func (s *Session) handleUpstreamEvent(ev upstream.Event) {
	switch ev.Kind {
	case upstream.SessionReady:
		s.onReady()
	case upstream.TextDelta:
		s.emit(domain.TranscriptEvent{Type: domain.EventTextDelta, Text: ev.Text})
	case upstream.LanguageDetected:
		s.emit(domain.TranscriptEvent{Type: domain.EventLanguage, Language: ev.Language})
	case upstream.Segment:
		s.emit(domain.TranscriptEvent{Type: domain.EventSegment, Text: ev.Text, Language: ev.Language, Start: ev.Start, End: ev.End})
	case upstream.Done:
		s.emit(domain.TranscriptEvent{Type: domain.EventDone})
	case upstream.ErrorEvent:
		// Not fatal on its own; the session keeps running unless the
		// upstream socket also closes.
		s.logger.Warn("Upstream error", zap.String("error", ev.Err))
		s.emit(domain.TranscriptEvent{Type: domain.EventError, Error: ev.Err})
	default:
		s.logger.Warn("Ignoring unknown upstream event kind", zap.Int("kind", int(ev.Kind)))
	}
}

// onReady flips the session to Ready and flushes queued audio in original
// arrival order. The lock is held across the whole flush so a concurrently
// arriving frame cannot jump ahead of the queue.
func (s *Session) onReady() {
	s.mu.Lock()
	if s.state != StateHandshaking {
		s.mu.Unlock()
		return
	}
	s.state = StateReady

	queued := s.queue
	s.queue = nil
	for i, frame := range queued {
		if err := s.upstream.SendAudio(frame); err != nil {
			s.logger.Error("Failed to flush queued audio",
				zap.Int("frame", i),
				zap.Int("queued", len(queued)),
				zap.Error(err))
			s.server.metrics.FramesDropped.Add(float64(len(queued) - i))
			break
		}
		s.server.metrics.FramesForwarded.Inc()
	}
	s.mu.Unlock()

	s.logger.Info("Upstream session ready", zap.Int("flushedFrames", len(queued)))
	s.emit(domain.TranscriptEvent{Type: domain.EventSessionCreated})
}

// handleClientAudio forwards or queues one binary PCM frame from the client.
func (s *Session) handleClientAudio(data []byte) {
	s.mu.Lock()

	switch s.state {
	case StateConnecting, StateHandshaking:
		if len(s.queue) >= s.server.queueCap {
			s.mu.Unlock()
			s.logger.Error("Audio queue cap exceeded during handshake",
				zap.Int("cap", s.server.queueCap))
			s.emit(domain.TranscriptEvent{Type: domain.EventError, Error: "audio queue overflow"})
			s.close("queue overflow")
			return
		}
		s.queue = append(s.queue, data)
		s.server.metrics.FramesQueued.Inc()
		s.mu.Unlock()

	case StateReady:
		err := s.upstream.SendAudio(data)
		s.mu.Unlock()
		if err != nil {
			s.logger.Warn("Failed to forward audio frame", zap.Error(err))
			s.server.metrics.FramesDropped.Inc()
			return
		}
		s.server.metrics.FramesForwarded.Inc()

	default:
		s.mu.Unlock()
		s.server.metrics.FramesDropped.Inc()
	}
}

// handleClientControl applies one client control command. Control commands
// are only meaningful once the upstream session is ready.
func (s *Session) handleClientControl(data []byte) {
	var msg domain.ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.server.metrics.MalformedEvents.Inc()
		s.logger.Warn("Discarding malformed control message", zap.Error(err))
		return
	}

	s.mu.Lock()
	ready := s.state == StateReady
	up := s.upstream
	s.mu.Unlock()
	if !ready {
		s.logger.Debug("Ignoring control before ready", zap.String("type", string(msg.Type)))
		return
	}

	switch msg.Type {
	case domain.ControlFlush:
		if err := up.Flush(); err != nil {
			s.logger.Warn("Flush failed", zap.Error(err))
		}
	case domain.ControlEnd:
		if err := up.End(); err != nil {
			s.logger.Warn("End failed", zap.Error(err))
		}
	default:
		s.logger.Warn("Unknown control command", zap.String("type", string(msg.Type)))
	}
}

// emit forwards one event to the client. The send channel is bounded; when
// the client cannot keep up the event is dropped rather than buffered.
func (s *Session) emit(ev domain.TranscriptEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("Failed to marshal event", zap.Error(err))
		return
	}

	select {
	case <-s.done:
	case s.send <- payload:
		s.server.metrics.EventsForwarded.Inc()
	default:
		s.server.metrics.EventsDropped.Inc()
		s.logger.Warn("Dropping event on slow client", zap.String("type", string(ev.Type)))
	}
}

// readPump pumps messages from the client socket into the session.
func (s *Session) readPump() {
	defer s.close("client disconnected")

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Error("Client socket error", zap.Error(err))
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			s.handleClientAudio(message)
		case websocket.TextMessage:
			s.handleClientControl(message)
		default:
			s.logger.Warn("Received unknown message type", zap.Int("type", messageType))
		}
	}
}

// writePump pumps session events to the client socket.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case message := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.Debug("Failed to write to client", zap.Error(err))
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.done:
			// Drain already-accepted events before saying goodbye.
			for {
				select {
				case message := <-s.send:
					s.conn.SetWriteDeadline(time.Now().Add(writeWait))
					s.conn.WriteMessage(websocket.TextMessage, message)
					continue
				default:
				}
				break
			}
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// close tears the session down: end-of-audio upstream, both sockets closed,
// queue discarded. Idempotent.
func (s *Session) close(reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosing
		up := s.upstream
		wasReady := up != nil
		s.queue = nil
		s.mu.Unlock()

		if wasReady {
			// Best effort; the upstream socket may already be gone.
			up.End()
			up.Close()
		}

		close(s.done)
		s.conn.Close()

		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()

		s.server.unregister(s.id)
		s.logger.Info("Session closed", zap.String("reason", reason))
	})
}
