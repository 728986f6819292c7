package relay

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/crosstalk/relay/internal/metrics"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The relay carries no credentials and no persistent state; any
		// origin may open a session.
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Server accepts client WebSocket connections and runs one relay Session per
// connection. Connection accounting lives here, created at server start and
// torn down by Shutdown; there are no package-level registries.
type Server struct {
	dial             UpstreamDialer
	handshakeTimeout time.Duration
	queueCap         int
	metrics          *metrics.Metrics
	logger           *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewServer creates a relay server. dial is invoked once per client
// connection to open the matching upstream session.
func NewServer(dial UpstreamDialer, handshakeTimeout time.Duration, queueCap int, m *metrics.Metrics, logger *zap.Logger) *Server {
	return &Server{
		dial:             dial,
		handshakeTimeout: handshakeTimeout,
		queueCap:         queueCap,
		metrics:          m,
		logger:           logger,
		sessions:         make(map[string]*Session),
	}
}

// HandleWebSocket upgrades the request and starts a relay session for it.
func (s *Server) HandleWebSocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	sess := newSession(uuid.NewString(), s, conn)
	if !s.register(sess) {
		conn.Close()
		return nil
	}

	sess.logger.Info("Client connected")

	go sess.writePump()
	go sess.run()
	go sess.readPump()

	return nil
}

// ActiveSessions returns the number of live sessions.
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Shutdown closes every live session. New connections are rejected.
func (s *Server) Shutdown() {
	s.mu.Lock()
	s.closed = true
	open := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		open = append(open, sess)
	}
	s.mu.Unlock()

	for _, sess := range open {
		sess.close("server shutdown")
	}
}

func (s *Server) register(sess *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.sessions[sess.id] = sess
	s.metrics.ActiveSessions.Inc()
	s.metrics.SessionsCreated.Inc()
	return true
}

func (s *Server) unregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return
	}
	delete(s.sessions, id)
	s.metrics.ActiveSessions.Dec()
	s.metrics.SessionsClosed.Inc()
}
