package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/crosstalk/relay/domain"
)

const (
	dialTimeout = 5 * time.Second
	writeWait   = 10 * time.Second
)

var (
	// ErrAlreadyStarted is returned by Start on a capture that is running.
	ErrAlreadyStarted = errors.New("capture already started")

	// ErrDeviceUnavailable wraps failures to open or validate an audio
	// input.
	ErrDeviceUnavailable = errors.New("audio input unavailable")

	// ErrTransportError wraps relay connection failures, including the
	// dial timeout.
	ErrTransportError = errors.New("relay transport error")
)

// Config describes one capture run.
type Config struct {
	// RelayURL is the relay's WebSocket endpoint.
	RelayURL string
	// Source supplies the audio samples.
	Source Source
	// Realtime paces frame delivery at the live-microphone cadence instead
	// of pushing a file source as fast as the socket accepts it.
	Realtime bool
}

// Capture streams frames from a Source to the relay and surfaces the relay's
// transcript events. One Capture drives one relay session.
type Capture struct {
	cfg    Config
	logger *zap.Logger

	events chan domain.TranscriptEvent

	mu      sync.Mutex
	conn    *websocket.Conn
	open    bool
	started bool
	writeMu sync.Mutex

	stopOnce sync.Once
	done     chan struct{}
}

func New(cfg Config, logger *zap.Logger) *Capture {
	return &Capture{
		cfg:    cfg,
		logger: logger,
		events: make(chan domain.TranscriptEvent, 64),
		done:   make(chan struct{}),
	}
}

// Events returns the relay's transcript event stream. Closed when the relay
// connection ends.
func (c *Capture) Events() <-chan domain.TranscriptEvent {
	return c.events
}

// Start opens the relay transport and begins streaming. It returns once the
// transport is established; frame delivery and event reading continue in the
// background until the source ends or Stop is called.
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, c.cfg.RelayURL, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("%w: status %d: %v", ErrTransportError, resp.StatusCode, err)
		}
		return fmt.Errorf("%w: %v", ErrTransportError, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.open = true
	c.mu.Unlock()

	go c.readLoop()
	go c.sendLoop()

	return nil
}

// Stop signals end-of-audio to the relay if the transport is still open, then
// tears the transport down. Idempotent; stopping a capture that never started
// is a no-op.
func (c *Capture) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		conn := c.conn
		open := c.open
		c.open = false
		c.mu.Unlock()

		close(c.done)
		if conn == nil {
			return
		}
		if open {
			c.writeControl(conn, domain.ControlEnd)
		}
		conn.Close()
	})
}

// Flush asks the relay to finalize whatever audio the upstream has buffered.
func (c *Capture) Flush() error {
	c.mu.Lock()
	conn := c.conn
	open := c.open
	c.mu.Unlock()
	if !open {
		return errors.New("transport not open")
	}
	return c.writeControl(conn, domain.ControlFlush)
}

// sendLoop reads frames from the source, encodes them and pushes them to the
// relay. A frame that cannot be sent is dropped; capture never queues audio
// behind a stalled transport.
func (c *Capture) sendLoop() {
	samples := make([]float32, FrameSamples)

	var pacer *time.Ticker
	if c.cfg.Realtime {
		pacer = time.NewTicker(FrameSamples * time.Second / SampleRate)
		defer pacer.Stop()
	}

	for {
		select {
		case <-c.done:
			return
		default:
		}

		n, err := c.cfg.Source.ReadFrame(samples)
		if n > 0 {
			c.sendFrame(EncodeFrame(samples[:n]))
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.logger.Error("Audio source failed", zap.Error(err))
			}
			c.finishInput()
			return
		}

		if pacer != nil {
			select {
			case <-c.done:
				return
			case <-pacer.C:
			}
		}
	}
}

func (c *Capture) sendFrame(frame []byte) {
	c.mu.Lock()
	conn := c.conn
	open := c.open
	c.mu.Unlock()
	if !open {
		c.logger.Debug("Dropping frame, transport not open")
		return
	}

	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := conn.WriteMessage(websocket.BinaryMessage, frame)
	c.writeMu.Unlock()
	if err != nil {
		c.logger.Warn("Dropping frame on transport error", zap.Error(err))
		c.mu.Lock()
		c.open = false
		c.mu.Unlock()
	}
}

// finishInput tells the relay the source is exhausted. The socket stays open
// so the final transcript events can still arrive; the read loop closes it.
func (c *Capture) finishInput() {
	c.mu.Lock()
	conn := c.conn
	open := c.open
	c.mu.Unlock()
	if !open {
		return
	}
	if err := c.writeControl(conn, domain.ControlFlush); err != nil {
		return
	}
	c.writeControl(conn, domain.ControlEnd)
}

func (c *Capture) readLoop() {
	defer close(c.events)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.logger.Debug("Relay socket closed", zap.Error(err))
			c.mu.Lock()
			c.open = false
			c.mu.Unlock()
			return
		}

		ev, err := domain.ParseTranscriptEvent(data)
		if err != nil {
			c.logger.Warn("Discarding malformed relay event", zap.Error(err))
			continue
		}

		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}

func (c *Capture) writeControl(conn *websocket.Conn, t domain.ControlType) error {
	payload, err := json.Marshal(domain.ControlMessage{Type: t})
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, payload)
}
