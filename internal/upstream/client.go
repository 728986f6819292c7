package upstream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait = 10 * time.Second

	// Audio format the relay always requests from the upstream.
	audioEncoding = "pcm_s16le"
	sampleRate    = 16000
)

// Config describes how to reach the upstream realtime transcription service.
type Config struct {
	URL    string
	APIKey string
	Model  string
	// StreamingDelayMs is forwarded in the session configuration when
	// non-zero.
	StreamingDelayMs int
}

// Client is one upstream transcription session over WebSocket. Events arrive
// on Events(); the channel closes when the upstream socket closes.
type Client struct {
	conn   *websocket.Conn
	cfg    Config
	logger *zap.Logger

	events chan Event

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Dial opens a WebSocket connection to the upstream service, authenticating
// with a bearer credential. The context bounds the connection handshake; the
// upstream's own session.created signal arrives later as an event.
func Dial(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream url: %w", err)
	}
	q := u.Query()
	q.Set("model", cfg.Model)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+cfg.APIKey)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("upstream dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("upstream dial failed: %w", err)
	}

	c := &Client{
		conn:   conn,
		cfg:    cfg,
		logger: logger,
		events: make(chan Event, 64),
	}
	go c.readLoop()

	return c, nil
}

// Events returns the upstream event stream. Closed when the session ends.
func (c *Client) Events() <-chan Event {
	return c.events
}

// SendAudio forwards one PCM frame as a base64 append message.
func (c *Client) SendAudio(data []byte) error {
	return c.writeJSON(map[string]string{
		"type":  "input_audio.append",
		"audio": base64.StdEncoding.EncodeToString(data),
	})
}

// Flush asks the upstream to finalize whatever audio it has buffered.
func (c *Client) Flush() error {
	return c.writeJSON(map[string]string{"type": "input_audio.flush"})
}

// End signals end-of-input. The upstream responds with a terminal event.
func (c *Client) End() error {
	return c.writeJSON(map[string]string{"type": "input_audio.end"})
}

// Close tears down the upstream socket. Idempotent.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

// wireMessage covers every upstream event shape we care about; unknown types
// fall through and are logged.
type wireMessage struct {
	Type     string          `json:"type"`
	Text     string          `json:"text"`
	Language string          `json:"language"`
	Start    float64         `json:"start"`
	End      float64         `json:"end"`
	Error    json.RawMessage `json:"error"`
}

func (c *Client) readLoop() {
	defer close(c.events)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.logger.Debug("Upstream socket closed", zap.Error(err))
			return
		}

		var msg wireMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("Discarding malformed upstream message", zap.Error(err))
			continue
		}

		switch msg.Type {
		case "session.created":
			// Configure the session before reporting readiness so queued
			// audio is sent against the negotiated format.
			if err := c.configureSession(); err != nil {
				c.logger.Error("Failed to send session configuration", zap.Error(err))
				c.events <- Event{Kind: ErrorEvent, Err: "session configuration failed"}
				return
			}
			c.events <- Event{Kind: SessionReady}

		case "session.updated":
			c.logger.Debug("Upstream session updated")

		case "transcription.text.delta":
			c.events <- Event{Kind: TextDelta, Text: msg.Text}

		case "transcription.language":
			c.events <- Event{Kind: LanguageDetected, Language: msg.Language}

		case "transcription.segment":
			c.events <- Event{Kind: Segment, Text: msg.Text, Language: msg.Language, Start: msg.Start, End: msg.End}

		case "transcription.done":
			c.events <- Event{Kind: Done}

		case "error":
			c.events <- Event{Kind: ErrorEvent, Err: errorText(msg.Error)}

		default:
			c.logger.Debug("Ignoring unknown upstream event", zap.String("type", msg.Type))
		}
	}
}

type sessionUpdate struct {
	Type    string        `json:"type"`
	Session sessionConfig `json:"session"`
}

type sessionConfig struct {
	AudioFormat      audioFormat `json:"audio_format"`
	StreamingDelayMs int         `json:"streaming_delay_ms,omitempty"`
}

type audioFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

func (c *Client) configureSession() error {
	return c.writeJSON(sessionUpdate{
		Type: "session.update",
		Session: sessionConfig{
			AudioFormat:      audioFormat{Encoding: audioEncoding, SampleRate: sampleRate},
			StreamingDelayMs: c.cfg.StreamingDelayMs,
		},
	})
}

func (c *Client) writeJSON(v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal upstream message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("write upstream message: %w", err)
	}
	return nil
}

// errorText extracts a human-readable message from the upstream error field,
// which can be a plain string or a structured object.
func errorText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "unknown upstream error"
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
