package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Default values for everything that can be left unset in the environment.
const (
	DefaultPort             = "8080"
	DefaultUpstreamURL      = "wss://api.mistral.ai/v1/audio/transcriptions/realtime"
	DefaultUpstreamModel    = "voxtral-mini-transcribe-realtime-2602"
	DefaultTranslateBaseURL = "https://api.mistral.ai/v1"
	DefaultTranslateModel   = "mistral-small-latest"

	DefaultHandshakeTimeout = 5 * time.Second
	DefaultTranslateTimeout = 15 * time.Second

	// Frames queued while the upstream handshake is pending. The handshake
	// window is expected to be sub-second; at 128 ms per frame this cap is
	// roughly a minute of audio before the session is failed.
	DefaultAudioQueueCap = 512
)

// Config is the complete relay server configuration, loaded from the
// environment.
type Config struct {
	Server    ServerConfig
	Upstream  UpstreamConfig
	Translate TranslateConfig
	TTS       TTSConfig
}

// ServerConfig contains the HTTP/WebSocket listener settings.
type ServerConfig struct {
	Port string
}

// UpstreamConfig describes the realtime transcription service the relay
// bridges to.
type UpstreamConfig struct {
	URL              string
	APIKey           string
	Model            string
	HandshakeTimeout time.Duration
	// StreamingDelayMs is the target streaming delay requested in the
	// session.update configuration; zero leaves the upstream default.
	StreamingDelayMs int
	AudioQueueCap    int
}

// TranslateConfig describes the chat-completions endpoint used for
// translation.
type TranslateConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// TTSConfig describes the optional speech synthesis backend.
type TTSConfig struct {
	APIKey  string
	VoiceID string
}

// Load reads configuration from the environment. A .env file is applied
// first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port: envOr("PORT", DefaultPort),
		},
		Upstream: UpstreamConfig{
			URL:              envOr("MISTRAL_WS_URL", DefaultUpstreamURL),
			APIKey:           os.Getenv("MISTRAL_API_KEY"),
			Model:            envOr("MISTRAL_REALTIME_MODEL", DefaultUpstreamModel),
			HandshakeTimeout: DefaultHandshakeTimeout,
			AudioQueueCap:    DefaultAudioQueueCap,
		},
		Translate: TranslateConfig{
			BaseURL: envOr("MISTRAL_API_URL", DefaultTranslateBaseURL),
			APIKey:  os.Getenv("MISTRAL_API_KEY"),
			Model:   envOr("MISTRAL_TRANSLATE_MODEL", DefaultTranslateModel),
			Timeout: DefaultTranslateTimeout,
		},
		TTS: TTSConfig{
			APIKey:  os.Getenv("ELEVENLABS_API_KEY"),
			VoiceID: os.Getenv("ELEVENLABS_VOICE_ID"),
		},
	}

	if v := os.Getenv("UPSTREAM_HANDSHAKE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid UPSTREAM_HANDSHAKE_TIMEOUT: %w", err)
		}
		cfg.Upstream.HandshakeTimeout = d
	}

	if v := os.Getenv("UPSTREAM_STREAMING_DELAY_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid UPSTREAM_STREAMING_DELAY_MS: %w", err)
		}
		cfg.Upstream.StreamingDelayMs = n
	}

	if v := os.Getenv("AUDIO_QUEUE_CAP"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid AUDIO_QUEUE_CAP: %w", err)
		}
		cfg.Upstream.AudioQueueCap = n
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration can actually run a relay.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.Upstream.Validate(); err != nil {
		return fmt.Errorf("upstream config: %w", err)
	}
	if err := c.Translate.Validate(); err != nil {
		return fmt.Errorf("translate config: %w", err)
	}
	return nil
}

// Validate validates the listener settings.
func (s *ServerConfig) Validate() error {
	if s.Port == "" {
		return fmt.Errorf("port cannot be empty")
	}
	n, err := strconv.Atoi(s.Port)
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %q", s.Port)
	}
	return nil
}

// Validate validates the upstream settings.
func (u *UpstreamConfig) Validate() error {
	if u.URL == "" {
		return fmt.Errorf("url cannot be empty")
	}
	if u.APIKey == "" {
		return fmt.Errorf("api key cannot be empty")
	}
	if u.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}
	if u.HandshakeTimeout < time.Second {
		return fmt.Errorf("handshake timeout must be at least 1s, got %v", u.HandshakeTimeout)
	}
	if u.AudioQueueCap < 1 {
		return fmt.Errorf("audio queue cap must be at least 1, got %d", u.AudioQueueCap)
	}
	return nil
}

// Validate validates the translation settings.
func (t *TranslateConfig) Validate() error {
	if t.BaseURL == "" {
		return fmt.Errorf("base url cannot be empty")
	}
	if t.APIKey == "" {
		return fmt.Errorf("api key cannot be empty")
	}
	if t.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}
	if t.Timeout < time.Second {
		return fmt.Errorf("timeout must be at least 1s, got %v", t.Timeout)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
