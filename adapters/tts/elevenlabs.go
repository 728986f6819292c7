package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/crosstalk/relay/domain/repositories"
)

const (
	defaultBaseURL      = "https://api.elevenlabs.io/v1"
	defaultVoiceID      = "21m00Tcm4TlvDq8ikWAM" // Rachel
	defaultModelID      = "eleven_multilingual_v2"
	defaultOutputFormat = "pcm_24000"
	defaultChunkSize    = 1024
	defaultStability    = 0.5
	defaultClarity      = 0.75

	requestTimeout = 60 * time.Second
)

// ElevenLabsConfig configures the ElevenLabs adapter. Only APIKey is
// required; everything else has a sensible default.
type ElevenLabsConfig struct {
	APIKey       string
	BaseURL      string
	VoiceID      string
	ModelID      string
	OutputFormat string
	ChunkSize    int
	Stability    float64
	Clarity      float64
}

func (c ElevenLabsConfig) validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("elevenlabs API key is required")
	}
	if c.Stability < 0 || c.Stability > 1 {
		return fmt.Errorf("stability must be between 0 and 1, got %f", c.Stability)
	}
	if c.Clarity < 0 || c.Clarity > 1 {
		return fmt.Errorf("clarity must be between 0 and 1, got %f", c.Clarity)
	}
	if c.ChunkSize < 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	return nil
}

// ElevenLabs speaks translated messages through the ElevenLabs streaming
// API. The multilingual model takes an ISO 639-1 language code per request,
// so one voice covers both conversation sides.
type ElevenLabs struct {
	cfg    ElevenLabsConfig
	client *http.Client
	logger *zap.Logger
}

var _ repositories.TextToSpeech = (*ElevenLabs)(nil)

func NewElevenLabs(cfg ElevenLabsConfig, logger *zap.Logger) (*ElevenLabs, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.VoiceID == "" {
		cfg.VoiceID = defaultVoiceID
	}
	if cfg.ModelID == "" {
		cfg.ModelID = defaultModelID
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = defaultOutputFormat
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.Stability == 0 {
		cfg.Stability = defaultStability
	}
	if cfg.Clarity == 0 {
		cfg.Clarity = defaultClarity
	}

	return &ElevenLabs{
		cfg:    cfg,
		client: &http.Client{Timeout: requestTimeout},
		logger: logger,
	}, nil
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	UseSpeakerBoost bool    `json:"use_speaker_boost,omitempty"`
}

type speechRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	LanguageCode  string        `json:"language_code,omitempty"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// ConvertTextToSpeech renders text as streamed audio chunks. The returned
// channel closes when the stream ends or the context is cancelled.
func (e *ElevenLabs) ConvertTextToSpeech(ctx context.Context, text, languageCode string) (<-chan []byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	payload, err := json.Marshal(speechRequest{
		Text:         text,
		ModelID:      e.cfg.ModelID,
		LanguageCode: languageCode,
		VoiceSettings: voiceSettings{
			Stability:       e.cfg.Stability,
			SimilarityBoost: e.cfg.Clarity,
			UseSpeakerBoost: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal speech request: %w", err)
	}

	url := fmt.Sprintf("%s/text-to-speech/%s/stream?output_format=%s&enable_logging=false",
		e.cfg.BaseURL, e.cfg.VoiceID, e.cfg.OutputFormat)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create speech request: %w", err)
	}

	accept := "audio/mpeg"
	if strings.HasPrefix(e.cfg.OutputFormat, "pcm") {
		accept = "audio/pcm"
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", e.cfg.APIKey)

	audio := make(chan []byte, 10)
	go func() {
		defer close(audio)

		resp, err := e.client.Do(req)
		if err != nil {
			e.logger.Error("Speech request failed", zap.Error(err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			e.logger.Error("Speech API returned error",
				zap.Int("statusCode", resp.StatusCode),
				zap.String("response", string(body)))
			return
		}

		buf := make([]byte, e.cfg.ChunkSize)
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case audio <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if err == io.EOF {
				return
			}
			if err != nil {
				e.logger.Error("Error reading speech stream", zap.Error(err))
				return
			}
		}
	}()

	return audio, nil
}
