package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/crosstalk/relay/domain/entities"
	"github.com/crosstalk/relay/domain/repositories"
)

const (
	defaultModel = "mistral-small-latest"

	// Low temperature and a tight token cap keep translations literal and
	// fast; conversational utterances rarely exceed a sentence or two.
	temperature = 0.3
	maxTokens   = 200

	summarizePrompt    = "Summarize this multilingual conversation concisely. Include key topics discussed, any decisions made, and action items if any. Write in English."
	summarizeMaxTokens = 500
)

// Config configures the Mistral-backed translator. The chat completions API
// is OpenAI-compatible, so the client only needs a base URL and key.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
}

// Mistral translates committed utterances through the Mistral chat API. The
// model detects which conversation language the text is in and translates to
// the other, reporting the detection back in the reply.
type Mistral struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

var (
	_ repositories.Translator = (*Mistral)(nil)
	_ repositories.Summarizer = (*Mistral)(nil)
)

func NewMistral(cfg Config, logger *zap.Logger) *Mistral {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	return &Mistral{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		logger: logger,
	}
}

// Translate sends one utterance and parses the model's LANG|translation
// reply.
func (m *Mistral) Translate(ctx context.Context, req repositories.TranslationRequest) (repositories.TranslationResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return repositories.TranslationResult{}, fmt.Errorf("text cannot be empty")
	}
	prompt, err := buildPrompt(req)
	if err != nil {
		return repositories.TranslationResult{}, err
	}

	resp, err := m.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: m.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
			{Role: openai.ChatMessageRoleUser, Content: req.Text},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return repositories.TranslationResult{}, fmt.Errorf("translation request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return repositories.TranslationResult{}, fmt.Errorf("translation returned no choices")
	}

	result := parseReply(resp.Choices[0].Message.Content)
	if result.Translated == "" {
		return result, fmt.Errorf("translation returned empty content")
	}

	m.logger.Debug("Translated utterance",
		zap.String("detected", result.DetectedLanguage),
		zap.Int("length", len(result.Translated)))
	return result, nil
}

// Summarize condenses a finished conversation. Both sides of every message
// go into the transcript so the model sees the full bilingual exchange.
func (m *Mistral) Summarize(ctx context.Context, messages []entities.Message) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("no messages to summarize")
	}

	resp, err := m.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: m.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: summarizePrompt},
			{Role: openai.ChatMessageRoleUser, Content: formatTranscript(messages)},
		},
		Temperature: temperature,
		MaxTokens:   summarizeMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("summarize request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("summarize returned no choices")
	}

	summary := strings.TrimSpace(resp.Choices[0].Message.Content)
	if summary == "" {
		return "", fmt.Errorf("summarize returned empty content")
	}

	m.logger.Debug("Summarized conversation",
		zap.Int("messages", len(messages)),
		zap.Int("length", len(summary)))
	return summary, nil
}

func formatTranscript(messages []entities.Message) string {
	var b strings.Builder
	for i, msg := range messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%s] (%s): %s\n→ (%s): %s",
			msg.Speaker, msg.SourceLanguage, msg.Original, msg.TargetLanguage, msg.Translated)
	}
	return b.String()
}

// buildPrompt keeps the system prompt minimal; fewer tokens means lower
// latency per utterance.
func buildPrompt(req repositories.TranslationRequest) (string, error) {
	var b strings.Builder
	switch {
	case len(req.Languages) == 2:
		fmt.Fprintf(&b, "Translator. Input is %s or %s. Detect which, translate to the other.",
			req.Languages[0], req.Languages[1])
	case req.TargetLanguage != "":
		fmt.Fprintf(&b, "Translate to %s.", req.TargetLanguage)
	default:
		return "", fmt.Errorf("need two conversation languages or an explicit target")
	}
	b.WriteString(" Reply: LANG|translation. LANG is ISO 639-1 code. No quotes, no explanation.")
	if req.Domain != "" {
		fmt.Fprintf(&b, " Context: %s conversation.", req.Domain)
	}
	return b.String(), nil
}

// parseReply extracts the detected language and translation from a
// LANG|translation reply. The pipe must sit within the first few characters
// to count as a language tag; a pipe deeper in the text belongs to the
// translation itself. Replies from older prompt revisions were JSON, kept as
// a fallback.
func parseReply(content string) repositories.TranslationResult {
	content = strings.TrimSpace(content)

	if idx := strings.Index(content, "|"); idx != -1 && idx <= 5 {
		return repositories.TranslationResult{
			DetectedLanguage: strings.ToLower(strings.TrimSpace(content[:idx])),
			Translated:       strings.TrimSpace(content[idx+1:]),
		}
	}

	var parsed struct {
		Translation string `json:"translation"`
		Detected    string `json:"detected"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err == nil && parsed.Translation != "" {
		return repositories.TranslationResult{
			Translated:       parsed.Translation,
			DetectedLanguage: strings.ToLower(parsed.Detected),
		}
	}

	return repositories.TranslationResult{Translated: content}
}
