package repositories

import (
	"context"

	"github.com/crosstalk/relay/domain/entities"
)

// TranslationRequest carries one committed utterance to the translator. When
// Languages holds the two conversation languages the translator detects which
// one the text is in and translates to the other; TargetLanguage forces a
// fixed target instead. Domain is an optional terminology hint.
type TranslationRequest struct {
	Text           string
	Languages      []string
	TargetLanguage string
	Domain         string
}

// TranslationResult is the translator's answer for a single request.
type TranslationResult struct {
	Translated       string
	DetectedLanguage string
}

// Translator abstracts the translation collaborator. One request, one
// response; no streaming.
type Translator interface {
	Translate(ctx context.Context, req TranslationRequest) (TranslationResult, error)
}

// Summarizer condenses a finished conversation into an English summary.
type Summarizer interface {
	Summarize(ctx context.Context, messages []entities.Message) (string, error)
}
