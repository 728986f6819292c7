package api

import "github.com/crosstalk/relay/domain/entities"

// TranslateRequest is the payload for the translation endpoint. Either
// Languages (exactly two, source auto-detected) or TargetLanguage must be
// set.
type TranslateRequest struct {
	Text           string   `json:"text" validate:"required"`
	Languages      []string `json:"languages,omitempty"`
	TargetLanguage string   `json:"target_language,omitempty"`
	SourceLanguage string   `json:"source_language,omitempty"`
	Domain         string   `json:"domain,omitempty"`
}

// TranslateResponse carries one finished translation.
type TranslateResponse struct {
	Translation      string `json:"translation"`
	DetectedLanguage string `json:"detected_language"`
	SourceLanguage   string `json:"source_language,omitempty"`
	TargetLanguage   string `json:"target_language,omitempty"`
	Timestamp        int64  `json:"timestamp"`
	Status           string `json:"status"`
}

// SummarizeRequest carries the finished conversation to summarize.
type SummarizeRequest struct {
	Messages []entities.Message `json:"messages" validate:"required"`
}

// SummarizeResponse carries the conversation summary.
type SummarizeResponse struct {
	Summary string `json:"summary"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
