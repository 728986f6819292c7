package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/crosstalk/relay/domain/repositories"
)

// HTTPClient is a Translator that calls the relay server's translation
// endpoint instead of the model provider directly, so the provider credential
// stays on the server.
type HTTPClient struct {
	endpoint string
	client   *http.Client
}

var _ repositories.Translator = (*HTTPClient)(nil)

func NewHTTPClient(endpoint string, timeout time.Duration) *HTTPClient {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type translateRequest struct {
	Text           string   `json:"text"`
	Languages      []string `json:"languages,omitempty"`
	TargetLanguage string   `json:"target_language,omitempty"`
	Domain         string   `json:"domain,omitempty"`
}

type translateResponse struct {
	Translation      string `json:"translation"`
	DetectedLanguage string `json:"detected_language"`
	Error            string `json:"error"`
}

func (h *HTTPClient) Translate(ctx context.Context, req repositories.TranslationRequest) (repositories.TranslationResult, error) {
	payload, err := json.Marshal(translateRequest{
		Text:           req.Text,
		Languages:      req.Languages,
		TargetLanguage: req.TargetLanguage,
		Domain:         req.Domain,
	})
	if err != nil {
		return repositories.TranslationResult{}, fmt.Errorf("marshal translate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(payload))
	if err != nil {
		return repositories.TranslationResult{}, fmt.Errorf("create translate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return repositories.TranslationResult{}, fmt.Errorf("translate request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return repositories.TranslationResult{}, fmt.Errorf("read translate response: %w", err)
	}

	var out translateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return repositories.TranslationResult{}, fmt.Errorf("unparsable translate response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if out.Error != "" {
			return repositories.TranslationResult{}, fmt.Errorf("translate endpoint: %s", out.Error)
		}
		return repositories.TranslationResult{}, fmt.Errorf("translate endpoint returned status %d", resp.StatusCode)
	}

	return repositories.TranslationResult{
		Translated:       out.Translation,
		DetectedLanguage: out.DetectedLanguage,
	}, nil
}
