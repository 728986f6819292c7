package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/crosstalk/relay/domain/entities"
	"github.com/crosstalk/relay/domain/repositories"
	"github.com/crosstalk/relay/internal/metrics"
	"github.com/crosstalk/relay/internal/relay"
)

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, relayServer *relay.Server, translator repositories.Translator, summarizer repositories.Summarizer, m *metrics.Metrics, gatherer prometheus.Gatherer, logger *zap.Logger) {
	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":   "ok",
			"service":  "crosstalk-relay",
			"sessions": relayServer.ActiveSessions(),
		})
	})

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// WebSocket relay endpoint
	e.GET("/ws", relayServer.HandleWebSocket)

	// API v1 routes
	v1 := e.Group("/api/v1")

	v1.POST("/translate", func(c echo.Context) error {
		return handleTranslate(c, translator, m, logger)
	})

	v1.POST("/summarize", func(c echo.Context) error {
		return handleSummarize(c, summarizer, logger)
	})

	v1.GET("/presets", getPresets)
}

// handleSummarize condenses a posted conversation log into an English
// summary.
func handleSummarize(c echo.Context, summarizer repositories.Summarizer, logger *zap.Logger) error {
	var req SummarizeRequest
	if err := c.Bind(&req); err != nil {
		logger.Error("Failed to bind summarize request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	if len(req.Messages) == 0 {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "A non-empty messages array is required",
		})
	}

	summary, err := summarizer.Summarize(c.Request().Context(), req.Messages)
	if err != nil {
		logger.Error("Summarize failed", zap.Error(err))
		return c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "summarize_failed",
			Message: err.Error(),
		})
	}

	return c.JSON(http.StatusOK, SummarizeResponse{Summary: summary})
}

// handleTranslate proxies one translation request to the translator so the
// provider credential never leaves the server.
func handleTranslate(c echo.Context, translator repositories.Translator, m *metrics.Metrics, logger *zap.Logger) error {
	var req TranslateRequest
	if err := c.Bind(&req); err != nil {
		logger.Error("Failed to bind translate request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	if req.Text == "" || (req.TargetLanguage == "" && len(req.Languages) != 2) {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "Text and either target_language or two languages are required",
		})
	}

	m.TranslationRequests.Inc()
	start := time.Now()

	result, err := translator.Translate(c.Request().Context(), repositories.TranslationRequest{
		Text:           req.Text,
		Languages:      req.Languages,
		TargetLanguage: req.TargetLanguage,
		Domain:         req.Domain,
	})
	m.TranslationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		m.TranslationFailures.Inc()
		logger.Error("Translation failed", zap.Error(err))
		return c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "translation_failed",
			Message: err.Error(),
		})
	}

	detected := result.DetectedLanguage
	if detected == "" {
		detected = req.SourceLanguage
	}

	return c.JSON(http.StatusOK, TranslateResponse{
		Translation:      result.Translated,
		DetectedLanguage: detected,
		SourceLanguage:   req.SourceLanguage,
		TargetLanguage:   req.TargetLanguage,
		Timestamp:        time.Now().UnixMilli(),
		Status:           "success",
	})
}

// presetView is the wire shape of a conversation preset.
type presetView struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Left      string `json:"left_language"`
	Right     string `json:"right_language"`
	SilenceMs int64  `json:"silence_ms"`
	AutoSpeak bool   `json:"auto_speak"`
	Domain    string `json:"domain"`
}

// getPresets lists the built-in conversation scenarios.
func getPresets(c echo.Context) error {
	out := make([]presetView, 0, len(entities.Presets))
	for _, p := range entities.Presets {
		out = append(out, presetView{
			ID:        p.ID,
			Label:     p.Label,
			Left:      p.Languages.Left,
			Right:     p.Languages.Right,
			SilenceMs: p.Silence.Milliseconds(),
			AutoSpeak: p.AutoSpeak,
			Domain:    p.Domain,
		})
	}
	return c.JSON(http.StatusOK, out)
}
