package repositories

import "context"

// TextToSpeech renders text into audio, streamed as chunks on the returned
// channel. The channel is closed when synthesis completes or fails.
type TextToSpeech interface {
	ConvertTextToSpeech(ctx context.Context, text string, languageCode string) (<-chan []byte, error)
}
