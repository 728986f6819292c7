package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/crosstalk/relay/adapters/translate"
	"github.com/crosstalk/relay/adapters/tts"
	"github.com/crosstalk/relay/domain/entities"
	"github.com/crosstalk/relay/internal/capture"
	"github.com/crosstalk/relay/internal/segmenter"
)

func main() {
	var (
		relayURL     = flag.String("relay", "ws://localhost:8080/ws", "relay WebSocket endpoint")
		translateURL = flag.String("translate-url", "http://localhost:8080/api/v1/translate", "relay translation endpoint")
		input        = flag.String("input", "", "audio file to stream (.wav or raw s16le mono 16kHz)")
		presetID     = flag.String("preset", "", "conversation preset id (healthcare, emergency, ...)")
		left         = flag.String("left", "nl", "left side language code")
		right        = flag.String("right", "en", "right side language code")
		silence      = flag.Duration("silence", segmenter.DefaultSilence, "silence timeout ending an utterance")
		domain       = flag.String("domain", "", "terminology hint for translation")
		adopt        = flag.Bool("adopt-language", false, "adopt detected languages for the conversation sides")
		speak        = flag.Bool("speak", false, "synthesize translated messages (needs ELEVENLABS_API_KEY)")
		speakDir     = flag.String("speak-dir", ".", "directory for synthesized audio files")
		realtime     = flag.Bool("realtime", true, "pace file input at the live microphone cadence")
	)
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	if *input == "" {
		fmt.Fprintln(os.Stderr, "usage: client -input conversation.wav [-relay ws://...]")
		os.Exit(2)
	}

	languages := entities.LanguagePair{Left: *left, Right: *right}
	autoSpeak := *speak
	if *presetID != "" {
		preset, err := entities.PresetByID(*presetID)
		if err != nil {
			logger.Fatal("Unknown preset", zap.Error(err))
		}
		languages = preset.Languages
		*silence = preset.Silence
		*domain = preset.Domain
		autoSpeak = autoSpeak || preset.AutoSpeak
	}

	source, closeSource, err := openSource(*input)
	if err != nil {
		logger.Fatal("Cannot open audio input", zap.Error(err))
	}
	defer closeSource()

	log := entities.NewConversationLog()
	engine := segmenter.New(segmenter.Config{
		Languages:             languages,
		Silence:               *silence,
		AdoptDetectedLanguage: *adopt,
		Domain:                *domain,
	}, translate.NewHTTPClient(*translateURL, 0), log, logger)
	defer engine.Stop()

	mic := capture.New(capture.Config{
		RelayURL: *relayURL,
		Source:   source,
		Realtime: *realtime,
	}, logger)

	ctx := context.Background()
	if err := mic.Start(ctx); err != nil {
		logger.Fatal("Cannot start capture", zap.Error(err))
	}
	defer mic.Stop()

	var speaker *tts.ElevenLabs
	if autoSpeak {
		if key := os.Getenv("ELEVENLABS_API_KEY"); key != "" {
			speaker, err = tts.NewElevenLabs(tts.ElevenLabsConfig{
				APIKey:  key,
				VoiceID: os.Getenv("ELEVENLABS_VOICE_ID"),
			}, logger)
			if err != nil {
				logger.Warn("Speech synthesis disabled", zap.Error(err))
			}
		} else {
			logger.Warn("Speech synthesis requested but ELEVENLABS_API_KEY is not set")
		}
	}

	printed := 0
	for ev := range mic.Events() {
		engine.HandleEvent(ev)
		if live, side := engine.Live(); live != "" {
			fmt.Printf("\r[%s] %s", side, live)
		}
		printed = printNew(ctx, log, printed, speaker, *speakDir, logger)
	}

	// The stream is over; give in-flight translations a moment to land.
	deadline := time.Now().Add(20 * time.Second)
	for time.Now().Before(deadline) {
		printed = printNew(ctx, log, printed, speaker, *speakDir, logger)
		if engine.Pending() == 0 {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	printNew(ctx, log, printed, speaker, *speakDir, logger)
}

// openSource picks a decoder by file extension.
func openSource(path string) (capture.Source, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", capture.ErrDeviceUnavailable, err)
	}
	closeFn := func() { f.Close() }

	if strings.EqualFold(filepath.Ext(path), ".wav") {
		src, err := capture.NewWAVSource(f)
		if err != nil {
			f.Close()
			return nil, nil, err
		}
		return src, closeFn, nil
	}
	return capture.NewRawPCMSource(f), closeFn, nil
}

// printNew prints conversation messages added since the last call and
// optionally synthesizes them.
func printNew(ctx context.Context, log *entities.ConversationLog, printed int, speaker *tts.ElevenLabs, dir string, logger *zap.Logger) int {
	msgs := log.Messages()
	for _, msg := range msgs[printed:] {
		fmt.Printf("\r#%d [%s %s→%s] %s\n    %s\n",
			msg.ID, msg.Speaker, msg.SourceLanguage, msg.TargetLanguage, msg.Original, msg.Translated)
		if speaker != nil && !msg.Failed {
			speakMessage(ctx, speaker, msg, dir, logger)
		}
	}
	return len(msgs)
}

func speakMessage(ctx context.Context, speaker *tts.ElevenLabs, msg entities.Message, dir string, logger *zap.Logger) {
	audio, err := speaker.ConvertTextToSpeech(ctx, msg.Translated, msg.TargetLanguage)
	if err != nil {
		logger.Warn("Speech synthesis failed", zap.Uint64("messageID", msg.ID), zap.Error(err))
		return
	}

	path := filepath.Join(dir, fmt.Sprintf("message_%d.pcm", msg.ID))
	f, err := os.Create(path)
	if err != nil {
		logger.Warn("Cannot write audio file", zap.Error(err))
		for range audio {
		}
		return
	}
	defer f.Close()

	for chunk := range audio {
		f.Write(chunk)
	}
	logger.Info("Synthesized message", zap.Uint64("messageID", msg.ID), zap.String("file", path))
}
