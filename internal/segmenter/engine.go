package segmenter

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/crosstalk/relay/domain"
	"github.com/crosstalk/relay/domain/entities"
	"github.com/crosstalk/relay/domain/repositories"
)

const (
	// DefaultSilence is the pause length that ends an utterance.
	DefaultSilence = 1500 * time.Millisecond

	// MinSilence and MaxSilence bound operator-supplied timeouts.
	MinSilence = 500 * time.Millisecond
	MaxSilence = 3 * time.Second

	defaultTranslateTimeout = 15 * time.Second

	// defaultConfidence stands in for per-utterance confidence; the
	// realtime transcription protocol does not report one.
	defaultConfidence = 0.95
)

// Config tunes one segmentation engine.
type Config struct {
	// Languages are the two conversation languages.
	Languages entities.LanguagePair
	// Silence is the utterance-boundary timeout, clamped to
	// [MinSilence, MaxSilence]. Zero selects DefaultSilence.
	Silence time.Duration
	// AdoptDetectedLanguage lets a translation's detected source language
	// overwrite the speaker side's configured language when they disagree.
	// Already-logged messages keep their original attribution.
	AdoptDetectedLanguage bool
	// Domain is an optional terminology hint passed to the translator.
	Domain string
	// TranslateTimeout bounds each translation call.
	TranslateTimeout time.Duration
}

// Engine turns a stream of partial-transcript events into discrete,
// speaker-attributed, translated messages. Silence decides utterance
// boundaries; translation runs asynchronously and may resolve out of order,
// but the conversation log always follows commit order.
type Engine struct {
	translator repositories.Translator
	log        *entities.ConversationLog
	logger     *zap.Logger

	silence          time.Duration
	translateTimeout time.Duration
	adoptLanguage    bool
	domain           string

	mu        sync.Mutex
	languages entities.LanguagePair
	acc       string
	lastSeen  string
	liveLang  string
	timer     *time.Timer
	timerGen  uint64
	nextID    uint64
	pending   map[uint64]entities.PendingCommit
	resolved  map[uint64]entities.Message
	nextToLog uint64
	stopped   bool
}

func New(cfg Config, translator repositories.Translator, log *entities.ConversationLog, logger *zap.Logger) *Engine {
	silence := cfg.Silence
	if silence == 0 {
		silence = DefaultSilence
	}
	if silence < MinSilence {
		silence = MinSilence
	}
	if silence > MaxSilence {
		silence = MaxSilence
	}

	timeout := cfg.TranslateTimeout
	if timeout == 0 {
		timeout = defaultTranslateTimeout
	}

	return &Engine{
		translator:       translator,
		log:              log,
		logger:           logger,
		silence:          silence,
		translateTimeout: timeout,
		adoptLanguage:    cfg.AdoptDetectedLanguage,
		domain:           cfg.Domain,
		languages:        cfg.Languages,
		pending:          make(map[uint64]entities.PendingCommit),
		resolved:         make(map[uint64]entities.Message),
		nextToLog:        1,
	}
}

// HandleEvent feeds one transcript event into the engine.
func (e *Engine) HandleEvent(ev domain.TranscriptEvent) {
	switch ev.Type {
	case domain.EventTextDelta:
		e.handleDelta(ev.Text)
	case domain.EventSegment:
		e.handleSegment(ev.Text, ev.Language)
	case domain.EventLanguage:
		e.handleLanguage(ev.Language)
	case domain.EventDone:
		e.CommitNow()
	}
}

// Live returns the in-progress utterance text and its provisional speaker.
func (e *Engine) Live() (string, entities.Side) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.acc, e.languages.DetermineSpeaker(e.liveLang)
}

// Pending returns the number of commits whose translation has not resolved.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending) + len(e.resolved)
}

// Languages returns the current conversation language pair, which may have
// been self-corrected from detection results.
func (e *Engine) Languages() entities.LanguagePair {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.languages
}

// handleDelta appends incremental text to the running utterance and restarts
// the silence timer. A delta identical to the last seen one is ignored so
// upstream repeats do not keep an utterance alive forever.
func (e *Engine) handleDelta(text string) {
	if text == "" {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped || text == e.lastSeen {
		return
	}
	e.lastSeen = text
	e.acc += text
	e.restartTimerLocked()
}

// handleSegment replaces the accumulated delta text with the finalized
// segment, which is authoritative for the utterance so far.
func (e *Engine) handleSegment(text, lang string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	if text != "" {
		e.acc = text
		e.lastSeen = ""
	}
	if lang != "" {
		e.liveLang = lang
	}
	if e.acc != "" {
		e.restartTimerLocked()
	}
}

func (e *Engine) handleLanguage(lang string) {
	if lang == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.stopped {
		e.liveLang = lang
	}
}

// restartTimerLocked arms the silence timer. New text pushes the utterance
// boundary out; bumping the generation invalidates a timer that has already
// fired but not yet taken the lock, so late text is never folded into the
// utterance it was meant to follow.
func (e *Engine) restartTimerLocked() {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timerGen++
	gen := e.timerGen
	e.timer = time.AfterFunc(e.silence, func() { e.commit(gen) })
}

// CommitNow forces the current accumulation to commit without waiting for
// silence. Used at end of stream.
func (e *Engine) CommitNow() {
	e.mu.Lock()
	e.dispatchCommitLocked()
}

// commit is the silence-timer callback. A stale generation means new text
// arrived after this timer fired; that text belongs to the next utterance and
// the commit is abandoned.
func (e *Engine) commit(gen uint64) {
	e.mu.Lock()
	if gen != e.timerGen {
		e.mu.Unlock()
		return
	}
	e.dispatchCommitLocked()
}

// dispatchCommitLocked turns the accumulated text into a PendingCommit and
// dispatches its translation, releasing the lock. Commit order fixes log
// order; translation resolution order does not matter.
func (e *Engine) dispatchCommitLocked() {
	if e.stopped || e.acc == "" {
		e.mu.Unlock()
		return
	}
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.timerGen++

	e.nextID++
	pc := entities.PendingCommit{
		ID:          e.nextID,
		Text:        e.acc,
		Language:    e.liveLang,
		Provisional: e.languages.DetermineSpeaker(e.liveLang),
		CreatedAt:   time.Now(),
	}
	e.pending[pc.ID] = pc
	e.acc = ""
	e.lastSeen = ""
	e.liveLang = ""
	languages := e.languages
	e.mu.Unlock()

	e.logger.Info("Committing utterance",
		zap.Uint64("messageID", pc.ID),
		zap.String("provisionalSpeaker", string(pc.Provisional)))

	go e.translate(pc, languages)
}

func (e *Engine) translate(pc entities.PendingCommit, languages entities.LanguagePair) {
	ctx, cancel := context.WithTimeout(context.Background(), e.translateTimeout)
	defer cancel()

	res, err := e.translator.Translate(ctx, repositories.TranslationRequest{
		Text:      pc.Text,
		Languages: languages.Codes(),
		Domain:    e.domain,
	})
	e.resolve(pc.ID, res, err)
}

// resolve finalizes one PendingCommit into a Message, exactly once per id.
// Messages enter the log in commit order even when translations return out
// of order, so a slow translation for id N holds back N+1's already-resolved
// message until N lands.
func (e *Engine) resolve(id uint64, res repositories.TranslationResult, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pc, ok := e.pending[id]
	if !ok {
		// Already resolved, or the engine was stopped.
		return
	}
	delete(e.pending, id)
	if e.stopped {
		return
	}

	msg := entities.Message{
		ID:         pc.ID,
		Original:   pc.Text,
		Timestamp:  pc.CreatedAt,
		Confidence: defaultConfidence,
		Latency:    time.Since(pc.CreatedAt),
	}

	if err != nil {
		e.logger.Warn("Translation failed",
			zap.Uint64("messageID", pc.ID),
			zap.Error(err))
		msg.Translated = entities.FailedTranslationMarker
		msg.Failed = true
		msg.Speaker = pc.Provisional
		msg.SourceLanguage = pc.Language
		msg.TargetLanguage = e.languages.TargetFor(pc.Provisional)
	} else {
		speaker := e.languages.DetermineSpeaker(res.DetectedLanguage)
		msg.Translated = res.Translated
		msg.Speaker = speaker
		msg.SourceLanguage = res.DetectedLanguage
		msg.TargetLanguage = e.languages.TargetFor(speaker)

		if e.adoptLanguage && res.DetectedLanguage != "" &&
			res.DetectedLanguage != e.languages.Language(speaker) {
			e.languages = e.languages.WithLanguage(speaker, res.DetectedLanguage)
			e.logger.Info("Adopting detected language",
				zap.String("side", string(speaker)),
				zap.String("language", res.DetectedLanguage))
		}
	}

	e.resolved[id] = msg
	e.drainLocked()
}

// drainLocked appends resolved messages while the next commit id is ready.
func (e *Engine) drainLocked() {
	for {
		msg, ok := e.resolved[e.nextToLog]
		if !ok {
			return
		}
		delete(e.resolved, e.nextToLog)
		e.nextToLog++
		if !e.log.Append(msg) {
			e.logger.Error("Duplicate message id rejected by log",
				zap.Uint64("messageID", msg.ID))
		}
	}
}

// Stop cancels the silence timer and discards the unfired accumulation.
// Translations already in flight are allowed to finish but their results are
// discarded.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	e.stopped = true
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.acc = ""
	e.lastSeen = ""
	e.pending = make(map[uint64]entities.PendingCommit)
	e.resolved = make(map[uint64]entities.Message)
}
