package entities

import (
	"sync"
	"time"
)

// Side identifies one of the two conversation participants.
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// Other returns the opposite side.
func (s Side) Other() Side {
	if s == SideLeft {
		return SideRight
	}
	return SideLeft
}

// FailedTranslationMarker is stored in Message.Translated when the
// translation call for a committed utterance fails. Utterances are never
// silently dropped.
const FailedTranslationMarker = "[failed]"

// Message is the final conversation-visible unit, created once the
// translation for a committed utterance resolves. Immutable afterward.
type Message struct {
	ID             uint64        `json:"id"`
	Original       string        `json:"original"`
	Translated     string        `json:"translated"`
	SourceLanguage string        `json:"source_language"`
	TargetLanguage string        `json:"target_language"`
	Speaker        Side          `json:"speaker"`
	Timestamp      time.Time     `json:"timestamp"`
	Confidence     float64       `json:"confidence"`
	Latency        time.Duration `json:"latency,omitempty"`
	Failed         bool          `json:"failed,omitempty"`
}

// PendingCommit is a committed utterance whose translation has not resolved
// yet. Created when the silence timer fires, destroyed when the matching
// translation result or failure arrives.
type PendingCommit struct {
	ID          uint64
	Text        string
	Language    string
	Provisional Side
	CreatedAt   time.Time
}

// ConversationLog is an insertion-ordered, append-only log of Messages.
// Safe for concurrent use.
type ConversationLog struct {
	mu       sync.RWMutex
	messages []Message
	lastID   uint64
}

// NewConversationLog creates an empty conversation log.
func NewConversationLog() *ConversationLog {
	return &ConversationLog{}
}

// Append adds a finalized message. Ids must be strictly increasing; an id at
// or below the last appended one indicates a duplicate resolution and is
// rejected.
func (l *ConversationLog) Append(msg Message) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if msg.ID <= l.lastID {
		return false
	}
	l.lastID = msg.ID
	l.messages = append(l.messages, msg)
	return true
}

// Messages returns a snapshot of the log in insertion order.
func (l *ConversationLog) Messages() []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Len returns the number of logged messages.
func (l *ConversationLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}
