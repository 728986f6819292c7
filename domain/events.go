package domain

import "encoding/json"

// EventType identifies a relay-to-client transcript event.
type EventType string

const (
	EventSessionCreated EventType = "session.created"
	EventTextDelta      EventType = "text_delta"
	EventLanguage       EventType = "language"
	EventSegment        EventType = "segment"
	EventDone           EventType = "done"
	EventError          EventType = "error"
)

// TranscriptEvent is a single event on the relay-to-client stream. Which
// fields are meaningful depends on Type: TextDelta carries Text, Language
// carries Language, Segment carries Text/Language/Start/End, Error carries
// Error. Start and End are segment boundaries in seconds.
type TranscriptEvent struct {
	Type     EventType `json:"type"`
	Text     string    `json:"text,omitempty"`
	Language string    `json:"language,omitempty"`
	Start    float64   `json:"start,omitempty"`
	End      float64   `json:"end,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// ControlType identifies a client-to-relay control command.
type ControlType string

const (
	ControlFlush ControlType = "flush"
	ControlEnd   ControlType = "end"
)

// ControlMessage is a single-line JSON control command sent by the client on
// the text channel. Binary frames carry raw PCM audio and need no envelope.
type ControlMessage struct {
	Type ControlType `json:"type"`
}

// ParseTranscriptEvent decodes a relay text frame into a TranscriptEvent.
func ParseTranscriptEvent(data []byte) (TranscriptEvent, error) {
	var ev TranscriptEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return TranscriptEvent{}, err
	}
	return ev, nil
}
