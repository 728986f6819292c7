package upstream

// Kind discriminates the events a transcription session can emit.
type Kind int

const (
	// SessionReady signals that the upstream session is established and
	// configured; audio may flow.
	SessionReady Kind = iota + 1
	// TextDelta carries an incremental transcript update.
	TextDelta
	// LanguageDetected carries the language the upstream identified. It can
	// arrive independently of any text event.
	LanguageDetected
	// Segment marks a finalized utterance boundary with timing metadata.
	Segment
	// Done signals the upstream considers the session finished.
	Done
	// ErrorEvent carries an upstream-reported error. Not necessarily fatal;
	// the session may keep producing valid events afterwards.
	ErrorEvent
)

// Event is one upstream transcription event, already translated out of the
// wire format. Start and End are segment boundaries in seconds.
type Event struct {
	Kind     Kind
	Text     string
	Language string
	Start    float64
	End      float64
	Err      string
}
