package entities

import "strings"

// LanguagePair holds the two configured conversation languages as ISO 639
// codes. Codes may differ in length from what the transcription service
// detects ("nl" configured, "nld" detected), so matching falls back to prefix
// comparison in either direction.
type LanguagePair struct {
	Left  string
	Right string
}

// DetermineSpeaker maps a detected or hinted language code to a conversation
// side. Exact match wins, then prefix match in either direction, and an
// ambiguous code deterministically attributes to the left side.
func (p LanguagePair) DetermineSpeaker(lang string) Side {
	lang = strings.ToLower(strings.TrimSpace(lang))
	left := strings.ToLower(p.Left)
	right := strings.ToLower(p.Right)

	if lang == "" {
		return SideLeft
	}
	if lang == left {
		return SideLeft
	}
	if lang == right {
		return SideRight
	}
	if prefixMatch(lang, left) {
		return SideLeft
	}
	if prefixMatch(lang, right) {
		return SideRight
	}
	return SideLeft
}

// Language returns the configured language for a side.
func (p LanguagePair) Language(s Side) string {
	if s == SideLeft {
		return p.Left
	}
	return p.Right
}

// TargetFor returns the language the given speaker's utterances translate
// into, i.e. the other side's language.
func (p LanguagePair) TargetFor(speaker Side) string {
	return p.Language(speaker.Other())
}

// WithLanguage returns a copy of the pair with one side's language replaced.
func (p LanguagePair) WithLanguage(s Side, lang string) LanguagePair {
	if s == SideLeft {
		p.Left = lang
	} else {
		p.Right = lang
	}
	return p
}

// Codes returns both languages, left first.
func (p LanguagePair) Codes() []string {
	return []string{p.Left, p.Right}
}

func prefixMatch(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.HasPrefix(a, b) || strings.HasPrefix(b, a)
}
