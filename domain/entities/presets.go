package entities

import (
	"fmt"
	"time"
)

// Preset bundles the conversation settings for a common deployment scenario:
// the two languages, how long a pause ends an utterance, whether translated
// text is spoken aloud automatically, and a domain hint passed to the
// translator for terminology.
type Preset struct {
	ID        string
	Label     string
	Languages LanguagePair
	Silence   time.Duration
	AutoSpeak bool
	Domain    string
}

// Presets lists the built-in conversation presets.
var Presets = []Preset{
	{ID: "healthcare", Label: "Healthcare", Languages: LanguagePair{Left: "nl", Right: "ar"}, Silence: 2 * time.Second, AutoSpeak: true, Domain: "medical/healthcare"},
	{ID: "immigration", Label: "Immigration", Languages: LanguagePair{Left: "nl", Right: "ar"}, Silence: 1500 * time.Millisecond, AutoSpeak: false, Domain: "legal/immigration/bureaucratic"},
	{ID: "hospitality", Label: "Hospitality", Languages: LanguagePair{Left: "en", Right: "es"}, Silence: 1500 * time.Millisecond, AutoSpeak: false, Domain: "hospitality/hotel/restaurant"},
	{ID: "emergency", Label: "Emergency", Languages: LanguagePair{Left: "en", Right: "es"}, Silence: 800 * time.Millisecond, AutoSpeak: true, Domain: "emergency/911/urgent medical"},
	{ID: "education", Label: "Education", Languages: LanguagePair{Left: "en", Right: "zh"}, Silence: 2 * time.Second, AutoSpeak: false, Domain: "education/academic/classroom"},
	{ID: "business", Label: "Business", Languages: LanguagePair{Left: "en", Right: "de"}, Silence: 1500 * time.Millisecond, AutoSpeak: false, Domain: "business/corporate/formal"},
	{ID: "travel", Label: "Travel", Languages: LanguagePair{Left: "en", Right: "fr"}, Silence: 1200 * time.Millisecond, AutoSpeak: true, Domain: "travel/tourism/directions"},
	{ID: "elderly", Label: "Elderly Care", Languages: LanguagePair{Left: "nl", Right: "tr"}, Silence: 2500 * time.Millisecond, AutoSpeak: true, Domain: "healthcare/elderly care/simple language"},
}

// PresetByID looks up a built-in preset.
func PresetByID(id string) (Preset, error) {
	for _, p := range Presets {
		if p.ID == id {
			return p, nil
		}
	}
	return Preset{}, fmt.Errorf("unknown preset %q", id)
}
