package session

// Settings are the recognition and synthesis parameters. They can be replaced
// at runtime with an EventSettingsChanged.
type Settings struct {
	// Language is the recognition locale.
	Language string
	// PreferredVoice is the locale fragment voices are matched against.
	PreferredVoice string
	// Volume, Rate and Pitch are passed to the synthesizer; 1 is neutral.
	Volume float64
	Rate   float64
	Pitch  float64
	// CorrectKeywords repairs misheard keywords before intent matching.
	CorrectKeywords bool
}

// DefaultSettings returns en-US recognition, English voices and neutral
// prosody.
func DefaultSettings() Settings {
	return Settings{
		Language:       "en-US",
		PreferredVoice: "en",
		Volume:         1,
		Rate:           1,
		Pitch:          1,
	}
}

// withDefaults fills zero fields from DefaultSettings.
func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.Language == "" {
		s.Language = d.Language
	}
	if s.PreferredVoice == "" {
		s.PreferredVoice = d.PreferredVoice
	}
	if s.Volume == 0 {
		s.Volume = d.Volume
	}
	if s.Rate == 0 {
		s.Rate = d.Rate
	}
	if s.Pitch == 0 {
		s.Pitch = d.Pitch
	}
	return s
}
