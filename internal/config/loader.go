package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[Kind][]string{
	KindSTT: {"deepgram", "whisper"},
	KindTTS: {"coqui", "elevenlabs"},
}

// Load reads the YAML configuration file at path, overlays the VOXA_*
// environment variables and returns a validated [Config] with defaults
// applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return withEnv(cfg)
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if r := cfg.Server.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("server.trace_sample_ratio %.2f is out of range [0, 1]", r))
	}

	// Platform
	if cfg.Platform != "" && !cfg.Platform.IsValid() {
		errs = append(errs, fmt.Errorf("platform %q is invalid; valid values: console, speech, browser", cfg.Platform))
	}

	// Assistant
	a := cfg.Assistant
	if a.Volume < 0 || a.Volume > 1 {
		errs = append(errs, fmt.Errorf("assistant.volume %.2f is out of range [0, 1]", a.Volume))
	}
	if a.Rate != 0 && (a.Rate < 0.1 || a.Rate > 10) {
		errs = append(errs, fmt.Errorf("assistant.rate %.2f is out of range [0.1, 10]", a.Rate))
	}
	if a.Pitch < 0 || a.Pitch > 2 {
		errs = append(errs, fmt.Errorf("assistant.pitch %.2f is out of range [0, 2]", a.Pitch))
	}

	// Unknown provider names only warn.
	validateProviderName(KindSTT, cfg.Providers.STT.Name)
	validateProviderName(KindTTS, cfg.Providers.TTS.Name)
	for i, fb := range cfg.Providers.STTFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
		}
		validateProviderName(KindSTT, fb.Name)
	}
	for i, fb := range cfg.Providers.TTSFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.tts_fallbacks[%d].name is required", i))
		}
		validateProviderName(KindTTS, fb.Name)
	}
	if (len(cfg.Providers.STTFallbacks) > 0 && cfg.Providers.STT.Name == "") ||
		(len(cfg.Providers.TTSFallbacks) > 0 && cfg.Providers.TTS.Name == "") {
		errs = append(errs, errors.New("provider fallbacks require a primary provider of the same kind"))
	}
	if f := cfg.Providers.Failover; f.MaxFailures < 0 || f.ResetTimeout < 0 {
		errs = append(errs, errors.New("providers.failover values must not be negative"))
	}

	// Platform ↔ provider cross-validation
	if cfg.Platform == PlatformSpeech {
		if cfg.Providers.STT.Name == "" {
			errs = append(errs, errors.New("platform \"speech\" requires an STT provider but providers.stt is not configured"))
		}
		if cfg.Providers.TTS.Name == "" {
			slog.Warn("providers.tts is not configured; replies will be text-only")
		}
	} else if cfg.Providers.STT.Name != "" || cfg.Providers.TTS.Name != "" {
		slog.Warn("providers are only used by the speech platform", "platform", cfg.Platform)
	}

	// Audio
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must not be negative", cfg.Audio.SampleRate))
	}
	if cfg.Audio.FrameMs < 0 || cfg.Audio.FrameMs > 1000 {
		errs = append(errs, fmt.Errorf("audio.frame_ms %d is out of range [0, 1000]", cfg.Audio.FrameMs))
	}
	if cfg.Platform == PlatformSpeech && cfg.Audio.Input == StdioPath && cfg.Audio.Output == StdioPath {
		slog.Debug("speech platform uses stdin and stdout for audio; recognition is triggered over HTTP only")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind Kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
