// Package config provides the configuration schema, loader, and provider
// registry for the Voxa voice assistant.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Platform selects where recognition and synthesis happen.
type Platform string

const (
	// PlatformConsole reads typed lines as transcripts and prints replies.
	PlatformConsole Platform = "console"

	// PlatformSpeech runs the configured STT and TTS providers on PCM audio.
	PlatformSpeech Platform = "speech"

	// PlatformBrowser serves a page that uses the browser's speech services.
	PlatformBrowser Platform = "browser"
)

// IsValid reports whether p is a recognised platform.
func (p Platform) IsValid() bool {
	switch p {
	case PlatformConsole, PlatformSpeech, PlatformBrowser:
		return true
	}
	return false
}

// StdioPath is the audio path that selects standard input or output.
const StdioPath = "-"

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Platform  Platform        `yaml:"platform"`
	Assistant AssistantConfig `yaml:"assistant"`
	Providers ProvidersConfig `yaml:"providers"`
	Audio     AudioConfig     `yaml:"audio"`
	Browser   BrowserConfig   `yaml:"browser"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the HTTP server (e.g., ":8080").
	// Empty disables the server, except on the browser platform which
	// defaults to ":8080".
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// TraceSampleRatio is the fraction of traces sampled, in [0, 1].
	// Zero samples every trace.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS. Browsers only
// grant microphone access to secure origins, so remote browser clients
// need it.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// AssistantConfig holds the recognition and synthesis settings. All of it can
// be changed while running.
type AssistantConfig struct {
	// Language is the recognition locale. Defaults to "en-US".
	Language string `yaml:"language"`

	// PreferredVoiceLocale is matched as a substring against voice locales.
	// Defaults to "en".
	PreferredVoiceLocale string `yaml:"preferred_voice_locale"`

	// Volume in [0, 1]. Zero means the default of 1.
	Volume float64 `yaml:"volume"`

	// Rate in [0.1, 10]. Zero means the default of 1.
	Rate float64 `yaml:"rate"`

	// Pitch in [0, 2]. Zero means the default of 1.
	Pitch float64 `yaml:"pitch"`

	// CorrectKeywords repairs misheard keywords ("whether" for "weather")
	// before intent matching. The log still shows what was heard.
	CorrectKeywords bool `yaml:"correct_keywords"`
}

// ProvidersConfig declares which provider implementation to use for each
// speech service on the speech platform. Each field selects a named provider
// registered in the [Registry].
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`
	TTS ProviderEntry `yaml:"tts"`

	// STTFallbacks and TTSFallbacks are tried in order when the primary
	// provider fails to start a request.
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`
	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks"`

	// Failover tunes the circuit breaker kept per provider.
	Failover FailoverConfig `yaml:"failover"`
}

// FailoverConfig tunes provider circuit breakers. Zero values take the
// breaker defaults.
type FailoverConfig struct {
	// MaxFailures is the number of consecutive failures that takes a
	// provider out of rotation.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long a failed provider stays out of rotation
	// (e.g., "30s").
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "whisper", "coqui").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "base.en").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// AudioConfig describes the PCM streams of the speech platform.
type AudioConfig struct {
	// Input is the capture path: a raw PCM or WAV file, a FIFO, or "-" for
	// standard input. Defaults to "-".
	Input string `yaml:"input"`

	// Output is the playback path, or "-" for standard output. Defaults to "-".
	Output string `yaml:"output"`

	// SampleRate of raw PCM input and of the output stream. Defaults to 16000.
	SampleRate int `yaml:"sample_rate"`

	// FrameMs is the capture frame length in milliseconds. Defaults to 20.
	FrameMs int `yaml:"frame_ms"`
}

// BrowserConfig configures the browser platform.
type BrowserConfig struct {
	// OriginPatterns lists additional hosts allowed to open the websocket
	// (e.g., "voxa.example.com"). The serving host is always allowed.
	OriginPatterns []string `yaml:"origin_patterns"`
}

// Defaults used when a field is left empty.
const (
	DefaultListenAddr = ":8080"
	DefaultLanguage   = "en-US"
	DefaultVoice      = "en"
	DefaultSampleRate = 16000
	DefaultFrameMs    = 20
)

// ApplyDefaults fills empty fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Platform == "" {
		c.Platform = PlatformConsole
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Platform == PlatformBrowser && c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	a := &c.Assistant
	if a.Language == "" {
		a.Language = DefaultLanguage
	}
	if a.PreferredVoiceLocale == "" {
		a.PreferredVoiceLocale = DefaultVoice
	}
	if a.Volume == 0 {
		a.Volume = 1
	}
	if a.Rate == 0 {
		a.Rate = 1
	}
	if a.Pitch == 0 {
		a.Pitch = 1
	}
	if c.Audio.Input == "" {
		c.Audio.Input = StdioPath
	}
	if c.Audio.Output == "" {
		c.Audio.Output = StdioPath
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = DefaultSampleRate
	}
	if c.Audio.FrameMs == 0 {
		c.Audio.FrameMs = DefaultFrameMs
	}
}
