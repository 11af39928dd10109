package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	// AssistantChanged is true when any recognition or synthesis setting
	// changed. These apply to the next attempt without a restart.
	AssistantChanged bool

	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired lists the changed keys that only take effect after a
	// restart (e.g., "platform", "providers.tts").
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.AssistantChanged = old.Assistant != new.Assistant

	restart := func(key string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, key)
		}
	}
	restart("platform", old.Platform != new.Platform)
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.tls", !tlsEqual(old.Server.TLS, new.Server.TLS))
	restart("server.trace_sample_ratio", old.Server.TraceSampleRatio != new.Server.TraceSampleRatio)
	restart("providers.stt", !providerEqual(old.Providers.STT, new.Providers.STT))
	restart("providers.tts", !providerEqual(old.Providers.TTS, new.Providers.TTS))
	restart("providers.stt_fallbacks", !slices.EqualFunc(old.Providers.STTFallbacks, new.Providers.STTFallbacks, providerEqual))
	restart("providers.tts_fallbacks", !slices.EqualFunc(old.Providers.TTSFallbacks, new.Providers.TTSFallbacks, providerEqual))
	restart("providers.failover", old.Providers.Failover != new.Providers.Failover)
	restart("audio", old.Audio != new.Audio)
	restart("browser.origin_patterns", !slices.Equal(old.Browser.OriginPatterns, new.Browser.OriginPatterns))

	return d
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func providerEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL &&
		a.Model == b.Model && reflect.DeepEqual(a.Options, b.Options)
}
