package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// EnvOverrides are environment variables that take precedence over the
// YAML file. Unset or empty variables leave the file's value alone.
type EnvOverrides struct {
	Platform   string `env:"VOXA_PLATFORM"`
	LogLevel   string `env:"VOXA_LOG_LEVEL"`
	ListenAddr string `env:"VOXA_LISTEN_ADDR"`
	Language   string `env:"VOXA_LANGUAGE"`
	Voice      string `env:"VOXA_VOICE"`
	STTAPIKey  string `env:"VOXA_STT_API_KEY"`
	STTBaseURL string `env:"VOXA_STT_BASE_URL"`
	TTSAPIKey  string `env:"VOXA_TTS_API_KEY"`
	TTSBaseURL string `env:"VOXA_TTS_BASE_URL"`
}

// ApplyEnv overlays the VOXA_* variables onto c. When environ is nil the
// process environment is read.
func (c *Config) ApplyEnv(environ map[string]string) error {
	var o EnvOverrides
	var err error
	if environ == nil {
		err = env.Parse(&o)
	} else {
		err = env.ParseWithOptions(&o, env.Options{Environment: environ})
	}
	if err != nil {
		return fmt.Errorf("config: parse environment: %w", err)
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	if o.Platform != "" {
		c.Platform = Platform(o.Platform)
	}
	if o.LogLevel != "" {
		c.Server.LogLevel = LogLevel(o.LogLevel)
	}
	set(&c.Server.ListenAddr, o.ListenAddr)
	set(&c.Assistant.Language, o.Language)
	set(&c.Assistant.PreferredVoiceLocale, o.Voice)
	set(&c.Providers.STT.APIKey, o.STTAPIKey)
	set(&c.Providers.STT.BaseURL, o.STTBaseURL)
	set(&c.Providers.TTS.APIKey, o.TTSAPIKey)
	set(&c.Providers.TTS.BaseURL, o.TTSBaseURL)
	return nil
}

// withEnv overlays the process environment onto cfg and re-validates it.
func withEnv(cfg *Config) (*Config, error) {
	if err := cfg.ApplyEnv(nil); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
