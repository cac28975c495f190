package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader loads configuration from an optional YAML file followed by
// environment variable overrides. Tests can override Lookup to inject
// deterministic maps instead of the real environment.
type Loader struct {
	Lookup func(string) (string, bool)
}

// Load builds a Config. If VOICE_CLIENT_CONFIG_FILE names a readable
// file, it is decoded first (gopkg.in/yaml.v3, grounded on
// MrWong99-glyphoxa's loader.go); VOICE_CLIENT_CONFIG and the scalar
// VOICE_* variables are then applied on top, env always winning.
func (l Loader) Load() (Config, error) {
	if l.Lookup == nil {
		l.Lookup = os.LookupEnv
	}

	cfg := Config{
		DefaultLang:      DefaultLang,
		DefaultCodec:     DefaultCodec,
		OperationTimeout: DefaultOperationTimeout,
		SendTimeout:      DefaultSendTimeout,
		LogLevel:         DefaultLogLevel,
	}

	if path, ok := l.Lookup("VOICE_CLIENT_CONFIG_FILE"); ok && strings.TrimSpace(path) != "" {
		if err := applyYAMLFile(strings.TrimSpace(path), &cfg); err != nil {
			return Config{}, err
		}
	}

	if raw, ok := l.Lookup("VOICE_CLIENT_CONFIG"); ok && strings.TrimSpace(raw) != "" {
		if err := applyJSON(raw, &cfg); err != nil {
			return Config{}, err
		}
	}

	overrideString(l.Lookup, "VOICE_TRANSPORT_URL", &cfg.TransportURL)
	overrideString(l.Lookup, "VOICE_AUTH_TOKEN", &cfg.AuthToken)
	overrideString(l.Lookup, "VOICE_DEFAULT_LANG", &cfg.DefaultLang)
	overrideString(l.Lookup, "VOICE_DEFAULT_CODEC", &cfg.DefaultCodec)
	overrideString(l.Lookup, "VOICE_LOG_LEVEL", &cfg.LogLevel)
	overrideString(l.Lookup, "VOICE_SENTRY_DSN", &cfg.SentryDSN)
	overrideString(l.Lookup, "VOICE_SENTRY_ENVIRONMENT", &cfg.SentryEnv)
	overrideString(l.Lookup, "VOICE_OTEL_ENDPOINT", &cfg.OTelEndpoint)
	if err := overrideDuration(l.Lookup, "VOICE_OPERATION_TIMEOUT_MS", &cfg.OperationTimeout); err != nil {
		return Config{}, err
	}
	if err := overrideDuration(l.Lookup, "VOICE_SEND_TIMEOUT_MS", &cfg.SendTimeout); err != nil {
		return Config{}, err
	}
	if err := overrideBool(l.Lookup, "VOICE_CLOUD_VAD_ENABLED", &cfg.CloudVADEnabled); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyYAMLFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()
	return applyYAML(f, cfg)
}

func applyYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var fromFile Config
	if err := dec.Decode(&fromFile); err != nil {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	mergeNonZero(cfg, fromFile)
	return nil
}

func mergeNonZero(dst *Config, src Config) {
	if src.TransportURL != "" {
		dst.TransportURL = src.TransportURL
	}
	if src.AuthToken != "" {
		dst.AuthToken = src.AuthToken
	}
	if src.DefaultLang != "" {
		dst.DefaultLang = src.DefaultLang
	}
	if src.DefaultCodec != "" {
		dst.DefaultCodec = src.DefaultCodec
	}
	if src.OperationTimeout != 0 {
		dst.OperationTimeout = src.OperationTimeout
	}
	if src.SendTimeout != 0 {
		dst.SendTimeout = src.SendTimeout
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if src.SentryDSN != "" {
		dst.SentryDSN = src.SentryDSN
	}
	if src.SentryEnv != "" {
		dst.SentryEnv = src.SentryEnv
	}
	if src.OTelEndpoint != "" {
		dst.OTelEndpoint = src.OTelEndpoint
	}
	dst.CloudVADEnabled = dst.CloudVADEnabled || src.CloudVADEnabled
}

func applyJSON(raw string, cfg *Config) error {
	type jsonConfig struct {
		TransportURL     string `json:"transport_url"`
		AuthToken        string `json:"auth_token"`
		DefaultLang      string `json:"default_lang"`
		DefaultCodec     string `json:"default_codec"`
		OperationTimeoutMs *int `json:"operation_timeout_ms"`
		SendTimeoutMs      *int `json:"send_timeout_ms"`
		LogLevel         string `json:"log_level"`
		CloudVADEnabled  *bool  `json:"cloud_vad_enabled"`
		SentryDSN        string `json:"sentry_dsn"`
		SentryEnv        string `json:"sentry_environment"`
		OTelEndpoint     string `json:"otel_endpoint"`
	}
	var payload jsonConfig
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return fmt.Errorf("config: decode VOICE_CLIENT_CONFIG: %w", err)
	}
	if payload.TransportURL != "" {
		cfg.TransportURL = payload.TransportURL
	}
	if payload.AuthToken != "" {
		cfg.AuthToken = payload.AuthToken
	}
	if payload.DefaultLang != "" {
		cfg.DefaultLang = payload.DefaultLang
	}
	if payload.DefaultCodec != "" {
		cfg.DefaultCodec = payload.DefaultCodec
	}
	if payload.OperationTimeoutMs != nil {
		cfg.OperationTimeout = time.Duration(*payload.OperationTimeoutMs) * time.Millisecond
	}
	if payload.SendTimeoutMs != nil {
		cfg.SendTimeout = time.Duration(*payload.SendTimeoutMs) * time.Millisecond
	}
	if payload.LogLevel != "" {
		cfg.LogLevel = payload.LogLevel
	}
	if payload.CloudVADEnabled != nil {
		cfg.CloudVADEnabled = *payload.CloudVADEnabled
	}
	if payload.SentryDSN != "" {
		cfg.SentryDSN = payload.SentryDSN
	}
	if payload.SentryEnv != "" {
		cfg.SentryEnv = payload.SentryEnv
	}
	if payload.OTelEndpoint != "" {
		cfg.OTelEndpoint = payload.OTelEndpoint
	}
	return nil
}

func overrideString(lookup func(string) (string, bool), key string, target *string) {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}

func overrideDuration(lookup func(string) (string, bool), key string, target *time.Duration) error {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return nil
	}
	ms, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("config: invalid value for %s: %w", key, err)
	}
	*target = time.Duration(ms) * time.Millisecond
	return nil
}

func overrideBool(lookup func(string) (string, bool), key string, target *bool) error {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("config: invalid value for %s: %w", key, err)
	}
	*target = parsed
	return nil
}
