package config

import (
	"fmt"
	"time"
)

const (
	DefaultLang             = "zh"
	DefaultCodec            = "pcm"
	DefaultOperationTimeout = 5 * time.Second
	DefaultLogLevel         = "info"
	DefaultSendTimeout      = 10 * time.Second
)

// Config holds the voice client's configuration. Fields with no
// corresponding env var or YAML key fall back to the Default constants
// above.
type Config struct {
	TransportURL     string        `json:"transport_url" yaml:"transport_url"`
	AuthToken        string        `json:"auth_token" yaml:"auth_token"`
	DefaultLang      string        `json:"default_lang" yaml:"default_lang"`
	DefaultCodec     string        `json:"default_codec" yaml:"default_codec"`
	OperationTimeout time.Duration `json:"operation_timeout" yaml:"operation_timeout"`
	SendTimeout      time.Duration `json:"send_timeout" yaml:"send_timeout"`
	LogLevel         string        `json:"log_level" yaml:"log_level"`
	CloudVADEnabled  bool          `json:"cloud_vad_enabled" yaml:"cloud_vad_enabled"`
	SentryDSN        string        `json:"sentry_dsn" yaml:"sentry_dsn"`
	SentryEnv        string        `json:"sentry_environment" yaml:"sentry_environment"`
	OTelEndpoint     string        `json:"otel_endpoint" yaml:"otel_endpoint"`
}

// Validate checks that cfg is usable: a cheap, field-by-field check
// rather than a generic struct-tag validator.
func (c Config) Validate() error {
	if c.TransportURL == "" {
		return errRequired("transport_url")
	}
	if c.OperationTimeout <= 0 {
		return errRange("operation_timeout", "must be positive")
	}
	if c.SendTimeout <= 0 {
		return errRange("send_timeout", "must be positive")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errRange("log_level", "must be one of debug, info, warn, error")
	}
	return nil
}

func errRequired(field string) error {
	return fmt.Errorf("config: %s is required", field)
}

func errRange(field, reason string) error {
	return fmt.Errorf("config: %s %s", field, reason)
}
