// Package config loads the SuperInbox configuration from TOML with
// environment overrides.
package config

import (
	"github.com/spf13/viper"

	"github.com/guchang/superinbox-sub005/adapter"
	"github.com/guchang/superinbox-sub005/routing"
)

// Config is the full runtime configuration.
type Config struct {
	Server   ServerConfig             `mapstructure:"server"`
	Database DatabaseConfig           `mapstructure:"database"`
	Logging  LoggingConfig            `mapstructure:"logging"`
	Dispatch DispatchConfig           `mapstructure:"dispatch"`
	Adapters map[string]AdapterConfig `mapstructure:"adapters"`
}

// ServerConfig covers the HTTP/WebSocket surface.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig covers sqlite persistence.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig covers output shape and verbosity.
type LoggingConfig struct {
	JSON      bool   `mapstructure:"json"`
	Verbosity string `mapstructure:"verbosity"` // user | info | debug
}

// DispatchConfig tunes the orchestrator.
type DispatchConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// AdapterConfig is one destination declared in the config file, keyed by
// adapter type ([adapters.notion], [adapters.webhook], ...).
type AdapterConfig struct {
	Enabled  bool `mapstructure:"enabled"`
	Priority int  `mapstructure:"priority"`

	// Conditions gate this destination on top of rule-level matching:
	// an item that fails one is never dispatched here, whichever rules
	// name the destination.
	Conditions []routing.Condition `mapstructure:"conditions"`

	// Protocol destinations.
	Command string            `mapstructure:"command"`
	Args    []string          `mapstructure:"args"`
	Env     map[string]string `mapstructure:"env"`
	Kind    string            `mapstructure:"kind"`

	// REST destinations.
	BaseURL      string            `mapstructure:"base_url"`
	FieldMap     map[string]string `mapstructure:"field_map"`
	AllowPrivate bool              `mapstructure:"allow_private"`

	Token          string `mapstructure:"token"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// IsProtocol reports whether the destination is subprocess-backed.
func (a AdapterConfig) IsProtocol() bool {
	return a.Command != ""
}

// ToAdapterConfig converts the file-level declaration into the runtime
// adapter configuration.
func (a AdapterConfig) ToAdapterConfig(userID, adapterType string) *adapter.Config {
	return &adapter.Config{
		UserID:         userID,
		AdapterType:    adapterType,
		Enabled:        a.Enabled,
		Priority:       a.Priority,
		Conditions:     a.Conditions,
		Command:        a.Command,
		Args:           a.Args,
		Env:            a.Env,
		Kind:           a.Kind,
		BaseURL:        a.BaseURL,
		Token:          a.Token,
		FieldMap:       a.FieldMap,
		AllowPrivate:   a.AllowPrivate,
		TimeoutSeconds: a.TimeoutSeconds,
	}
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)

	v.SetDefault("database.path", "superinbox.db")

	v.SetDefault("logging.json", false)
	v.SetDefault("logging.verbosity", "user")

	v.SetDefault("dispatch.timeout_seconds", 30)
}
