// Package config loads dbgsync settings from a YAML or TOML file with
// environment overrides, and reloads them when the file changes.
package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/dshills/dbgsync/internal/config/loader"
)

// Transport names how the CLI reaches a debug adapter.
type Transport string

// Supported transports.
const (
	TransportSocket    Transport = "socket"
	TransportStdio     Transport = "stdio"
	TransportWebSocket Transport = "websocket"
)

// AdapterSettings locates the debug adapter.
type AdapterSettings struct {
	Transport Transport `yaml:"transport"`

	// Address is host:port for socket, a URL for websocket.
	Address string `yaml:"address"`

	// Command starts the adapter for the stdio transport.
	Command []string `yaml:"command"`
}

// Settings is the complete dbgsync configuration.
type Settings struct {
	LogLevel  string `yaml:"log_level"`
	LogLayers string `yaml:"log_layers"`

	// VariableFilters lists variable names hidden per kernel name.
	VariableFilters map[string][]string `yaml:"variable_filters"`

	EditorDebounce  time.Duration `yaml:"editor_debounce"`
	SourceCacheSize int           `yaml:"source_cache_size"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`

	Adapter AdapterSettings `yaml:"adapter"`
}

// Default returns the built-in settings.
func Default() *Settings {
	return &Settings{
		LogLevel: "info",
		VariableFilters: map[string][]string{
			"python3": {"__builtins__", "__doc__", "__loader__", "__name__", "__package__", "__spec__"},
		},
		EditorDebounce:  time.Second,
		SourceCacheSize: 64,
		RequestTimeout:  10 * time.Second,
		Adapter: AdapterSettings{
			Transport: TransportSocket,
			Address:   "127.0.0.1:5678",
		},
	}
}

// Load reads settings from path, which may be empty, and applies
// environment overrides on top. A missing file yields the defaults.
func Load(path string) (*Settings, error) {
	return LoadFS(loader.DefaultFS(), path, loader.NewEnvLoader())
}

// LoadFS is Load with an explicit file system and environment loader.
func LoadFS(fsys loader.FileSystem, path string, env loader.Loader) (*Settings, error) {
	merged := map[string]any{}

	if path != "" {
		l, err := loader.ForPath(fsys, path)
		if err != nil {
			return nil, err
		}
		file, err := l.Load()
		if err != nil {
			return nil, err
		}
		merged = loader.DeepMerge(merged, file)
	}

	if env != nil {
		vars, err := env.Load()
		if err != nil {
			return nil, fmt.Errorf("loading environment: %w", err)
		}
		merged = loader.DeepMerge(merged, vars)
	}

	s := Default()
	if _, ok := merged["variable_filters"]; ok {
		// Configured filters replace the defaults rather than extend them.
		s.VariableFilters = nil
	}
	if err := decode(merged, s); err != nil {
		return nil, &loader.ParseError{Path: path, Message: err.Error(), Err: err}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// decode applies a loaded map onto s. Keys absent from m keep their value.
func decode(m map[string]any, s *Settings) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, s)
}

// ValidationError describes an invalid setting.
type ValidationError struct {
	Path    string
	Message string
	Value   any
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (value: %v)", e.Path, e.Message, e.Value)
}

// Validate checks every setting and reports all problems at once.
func (s *Settings) Validate() error {
	var result *multierror.Error

	if _, err := logrus.ParseLevel(s.LogLevel); err != nil {
		result = multierror.Append(result, &ValidationError{Path: "log_level", Message: "unknown level", Value: s.LogLevel})
	}
	if s.EditorDebounce < 0 {
		result = multierror.Append(result, &ValidationError{Path: "editor_debounce", Message: "must not be negative", Value: s.EditorDebounce})
	}
	if s.RequestTimeout <= 0 {
		result = multierror.Append(result, &ValidationError{Path: "request_timeout", Message: "must be positive", Value: s.RequestTimeout})
	}
	if s.SourceCacheSize <= 0 {
		result = multierror.Append(result, &ValidationError{Path: "source_cache_size", Message: "must be positive", Value: s.SourceCacheSize})
	}

	switch s.Adapter.Transport {
	case TransportSocket, TransportWebSocket:
		if s.Adapter.Address == "" {
			result = multierror.Append(result, &ValidationError{Path: "adapter.address", Message: "required for " + string(s.Adapter.Transport), Value: s.Adapter.Address})
		}
	case TransportStdio:
		if len(s.Adapter.Command) == 0 {
			result = multierror.Append(result, &ValidationError{Path: "adapter.command", Message: "required for stdio", Value: s.Adapter.Command})
		}
	default:
		result = multierror.Append(result, &ValidationError{Path: "adapter.transport", Message: "unknown transport", Value: s.Adapter.Transport})
	}

	return result.ErrorOrNil()
}
