package loader

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DBGSYNC_"

// EnvLoader loads configuration from environment variables.
type EnvLoader struct {
	mapping map[string]string // Env var -> config path
	lookup  func(string) (string, bool)
}

// NewEnvLoader creates a loader for the default environment mapping.
func NewEnvLoader() *EnvLoader {
	return NewEnvLoaderWithMapping(defaultEnvMapping())
}

// NewEnvLoaderWithMapping creates a loader with custom environment variable mappings.
func NewEnvLoaderWithMapping(mapping map[string]string) *EnvLoader {
	return &EnvLoader{
		mapping: mapping,
		lookup:  os.LookupEnv,
	}
}

func defaultEnvMapping() map[string]string {
	return map[string]string{
		EnvPrefix + "LOG_LEVEL":         "log_level",
		EnvPrefix + "LOG_LAYERS":        "log_layers",
		EnvPrefix + "VARIABLE_FILTERS":  "variable_filters",
		EnvPrefix + "EDITOR_DEBOUNCE":   "editor_debounce",
		EnvPrefix + "SOURCE_CACHE_SIZE": "source_cache_size",
		EnvPrefix + "REQUEST_TIMEOUT":   "request_timeout",
		EnvPrefix + "ADAPTER_TRANSPORT": "adapter.transport",
		EnvPrefix + "ADAPTER_ADDRESS":   "adapter.address",
		EnvPrefix + "ADAPTER_COMMAND":   "adapter.command",
	}
}

// Load reads the mapped environment variables. Unmapped variables are
// ignored. Empty values are treated as set.
func (l *EnvLoader) Load() (map[string]any, error) {
	config := make(map[string]any)
	for env, path := range l.mapping {
		if val, ok := l.lookup(env); ok {
			setByPath(config, path, parseValue(val))
		}
	}
	return config, nil
}

// parseValue attempts to parse the string value into an appropriate type.
func parseValue(s string) any {
	if s == "" {
		return s
	}

	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}

	switch strings.ToLower(s) {
	case "true", "yes", "on":
		return true
	case "false", "no", "off":
		return false
	}

	// Only with a decimal point, so ints stay ints.
	if strings.Contains(s, ".") {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}

	if d, err := time.ParseDuration(s); err == nil {
		return d
	}

	if strings.HasPrefix(s, "[") || strings.HasPrefix(s, "{") {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err == nil {
			return v
		}
	}

	return s
}

// setByPath sets a value in a nested map using a dot-separated path.
func setByPath(data map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	current := data

	for i := 0; i < len(parts)-1; i++ {
		part := parts[i]
		if next, ok := current[part].(map[string]any); ok {
			current = next
		} else {
			next := make(map[string]any)
			current[part] = next
			current = next
		}
	}

	current[parts[len(parts)-1]] = value
}
