package loader

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// DefaultEnvPrefix is the prefix of recognized environment variables.
const DefaultEnvPrefix = "VBUF_"

// Kind is the type an environment variable is parsed as.
type Kind int

// Supported kinds.
const (
	KindString Kind = iota
	KindInt
	KindBool
)

// Binding maps one environment variable onto a setting.
type Binding struct {
	Path string
	Kind Kind
}

// EnvLoader loads configuration from environment variables.
type EnvLoader struct {
	prefix   string             // Environment variable prefix (e.g., "VBUF_")
	bindings map[string]Binding // Env var suffix -> setting
	lookup   func(string) (string, bool)
}

// NewEnvLoader creates a new environment variable loader.
// The prefix should include the trailing underscore (e.g., "VBUF_").
func NewEnvLoader(prefix string) *EnvLoader {
	return &EnvLoader{
		prefix:   prefix,
		bindings: defaultBindings(),
		lookup:   os.LookupEnv,
	}
}

// WithLookup replaces the environment lookup function, returning l.
func (l *EnvLoader) WithLookup(fn func(string) (string, bool)) *EnvLoader {
	l.lookup = fn
	return l
}

// defaultBindings maps variable names (without prefix) to settings.
func defaultBindings() map[string]Binding {
	return map[string]Binding{
		"CACHE_CAPACITY":    {"cache.capacity_bytes", KindInt},
		"CACHE_BLOCK_SIZE":  {"cache.block_size", KindInt},
		"HISTORY_MAX_EDITS": {"history.max_retained_edits", KindInt},
		"STORE_BACKEND":     {"store.backend", KindString},
		"STORE_PATH":        {"store.path", KindString},
		"STORE_CHUNK_SIZE":  {"store.chunk_size", KindInt},
		"LOG_LEVEL":         {"log.level", KindString},
		"LOG_FORMAT":        {"log.format", KindString},
	}
}

// Load reads the bound environment variables into a configuration map.
// Empty string values are treated as valid values, not as unset.
func (l *EnvLoader) Load() (map[string]any, error) {
	config := make(map[string]any)
	for suffix, b := range l.bindings {
		name := l.prefix + suffix
		raw, ok := l.lookup(name)
		if !ok {
			continue
		}
		val, err := parseValue(b.Kind, raw)
		if err != nil {
			return nil, &ParseError{Path: name, Message: err.Error(), Err: err}
		}
		setByPath(config, b.Path, val)
	}
	return config, nil
}

// Bind adds or replaces the binding for prefix + suffix.
func (l *EnvLoader) Bind(suffix string, b Binding) {
	if l.bindings == nil {
		l.bindings = make(map[string]Binding)
	}
	l.bindings[suffix] = b
}

// Variables returns the full names of the recognized variables.
func (l *EnvLoader) Variables() []string {
	out := make([]string, 0, len(l.bindings))
	for suffix := range l.bindings {
		out = append(out, l.prefix+suffix)
	}
	return out
}

// parseValue converts s according to kind.
func parseValue(kind Kind, s string) (any, error) {
	switch kind {
	case KindInt:
		i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", s)
		}
		return i, nil
	case KindBool:
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "yes", "on", "1":
			return true, nil
		case "false", "no", "off", "0", "":
			return false, nil
		}
		return nil, fmt.Errorf("invalid boolean %q", s)
	default:
		return s, nil
	}
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
