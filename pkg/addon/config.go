package addon

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Generic option keys the runtime itself interprets. Every other key in a
// slice belongs to the add-on.
const (
	KeyEnabled = "enabled"
	KeyName    = "name"
)

// Config is a read-only view over the options of one add-on.
// The zero value is an empty slice with no name. Values are deep-copied on
// construction so nothing an add-on does can change what others see.
type Config struct {
	name   string
	values map[string]any
}

// NewConfig builds the configuration slice for the add-on called name.
func NewConfig(name string, values map[string]any) Config {
	return Config{
		name:   name,
		values: copyMap(values),
	}
}

// AddOnName returns the add-on name the slice is scoped to.
func (c Config) AddOnName() string {
	return c.name
}

// Keys returns all option names in ascending order.
func (c Config) Keys() []string {
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Has reports whether key is present.
func (c Config) Has(key string) bool {
	_, ok := c.values[key]
	return ok
}

// Value returns a copy of the raw value stored under key.
func (c Config) Value(key string) (any, bool) {
	v, ok := c.values[key]
	if !ok {
		return nil, false
	}
	return copyValue(v), true
}

// Enabled reports the generic enabled option. Absent means enabled.
func (c Config) Enabled() (bool, error) {
	return c.Bool(KeyEnabled, true)
}

// String returns the string under key, or def when absent.
func (c Config) String(key, def string) (string, error) {
	v, ok := c.values[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", Configurationf("%s.%s: expected string, got %T", c.name, key, v)
	}
	return s, nil
}

// RequireString returns the non-empty string under key.
func (c Config) RequireString(key string) (string, error) {
	s, err := c.String(key, "")
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", Configurationf("%s.%s is required", c.name, key)
	}
	return s, nil
}

// Bool returns the bool under key, or def when absent.
// The strings "true" and "false" are accepted so values can come from the
// environment.
func (c Config) Bool(key string, def bool) (bool, error) {
	v, ok := c.values[key]
	if !ok || v == nil {
		return def, nil
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return false, Configurationf("%s.%s: %q is not a bool", c.name, key, b)
		}
		return parsed, nil
	default:
		return false, Configurationf("%s.%s: expected bool, got %T", c.name, key, v)
	}
}

// Int returns the integer under key, or def when absent.
func (c Config) Int(key string, def int) (int, error) {
	v, ok := c.values[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, Configurationf("%s.%s: %v is not an integer", c.name, key, n)
		}
		return int(n), nil
	case string:
		parsed, err := strconv.Atoi(n)
		if err != nil {
			return 0, Configurationf("%s.%s: %q is not an integer", c.name, key, n)
		}
		return parsed, nil
	default:
		return 0, Configurationf("%s.%s: expected integer, got %T", c.name, key, v)
	}
}

// RequireInt returns the integer under key and fails when it is absent.
func (c Config) RequireInt(key string) (int, error) {
	if !c.Has(key) {
		return 0, Configurationf("%s.%s is required", c.name, key)
	}
	return c.Int(key, 0)
}

// Duration returns the duration under key, or def when absent.
// Strings use time.ParseDuration syntax; bare numbers are seconds.
func (c Config) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := c.values[key]
	if !ok || v == nil {
		return def, nil
	}
	if s, isString := v.(string); isString {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, Configurationf("%s.%s: %q is not a duration", c.name, key, s)
		}
		return d, nil
	}
	secs, err := c.Int(key, 0)
	if err != nil {
		return 0, err
	}
	return time.Duration(secs) * time.Second, nil
}

// Strings returns the list of strings under key, or nil when absent.
func (c Config) Strings(key string) ([]string, error) {
	v, ok := c.values[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...), nil
	case []any:
		out := make([]string, 0, len(list))
		for i, item := range list {
			s, isString := item.(string)
			if !isString {
				return nil, Configurationf("%s.%s[%d]: expected string, got %T", c.name, key, i, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, Configurationf("%s.%s: expected list, got %T", c.name, key, v)
	}
}

// GoString implements fmt.GoStringer without exposing values, which may hold
// credentials.
func (c Config) GoString() string {
	return fmt.Sprintf("addon.Config{name: %q, keys: %v}", c.name, c.Keys())
}

func copyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = copyValue(item)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
