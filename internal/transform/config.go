package transform

import (
	"fmt"
	"math"
	"strconv"

	"composer/internal/jsonvalue"
)

// Config is a step's free-form configuration as decoded from JSON or YAML.
type Config map[string]any

// Has reports whether key is present.
func (c Config) Has(key string) bool {
	_, ok := c[key]
	return ok
}

// String returns key as text, or def when absent or not a scalar.
func (c Config) String(key, def string) string {
	switch v := c[key].(type) {
	case string:
		return v
	case nil:
		return def
	case bool, int, int64, float64:
		return fmt.Sprint(v)
	}
	return def
}

// Int returns key as an integer, or def when absent or not numeric.
func (c Config) Int(key string, def int) int {
	switch v := c[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return def
		}
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Bool returns key as a boolean, or def when absent.
func (c Config) Bool(key string, def bool) bool {
	switch v := c[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// Strings returns key as a string list. A single string is a one-item list.
func (c Config) Strings(key string) []string {
	switch v := c[key].(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, it := range v {
			if s, ok := it.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Map returns key as a string-keyed map.
func (c Config) Map(key string) map[string]any {
	switch v := c[key].(type) {
	case map[string]any:
		return v
	case Config:
		return v
	case map[string]string:
		out := make(map[string]any, len(v))
		for k, s := range v {
			out[k] = s
		}
		return out
	}
	return nil
}

// List returns key as a list of maps, skipping non-map items.
func (c Config) List(key string) []Config {
	var out []Config
	switch items := c[key].(type) {
	case []map[string]any:
		for _, m := range items {
			out = append(out, Config(m))
		}
	case []Config:
		out = append(out, items...)
	case []any:
		for _, it := range items {
			switch m := it.(type) {
			case map[string]any:
				out = append(out, Config(m))
			case Config:
				out = append(out, m)
			}
		}
	}
	return out
}

// Value returns key as a JSON value.
func (c Config) Value(key string) (jsonvalue.Value, bool) {
	v, ok := c[key]
	if !ok {
		return jsonvalue.Value{}, false
	}
	return jsonvalue.FromAny(v), true
}
