package mcpserver

import (
	"encoding/json"
	"fmt"
)

// requireString returns args[key] or an error naming the missing argument.
func requireString(args map[string]any, key string) (string, error) {
	v, _ := args[key].(string)
	if v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}

// decodeArg decodes a JSON argument into target. Clients send these either
// as a JSON string or as an already-decoded value. ok is false when the
// argument is absent.
func decodeArg(args map[string]any, key string, target any) (ok bool, err error) {
	raw, present := args[key]
	if !present || raw == nil {
		return false, nil
	}
	var data []byte
	switch v := raw.(type) {
	case string:
		if v == "" {
			return false, nil
		}
		data = []byte(v)
	default:
		if data, err = json.Marshal(v); err != nil {
			return false, fmt.Errorf("%s: %w", key, err)
		}
	}
	if err := json.Unmarshal(data, target); err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return true, nil
}

func boolPtr(v bool) *bool { return &v }
