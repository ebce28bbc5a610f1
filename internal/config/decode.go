package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// toStrictJSON turns a config file into JSON bytes for the strict decoder.
// YAML is converted; both formats get ${VAR} expansion in string values so
// secrets such as telegram.token can stay out of the file.
func toStrictJSON(path string, data []byte) ([]byte, error) {
	var v any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("yaml: %w", err)
		}
	default:
		if !strings.Contains(string(data), "${") {
			return data, nil
		}
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("json: %w", err)
		}
	}

	out, err := json.Marshal(expandValues(v, os.LookupEnv))
	if err != nil {
		return nil, fmt.Errorf("re-encode %s: %w", filepath.Base(path), err)
	}
	return out, nil
}

// expandValues stringifies map keys and expands ${VAR} in string leaves.
// Unset variables are left as written.
func expandValues(in any, lookup func(string) (string, bool)) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = expandValues(v, lookup)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = expandValues(v, lookup)
		}
		return x
	case []any:
		for i := range x {
			x[i] = expandValues(x[i], lookup)
		}
		return x
	case string:
		if !strings.Contains(x, "${") {
			return x
		}
		return os.Expand(x, func(name string) string {
			if v, ok := lookup(name); ok {
				return v
			}
			return "${" + name + "}"
		})
	default:
		return in
	}
}
