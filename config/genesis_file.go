package config

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/haschain/miniroha/internal/genesis"
)

// LoadGenesis reads a YAML genesis document from path into a genesis.Config.
// The document is decoded generically and re-encoded to JSON before
// unmarshaling into genesis.Config, so the file's field names follow the
// struct's existing json tags (snake_case) rather than yaml.v3's default
// all-lowercase field matching.
func LoadGenesis(path string) (genesis.Config, error) {
	var cfg genesis.Config

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read genesis file %s: %w", path, err)
	}

	var generic interface{}
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return cfg, fmt.Errorf("parse genesis file %s: %w", path, err)
	}
	generic = normalizeYAML(generic)

	asJSON, err := json.Marshal(generic)
	if err != nil {
		return cfg, fmt.Errorf("re-encode genesis file %s: %w", path, err)
	}
	if err := json.Unmarshal(asJSON, &cfg); err != nil {
		return cfg, fmt.Errorf("decode genesis file %s: %w", path, err)
	}
	return cfg, nil
}

// normalizeYAML converts the map[interface{}]interface{} nodes that
// yaml.v3 can produce for nested maps into map[string]interface{}, which
// encoding/json requires.
func normalizeYAML(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, e := range val {
			out[k] = normalizeYAML(e)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, e := range val {
			out[fmt.Sprintf("%v", k)] = normalizeYAML(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, e := range val {
			out[i] = normalizeYAML(e)
		}
		return out
	default:
		return val
	}
}
