package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"

	jsonpkg "encoding/json"
)

// parseFile reads path and decodes it into a raw document, dispatching
// on extension. json/toml/yaml/yml/ini are recognized; any other
// extension is an error rather than a guess.
func parseFile(path string) (map[string]interface{}, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		var m map[string]interface{}
		if err := jsonpkg.Unmarshal(b, &m); err != nil {
			return nil, fmt.Errorf("config: parsing %s as JSON: %w", path, err)
		}
		return m, nil
	case ".toml":
		var m map[string]interface{}
		if err := toml.Unmarshal(b, &m); err != nil {
			return nil, fmt.Errorf("config: parsing %s as TOML: %w", path, err)
		}
		return m, nil
	case ".yaml", ".yml":
		var m map[string]interface{}
		if err := yaml.Unmarshal(b, &m); err != nil {
			return nil, fmt.Errorf("config: parsing %s as YAML: %w", path, err)
		}
		return stringifyKeys(m), nil
	case ".ini":
		f, err := ini.Load(b)
		if err != nil {
			return nil, fmt.Errorf("config: parsing %s as INI: %w", path, err)
		}
		return iniToMap(f), nil
	default:
		return nil, fmt.Errorf("config: unrecognized config format %q", path)
	}
}

// iniToMap flattens an ini.File into nested maps, one level per section
// dot-segment (so a section named "server.request" becomes
// {"server": {"request": {...}}}).
func iniToMap(f *ini.File) map[string]interface{} {
	root := map[string]interface{}{}

	for _, section := range f.Sections() {
		name := section.Name()
		target := root
		if name != ini.DefaultSection {
			for _, part := range strings.Split(name, ".") {
				next, ok := target[part].(map[string]interface{})
				if !ok {
					next = map[string]interface{}{}
					target[part] = next
				}
				target = next
			}
		}
		for _, key := range section.Keys() {
			target[key.Name()] = key.Value()
		}
	}

	return root
}

// stringifyKeys recursively converts map[interface{}]interface{}-style
// nesting (which gopkg.in/yaml.v3 avoids by default but nested
// map[string]interface{} values still need normalizing for
// mapstructure) into plain map[string]interface{}.
func stringifyKeys(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v interface{}) interface{} {
	switch vv := v.(type) {
	case map[string]interface{}:
		return stringifyKeys(vv)
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(vv))
		for k, e := range vv {
			out[fmt.Sprint(k)] = normalizeValue(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(vv))
		for i, e := range vv {
			out[i] = normalizeValue(e)
		}
		return out
	default:
		return v
	}
}

// decode merges raw over Default() using mapstructure with weakly typed
// input (so ini's all-string values and yaml/toml's native types decode
// the same way).
func decode(raw map[string]interface{}) (Options, error) {
	opts := Default()

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &opts,
	})
	if err != nil {
		return Options{}, err
	}
	if err := decoder.Decode(raw); err != nil {
		return Options{}, err
	}

	return opts, nil
}
