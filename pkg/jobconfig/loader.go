package jobconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads and validates a jobs file.
//
// The format is determined by extension: .yaml/.yml for YAML, .json for
// JSON. Unrecognized extensions try YAML first, then JSON. The raw document
// is schema-validated, parsed, defaulted and then checked for semantic
// errors (duplicate ids, unknown timezones, dangling aggregate sources).
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("jobs file not found: %s: %w", path, err)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("permission denied reading jobs file: %s: %w", path, err)
		}
		return nil, fmt.Errorf("failed to read jobs file: %w", err)
	}

	return LoadFromBytes(data, path)
}

// LoadFromBytes parses and validates a jobs file from raw bytes. path is
// used for format detection and messages and may be empty.
func LoadFromBytes(data []byte, path string) (*File, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errors.New("jobs file is empty")
	}

	// Validate the raw document so unknown fields are caught before struct
	// decoding drops them.
	jsonData, err := toJSON(data, path)
	if err != nil {
		return nil, err
	}
	if err := ValidateRaw(jsonData); err != nil {
		return nil, err
	}

	f, err := parseFile(data, path)
	if err != nil {
		return nil, err
	}

	f.ApplyDefaults()

	if err := f.Check(); err != nil {
		return nil, err
	}
	return f, nil
}

// LoadFromReader reads and validates a jobs file from r.
func LoadFromReader(r io.Reader, path string) (*File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read jobs file: %w", err)
	}
	return LoadFromBytes(data, path)
}

func parseFile(data []byte, path string) (*File, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return parseJSON(data)
	case ".yaml", ".yml":
		return parseYAML(data)
	default:
		f, yamlErr := parseYAML(data)
		if yamlErr == nil {
			return f, nil
		}
		if f, jsonErr := parseJSON(data); jsonErr == nil {
			return f, nil
		}
		return nil, fmt.Errorf("failed to parse jobs file (tried YAML and JSON): %w", yamlErr)
	}
}

func parseJSON(data []byte) (*File, error) {
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid JSON in jobs file: %w", err)
	}
	return &f, nil
}

func parseYAML(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid YAML in jobs file: %w", err)
	}
	return &f, nil
}

// toJSON converts the input to JSON for schema validation.
func toJSON(data []byte, path string) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		var raw any
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid JSON in jobs file: %w", err)
		}
		return data, nil
	case ".yaml", ".yml":
		return yamlToJSON(data)
	default:
		// YAML is a superset of JSON.
		jsonData, err := yamlToJSON(data)
		if err == nil {
			return jsonData, nil
		}
		var raw any
		if jsonErr := json.Unmarshal(data, &raw); jsonErr == nil {
			return data, nil
		}
		return nil, fmt.Errorf("failed to parse jobs file (tried YAML and JSON): %w", err)
	}
}

func yamlToJSON(data []byte) ([]byte, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid YAML in jobs file: %w", err)
	}
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to convert jobs file to JSON: %w", err)
	}
	return jsonData, nil
}
