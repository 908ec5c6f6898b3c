package manifest

import (
	"encoding/json"
	"fmt"

	schemasassets "github.com/3leaps/cadence/internal/assets/schemas"
	"github.com/3leaps/cadence/internal/schemaval"
)

var manifestValidator = schemaval.New("manifest", schemasassets.ManifestSchema)

// Decode validates data against the manifest schema and parses it.
func Decode(data []byte) (*Manifest, error) {
	if err := manifestValidator.Validate(data); err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}

// DecodeSummary validates and parses a summary document. Summaries carry
// every field the manifest schema requires.
func DecodeSummary(data []byte) (*Summary, error) {
	if err := manifestValidator.Validate(data); err != nil {
		return nil, err
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	return &s, nil
}
