package merge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ReadResults loads a build-results file: a JSON array of BuildResult as
// emitted by the build fan-out.
func ReadResults(path string) ([]BuildResult, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read build results: %w", err)
	}

	var results []BuildResult
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, fmt.Errorf("parse build results JSON: %w", err)
	}

	return results, nil
}

// WritePushSpecs writes the push specifications as indented JSON.
func WritePushSpecs(path string, specs []PushSpec) error {
	payload, err := json.MarshalIndent(specs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode push specs: %w", err)
	}
	payload = append(payload, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("write push specs: %w", err)
	}

	return nil
}
