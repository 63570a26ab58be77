package config

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// defaultRegistry validates documents loaded through the package-level
// helpers. Callers needing custom schemas construct their own registry.
var defaultRegistry = NewSchemaRegistry()

// LoadDocument reads a playbook YAML file, validates it against the
// playbook schema, and returns the raw document ready for the engine's
// FromMap. Schema violations are reported with CUE paths before the
// engine ever sees the document.
func LoadDocument(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read playbook file: %w", err)
	}
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("playbook %s: %w", path, err)
	}
	return doc, nil
}

// ParseDocument decodes playbook YAML content and validates it against
// the playbook schema.
func ParseDocument(data []byte) (map[string]any, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse playbook document: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("playbook document is empty")
	}

	if err := defaultRegistry.ValidatePlaybook(context.Background(), doc); err != nil {
		return nil, err
	}
	return doc, nil
}
