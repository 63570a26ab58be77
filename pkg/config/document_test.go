package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validPlaybookYAML = `
name: restart-web
version: 1.2.0
author: ops team
on_fail: retry
inputs:
  cluster:
    type: string
    required: true
nodes:
  web:
    filter: "group={{ inputs.cluster }}"
  ops: [bastion1]
tasks:
  - name: restart web services
    group: web
    agent: service
    action: restart
    timeout: 30
`

func TestLoadDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "restart-web.yaml")
	if err := os.WriteFile(path, []byte(validPlaybookYAML), 0o644); err != nil {
		t.Fatalf("failed to write playbook: %v", err)
	}

	doc, err := LoadDocument(path)
	if err != nil {
		t.Fatalf("LoadDocument failed: %v", err)
	}
	if doc["name"] != "restart-web" {
		t.Errorf("name = %v", doc["name"])
	}
	tasks, ok := doc["tasks"].([]any)
	if !ok || len(tasks) != 1 {
		t.Errorf("tasks not carried through: %v", doc["tasks"])
	}
}

func TestLoadDocumentMissingFile(t *testing.T) {
	if _, err := LoadDocument(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestParseDocumentRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "empty document", content: ""},
		{name: "not yaml", content: ":\n  - ]["},
		{
			name:    "schema violation",
			content: strings.Replace(validPlaybookYAML, "on_fail: retry", "on_fail: explode", 1),
		},
		{
			name:    "missing tasks",
			content: strings.Replace(validPlaybookYAML, "tasks:", "steps:", 1),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseDocument([]byte(tt.content)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

// The document loader feeds the engine untouched: template placeholders
// survive schema validation as plain strings.
func TestParseDocumentKeepsTemplates(t *testing.T) {
	doc, err := ParseDocument([]byte(validPlaybookYAML))
	if err != nil {
		t.Fatalf("ParseDocument failed: %v", err)
	}
	nodes := doc["nodes"].(map[string]any)
	web := nodes["web"].(map[string]any)
	if web["filter"] != "group={{ inputs.cluster }}" {
		t.Errorf("filter altered: %v", web["filter"])
	}
}
