// Package config provides configuration loading and playbook document
// validation for fleetplay.
//
// # Overview
//
// The package has two halves. The engine Config is an explicit object
// loaded from YAML, validated with struct tags, and passed by reference
// to the components that need it. The document side loads playbook YAML
// files and validates them against CUE schemas before the engine parses
// them, so that structural mistakes surface with schema paths instead of
// parse panics deep in the pipeline.
//
// # Components
//
// Config: the engine configuration with defaults, YAML loading, and
// validation.
//
// SchemaRegistry: manages CUE schemas. Ships a built-in playbook schema
// and supports registering custom schemas for site-specific document
// conventions.
//
// LoadDocument: reads a playbook YAML file, validates it against the
// playbook schema, and returns the raw document for playbook.FromMap.
//
// # Usage Example
//
//	cfg, err := config.Load("/etc/fleetplay/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	doc, err := config.LoadDocument("restart-web.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Thread Safety
//
// SchemaRegistry is safe for concurrent use. Config is read-only after
// Load.
package config
