package playbook

import (
	"fmt"
	"strings"
)

// FailurePolicy governs how a task failure affects the rest of the run.
type FailurePolicy string

const (
	// PolicyFail aborts the run on the first failing task, running the
	// on_fail hook before the failure propagates.
	PolicyFail FailurePolicy = "fail"

	// PolicyContinue records the failure, runs the on_fail hook, and
	// proceeds to the next task.
	PolicyContinue FailurePolicy = "continue"

	// PolicyRetry re-dispatches the failed node subset up to a bounded
	// retry count before falling back to fail semantics.
	PolicyRetry FailurePolicy = "retry"
)

// Metadata is the immutable descriptive record of a playbook. It is set
// once from the parsed document and read-only thereafter.
type Metadata struct {
	// Name is the playbook name.
	Name string `json:"name"`

	// Version is the playbook version string.
	Version string `json:"version"`

	// Author identifies who maintains the playbook.
	Author string `json:"author"`

	// Description is a human-readable summary.
	Description string `json:"description"`

	// Tags is the ordered sequence of classification tags.
	Tags []string `json:"tags"`

	// OnFail is the failure policy applied when a task fails.
	OnFail FailurePolicy `json:"on_fail"`

	// LogLevel is the log level active while this playbook runs.
	LogLevel string `json:"loglevel"`

	// RunAs is the identity string used for authorization context on
	// every dispatched request.
	RunAs string `json:"run_as"`
}

// metadataFromMap populates Metadata from the raw document, substituting
// the declared defaults for omitted on_fail and loglevel.
func metadataFromMap(doc map[string]any) (Metadata, error) {
	md := Metadata{
		Name:        stringItem(doc, "name", ""),
		Version:     stringItem(doc, "version", ""),
		Author:      stringItem(doc, "author", ""),
		Description: stringItem(doc, "description", ""),
		OnFail:      FailurePolicy(stringItem(doc, "on_fail", string(PolicyFail))),
		LogLevel:    stringItem(doc, "loglevel", "info"),
		RunAs:       stringItem(doc, "run_as", ""),
	}

	if raw, ok := doc["tags"]; ok {
		tags, err := stringList(raw)
		if err != nil {
			return md, NewValidationError("playbook tags must be a list of strings", []string{err.Error()})
		}
		md.Tags = tags
	}

	switch md.OnFail {
	case PolicyFail, PolicyContinue, PolicyRetry:
	default:
		return md, NewValidationError("invalid on_fail policy", []string{string(md.OnFail)})
	}

	switch md.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return md, NewValidationError("invalid loglevel", []string{md.LogLevel})
	}

	return md, nil
}

// Item returns the named metadata field. Unknown names produce a
// not-found error carrying the literal key.
func (m Metadata) Item(name string) (any, error) {
	switch name {
	case "name":
		return m.Name, nil
	case "version":
		return m.Version, nil
	case "author":
		return m.Author, nil
	case "description":
		return m.Description, nil
	case "tags":
		return m.Tags, nil
	case "on_fail":
		return string(m.OnFail), nil
	case "loglevel":
		return m.LogLevel, nil
	case "run_as":
		return m.RunAs, nil
	default:
		return nil, NewNotFoundError("unknown metadata item", name)
	}
}

// asMap exposes the metadata fields to template expressions.
func (m Metadata) asMap() map[string]any {
	tags := make([]any, len(m.Tags))
	for i, t := range m.Tags {
		tags[i] = t
	}
	return map[string]any{
		"name":        m.Name,
		"version":     m.Version,
		"author":      m.Author,
		"description": m.Description,
		"tags":        tags,
		"on_fail":     string(m.OnFail),
		"loglevel":    m.LogLevel,
		"run_as":      m.RunAs,
	}
}

// SecondsToHuman renders a second count as a human duration. Leading
// zero-valued day and hour units are omitted, minutes are always
// rendered, and seconds are zero-padded to two digits:
// 90061 -> "1 day 1 hours 1 minutes 01 seconds".
func SecondsToHuman(seconds int) string {
	days := seconds / 86400
	seconds -= days * 86400
	hours := seconds / 3600
	seconds -= hours * 3600
	minutes := seconds / 60
	seconds -= minutes * 60

	parts := []string{}
	if days > 1 {
		parts = append(parts, fmt.Sprintf("%d days %d hours", days, hours))
	} else if days == 1 {
		parts = append(parts, fmt.Sprintf("%d day %d hours", days, hours))
	} else if hours > 0 {
		parts = append(parts, fmt.Sprintf("%d hours", hours))
	}

	parts = append(parts, fmt.Sprintf("%d minutes %02d seconds", minutes, seconds))

	return strings.Join(parts, " ")
}

// stringItem reads a string field from a raw document with a default.
func stringItem(doc map[string]any, key, def string) string {
	if v, ok := doc[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprintf("%v", v)
	}
	return def
}

// stringList coerces a raw document list into []string.
func stringList(raw any) ([]string, error) {
	switch v := raw.(type) {
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected list, got %T", raw)
	}
}
