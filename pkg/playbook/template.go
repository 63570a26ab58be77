package playbook

import (
	"fmt"
	"regexp"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// templatePattern matches "{{{ expression }}}" placeholders.
var templatePattern = regexp.MustCompile(`\{\{\{\s*(.+?)\s*\}\}\}`)

// resolveTemplates walks a raw document value and replaces every
// "{{{ expr }}}" placeholder. Expressions are Starlark, evaluated against
// the already-prepared context: "inputs", "metadata" and "nodes" structs
// reflect earlier preparation steps, so later steps can reference them.
//
// A string consisting of a single placeholder is replaced by the typed
// expression value; placeholders embedded in longer strings interpolate
// as text.
func (p *Playbook) resolveTemplates(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return p.resolveString(v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			resolved, err := p.resolveTemplates(item)
			if err != nil {
				return nil, err
			}
			out[key] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			resolved, err := p.resolveTemplates(item)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return value, nil
	}
}

// resolveString resolves the placeholders inside one string.
func (p *Playbook) resolveString(s string) (any, error) {
	matches := templatePattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	// Whole-string placeholder keeps the expression's type.
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		expr := s[matches[0][2]:matches[0][3]]
		return p.evalExpression(expr)
	}

	var out strings.Builder
	last := 0
	for _, m := range matches {
		out.WriteString(s[last:m[0]])
		result, err := p.evalExpression(s[m[2]:m[3]])
		if err != nil {
			return nil, err
		}
		out.WriteString(templateValueString(result))
		last = m[1]
	}
	out.WriteString(s[last:])

	return out.String(), nil
}

// evalExpression evaluates one Starlark expression against the playbook's
// prepared context.
func (p *Playbook) evalExpression(expr string) (any, error) {
	thread := &starlark.Thread{
		Name: "playbook-template",
		Print: func(_ *starlark.Thread, _ string) {
			// templates have no output channel
		},
	}

	predeclared, err := p.templateEnvironment()
	if err != nil {
		return nil, err
	}

	value, err := starlark.Eval(thread, "template.star", expr, predeclared)
	if err != nil {
		return nil, NewValidationError(
			fmt.Sprintf("template expression %q failed", expr),
			[]string{err.Error()},
		).WithContext(p.ctx.Path())
	}

	return fromStarlarkValue(value)
}

// templateEnvironment builds the predeclared Starlark environment from
// the already-prepared components. Dotted access (inputs.cluster) is
// provided by exposing each mapping as a struct.
func (p *Playbook) templateEnvironment() (starlark.StringDict, error) {
	env := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
	}

	inputsStruct, err := toStarlarkStruct(p.inputs.asMap())
	if err != nil {
		return nil, fmt.Errorf("failed to expose inputs to templates: %w", err)
	}
	env["inputs"] = inputsStruct
	env["input"] = inputsStruct

	metadataStruct, err := toStarlarkStruct(p.metadata.asMap())
	if err != nil {
		return nil, fmt.Errorf("failed to expose metadata to templates: %w", err)
	}
	env["metadata"] = metadataStruct

	// Nodes are only visible once prepared; earlier steps see an empty
	// struct rather than an error.
	nodesStruct, err := toStarlarkStruct(p.nodes.asMap())
	if err != nil {
		return nil, fmt.Errorf("failed to expose nodes to templates: %w", err)
	}
	env["nodes"] = nodesStruct

	return env, nil
}

// toStarlarkStruct converts a Go mapping into a Starlark struct for
// dotted attribute access in template expressions.
func toStarlarkStruct(m map[string]any) (*starlarkstruct.Struct, error) {
	dict := starlark.StringDict{}
	for key, value := range m {
		converted, err := toStarlarkValue(value)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", key, err)
		}
		dict[key] = converted
	}
	return starlarkstruct.FromStringDict(starlarkstruct.Default, dict), nil
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v any) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []string:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			list[i] = starlark.String(item)
		}
		return starlark.NewList(list), nil
	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			converted, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = converted
		}
		return starlark.NewList(list), nil
	case map[string]any:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			converted, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), converted); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type %T in template context", v)
	}
}

// fromStarlarkValue converts a Starlark value back to a Go value.
func fromStarlarkValue(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return int(i), nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case starlark.Tuple:
		list := make([]any, len(val))
		for i, item := range val {
			converted, err := fromStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = converted
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]any)
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]any)
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type %s in template result", v.Type())
	}
}

// templateValueString renders a resolved expression for interpolation
// into a longer string.
func templateValueString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = templateValueString(item)
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprintf("%v", v)
	}
}
