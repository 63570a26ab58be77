package playbook

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
)

// specValidator checks declared input specs for structural problems
// before any values are considered.
var specValidator = validator.New()

// InputSpec declares one playbook parameter: its type, whether it is
// required, its default, and an optional validation rule.
type InputSpec struct {
	// Description explains the input to operators.
	Description string `json:"description,omitempty"`

	// Type is the declared value type.
	Type string `json:"type" validate:"required,oneof=string integer float boolean list"`

	// Required marks inputs that must be supplied or defaulted.
	Required bool `json:"required"`

	// Default is the value used when the caller supplies none.
	Default any `json:"default,omitempty"`

	// HasDefault distinguishes an explicit nil default from no default.
	HasDefault bool `json:"-"`

	// Validation is a regular expression applied to string values.
	Validation string `json:"validation,omitempty"`
}

// Inputs holds the declared parameter specs of a playbook plus the
// resolved values once prepared.
type Inputs struct {
	specs  map[string]*InputSpec
	order  []string
	values map[string]any

	prepared bool
}

// NewInputs creates an empty input collection.
func NewInputs() *Inputs {
	return &Inputs{
		specs:  make(map[string]*InputSpec),
		values: make(map[string]any),
	}
}

// FromMap parses the raw inputs sub-document. Parsing is pure; value
// validation is deferred to Prepare.
func (in *Inputs) FromMap(raw map[string]any) error {
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		props, ok := raw[name].(map[string]any)
		if !ok {
			return NewValidationError("input properties must be a mapping", []string{name})
		}

		spec := &InputSpec{
			Description: stringItem(props, "description", ""),
			Type:        stringItem(props, "type", "string"),
			Validation:  stringItem(props, "validation", ""),
		}
		if req, ok := props["required"].(bool); ok {
			spec.Required = req
		}
		if def, ok := props["default"]; ok {
			spec.Default = def
			spec.HasDefault = true
		}

		if err := specValidator.Struct(spec); err != nil {
			return NewValidationError("invalid input declaration", []string{fmt.Sprintf("%s: %v", name, err)})
		}

		in.specs[name] = spec
		in.order = append(in.order, name)
	}

	return nil
}

// Prepare validates and materializes the supplied values. Every offending
// input is reported in one pass so all configuration problems surface
// together.
func (in *Inputs) Prepare(values map[string]any) error {
	var violations []string

	for _, name := range in.order {
		spec := in.specs[name]

		value, supplied := values[name]
		if !supplied {
			if spec.HasDefault {
				in.values[name] = spec.Default
				continue
			}
			if spec.Required {
				violations = append(violations, fmt.Sprintf("input %s is required but was not supplied", name))
			}
			continue
		}

		coerced, err := coerceInput(spec.Type, value)
		if err != nil {
			violations = append(violations, fmt.Sprintf("input %s: %v", name, err))
			continue
		}

		if spec.Validation != "" {
			if s, ok := coerced.(string); ok {
				re, err := regexp.Compile(spec.Validation)
				if err != nil {
					violations = append(violations, fmt.Sprintf("input %s has an invalid validation rule: %v", name, err))
					continue
				}
				if !re.MatchString(s) {
					violations = append(violations, fmt.Sprintf("input %s value %q does not match validation %q", name, s, spec.Validation))
					continue
				}
			}
		}

		in.values[name] = coerced
	}

	for name := range values {
		if _, declared := in.specs[name]; !declared {
			violations = append(violations, fmt.Sprintf("input %s was supplied but is not declared", name))
		}
	}

	if len(violations) > 0 {
		sort.Strings(violations)
		return NewValidationError("playbook inputs failed validation", violations)
	}

	in.prepared = true
	return nil
}

// Value returns the resolved value of an input.
func (in *Inputs) Value(name string) (any, error) {
	if v, ok := in.values[name]; ok {
		return v, nil
	}
	return nil, NewMissingInputError(name)
}

// Keys returns the declared input names in declaration order.
func (in *Inputs) Keys() []string {
	out := make([]string, len(in.order))
	copy(out, in.order)
	return out
}

// Include reports whether an input is declared.
func (in *Inputs) Include(name string) bool {
	_, ok := in.specs[name]
	return ok
}

// Spec returns the declaration of an input.
func (in *Inputs) Spec(name string) (*InputSpec, error) {
	if spec, ok := in.specs[name]; ok {
		return spec, nil
	}
	return nil, NewMissingInputError(name)
}

// Prepared reports whether Prepare has completed successfully.
func (in *Inputs) Prepared() bool {
	return in.prepared
}

// asMap exposes the resolved values to template expressions.
func (in *Inputs) asMap() map[string]any {
	out := make(map[string]any, len(in.values))
	for k, v := range in.values {
		out[k] = v
	}
	return out
}

// AddCLIOptions registers every declared input as a flag on an external
// cobra command. When allowEmpty is false, required inputs without a
// default are marked required on the command as well.
func (in *Inputs) AddCLIOptions(cmd *cobra.Command, allowEmpty bool) error {
	for _, name := range in.order {
		spec := in.specs[name]
		description := spec.Description
		if description == "" {
			description = fmt.Sprintf("playbook input %s", name)
		}

		switch spec.Type {
		case "integer":
			def := 0
			if v, ok := spec.Default.(int); ok {
				def = v
			}
			cmd.Flags().Int(name, def, description)
		case "float":
			def := 0.0
			if v, ok := spec.Default.(float64); ok {
				def = v
			}
			cmd.Flags().Float64(name, def, description)
		case "boolean":
			def := false
			if v, ok := spec.Default.(bool); ok {
				def = v
			}
			cmd.Flags().Bool(name, def, description)
		case "list":
			var def []string
			if raw, ok := spec.Default.([]any); ok {
				if coerced, err := stringList(raw); err == nil {
					def = coerced
				}
			}
			cmd.Flags().StringSlice(name, def, description)
		default:
			def := ""
			if v, ok := spec.Default.(string); ok {
				def = v
			}
			cmd.Flags().String(name, def, description)
		}

		if spec.Required && !spec.HasDefault && !allowEmpty {
			if err := cmd.MarkFlagRequired(name); err != nil {
				return fmt.Errorf("failed to mark flag %s required: %w", name, err)
			}
		}
	}

	return nil
}

// coerceInput converts a supplied raw value to the declared type.
func coerceInput(typ string, value any) (any, error) {
	switch typ {
	case "string":
		if s, ok := value.(string); ok {
			return s, nil
		}
		return nil, fmt.Errorf("expected string, got %T", value)

	case "integer":
		switch v := value.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			if v == float64(int(v)) {
				return int(v), nil
			}
			return nil, fmt.Errorf("expected integer, got %v", v)
		case string:
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("expected integer, got %q", v)
			}
			return n, nil
		default:
			return nil, fmt.Errorf("expected integer, got %T", value)
		}

	case "float":
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case string:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("expected float, got %q", v)
			}
			return f, nil
		default:
			return nil, fmt.Errorf("expected float, got %T", value)
		}

	case "boolean":
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("expected boolean, got %q", v)
			}
			return b, nil
		default:
			return nil, fmt.Errorf("expected boolean, got %T", value)
		}

	case "list":
		switch v := value.(type) {
		case []string:
			return v, nil
		case []any:
			return stringList(v)
		default:
			return nil, fmt.Errorf("expected list, got %T", value)
		}

	default:
		return nil, fmt.Errorf("unknown input type %q", typ)
	}
}
