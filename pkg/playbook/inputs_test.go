package playbook

import (
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func testInputSpecs(t *testing.T) *Inputs {
	t.Helper()

	in := NewInputs()
	err := in.FromMap(map[string]any{
		"cluster": map[string]any{
			"type":       "string",
			"required":   true,
			"validation": "^[a-z]+$",
		},
		"count": map[string]any{
			"type":    "integer",
			"default": 3,
		},
		"dry_run": map[string]any{
			"type":    "boolean",
			"default": false,
		},
		"services": map[string]any{
			"type": "list",
		},
	})
	if err != nil {
		t.Fatalf("FromMap failed: %v", err)
	}
	return in
}

func TestInputsPrepareResolvesValuesAndDefaults(t *testing.T) {
	in := testInputSpecs(t)

	err := in.Prepare(map[string]any{
		"cluster":  "prod",
		"services": []any{"nginx", "haproxy"},
	})
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if !in.Prepared() {
		t.Error("expected inputs to be marked prepared")
	}

	cluster, err := in.Value("cluster")
	if err != nil || cluster != "prod" {
		t.Errorf("cluster = %v, %v", cluster, err)
	}

	// Omitted input with a default resolves to the default.
	count, err := in.Value("count")
	if err != nil || count != 3 {
		t.Errorf("count = %v, %v", count, err)
	}

	services, err := in.Value("services")
	if err != nil {
		t.Fatalf("Value(services) failed: %v", err)
	}
	if got := services.([]string); len(got) != 2 || got[0] != "nginx" {
		t.Errorf("services = %v", got)
	}
}

func TestInputsPrepareCollectsAllViolations(t *testing.T) {
	in := testInputSpecs(t)

	// Three independent problems in one document: the required input is
	// missing, one value has the wrong type, one supplied input is
	// undeclared. All must surface in a single validation error.
	err := in.Prepare(map[string]any{
		"count":   "not-a-number",
		"unknown": true,
	})
	if err == nil {
		t.Fatal("expected a validation error")
	}
	if !IsValidation(err) {
		t.Fatalf("expected validation kind, got %v", err)
	}

	var pbErr *Error
	if !asPlaybookError(err, &pbErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if len(pbErr.Violations) != 3 {
		t.Fatalf("expected 3 violations, got %d: %v", len(pbErr.Violations), pbErr.Violations)
	}

	wantFragments := []string{"cluster", "count", "unknown"}
	for _, frag := range wantFragments {
		found := false
		for _, v := range pbErr.Violations {
			if strings.Contains(v, frag) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("no violation mentions %q: %v", frag, pbErr.Violations)
		}
	}
}

func TestInputsValidationRegex(t *testing.T) {
	in := testInputSpecs(t)

	err := in.Prepare(map[string]any{"cluster": "PROD-1"})
	if !IsValidation(err) {
		t.Fatalf("expected validation error for regex mismatch, got %v", err)
	}
}

func TestInputsValueMissing(t *testing.T) {
	in := testInputSpecs(t)
	if err := in.Prepare(map[string]any{"cluster": "prod"}); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	// services was declared but neither supplied nor defaulted.
	_, err := in.Value("services")
	if !IsKind(err, KindMissingInput) {
		t.Errorf("expected missing-input error, got %v", err)
	}

	_, err = in.Value("never-declared")
	if !IsKind(err, KindMissingInput) {
		t.Errorf("expected missing-input error for undeclared name, got %v", err)
	}
}

func TestInputsCoercion(t *testing.T) {
	cases := []struct {
		name    string
		typ     string
		value   any
		want    any
		wantErr bool
	}{
		{"int passthrough", "integer", 7, 7, false},
		{"int from string", "integer", "42", 42, false},
		{"int from whole float", "integer", float64(5), 5, false},
		{"int rejects fraction", "integer", 5.5, nil, true},
		{"float from int", "float", 2, 2.0, false},
		{"bool from string", "boolean", "true", true, false},
		{"bool rejects junk", "boolean", "maybe", nil, true},
		{"string rejects int", "string", 9, nil, true},
		{"list rejects scalar", "list", "solo", nil, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := coerceInput(tc.typ, tc.value)
			if tc.wantErr {
				if err == nil {
					t.Errorf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("coerceInput failed: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %v (%T), want %v (%T)", got, got, tc.want, tc.want)
			}
		})
	}
}

func TestInputsRejectsBadDeclarations(t *testing.T) {
	in := NewInputs()
	err := in.FromMap(map[string]any{
		"weird": map[string]any{"type": "tensor"},
	})
	if !IsValidation(err) {
		t.Errorf("expected validation error for unknown type, got %v", err)
	}
}

func TestInputsAddCLIOptions(t *testing.T) {
	in := testInputSpecs(t)

	cmd := &cobra.Command{Use: "test"}
	if err := in.AddCLIOptions(cmd, true); err != nil {
		t.Fatalf("AddCLIOptions failed: %v", err)
	}

	for _, name := range []string{"cluster", "count", "dry_run", "services"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("flag %s was not registered", name)
		}
	}

	if def := cmd.Flags().Lookup("count").DefValue; def != "3" {
		t.Errorf("count default = %q, want 3", def)
	}
}
