package playbook

import (
	"context"
	"testing"
)

func TestUsesPrepareValidatesAgainstRegistry(t *testing.T) {
	registry := &mockRegistry{agents: map[string][]string{
		"service": {"restart", "status"},
		"shell":   {"run"},
	}}

	cases := []struct {
		name        string
		doc         map[string]any
		wantErr     bool
		wantSubject string
	}{
		{
			name: "all declared dependencies available",
			doc: map[string]any{
				"service": []any{"restart", "status"},
				"shell":   []any{"run"},
			},
		},
		{
			name:        "missing agent named in error",
			doc:         map[string]any{"db": []any{"migrate"}},
			wantErr:     true,
			wantSubject: "db",
		},
		{
			name:        "missing action named as agent#action",
			doc:         map[string]any{"service": []any{"restart", "reload"}},
			wantErr:     true,
			wantSubject: "service#reload",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			u := NewUses()
			if err := u.FromMap(tc.doc); err != nil {
				t.Fatalf("FromMap failed: %v", err)
			}

			err := u.Prepare(context.Background(), registry)
			if !tc.wantErr {
				if err != nil {
					t.Fatalf("Prepare failed: %v", err)
				}
				if !u.Prepared() {
					t.Error("expected prepared flag")
				}
				return
			}

			if !IsKind(err, KindAgentUnavailable) {
				t.Fatalf("expected agent-unavailable error, got %v", err)
			}
			var pbErr *Error
			if !asPlaybookError(err, &pbErr) || pbErr.Subject != tc.wantSubject {
				t.Errorf("expected subject %q, got %v", tc.wantSubject, err)
			}
			if u.Prepared() {
				t.Error("failed prepare must not mark the component prepared")
			}
		})
	}
}

func TestUsesDeclares(t *testing.T) {
	u := NewUses()
	if err := u.FromMap(map[string]any{"service": []any{"restart"}}); err != nil {
		t.Fatalf("FromMap failed: %v", err)
	}

	if !u.Declares("service", "restart") {
		t.Error("expected declared pair to be reported")
	}
	if u.Declares("service", "stop") {
		t.Error("undeclared action reported as declared")
	}
	if u.Declares("db", "migrate") {
		t.Error("undeclared agent reported as declared")
	}
}

func TestUsesRejectsNonListActions(t *testing.T) {
	u := NewUses()
	err := u.FromMap(map[string]any{"service": "restart"})
	if !IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}
