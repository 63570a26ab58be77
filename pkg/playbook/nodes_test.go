package playbook

import (
	"context"
	"testing"
)

func TestNodesFromMapDeclarationForms(t *testing.T) {
	n := NewNodes()
	err := n.FromMap(map[string]any{
		"filtered": map[string]any{"filter": "group=web"},
		"listed":   map[string]any{"list": []any{"db1", "db2"}},
		"bare":     []any{"lb1"},
		"short":    "group=cache",
	})
	if err != nil {
		t.Fatalf("FromMap failed: %v", err)
	}

	for _, name := range []string{"filtered", "listed", "bare", "short"} {
		if !n.Include(name) {
			t.Errorf("group %s not declared", name)
		}
	}
}

func TestNodesFromMapRejectsAmbiguousDeclarations(t *testing.T) {
	cases := []struct {
		name string
		doc  map[string]any
	}{
		{"both filter and list", map[string]any{
			"g": map[string]any{"filter": "x=y", "list": []any{"a"}},
		}},
		{"neither filter nor list", map[string]any{
			"g": map[string]any{},
		}},
		{"unsupported shape", map[string]any{
			"g": 42,
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := NewNodes().FromMap(tc.doc); !IsValidation(err) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestNodesPrepareResolvesAndDeduplicates(t *testing.T) {
	n := NewNodes()
	err := n.FromMap(map[string]any{
		"web": map[string]any{"filter": "group=web"},
		"mixed": map[string]any{
			"list": []any{"a", "b", "a", "c", "b"},
		},
	})
	if err != nil {
		t.Fatalf("FromMap failed: %v", err)
	}

	disco := &mockDiscoverer{filters: map[string][]string{
		"group=web": {"web1", "web2", "web1"},
	}}
	if err := n.Prepare(context.Background(), disco); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	web, err := n.Group("web")
	if err != nil {
		t.Fatalf("Group(web) failed: %v", err)
	}
	if len(web) != 2 || web[0] != "web1" || web[1] != "web2" {
		t.Errorf("duplicates not removed from discovery result: %v", web)
	}

	mixed, err := n.Group("mixed")
	if err != nil {
		t.Fatalf("Group(mixed) failed: %v", err)
	}
	// First-seen order survives deduplication.
	want := []string{"a", "b", "c"}
	if len(mixed) != len(want) {
		t.Fatalf("mixed = %v, want %v", mixed, want)
	}
	for i := range want {
		if mixed[i] != want[i] {
			t.Errorf("mixed[%d] = %s, want %s", i, mixed[i], want[i])
		}
	}
}

func TestNodesEmptyGroupVersusUndeclared(t *testing.T) {
	n := NewNodes()
	if err := n.FromMap(map[string]any{"empty": []any{}}); err != nil {
		t.Fatalf("FromMap failed: %v", err)
	}
	if err := n.Prepare(context.Background(), nil); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	// A declared group that resolved to nothing is not an error.
	empty, err := n.Group("empty")
	if err != nil {
		t.Fatalf("Group(empty) failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected empty set, got %v", empty)
	}

	// A name that was never declared is.
	_, err = n.Group("ghost")
	if !IsKind(err, KindUndeclaredGroup) {
		t.Fatalf("expected undeclared-group error, got %v", err)
	}
	var pbErr *Error
	if !asPlaybookError(err, &pbErr) || pbErr.Subject != "ghost" {
		t.Errorf("error does not name the group: %v", err)
	}
}

func TestNodesPrepareFailsWhenDiscoveryFails(t *testing.T) {
	n := NewNodes()
	if err := n.FromMap(map[string]any{"web": "group=missing"}); err != nil {
		t.Fatalf("FromMap failed: %v", err)
	}

	err := n.Prepare(context.Background(), &mockDiscoverer{filters: map[string][]string{}})
	if !IsKind(err, KindUser) {
		t.Errorf("expected user error for failed discovery, got %v", err)
	}
	if n.Prepared() {
		t.Error("failed prepare must not mark the component prepared")
	}
}
