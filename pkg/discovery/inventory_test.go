package discovery

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func testInventory() *Inventory {
	return NewInventory([]InventoryHost{
		{Name: "web1", Groups: []string{"web", "frontend"}, Attributes: map[string]string{"dc": "ams1"}},
		{Name: "web2", Groups: []string{"web", "frontend"}, Attributes: map[string]string{"dc": "ams2"}},
		{Name: "db1", Groups: []string{"db"}, Attributes: map[string]string{"dc": "ams1", "tier": "primary"}},
		{Name: "db2", Groups: []string{"db"}, Attributes: map[string]string{"dc": "ams2", "tier": "replica"}},
		{Name: "bastion", Attributes: map[string]string{"dc": "ams1"}},
	})
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name   string
		filter string
		want   []string
	}{
		{
			name:   "wildcard matches every node",
			filter: "*",
			want:   []string{"bastion", "db1", "db2", "web1", "web2"},
		},
		{
			name:   "group filter",
			filter: "group=web",
			want:   []string{"web1", "web2"},
		},
		{
			name:   "group filter with no members",
			filter: "group=cache",
			want:   nil,
		},
		{
			name:   "attribute filter",
			filter: "dc=ams1",
			want:   []string{"bastion", "db1", "web1"},
		},
		{
			name:   "attribute filter on missing key",
			filter: "rack=r7",
			want:   nil,
		},
		{
			name:   "name glob",
			filter: "db*",
			want:   []string{"db1", "db2"},
		},
		{
			name:   "exact name",
			filter: "bastion",
			want:   []string{"bastion"},
		},
	}

	inv := testInventory()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := inv.Resolve(context.Background(), tt.filter)
			if err != nil {
				t.Fatalf("Resolve(%q) failed: %v", tt.filter, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Resolve(%q) = %v, want %v", tt.filter, got, tt.want)
			}
		})
	}
}

func TestResolveRejectsBadFilters(t *testing.T) {
	inv := testInventory()

	if _, err := inv.Resolve(context.Background(), ""); err == nil {
		t.Error("expected error for empty filter")
	}
	if _, err := inv.Resolve(context.Background(), "  "); err == nil {
		t.Error("expected error for blank filter")
	}
	if _, err := inv.Resolve(context.Background(), "web[1"); err == nil {
		t.Error("expected error for malformed glob")
	}
}

func TestLoadInventory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "inventory.yaml")
	content := `hosts:
  - name: web1
    groups: [web]
    attributes:
      dc: ams1
  - name: web2
    groups: [web]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write inventory: %v", err)
	}

	inv, err := LoadInventory(path)
	if err != nil {
		t.Fatalf("LoadInventory failed: %v", err)
	}

	if inv.Size() != 2 {
		t.Errorf("expected 2 hosts, got %d", inv.Size())
	}

	host, ok := inv.Host("web1")
	if !ok {
		t.Fatal("expected web1 in inventory")
	}
	if host.Attributes["dc"] != "ams1" {
		t.Errorf("expected dc=ams1, got %q", host.Attributes["dc"])
	}

	nodes, err := inv.Resolve(context.Background(), "group=web")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(nodes) != 2 {
		t.Errorf("expected 2 web nodes, got %v", nodes)
	}
}

func TestLoadInventoryRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadInventory(filepath.Join(dir, "absent.yaml")); err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("not yaml", func(t *testing.T) {
		path := filepath.Join(dir, "broken.yaml")
		if err := os.WriteFile(path, []byte(":\n  - ]["), 0o644); err != nil {
			t.Fatalf("failed to write file: %v", err)
		}
		if _, err := LoadInventory(path); err == nil {
			t.Error("expected error for malformed yaml")
		}
	})

	t.Run("nameless host", func(t *testing.T) {
		path := filepath.Join(dir, "nameless.yaml")
		if err := os.WriteFile(path, []byte("hosts:\n  - groups: [web]\n"), 0o644); err != nil {
			t.Fatalf("failed to write file: %v", err)
		}
		if _, err := LoadInventory(path); err == nil {
			t.Error("expected error for host without name")
		}
	})
}
