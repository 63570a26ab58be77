package discovery

import (
	"context"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// InventoryHost is one node entry in an inventory file.
type InventoryHost struct {
	// Name is the node identifier.
	Name string `yaml:"name"`

	// Groups lists the inventory groups the node belongs to.
	Groups []string `yaml:"groups,omitempty"`

	// Attributes are key-value facts used by attribute filters.
	Attributes map[string]string `yaml:"attributes,omitempty"`
}

// InventoryFile is the YAML document shape of a static inventory.
type InventoryFile struct {
	Hosts []InventoryHost `yaml:"hosts"`
}

// Inventory is a file-backed Discoverer. It supports three filter forms:
//
//	*              every node in the inventory
//	group=web      nodes belonging to the named group
//	key=value      nodes whose attribute key equals value
//	name glob      node names matched with path.Match semantics
type Inventory struct {
	mu    sync.RWMutex
	hosts []InventoryHost
}

// LoadInventory reads and parses an inventory file.
func LoadInventory(filename string) (*Inventory, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory %s: %w", filename, err)
	}

	var file InventoryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse inventory %s: %w", filename, err)
	}

	for i, h := range file.Hosts {
		if h.Name == "" {
			return nil, fmt.Errorf("inventory %s: host %d has no name", filename, i)
		}
	}

	return &Inventory{hosts: file.Hosts}, nil
}

// NewInventory creates an inventory from an in-memory host list.
func NewInventory(hosts []InventoryHost) *Inventory {
	return &Inventory{hosts: hosts}
}

// Resolve implements Discoverer.
func (inv *Inventory) Resolve(_ context.Context, filter string) ([]string, error) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	filter = strings.TrimSpace(filter)
	if filter == "" {
		return nil, fmt.Errorf("empty discovery filter")
	}

	var matched []string
	switch {
	case filter == "*":
		for _, h := range inv.hosts {
			matched = append(matched, h.Name)
		}

	case strings.HasPrefix(filter, "group="):
		group := strings.TrimPrefix(filter, "group=")
		for _, h := range inv.hosts {
			for _, g := range h.Groups {
				if g == group {
					matched = append(matched, h.Name)
					break
				}
			}
		}

	case strings.Contains(filter, "="):
		parts := strings.SplitN(filter, "=", 2)
		key, value := parts[0], parts[1]
		for _, h := range inv.hosts {
			if h.Attributes[key] == value {
				matched = append(matched, h.Name)
			}
		}

	default:
		for _, h := range inv.hosts {
			ok, err := path.Match(filter, h.Name)
			if err != nil {
				return nil, fmt.Errorf("invalid discovery filter %q: %w", filter, err)
			}
			if ok {
				matched = append(matched, h.Name)
			}
		}
	}

	sort.Strings(matched)
	return matched, nil
}

// Host returns the inventory entry for a node, if present.
func (inv *Inventory) Host(name string) (InventoryHost, bool) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	for _, h := range inv.hosts {
		if h.Name == name {
			return h, true
		}
	}
	return InventoryHost{}, false
}

// Size returns the number of nodes in the inventory.
func (inv *Inventory) Size() int {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return len(inv.hosts)
}
