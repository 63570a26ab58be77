package rpc

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// StaticRegistry is an AgentRegistry backed by a fixed capability list,
// typically loaded from the controller's agents file.
type StaticRegistry struct {
	agents map[string]*AgentInfo
}

// NewStaticRegistry builds a registry from a capability list.
func NewStaticRegistry(agents []*AgentInfo) *StaticRegistry {
	byName := make(map[string]*AgentInfo, len(agents))
	for _, agent := range agents {
		byName[agent.Name] = agent
	}
	return &StaticRegistry{agents: byName}
}

// agentsFile is the on-disk shape of the controller's agents file.
type agentsFile struct {
	Agents []struct {
		Name    string   `yaml:"name"`
		Version string   `yaml:"version"`
		Actions []string `yaml:"actions"`
		Timeout int      `yaml:"timeout"` // seconds
	} `yaml:"agents"`
}

// LoadStaticRegistry reads a YAML agents file.
func LoadStaticRegistry(path string) (*StaticRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read agents file: %w", err)
	}

	var file agentsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse agents file %s: %w", path, err)
	}

	agents := make([]*AgentInfo, 0, len(file.Agents))
	for _, entry := range file.Agents {
		if entry.Name == "" {
			return nil, fmt.Errorf("agents file %s: entry without a name", path)
		}
		agents = append(agents, &AgentInfo{
			Name:    entry.Name,
			Version: entry.Version,
			Actions: entry.Actions,
			Timeout: time.Duration(entry.Timeout) * time.Second,
		})
	}

	return NewStaticRegistry(agents), nil
}

// Agent implements AgentRegistry.
func (r *StaticRegistry) Agent(_ context.Context, name string) (*AgentInfo, error) {
	agent, ok := r.agents[name]
	if !ok {
		return nil, fmt.Errorf("agent %s is not registered", name)
	}
	return agent, nil
}

// Names returns the registered agent names.
func (r *StaticRegistry) Names() []string {
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	return names
}
