package model

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Project groups tasks. Tasks reference projects by id only; deleting a
// project never cascades, so consumers must treat a dangling reference
// as "no project".
type Project struct {
	ID        string `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	Color     string `json:"color" yaml:"color"`
	UpdatedAt int64  `json:"updatedAt,omitempty" yaml:"updatedAt,omitempty"`
}

// Validate checks that the project has valid field values.
func (p *Project) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("id is required")
	}
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	return nil
}

// DefaultProjects returns the fixed seed set used when a namespace has
// no remote projects yet.
func DefaultProjects() []*Project {
	return []*Project{
		{ID: "p1", Name: "Core Platform", Color: "text-indigo-400"},
		{ID: "p2", Name: "Mobile App", Color: "text-emerald-400"},
		{ID: "p3", Name: "Design System", Color: "text-pink-400"},
	}
}

// LoadProjectSeed reads a YAML seed file describing the projects to
// create for a fresh namespace. Returns DefaultProjects when path is
// empty or the file does not exist.
func LoadProjectSeed(path string) ([]*Project, error) {
	if path == "" {
		return DefaultProjects(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultProjects(), nil
		}
		return nil, fmt.Errorf("failed to read project seed %s: %w", path, err)
	}

	var projects []*Project
	if err := yaml.Unmarshal(data, &projects); err != nil {
		return nil, fmt.Errorf("failed to parse project seed %s: %w", path, err)
	}
	for _, p := range projects {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("invalid seed project: %w", err)
		}
	}
	return projects, nil
}
