// Package stack manages the workspace's set of installed packs: a
// stack.yaml naming them and a stack.lock.json pinning their file digests.
package stack

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileName is the stack manifest kept in the workspace directory.
const FileName = "stack.yaml"

// Entry references one installed pack.
type Entry struct {
	Name    string `yaml:"name" json:"name"`
	Version string `yaml:"version,omitempty" json:"version,omitempty"`

	// Path is where the pack directory lives, absolute or relative to the
	// workspace.
	Path string `yaml:"path" json:"path"`
}

// ID returns the entry's pack identity.
func (e Entry) ID() string {
	if e.Version == "" {
		return e.Name
	}
	return e.Name + "@" + e.Version
}

// Stack is the parsed stack.yaml.
type Stack struct {
	Packs []Entry `yaml:"packs"`
}

// Load reads the stack manifest from dir. A missing file is an empty stack.
func Load(dir string) (*Stack, error) {
	raw, err := os.ReadFile(filepath.Join(dir, FileName))
	if os.IsNotExist(err) {
		return &Stack{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}
	var s Stack
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("Load: parse %s: %w", FileName, err)
	}
	return &s, nil
}

// Save writes the stack manifest into dir.
func (s *Stack) Save(dir string) error {
	raw, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("Save: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, FileName), raw, 0o644); err != nil {
		return fmt.Errorf("Save: %w", err)
	}
	return nil
}

// Add inserts an entry, replacing any existing entry with the same name.
// One version per pack name keeps rule matching unambiguous.
func (s *Stack) Add(e Entry) {
	for i := range s.Packs {
		if s.Packs[i].Name == e.Name {
			s.Packs[i] = e
			return
		}
	}
	s.Packs = append(s.Packs, e)
}

// Remove deletes the entry with the given pack name and reports whether one
// was present.
func (s *Stack) Remove(name string) bool {
	for i := range s.Packs {
		if s.Packs[i].Name == name {
			s.Packs = append(s.Packs[:i], s.Packs[i+1:]...)
			return true
		}
	}
	return false
}

// Find returns the entry whose name or full identity matches id, or nil.
func (s *Stack) Find(id string) *Entry {
	for i := range s.Packs {
		if s.Packs[i].Name == id || s.Packs[i].ID() == id {
			return &s.Packs[i]
		}
	}
	return nil
}
