// Package pack loads versioned tool-pack manifests from disk.
//
// A pack is a directory containing a pack.yaml manifest that declares the
// pack's identity and its tools. Tool input schemas may be written inline in
// the manifest or kept in sibling JSON files referenced by relative path.
package pack

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ManifestName is the file every pack directory must contain.
const ManifestName = "pack.yaml"

// Pack is a parsed manifest plus the directory it was loaded from.
type Pack struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Description string `yaml:"description,omitempty"`
	Tools       []Tool `yaml:"tools"`

	// Dir is the absolute pack directory, set by Load.
	Dir string `yaml:"-"`
}

// Tool describes one invocable tool of a pack.
type Tool struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`

	// Schema is a path to a JSON-Schema file, relative to the pack
	// directory. Mutually exclusive with InputSchema.
	Schema string `yaml:"schema,omitempty"`

	// InputSchema is an inline JSON-Schema document. After Load it is
	// populated for file-based schemas as well.
	InputSchema map[string]any `yaml:"inputSchema,omitempty"`

	// SideEffects tags the operations the tool performs, e.g. "send" or
	// "delete". Rule suggestion keys off these.
	SideEffects []string `yaml:"sideEffects,omitempty"`

	// AllowlistFields, when set, overrides the suggested payload allowlist
	// instead of deriving it from the schema's properties.
	AllowlistFields []string `yaml:"allowlistFields,omitempty"`
}

// ID returns the pack identity as name@version, or just the name when the
// manifest carries no version.
func (p *Pack) ID() string {
	if p.Version == "" {
		return p.Name
	}
	return p.Name + "@" + p.Version
}

// Tool returns the named tool, or nil if the pack does not declare it.
func (p *Pack) Tool(name string) *Tool {
	for i := range p.Tools {
		if p.Tools[i].Name == name {
			return &p.Tools[i]
		}
	}
	return nil
}

// Files returns the absolute paths of the manifest and every schema file,
// the on-disk surface that lockfiles and bundles cover.
func (p *Pack) Files() []string {
	files := []string{filepath.Join(p.Dir, ManifestName)}
	for _, t := range p.Tools {
		if t.Schema != "" {
			files = append(files, filepath.Join(p.Dir, t.Schema))
		}
	}
	return files
}

// ParseID splits a pack identity into name and version. An identity without
// "@" is a bare name matching any version.
func ParseID(id string) (name, version string) {
	if i := strings.LastIndex(id, "@"); i >= 0 {
		return id[:i], id[i+1:]
	}
	return id, ""
}

// Load reads a pack from path, which may be the pack directory or the
// manifest file itself. File-based schemas are resolved and decoded so the
// returned pack is self-contained.
func Load(path string) (*Pack, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}
	manifest := abs
	if info.IsDir() {
		manifest = filepath.Join(abs, ManifestName)
	}

	raw, err := os.ReadFile(manifest)
	if err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}
	var p Pack
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("Load: parse %s: %w", manifest, err)
	}
	p.Dir = filepath.Dir(manifest)

	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("Load: %s: %w", manifest, err)
	}
	if err := p.resolveSchemas(); err != nil {
		return nil, fmt.Errorf("Load: %s: %w", manifest, err)
	}
	return &p, nil
}

func (p *Pack) validate() error {
	if p.Name == "" {
		return fmt.Errorf("pack name is required")
	}
	if strings.Contains(p.Name, "@") {
		return fmt.Errorf("pack name %q must not contain '@'", p.Name)
	}
	if len(p.Tools) == 0 {
		return fmt.Errorf("pack %s declares no tools", p.Name)
	}
	seen := make(map[string]bool, len(p.Tools))
	for i := range p.Tools {
		t := &p.Tools[i]
		if t.Name == "" {
			return fmt.Errorf("pack %s: tool #%d has no name", p.Name, i+1)
		}
		if seen[t.Name] {
			return fmt.Errorf("pack %s: duplicate tool %q", p.Name, t.Name)
		}
		seen[t.Name] = true
		if t.Schema != "" && t.InputSchema != nil {
			return fmt.Errorf("pack %s: tool %q sets both schema and inputSchema", p.Name, t.Name)
		}
		if t.Schema != "" {
			clean := filepath.Clean(t.Schema)
			if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
				return fmt.Errorf("pack %s: tool %q schema path %q escapes the pack directory", p.Name, t.Name, t.Schema)
			}
		}
	}
	return nil
}

func (p *Pack) resolveSchemas() error {
	for i := range p.Tools {
		t := &p.Tools[i]
		if t.Schema == "" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(p.Dir, t.Schema))
		if err != nil {
			return fmt.Errorf("tool %q: read schema: %w", t.Name, err)
		}
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("tool %q: parse schema %s: %w", t.Name, t.Schema, err)
		}
		t.InputSchema = doc
	}
	return nil
}
