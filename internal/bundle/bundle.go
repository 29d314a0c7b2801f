// Package bundle exports a pack together with its governing rules as a
// self-contained directory that another workspace can stack directly.
package bundle

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/doninones/actionpacks/pkg/pack"
	"github.com/doninones/actionpacks/pkg/policy"
)

// MetadataName is the provenance file written into every bundle.
const MetadataName = "bundle.json"

// RulesName is the rule document written into every bundle.
const RulesName = "rules.json"

// Metadata records what a bundle contains and when it was cut.
type Metadata struct {
	ID        string       `json:"id"`
	CreatedAt time.Time    `json:"createdAt"`
	Files     []BundleFile `json:"files"`
}

// BundleFile is one exported file and its digest, path relative to the
// bundle root.
type BundleFile struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

// Export writes the pack's files, its rules and a metadata record into
// destDir/<pack-id>/ and returns that directory. Rules not belonging to the
// pack are filtered out. An existing bundle directory is refused rather
// than overwritten.
func Export(p *pack.Pack, rules []policy.Rule, destDir string) (string, error) {
	bundleDir := filepath.Join(destDir, p.ID())
	if _, err := os.Stat(bundleDir); err == nil {
		return "", fmt.Errorf("Export: %s already exists", bundleDir)
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("Export: %w", err)
	}
	if err := os.MkdirAll(bundleDir, 0o755); err != nil {
		return "", fmt.Errorf("Export: %w", err)
	}

	meta := Metadata{ID: p.ID(), CreatedAt: time.Now().UTC()}

	for _, src := range p.Files() {
		rel, err := filepath.Rel(p.Dir, src)
		if err != nil {
			return "", fmt.Errorf("Export: %w", err)
		}
		sum, err := copyFile(src, filepath.Join(bundleDir, rel))
		if err != nil {
			return "", fmt.Errorf("Export: %s: %w", rel, err)
		}
		meta.Files = append(meta.Files, BundleFile{Path: rel, SHA256: sum})
	}

	owned := ownRules(p, rules)
	rulesDoc := struct {
		Rules []policy.Rule `json:"rules"`
	}{Rules: owned}
	sum, err := writeJSON(filepath.Join(bundleDir, RulesName), rulesDoc)
	if err != nil {
		return "", fmt.Errorf("Export: %s: %w", RulesName, err)
	}
	meta.Files = append(meta.Files, BundleFile{Path: RulesName, SHA256: sum})

	if _, err := writeJSON(filepath.Join(bundleDir, MetadataName), meta); err != nil {
		return "", fmt.Errorf("Export: %s: %w", MetadataName, err)
	}
	return bundleDir, nil
}

// ownRules keeps the rules addressing this pack, by exact identity or by
// bare pack name.
func ownRules(p *pack.Pack, rules []policy.Rule) []policy.Rule {
	owned := []policy.Rule{}
	for _, r := range rules {
		name, _ := pack.ParseID(r.Pack)
		if name == p.Name {
			owned = append(owned, r)
		}
	}
	return owned
}

func copyFile(src, dst string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(out, h), in); err != nil {
		out.Close()
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeJSON(path string, v any) (string, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
