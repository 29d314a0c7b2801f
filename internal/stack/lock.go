package stack

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/doninones/actionpacks/pkg/pack"
)

// LockFileName is the pinned-digest companion of stack.yaml.
const LockFileName = "stack.lock.json"

// LockFile pins the exact on-disk content of every stacked pack.
type LockFile struct {
	Packs []LockedPack `json:"packs"`
}

// LockedPack pins one pack's files.
type LockedPack struct {
	ID    string       `json:"id"`
	Path  string       `json:"path"`
	Files []LockedFile `json:"files"`
}

// LockedFile is one file's digest, with the path relative to the pack
// directory.
type LockedFile struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

// BuildLock loads every stacked pack and digests its manifest and schema
// files.
func BuildLock(s *Stack) (*LockFile, error) {
	lf := &LockFile{Packs: make([]LockedPack, 0, len(s.Packs))}
	for _, e := range s.Packs {
		p, err := pack.Load(e.Path)
		if err != nil {
			return nil, fmt.Errorf("BuildLock: pack %s: %w", e.Name, err)
		}
		locked := LockedPack{ID: p.ID(), Path: e.Path}
		for _, file := range p.Files() {
			sum, err := digestFile(file)
			if err != nil {
				return nil, fmt.Errorf("BuildLock: pack %s: %w", e.Name, err)
			}
			rel, err := filepath.Rel(p.Dir, file)
			if err != nil {
				return nil, fmt.Errorf("BuildLock: pack %s: %w", e.Name, err)
			}
			locked.Files = append(locked.Files, LockedFile{Path: rel, SHA256: sum})
		}
		lf.Packs = append(lf.Packs, locked)
	}
	return lf, nil
}

// Save writes the lockfile into dir.
func (lf *LockFile) Save(dir string) error {
	raw, err := json.MarshalIndent(lf, "", "  ")
	if err != nil {
		return fmt.Errorf("Save: %w", err)
	}
	raw = append(raw, '\n')
	if err := os.WriteFile(filepath.Join(dir, LockFileName), raw, 0o644); err != nil {
		return fmt.Errorf("Save: %w", err)
	}
	return nil
}

// LoadLock reads the lockfile from dir. A missing lockfile returns nil.
func LoadLock(dir string) (*LockFile, error) {
	raw, err := os.ReadFile(filepath.Join(dir, LockFileName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("LoadLock: %w", err)
	}
	var lf LockFile
	if err := json.Unmarshal(raw, &lf); err != nil {
		return nil, fmt.Errorf("LoadLock: parse %s: %w", LockFileName, err)
	}
	return &lf, nil
}

// Verify re-digests every locked file and reports the first divergence:
// a pack missing from the lock, a file gone from disk, or changed content.
func Verify(s *Stack, lf *LockFile) error {
	if lf == nil {
		return fmt.Errorf("Verify: no lockfile, run lock first")
	}
	locked := make(map[string]*LockedPack, len(lf.Packs))
	for i := range lf.Packs {
		name, _ := pack.ParseID(lf.Packs[i].ID)
		locked[name] = &lf.Packs[i]
	}

	for _, e := range s.Packs {
		lp, ok := locked[e.Name]
		if !ok {
			return fmt.Errorf("Verify: pack %s is not locked", e.Name)
		}
		p, err := pack.Load(e.Path)
		if err != nil {
			return fmt.Errorf("Verify: pack %s: %w", e.Name, err)
		}
		if p.ID() != lp.ID {
			return fmt.Errorf("Verify: pack %s is %s on disk but %s in lock", e.Name, p.ID(), lp.ID)
		}
		for _, f := range lp.Files {
			sum, err := digestFile(filepath.Join(p.Dir, f.Path))
			if err != nil {
				return fmt.Errorf("Verify: pack %s: file %s: %w", e.Name, f.Path, err)
			}
			if sum != f.SHA256 {
				return fmt.Errorf("Verify: pack %s: file %s changed since lock", e.Name, f.Path)
			}
		}
	}
	return nil
}

func digestFile(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
