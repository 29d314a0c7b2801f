package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store resolves the rule governing a pack/tool pair. A (nil, nil) return
// means no rule exists and the call is permitted without rate limiting.
type Store interface {
	Resolve(ctx context.Context, packID, toolName string) (*Rule, error)
}

// ruleFile is the on-disk shape of a FileStore document.
type ruleFile struct {
	Rules []Rule `json:"rules"`
}

// FileStore keeps rules in a single JSON document, the format `rules
// suggest --write` produces. All reads are served from memory; Save writes
// the document back atomically.
type FileStore struct {
	path string

	mu    sync.RWMutex
	rules []Rule
}

// OpenFileStore loads the rule document at path. A missing file is an empty
// store, not an error, so first runs need no setup step.
func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("OpenFileStore: %w", err)
	}

	var doc ruleFile
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("OpenFileStore: parse %s: %w", path, err)
	}
	s.rules = doc.Rules
	return s, nil
}

// Path returns the document location the store was opened with.
func (s *FileStore) Path() string { return s.path }

// Rules returns a copy of the current rule set in document order.
func (s *FileStore) Rules() []Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Upsert replaces the rule with the same (pack, tool) identity in place, or
// appends when none exists.
func (s *FileStore) Upsert(rule Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rules {
		if s.rules[i].Pack == rule.Pack && s.rules[i].Tool == rule.Tool {
			s.rules[i] = rule
			return
		}
	}
	s.rules = append(s.rules, rule)
}

// Remove deletes the rule with the given identity and reports whether one
// was present.
func (s *FileStore) Remove(packID, toolName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rules {
		if s.rules[i].Pack == packID && s.rules[i].Tool == toolName {
			s.rules = append(s.rules[:i], s.rules[i+1:]...)
			return true
		}
	}
	return false
}

// Save writes the document via a temp file and rename so readers never see
// a half-written rule set.
func (s *FileStore) Save() error {
	s.mu.RLock()
	doc := ruleFile{Rules: s.rules}
	raw, err := json.MarshalIndent(doc, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("Save: %w", err)
	}
	raw = append(raw, '\n')

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("Save: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".rules-*.json")
	if err != nil {
		return fmt.Errorf("Save: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("Save: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("Save: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("Save: %w", err)
	}
	return nil
}

// Resolve implements Store against the in-memory rule set.
func (s *FileStore) Resolve(_ context.Context, packID, toolName string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := Resolve(s.rules, packID, toolName)
	if r == nil {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}
