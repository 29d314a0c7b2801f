package policy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/doninones/actionpacks/pkg/pack"
)

// DefaultRateLimit is applied to suggested rules unless the caller overrides
// it.
var DefaultRateLimit = RateLimit{MaxCalls: 20, WindowSec: 60}

// DefaultConfirmSideEffects are the side-effect tags that mark a tool as
// state-changing. A tool carrying any of them gets confirm.required=true.
var DefaultConfirmSideEffects = []string{"send", "create", "update", "delete", "write", "post"}

// DefaultSensitiveFieldPatterns are substrings that flag a payload field as
// credential-bearing. Matching fields are left out of suggested allowlists.
var DefaultSensitiveFieldPatterns = []string{
	"password", "secret", "token", "apikey", "api_key", "auth", "bearer", "credential",
}

// Suggester derives a conservative starter rule from a tool's manifest
// metadata. The zero value is unusable; call NewSuggester and override the
// keyword sets only when the defaults do not fit the deployment.
type Suggester struct {
	// ConfirmSideEffects marks which side-effect tags require confirmation.
	ConfirmSideEffects []string

	// SensitiveFieldPatterns excludes matching field names from allowlists.
	SensitiveFieldPatterns []string
}

// NewSuggester returns a Suggester with the default keyword sets.
func NewSuggester() *Suggester {
	return &Suggester{
		ConfirmSideEffects:     DefaultConfirmSideEffects,
		SensitiveFieldPatterns: DefaultSensitiveFieldPatterns,
	}
}

// Suggest builds a rule for one tool. The same tool always yields the same
// rule, so re-running suggestion is safe and overwrites nothing new.
func (s *Suggester) Suggest(packID string, t *pack.Tool, limit RateLimit) Rule {
	rule := Rule{
		Pack:        packID,
		Tool:        t.Name,
		Description: description(t),
		Allowlist:   s.allowlist(t),
		RateLimit:   limit.Clamped(),
	}
	if s.requiresConfirm(t.SideEffects) {
		rule.Confirm = Confirm{
			Required: true,
			Message:  fmt.Sprintf("Proceed with %s?", t.Name),
		}
	}
	return rule
}

// SuggestAll builds one rule per tool, in manifest order.
func (s *Suggester) SuggestAll(p *pack.Pack, limit RateLimit) []Rule {
	rules := make([]Rule, 0, len(p.Tools))
	for i := range p.Tools {
		rules = append(rules, s.Suggest(p.ID(), &p.Tools[i], limit))
	}
	return rules
}

func (s *Suggester) requiresConfirm(sideEffects []string) bool {
	for _, tag := range sideEffects {
		tag = strings.ToLower(strings.TrimSpace(tag))
		for _, kw := range s.ConfirmSideEffects {
			if tag == strings.ToLower(kw) {
				return true
			}
		}
	}
	return false
}

// allowlist returns the manifest override verbatim when present, otherwise
// the tool's schema properties minus anything that looks credential-bearing,
// sorted for stable output. An empty result means unrestricted.
func (s *Suggester) allowlist(t *pack.Tool) []string {
	if len(t.AllowlistFields) > 0 {
		out := make([]string, len(t.AllowlistFields))
		copy(out, t.AllowlistFields)
		return out
	}

	out := []string{}
	if t.InputSchema == nil {
		return out
	}
	props, ok := t.InputSchema["properties"].(map[string]any)
	if !ok {
		return out
	}
	for name := range props {
		if s.sensitive(name) {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// description prefers the schema document's own description and falls back
// to the manifest's tool description.
func description(t *pack.Tool) string {
	if t.InputSchema != nil {
		if d, ok := t.InputSchema["description"].(string); ok && d != "" {
			return d
		}
	}
	return t.Description
}

func (s *Suggester) sensitive(field string) bool {
	lower := strings.ToLower(field)
	for _, pat := range s.SensitiveFieldPatterns {
		if strings.Contains(lower, strings.ToLower(pat)) {
			return true
		}
	}
	return false
}
