package policy

import "github.com/doninones/actionpacks/pkg/pack"

// Resolve picks the rule governing a call. Matching runs in two phases:
// first an exact match on (pack identity, tool), then a fallback that
// matches on pack name alone so a rule written for one version keeps
// covering the others. First rule wins within each phase. No match returns
// nil: an unruled tool is permitted, not blocked.
func Resolve(rules []Rule, packID, toolName string) *Rule {
	for i := range rules {
		if rules[i].Tool == toolName && rules[i].Pack == packID {
			return &rules[i]
		}
	}

	name, _ := pack.ParseID(packID)
	for i := range rules {
		if rules[i].Tool != toolName {
			continue
		}
		ruleName, _ := pack.ParseID(rules[i].Pack)
		if ruleName == name {
			return &rules[i]
		}
	}
	return nil
}
