// Package engine turns a tool, its governing rule and one call attempt into
// a verdict. It is pure decision logic: no storage, no counters, no clocks.
// Callers own the call window and bump it only after an admitted call.
package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/doninones/actionpacks/pkg/pack"
	"github.com/doninones/actionpacks/pkg/policy"
	"github.com/doninones/actionpacks/pkg/schema"
)

// Kind is the verdict class. Exactly one applies per decision.
type Kind string

const (
	KindOk                Kind = "ok"
	KindBlocked           Kind = "blocked"
	KindNeedsConfirmation Kind = "needs_confirmation"
	KindRateLimited       Kind = "rate_limited"
)

// CallContext carries everything known about one call attempt.
type CallContext struct {
	// Payload is the decoded argument object. Nil means an empty payload.
	Payload map[string]any

	// Confirmed records that the caller already acknowledged the
	// confirmation prompt for this attempt.
	Confirmed bool

	// CallsInWindow is how many calls were already admitted inside the
	// rule's current rate window.
	CallsInWindow int
}

// Verdict is the outcome of one decision. Issues is set for blocked,
// Message for needs_confirmation, and the three counters for rate_limited.
type Verdict struct {
	Kind      Kind           `json:"kind"`
	Issues    []schema.Issue `json:"issues,omitempty"`
	Message   string         `json:"message,omitempty"`
	Attempted int            `json:"attempted,omitempty"`
	MaxCalls  int            `json:"maxCalls,omitempty"`
	WindowSec int            `json:"windowSec,omitempty"`
}

// Ok reports whether the call may proceed as-is.
func (v Verdict) Ok() bool { return v.Kind == KindOk }

// Decide evaluates one call attempt against the tool's schema and its rule.
// A nil rule means the tool is unruled: payload checks still run off the
// schema, confirmation and rate limiting do not apply.
//
// Every check is computed before any verdict is picked, then precedence is
// fixed: blocked over needs_confirmation over rate_limited over ok. A
// blocked call never consumes window budget and never prompts, and an
// unconfirmed call is never reported as rate limited.
//
// The only error case is a schema document that fails to compile; that is a
// tool-metadata defect, not a verdict, and wraps *schema.CompileError.
func Decide(t *pack.Tool, rule *policy.Rule, ctx CallContext) (Verdict, error) {
	payload := ctx.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	// 1. Schema validation (only when the tool carries a schema)
	var issues []schema.Issue
	if t.InputSchema != nil {
		found, err := schema.Validate(t.InputSchema, payload)
		if err != nil {
			return Verdict{}, fmt.Errorf("Decide: tool %s: %w", t.Name, err)
		}
		issues = found
	}

	// 2. Allowlist check
	if rule != nil {
		if extra := extraFields(payload, rule.Allowlist); len(extra) > 0 {
			issues = append(issues, schema.Issue{
				Pointer: "/",
				Message: "allowlist: unexpected fields " + strings.Join(extra, ", "),
			})
		}
	}

	// 3. Confirmation check
	needsConfirm := rule != nil && rule.Confirm.Required && !ctx.Confirmed

	// 4. Rate check
	var limited bool
	var limit policy.RateLimit
	if rule != nil {
		limit = rule.RateLimit.Clamped()
		limited = ctx.CallsInWindow+1 > limit.MaxCalls
	}

	// blocked overrides needs_confirmation overrides rate_limited
	switch {
	case len(issues) > 0:
		return Verdict{Kind: KindBlocked, Issues: issues}, nil
	case needsConfirm:
		return Verdict{Kind: KindNeedsConfirmation, Message: confirmMessage(rule, t)}, nil
	case limited:
		return Verdict{
			Kind:      KindRateLimited,
			Attempted: ctx.CallsInWindow + 1,
			MaxCalls:  limit.MaxCalls,
			WindowSec: limit.WindowSec,
		}, nil
	default:
		return Verdict{Kind: KindOk}, nil
	}
}

// IsCompileError reports whether err came from an uncompilable tool schema.
func IsCompileError(err error) bool {
	var ce *schema.CompileError
	return errors.As(err, &ce)
}

func confirmMessage(rule *policy.Rule, t *pack.Tool) string {
	if rule.Confirm.Message != "" {
		return rule.Confirm.Message
	}
	return fmt.Sprintf("Proceed with %s?", t.Name)
}

// extraFields returns payload keys outside the allowlist, sorted. An empty
// allowlist restricts nothing.
func extraFields(payload map[string]any, allowlist []string) []string {
	if len(allowlist) == 0 {
		return nil
	}
	allowed := make(map[string]bool, len(allowlist))
	for _, f := range allowlist {
		allowed[f] = true
	}
	var extra []string
	for key := range payload {
		if !allowed[key] {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	return extra
}
