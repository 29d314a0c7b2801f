// Package policy defines invocation rules for pack tools: who must confirm,
// which payload fields are allowed, and how often a tool may be called.
//
// Rules are plain data. Deriving them from pack manifests is the Suggester's
// job, matching them to a call is Resolve's, and enforcing them belongs to
// the decision engine.
package policy

// Rule governs the invocation of one tool within one pack.
type Rule struct {
	// Pack is the pack identity the rule was written for, usually
	// name@version. A bare name matches any version of the pack.
	Pack string `json:"pack"`

	// Tool is the tool name within the pack.
	Tool string `json:"tool"`

	Description string `json:"description,omitempty"`

	Confirm   Confirm   `json:"confirm"`
	Allowlist []string  `json:"allowlist"`
	RateLimit RateLimit `json:"rateLimit"`
}

// Confirm states whether a call needs an explicit go-ahead before running.
type Confirm struct {
	Required bool `json:"required"`

	// Message is shown when confirmation is requested. Empty means the
	// engine falls back to a generated prompt.
	Message string `json:"message,omitempty"`
}

// RateLimit caps calls per rolling window.
type RateLimit struct {
	MaxCalls  int `json:"maxCalls"`
	WindowSec int `json:"windowSec"`
}

// Clamped returns the limit with both values raised to at least 1, so a
// zero or negative limit can never brick a tool outright.
func (rl RateLimit) Clamped() RateLimit {
	if rl.MaxCalls < 1 {
		rl.MaxCalls = 1
	}
	if rl.WindowSec < 1 {
		rl.WindowSec = 1
	}
	return rl
}
