// Package audit persists decision events so governed tool calls leave a
// queryable trail.
package audit

import "time"

// Writer is the interface for writing decision events.
// Write() must NEVER block the caller.
type Writer interface {
	Write(event *DecisionEvent)
	Close()
}

// DecisionEvent represents a single policy decision to be persisted.
type DecisionEvent struct {
	DecisionID    string
	Timestamp     time.Time
	Pack          string
	Tool          string
	PayloadJSON   string
	Verdict       string // "ok", "blocked", "needs_confirmation", "rate_limited"
	Issues        []string
	Confirmed     bool
	CallsInWindow int32
	LatencyMs     float32
	Source        string
}
