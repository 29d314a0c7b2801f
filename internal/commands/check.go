package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/doninones/actionpacks/internal/calllog"
	"github.com/doninones/actionpacks/pkg/audit"
	"github.com/doninones/actionpacks/pkg/engine"
)

// Exit codes for verdict-bearing commands.
const (
	exitBlocked           = 1
	exitNeedsConfirmation = 2
	exitRateLimited       = 3
)

// verdictError carries a non-ok verdict out of RunE so Execute can turn it
// into the right exit code. The details are already on stdout by the time
// it is returned.
type verdictError struct {
	kind engine.Kind
	code int
}

func (e *verdictError) Error() string { return string(e.kind) }

func exitCodeFor(kind engine.Kind) int {
	switch kind {
	case engine.KindBlocked:
		return exitBlocked
	case engine.KindNeedsConfirmation:
		return exitNeedsConfirmation
	case engine.KindRateLimited:
		return exitRateLimited
	default:
		return 0
	}
}

func checkCommand(a *app) *cobra.Command {
	var (
		payloadJSON string
		confirmed   bool
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "check <pack-id> <tool> [key=value ...]",
		Short: "Decide whether a tool call may proceed",
		Long: `Check validates a call's payload against the tool's schema and the
pack's rule, then reports one verdict: ok, blocked, needs_confirmation or
rate_limited. Admitted calls are recorded against the rule's rate window.

Payload fields are given as key=value arguments (values that parse as JSON
are decoded, anything else is a string) or as one JSON object via --payload;
key=value arguments override fields of the --payload object.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := buildPayload(payloadJSON, args[2:])
			if err != nil {
				return err
			}
			return a.runCheck(cmd.Context(), checkRequest{
				packID:    args[0],
				toolName:  args[1],
				payload:   payload,
				confirmed: confirmed,
				asJSON:    asJSON,
			})
		},
	}

	cmd.Flags().StringVar(&payloadJSON, "payload", "", "payload as one JSON object")
	cmd.Flags().BoolVar(&confirmed, "confirm", false, "acknowledge the confirmation prompt for this call")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the verdict as JSON")
	return cmd
}

type checkRequest struct {
	packID    string
	toolName  string
	payload   map[string]any
	confirmed bool
	asJSON    bool
}

func (a *app) runCheck(ctx context.Context, req checkRequest) error {
	started := time.Now()

	p, err := a.resolvePack(req.packID)
	if err != nil {
		return err
	}
	tool := p.Tool(req.toolName)
	if tool == nil {
		return fmt.Errorf("pack %s has no tool %q", p.ID(), req.toolName)
	}

	store, closeStore, err := a.ruleStore()
	if err != nil {
		return err
	}
	defer closeStore()

	rule, err := store.Resolve(ctx, p.ID(), tool.Name)
	if err != nil {
		return err
	}

	// The window is counted only for ruled tools; unruled tools are not
	// rate limited and need no call log at all.
	callsInWindow := 0
	var log *calllog.Log
	if rule != nil {
		log, err = calllog.Open(a.callLogPath())
		if err != nil {
			return err
		}
		defer func() { _ = log.Close() }()

		limit := rule.RateLimit.Clamped()
		cutoff := started.Add(-time.Duration(limit.WindowSec) * time.Second)
		if err := log.Prune(ctx, p.ID(), tool.Name, cutoff); err != nil {
			return err
		}
		callsInWindow, err = log.CountSince(ctx, p.ID(), tool.Name, cutoff)
		if err != nil {
			return err
		}
	}

	verdict, err := engine.Decide(tool, rule, engine.CallContext{
		Payload:       req.payload,
		Confirmed:     req.confirmed,
		CallsInWindow: callsInWindow,
	})
	if err != nil {
		return err
	}

	writer := a.auditWriter()
	defer writer.Close()
	writer.Write(decisionEvent(p.ID(), tool.Name, req, verdict, callsInWindow, started))

	if verdict.Ok() && rule != nil {
		if err := log.Record(ctx, p.ID(), tool.Name, started); err != nil {
			return err
		}
	}

	if err := printVerdict(req, tool.Name, verdict); err != nil {
		return err
	}
	if !verdict.Ok() {
		return &verdictError{kind: verdict.Kind, code: exitCodeFor(verdict.Kind)}
	}
	return nil
}

func decisionEvent(packID, toolName string, req checkRequest, v engine.Verdict, calls int, started time.Time) *audit.DecisionEvent {
	issues := make([]string, 0, len(v.Issues))
	for _, is := range v.Issues {
		issues = append(issues, is.String())
	}
	payloadJSON, err := json.Marshal(req.payload)
	if err != nil {
		payloadJSON = []byte("{}")
	}
	return &audit.DecisionEvent{
		DecisionID:    uuid.NewString(),
		Timestamp:     started.UTC(),
		Pack:          packID,
		Tool:          toolName,
		PayloadJSON:   string(payloadJSON),
		Verdict:       string(v.Kind),
		Issues:        issues,
		Confirmed:     req.confirmed,
		CallsInWindow: int32(calls),
		LatencyMs:     float32(time.Since(started).Seconds() * 1000),
		Source:        "cli",
	}
}

func printVerdict(req checkRequest, toolName string, v engine.Verdict) error {
	if req.asJSON {
		raw, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(raw))
		return nil
	}

	switch v.Kind {
	case engine.KindOk:
		fmt.Printf("ok: %s may proceed\n", toolName)
	case engine.KindBlocked:
		fmt.Printf("blocked: %s has %d issue(s)\n", toolName, len(v.Issues))
		for _, is := range v.Issues {
			fmt.Printf("  - %s\n", is)
		}
	case engine.KindNeedsConfirmation:
		fmt.Printf("needs confirmation: %s\n", v.Message)
		fmt.Println("re-run with --confirm to proceed")
	case engine.KindRateLimited:
		fmt.Printf("rate limited: attempt %d exceeds %d call(s) per %ds window\n",
			v.Attempted, v.MaxCalls, v.WindowSec)
	}
	return nil
}

// buildPayload decodes --payload and overlays key=value arguments. Values
// that parse as JSON are decoded into their Go types, anything else is a
// plain string.
func buildPayload(payloadJSON string, args []string) (map[string]any, error) {
	payload := map[string]any{}
	if payloadJSON != "" {
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			return nil, fmt.Errorf("--payload is not a JSON object: %w", err)
		}
	}

	for _, arg := range args {
		key, rawValue, found := strings.Cut(arg, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("payload argument %q is not key=value", arg)
		}

		var value any
		if err := json.Unmarshal([]byte(rawValue), &value); err != nil {
			value = rawValue
		}
		payload[key] = value
	}
	return payload, nil
}
