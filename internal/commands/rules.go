package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/doninones/actionpacks/pkg/policy"
)

func rulesCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Author and inspect invocation rules",
	}
	cmd.AddCommand(rulesSuggestCommand(a))
	cmd.AddCommand(rulesListCommand(a))
	cmd.AddCommand(rulesShowCommand(a))
	cmd.AddCommand(rulesRemoveCommand(a))
	return cmd
}

func rulesSuggestCommand(a *app) *cobra.Command {
	var (
		maxCalls  int
		windowSec int
		write     bool
	)

	cmd := &cobra.Command{
		Use:   "suggest <pack-id>",
		Short: "Derive starter rules from a pack's manifest",
		Long: `Suggest builds one rule per tool: confirmation for tools tagged with a
state-changing side effect, an allowlist from the schema's non-sensitive
properties, and the given rate limit. Without --write the rules are printed;
with --write they replace any previous rules for the same tools.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			p, err := a.resolvePack(args[0])
			if err != nil {
				return err
			}

			limit := policy.RateLimit{MaxCalls: maxCalls, WindowSec: windowSec}
			rules := policy.NewSuggester().SuggestAll(p, limit)

			if !write {
				return printJSON(rules)
			}

			store, err := a.openRules()
			if err != nil {
				return err
			}
			for _, r := range rules {
				store.Upsert(r)
			}
			if err := store.Save(); err != nil {
				return err
			}
			a.logger.Info("rules written",
				zap.String("pack", p.ID()),
				zap.Int("rules", len(rules)),
				zap.String("path", store.Path()),
			)
			fmt.Printf("wrote %d rule(s) for %s to %s\n", len(rules), p.ID(), store.Path())
			return nil
		},
	}

	cmd.Flags().IntVar(&maxCalls, "max-calls", policy.DefaultRateLimit.MaxCalls, "rate limit: calls per window")
	cmd.Flags().IntVar(&windowSec, "window-sec", policy.DefaultRateLimit.WindowSec, "rate limit: window length in seconds")
	cmd.Flags().BoolVar(&write, "write", false, "persist the rules into the workspace rules.json")
	return cmd
}

func rulesListCommand(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the workspace's rules",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			store, err := a.openRules()
			if err != nil {
				return err
			}
			rules := store.Rules()
			if asJSON {
				return printJSON(rules)
			}

			w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PACK\tTOOL\tCONFIRM\tALLOWLIST\tRATE")
			for _, r := range rules {
				fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%d/%ds\n",
					r.Pack, r.Tool, r.Confirm.Required,
					allowlistSummary(r.Allowlist),
					r.RateLimit.MaxCalls, r.RateLimit.WindowSec,
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print rules as JSON")
	return cmd
}

func rulesShowCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <pack-id> <tool>",
		Short: "Show the rule that would govern a call",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := a.ruleStore()
			if err != nil {
				return err
			}
			defer closeStore()

			rule, err := store.Resolve(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if rule == nil {
				fmt.Printf("no rule for %s/%s: calls are permitted and not rate limited\n", args[0], args[1])
				return nil
			}
			return printJSON(rule)
		},
	}
	return cmd
}

func rulesRemoveCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <pack-id> <tool>",
		Short: "Remove a rule from the workspace",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			store, err := a.openRules()
			if err != nil {
				return err
			}
			if !store.Remove(args[0], args[1]) {
				return fmt.Errorf("no rule for %s/%s", args[0], args[1])
			}
			if err := store.Save(); err != nil {
				return err
			}
			fmt.Printf("removed rule %s/%s\n", args[0], args[1])
			return nil
		},
	}
	return cmd
}

func allowlistSummary(fields []string) string {
	if len(fields) == 0 {
		return "(unrestricted)"
	}
	if len(fields) <= 3 {
		return strings.Join(fields, ",")
	}
	return fmt.Sprintf("%s,+%d", strings.Join(fields[:3], ","), len(fields)-3)
}

func printJSON(v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}
