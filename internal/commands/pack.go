package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/doninones/actionpacks/pkg/pack"
)

func packCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pack",
		Short: "Inspect tool packs",
	}
	cmd.AddCommand(packListCommand(a))
	cmd.AddCommand(packShowCommand(a))
	return cmd
}

func packListCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stacked packs",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			st, err := a.loadStack()
			if err != nil {
				return err
			}
			if len(st.Packs) == 0 {
				fmt.Println("stack is empty")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PACK\tTOOLS\tDESCRIPTION")
			for i := range st.Packs {
				entry := &st.Packs[i]
				p, err := pack.Load(a.entryPath(entry))
				if err != nil {
					fmt.Fprintf(w, "%s\t-\t(broken: %v)\n", entry.ID(), err)
					continue
				}
				fmt.Fprintf(w, "%s\t%d\t%s\n", p.ID(), len(p.Tools), p.Description)
			}
			return w.Flush()
		},
	}
	return cmd
}

func packShowCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <pack-id>",
		Short: "Show a pack's tools and their governing rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.resolvePack(args[0])
			if err != nil {
				return err
			}
			store, closeStore, err := a.ruleStore()
			if err != nil {
				return err
			}
			defer closeStore()

			fmt.Printf("%s\n", p.ID())
			if p.Description != "" {
				fmt.Printf("  %s\n", p.Description)
			}
			fmt.Println()

			for i := range p.Tools {
				t := &p.Tools[i]
				fmt.Printf("tool %s\n", t.Name)
				if t.Description != "" {
					fmt.Printf("  %s\n", t.Description)
				}
				if len(t.SideEffects) > 0 {
					fmt.Printf("  side effects: %s\n", strings.Join(t.SideEffects, ", "))
				}
				if t.InputSchema != nil {
					fmt.Println("  schema: yes")
				} else {
					fmt.Println("  schema: none")
				}

				rule, err := store.Resolve(cmd.Context(), p.ID(), t.Name)
				if err != nil {
					return err
				}
				if rule == nil {
					fmt.Println("  rule: none (permitted, not rate limited)")
				} else {
					fmt.Printf("  rule: confirm=%v allowlist=%s rate=%d/%ds\n",
						rule.Confirm.Required,
						allowlistSummary(rule.Allowlist),
						rule.RateLimit.MaxCalls, rule.RateLimit.WindowSec,
					)
				}
				fmt.Println()
			}
			return nil
		},
	}
	return cmd
}
