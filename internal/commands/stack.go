package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/doninones/actionpacks/internal/stack"
	"github.com/doninones/actionpacks/pkg/pack"
)

func stackCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stack",
		Short: "Manage the workspace's installed packs",
	}
	cmd.AddCommand(stackAddCommand(a))
	cmd.AddCommand(stackRemoveCommand(a))
	cmd.AddCommand(stackListCommand(a))
	cmd.AddCommand(stackLockCommand(a))
	cmd.AddCommand(stackVerifyCommand(a))
	return cmd
}

func stackAddCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <path>",
		Short: "Add a pack directory to the stack",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			p, err := pack.Load(args[0])
			if err != nil {
				return err
			}

			st, err := a.loadStack()
			if err != nil {
				return err
			}
			abs, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			st.Add(stack.Entry{Name: p.Name, Version: p.Version, Path: abs})
			if err := st.Save(a.dir); err != nil {
				return err
			}

			a.logger.Info("pack stacked",
				zap.String("pack", p.ID()),
				zap.String("path", abs),
			)
			fmt.Printf("added %s (%d tools)\n", p.ID(), len(p.Tools))
			fmt.Println("run `actionpacks stack lock` to pin its files")
			return nil
		},
	}
	return cmd
}

func stackRemoveCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <name>",
		Short: "Remove a pack from the stack",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			st, err := a.loadStack()
			if err != nil {
				return err
			}
			if !st.Remove(nameOf(args[0])) {
				return fmt.Errorf("pack %s is not in the stack", args[0])
			}
			if err := st.Save(a.dir); err != nil {
				return err
			}
			fmt.Printf("removed %s\n", args[0])
			return nil
		},
	}
	return cmd
}

func stackListCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stack entries and their paths",
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
			fmt.Fprintln(w, "PACK\tPATH")
			for _, e := range st.Packs {
				fmt.Fprintf(w, "%s\t%s\n", e.ID(), e.Path)
			}
			return w.Flush()
		},
	}
	return cmd
}

func stackLockCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Pin every stacked pack's files in stack.lock.json",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			st, err := a.resolvedStack()
			if err != nil {
				return err
			}
			lf, err := stack.BuildLock(st)
			if err != nil {
				return err
			}
			if err := lf.Save(a.dir); err != nil {
				return err
			}
			files := 0
			for _, p := range lf.Packs {
				files += len(p.Files)
			}
			fmt.Printf("locked %d pack(s), %d file(s)\n", len(lf.Packs), files)
			return nil
		},
	}
	return cmd
}

func stackVerifyCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check stacked packs against the lockfile",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			st, err := a.resolvedStack()
			if err != nil {
				return err
			}
			lf, err := stack.LoadLock(a.dir)
			if err != nil {
				return err
			}
			if err := stack.Verify(st, lf); err != nil {
				return err
			}
			fmt.Printf("ok: %d pack(s) match the lockfile\n", len(st.Packs))
			return nil
		},
	}
	return cmd
}
