package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/doninones/actionpacks/internal/bundle"
)

func exportCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <pack-id> <dest-dir>",
		Short: "Export a pack and its rules as a portable bundle",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			p, err := a.resolvePack(args[0])
			if err != nil {
				return err
			}
			store, err := a.openRules()
			if err != nil {
				return err
			}

			dir, err := bundle.Export(p, store.Rules(), args[1])
			if err != nil {
				return err
			}
			a.logger.Info("pack exported",
				zap.String("pack", p.ID()),
				zap.String("dir", dir),
			)
			fmt.Printf("exported %s to %s\n", p.ID(), dir)
			return nil
		},
	}
	return cmd
}
