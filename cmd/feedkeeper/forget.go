package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"feedkeeper/pkg/store"
	"feedkeeper/pkg/ui"
)

var forgetGC bool

var forgetCmd = &cobra.Command{
	Use:   "forget",
	Short: "Housekeeping for the archive",
	Long: `Housekeeping for the archive.

--gc moves every record that has nothing left to download into a compact
pruned table and vacuums the database if anything was pruned. Pruned
records are still remembered, so they are never fetched again.`,
	Example: `  feedkeeper forget --gc`,
	Args:    cobra.NoArgs,
	RunE:    runForget,
}

func init() {
	rootCmd.AddCommand(forgetCmd)
	forgetCmd.Flags().BoolVar(&forgetGC, "gc", false, "prune downloaded records and vacuum the database")
}

func runForget(cmd *cobra.Command, args []string) error {
	if !forgetGC {
		return errors.New("nothing to do: pass --gc")
	}

	ctx := cmd.Context()
	a, err := newApp(cmd, nil)
	if err != nil {
		return err
	}

	s, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	return gc(ctx, a.out, s)
}

func gc(ctx context.Context, out *ui.Printer, s *store.Store) error {
	n, err := s.Prune(ctx)
	if err != nil {
		return err
	}
	out.Success("Pruned %s", ui.Count(n, "record", "records"))

	if n > 0 {
		if err := s.Vacuum(ctx); err != nil {
			return err
		}
		out.Success("Vacuumed database")
	}
	return nil
}
