package main

import (
	"fmt"
	"log/slog"

	"gitdb/internal/repo"

	"github.com/spf13/cobra"
)

func newGCCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "Delete chunks no longer referenced by any object",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := repo.Open(repoPath(cmd), logger)
			if err != nil {
				return fmt.Errorf("open repository: %w", err)
			}
			defer h.Close()

			deleted, err := h.ObjectStore().GC(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d orphan chunks\n", deleted)
			return nil
		},
	}
}
