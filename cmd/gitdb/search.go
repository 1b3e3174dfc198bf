package main

import (
	"encoding/hex"
	"fmt"
	"log/slog"

	"gitdb/internal/repo"

	"github.com/spf13/cobra"
)

func newSearchCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Print the IDs of every blob object whose content contains query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := repo.Open(repoPath(cmd), logger)
			if err != nil {
				return fmt.Errorf("open repository: %w", err)
			}
			defer h.Close()

			seq, err := h.SearchEngine().SearchContent(cmd.Context(), []byte(args[0]))
			if err != nil {
				return err
			}
			for id, err := range seq {
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(id[:]))
			}
			return nil
		},
	}
}
