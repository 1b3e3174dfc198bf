package main

import (
	"fmt"
	"log/slog"

	"gitdb/internal/codec"
	"gitdb/internal/repo"

	"github.com/spf13/cobra"
)

func newInitCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a new repository database",
		RunE: func(cmd *cobra.Command, args []string) error {
			methodName, _ := cmd.Flags().GetString("compression")
			method, err := codec.ParseMethod(methodName)
			if err != nil {
				return err
			}

			h, err := repo.InitBare(repoPath(cmd), method, logger)
			if err != nil {
				return fmt.Errorf("init: %w", err)
			}
			defer h.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "initialized repository at %s (compression=%s)\n", repoPath(cmd), method)
			return nil
		},
	}
	cmd.Flags().String("compression", "none", "compression method for new writes: none, zlib, or zstd")
	return cmd
}
