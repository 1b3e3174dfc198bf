// Command gitdb is a minimal host over the storage engine: it exists to
// exercise the library end-to-end the way a real host would, not to be a
// full porcelain. It is not part of the core engine itself.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to repo.Open/InitBare via dependency injection
//   - No global slog configuration (no slog.SetDefault)
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	levelVar := new(slog.LevelVar)
	levelVar.Set(slog.LevelWarn)
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar})
	logger := slog.New(handler)

	if err := newRootCmd(logger, levelVar).Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Split out from main so tests can
// exercise it with an injected logger and captured output.
func newRootCmd(logger *slog.Logger, levelVar *slog.LevelVar) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "gitdb",
		Short: "Storage engine for bare repositories backed by a single database file",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			verbose, _ := cmd.Flags().GetBool("verbose")
			if verbose {
				levelVar.Set(slog.LevelDebug)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringP("repo", "C", "gitdb.db", "path to the repository database file")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable debug logging for every component")

	rootCmd.AddCommand(
		newInitCmd(logger),
		newCatObjectCmd(logger),
		newHashObjectCmd(logger),
		newRefCmd(logger),
		newSearchCmd(logger),
		newGCCmd(logger),
		newVersionCmd(),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

func repoPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("repo")
	return path
}
