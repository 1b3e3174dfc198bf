package main

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"gitdb/internal/ref"
	"gitdb/internal/repo"

	"github.com/spf13/cobra"
)

func newRefCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ref",
		Short: "Inspect and mutate references",
	}
	cmd.AddCommand(
		newRefGetCmd(logger),
		newRefSetCmd(logger),
		newRefRemoveCmd(logger),
		newRefSymbolicCmd(logger),
		newRefListCmd(logger),
		newRefLogCmd(logger),
		newRefPruneLogCmd(logger),
	)
	return cmd
}

func openRefStore(cmd *cobra.Command, logger *slog.Logger) (*repo.Handle, *ref.Store, error) {
	h, err := repo.Open(repoPath(cmd), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open repository: %w", err)
	}
	return h, h.RefStore(), nil
}

func mutationFromFlags(cmd *cobra.Command) ref.Mutation {
	committer, _ := cmd.Flags().GetString("committer")
	message, _ := cmd.Flags().GetString("message")
	return ref.Mutation{Committer: committer, Message: message, When: time.Now()}
}

func addMutationFlags(cmd *cobra.Command) {
	cmd.Flags().String("committer", "", "reflog committer identity (default: gitdb)")
	cmd.Flags().String("message", "", "reflog message")
}

func newRefGetCmd(logger *slog.Logger) *cobra.Command {
	var resolve bool
	cmd := &cobra.Command{
		Use:   "get <name>",
		Short: "Print a reference's stored value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, refs, err := openRefStore(cmd, logger)
			if err != nil {
				return err
			}
			defer h.Close()

			var value string
			if resolve {
				value, err = refs.Resolve(cmd.Context(), args[0])
			} else {
				value, err = refs.Get(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	}
	cmd.Flags().BoolVar(&resolve, "resolve", false, "follow the symbolic chain to the terminal object ID")
	return cmd
}

func newRefSetCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <name> <new-value>",
		Short: "Compare-and-swap a reference's value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			old, _ := cmd.Flags().GetString("old")
			if old == "" {
				old = ref.ZeroID
			}

			h, refs, err := openRefStore(cmd, logger)
			if err != nil {
				return err
			}
			defer h.Close()

			ok, err := refs.SetIfEquals(cmd.Context(), args[0], old, args[1], mutationFromFlags(cmd))
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("compare-and-swap failed: %q did not match current value", old)
			}
			return nil
		},
	}
	cmd.Flags().String("old", "", "expected current value (default: the zero ID, meaning the ref must not already exist)")
	addMutationFlags(cmd)
	return cmd
}

func newRefRemoveCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <name>",
		Short: "Remove a reference, optionally guarded by its current value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			old, _ := cmd.Flags().GetString("old")
			if old == "" {
				old = ref.ZeroID
			}

			h, refs, err := openRefStore(cmd, logger)
			if err != nil {
				return err
			}
			defer h.Close()

			ok, err := refs.RemoveIfEquals(cmd.Context(), args[0], old, mutationFromFlags(cmd))
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("compare-and-swap failed: %q did not match current value", old)
			}
			return nil
		},
	}
	cmd.Flags().String("old", "", "expected current value (default: the zero ID, meaning an unconditional delete)")
	addMutationFlags(cmd)
	return cmd
}

func newRefSymbolicCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "symbolic <name> <target>",
		Short: "Point a reference at another reference by name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, refs, err := openRefStore(cmd, logger)
			if err != nil {
				return err
			}
			defer h.Close()
			return refs.SetSymbolic(cmd.Context(), args[0], args[1], mutationFromFlags(cmd))
		},
	}
	addMutationFlags(cmd)
	return cmd
}

func newRefListCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every reference name",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, refs, err := openRefStore(cmd, logger)
			if err != nil {
				return err
			}
			defer h.Close()

			names, err := refs.ListAll(cmd.Context())
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func newRefLogCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "reflog <name>",
		Short: "Print a reference's mutation history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, refs, err := openRefStore(cmd, logger)
			if err != nil {
				return err
			}
			defer h.Close()

			entries, err := refs.ListReflog(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s->%s %s %q\n",
					time.Unix(e.Timestamp, 0).UTC().Format(time.RFC3339), e.OldValue, e.NewValue, e.Committer, e.Message)
			}
			return nil
		},
	}
}

func newRefPruneLogCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "prune-reflog <name> <keep>",
		Short: "Delete all but the most recent <keep> reflog entries for a reference",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			keep, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid keep count %q: %w", args[1], err)
			}

			h, refs, err := openRefStore(cmd, logger)
			if err != nil {
				return err
			}
			defer h.Close()

			removed, err := refs.PruneReflog(cmd.Context(), args[0], keep)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries\n", removed)
			return nil
		},
	}
}
