package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"

	"gitdb/internal/codec"
	"gitdb/internal/repo"

	"github.com/spf13/cobra"
)

func newCatObjectCmd(logger *slog.Logger) *cobra.Command {
	var showType bool
	var showSize bool

	cmd := &cobra.Command{
		Use:   "cat-object <object-id>",
		Short: "Print an object's type, size, or content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseObjectID(args[0])
			if err != nil {
				return err
			}

			h, err := repo.Open(repoPath(cmd), logger)
			if err != nil {
				return fmt.Errorf("open repository: %w", err)
			}
			defer h.Close()

			ctx := cmd.Context()
			typ, framed, err := h.ObjectStore().GetRaw(ctx, id)
			if err != nil {
				return err
			}

			if showType {
				fmt.Fprintln(cmd.OutOrStdout(), typ)
				return nil
			}
			if showSize {
				size, err := h.ObjectStore().GetSize(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), size)
				return nil
			}

			_, content := splitFraming(framed)
			_, err = cmd.OutOrStdout().Write(content)
			return err
		},
	}
	cmd.Flags().BoolVarP(&showType, "type", "t", false, "show the object's type instead of its content")
	cmd.Flags().BoolVarP(&showSize, "size", "s", false, "show the object's total size instead of its content")
	return cmd
}

func newHashObjectCmd(logger *slog.Logger) *cobra.Command {
	var typeName string
	var write bool

	cmd := &cobra.Command{
		Use:   "hash-object",
		Short: "Compute an object's ID from stdin, optionally writing it to the repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, err := parseObjectType(typeName)
			if err != nil {
				return err
			}

			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			framed := frameObject(typ, data)

			if !write {
				id := codec.HashObject(framed)
				fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(id[:]))
				return nil
			}

			h, err := repo.Open(repoPath(cmd), logger)
			if err != nil {
				return fmt.Errorf("open repository: %w", err)
			}
			defer h.Close()

			id, err := h.ObjectStore().AddObject(cmd.Context(), framed, typ)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(id[:]))
			return nil
		},
	}
	cmd.Flags().StringVarP(&typeName, "type", "t", "blob", "object type: commit, tree, blob, or tag")
	cmd.Flags().BoolVarP(&write, "write", "w", false, "write the object to the repository instead of only hashing it")
	return cmd
}

func parseObjectID(s string) (codec.ObjectID, error) {
	var id codec.ObjectID
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid object id %q: %w", s, err)
	}
	if len(decoded) != len(id) {
		return id, fmt.Errorf("invalid object id %q: want %d bytes, got %d", s, len(id), len(decoded))
	}
	copy(id[:], decoded)
	return id, nil
}

// frameObject builds the canonical "type size\0data" framing the engine
// hashes and stores objects under.
func frameObject(typ codec.ObjectType, data []byte) []byte {
	header := fmt.Sprintf("%s %d\x00", typ, len(data))
	return append([]byte(header), data...)
}

// splitFraming separates a framed object's header from its content.
func splitFraming(framed []byte) (header, content []byte) {
	idx := bytes.IndexByte(framed, 0)
	if idx < 0 {
		return nil, framed
	}
	return framed[:idx], framed[idx+1:]
}
