// Record mutation and point-read subcommands.

package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/maruel/docdb/internal/docstore"
	"github.com/spf13/cobra"
)

func decodeRecord(data []byte) (docstore.Record, error) {
	var r docstore.Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("input is not a JSON object: %w", err)
	}
	return r, nil
}

// decodeRecords accepts a JSON array, JSON lines or BSON, chosen by the file
// extension of name.
func decodeRecords(name string, data []byte) ([]docstore.Record, error) {
	codec := docstore.Codec(docstore.JSONCodec{})
	switch filepath.Ext(name) {
	case ".jsonl", ".ndjson":
		codec = docstore.JSONLCodec{}
	case ".bson":
		codec = docstore.BSONCodec{}
	}
	records, err := codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", name, err)
	}
	return records, nil
}

func (a *app) addCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <collection> [record|file|-]",
		Short: "Add one record",
		Long: `Add one record to a collection. An id is generated when the record has none.

Examples:
  docdb add users '{"name":"Alice"}'
  echo '{"id":"u1"}' | docdb add users -`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := "-"
			if len(args) == 2 {
				src = args[1]
			}
			data, err := readInput(cmd, src)
			if err != nil {
				return err
			}
			r, err := decodeRecord(data)
			if err != nil {
				return err
			}
			out, err := a.store.AddOne(cmd.Context(), args[0], r)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func (a *app) importCmd() *cobra.Command {
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "import <collection> <file|->",
		Short: "Create a collection from a file of records",
		Long: `Create a collection from a JSON array, a .jsonl file or a .bson file.
An existing collection is only replaced with --overwrite.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[1])
			if err != nil {
				return err
			}
			records, err := decodeRecords(args[1], data)
			if err != nil {
				return err
			}
			out, err := a.store.AddAll(cmd.Context(), args[0], records, docstore.AddAllOptions{Overwrite: overwrite})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "imported %d records into %s\n", len(out), args[0])
			return err
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing collection")
	return cmd
}

func (a *app) replaceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replace <collection> <file|->",
		Short: "Replace every record of a collection",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[1])
			if err != nil {
				return err
			}
			records, err := decodeRecords(args[1], data)
			if err != nil {
				return err
			}
			out, err := a.store.EditAll(cmd.Context(), args[0], records)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "replaced %s with %d records\n", args[0], len(out))
			return err
		},
	}
}

func (a *app) editCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "edit <collection> <id> <patch|file|->",
		Short: "Merge fields into one record",
		Long: `Shallow-merge a JSON object into a record. Fields set to null are kept as
null; the id cannot be changed.

Example:
  docdb edit users u1 '{"city":"Paris"}'`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[2])
			if err != nil {
				return err
			}
			patch, err := decodeRecord(data)
			if err != nil {
				return err
			}
			out, err := a.store.EditOne(cmd.Context(), args[0], args[1], patch)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func (a *app) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <collection> <id>",
		Short: "Print one record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := a.store.ViewOne(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func (a *app) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <collection> <id>",
		Short: "Delete one record",
		Long: `Delete one record and apply the delete policy of its relations.

RESTRICT relations block the delete while referencing records exist.
CASCADE and SET_NULL run after the delete is written; a failure there is
logged and the delete stays committed.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.store.DeleteOne(cmd.Context(), args[0], args[1])
		},
	}
}

func (a *app) truncateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "truncate <collection>",
		Short: "Delete every record of a collection and its indexes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.store.DeleteAll(cmd.Context(), args[0])
		},
	}
}
