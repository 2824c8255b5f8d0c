// Multi-record read subcommands.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/maruel/docdb/internal/docstore"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func parseWhere(args []string) (map[string]any, error) {
	if len(args) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(args))
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --where %q, want field=value", a)
		}
		out[k] = parseValue(v)
	}
	return out, nil
}

func renderCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

// renderTable prints records with one column per field, id first.
func renderTable(w io.Writer, records []docstore.Record) {
	seen := map[string]struct{}{}
	var cols []string
	for _, r := range records {
		for k := range r {
			if _, ok := seen[k]; !ok && k != docstore.IDField {
				seen[k] = struct{}{}
				cols = append(cols, k)
			}
		}
	}
	slices.Sort(cols)
	cols = append([]string{docstore.IDField}, cols...)
	t := tablewriter.NewWriter(w)
	t.SetHeader(cols)
	t.SetAutoFormatHeaders(false)
	for _, r := range records {
		row := make([]string, len(cols))
		for i, c := range cols {
			row[i] = renderCell(r[c])
		}
		t.Append(row)
	}
	t.Render()
}

func (a *app) listCmd() *cobra.Command {
	var (
		where   []string
		sortBy  string
		skip    int
		limit   int
		include []string
		format  string
	)
	cmd := &cobra.Command{
		Use:   "list <collection>",
		Short: "Filter, sort and page through a collection",
		Long: `List records of a collection.

Examples:
  docdb list users --where city=Paris --sort -age,name --limit 10
  docdb list users --include userPosts --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := parseWhere(where)
			if err != nil {
				return err
			}
			q := docstore.Query{Where: w, Sort: docstore.ParseSort(sortBy), Skip: skip, Limit: limit, Include: include}
			p, err := a.store.ViewMany(cmd.Context(), args[0], q)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch format {
			case "json":
				return printJSON(out, map[string]any{
					"records": p.Records,
					"total":   p.Total,
					"skip":    p.Skip,
					"limit":   p.Limit,
					"page":    p.Page,
				})
			case "table":
				renderTable(out, p.Records)
				_, err := fmt.Fprintf(out, "%d of %d records, page %d\n", len(p.Records), p.Total, p.Page)
				return err
			default:
				return fmt.Errorf("unknown format %q", format)
			}
		},
	}
	f := cmd.Flags()
	f.StringArrayVar(&where, "where", nil, "keep records where field=value (repeatable)")
	f.StringVar(&sortBy, "sort", "", "comma separated sort fields, '-' for descending")
	f.IntVar(&skip, "skip", 0, "records to skip")
	f.IntVar(&limit, "limit", 0, "maximum records to return (0 for all)")
	f.StringSliceVar(&include, "include", nil, "relations to materialize on each record")
	f.StringVar(&format, "format", "table", "output format (table, json)")
	return cmd
}

func (a *app) findCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "find <collection> <field> <value>",
		Short: "Find records by field value, using the index when there is one",
		Long: `Find records whose field equals value. The value is parsed as JSON when
possible, so 42 matches a number and '"42"' a string.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := a.store.Find(cmd.Context(), args[0], args[1], parseValue(args[2]))
			if err != nil {
				return err
			}
			if out == nil {
				out = []docstore.Record{}
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}
