// Maintenance subcommands.

package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/maruel/docdb/internal/config"
	"github.com/maruel/docdb/internal/docstore"
	"github.com/maruel/docdb/internal/watch"
	"github.com/spf13/cobra"
)

func (a *app) reindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex [collection...]",
		Short: "Rebuild indexes from collection content",
		Long:  "Rebuild the configured indexes of the given collections, or of every collection.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				all, err := a.store.Collections()
				if err != nil {
					return err
				}
				args = all
			}
			for _, c := range args {
				if len(a.store.IndexedFields(c)) == 0 {
					continue
				}
				if err := a.store.Reindex(cmd.Context(), c); err != nil {
					return err
				}
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "reindexed %s\n", c); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func (a *app) verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Report references that do not resolve",
		Long:  "Check every declared relation and list dangling foreign keys. Nothing is modified.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			violations, err := a.store.VerifyRelations(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i := range violations {
				if _, err := fmt.Fprintln(out, violations[i].String()); err != nil {
					return err
				}
			}
			if len(violations) != 0 {
				return fmt.Errorf("%d dangling references", len(violations))
			}
			_, err = fmt.Fprintf(out, "%d relations ok\n", len(a.store.Relations()))
			return err
		},
	}
}

func (a *app) collectionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "collections",
		Short: "List collections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			names, err := a.store.Collections()
			if err != nil {
				return err
			}
			for _, n := range names {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), n); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func (a *app) historyCmd() *cobra.Command {
	var (
		n  int
		at string
	)
	cmd := &cobra.Command{
		Use:   "history <collection>",
		Short: "Show the commits of a collection file",
		Long: `Show the commits recorded for a collection when history is enabled in
docdb.yaml. With --at, print the collection file as of that commit.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.repo == nil {
				return errors.New("history is disabled; set history.enabled in " + config.DefaultFile)
			}
			p, err := a.store.Path(args[0])
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(a.store.Root(), p)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if at != "" {
				data, err := a.repo.FileAt(cmd.Context(), at, rel)
				if err != nil {
					return err
				}
				_, err = out.Write(data)
				return err
			}
			commits, err := a.repo.History(cmd.Context(), rel, n)
			if err != nil {
				return err
			}
			for _, c := range commits {
				if _, err := fmt.Fprintf(out, "%s %s %s\n", c.Hash[:12], c.AuthorDate.Format("2006-01-02 15:04:05"), c.Message); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "number", "n", 20, "maximum commits to show")
	cmd.Flags().StringVar(&at, "at", "", "print the file at this commit (or HEAD)")
	return cmd
}

// reindexer refreshes the cache and indexes of collections edited by other
// processes.
type reindexer struct {
	cmd    *cobra.Command
	store  *docstore.Store
	logger *slog.Logger
	out    io.Writer
}

func (r *reindexer) Invalidate(path string) {
	r.store.Invalidate(path)
	rel, err := filepath.Rel(r.store.Root(), path)
	if err != nil {
		return
	}
	c := strings.TrimSuffix(filepath.ToSlash(rel), r.store.Codec().Ext())
	_, _ = fmt.Fprintf(r.out, "changed %s\n", c)
	if len(r.store.IndexedFields(c)) == 0 {
		return
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := r.store.Reindex(r.cmd.Context(), c); err != nil {
		r.logger.Warn("Failed to reindex", "collection", c, "err", err)
	}
}

func (r *reindexer) InvalidateAll() {
	r.store.InvalidateAll()
}

func (a *app) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Reindex collections when their files change",
		Long: `Watch the data directory and rebuild the indexes of collections edited by
other programs. Runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			inv := &reindexer{cmd: cmd, store: a.store, logger: a.logger, out: cmd.OutOrStdout()}
			w, err := watch.New(cmd.Context(), watch.Options{
				Root:   a.store.Root(),
				Ext:    a.store.Codec().Ext(),
				Skip:   []string{a.store.IndexDir()},
				Logger: a.logger,
			}, inv)
			if err != nil {
				return err
			}
			a.logger.Info("Watching", "root", a.store.Root())
			<-cmd.Context().Done()
			return w.Close()
		},
	}
}

func (a *app) initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a default " + config.DefaultFile,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{noStore: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := a.configPath
			if path == "" {
				path = filepath.Join(a.root, config.DefaultFile)
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s exists; use --force to overwrite", path)
			}
			if err := config.Save(path, config.Default()); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return err
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version and exit",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{noStore: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			version, goVersion, revision, dirty := getBuildInfo()
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "docdb %s\n", version)
			_, _ = fmt.Fprintf(out, "  Go version: %s\n", goVersion)
			_, _ = fmt.Fprintf(out, "  Revision:   %s\n", revision)
			if dirty {
				_, _ = fmt.Fprintf(out, "  Modified:   true\n")
			}
			return nil
		},
	}
}
