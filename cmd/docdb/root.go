// Root command and store lifecycle shared by every subcommand.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/maruel/docdb/internal/config"
	"github.com/maruel/docdb/internal/docstore"
	"github.com/maruel/docdb/internal/history"
	"github.com/maruel/docdb/internal/metrics"
	"github.com/spf13/cobra"
)

// noStore marks commands that run without opening the store.
const noStore = "nostore"

type app struct {
	configPath string
	root       string
	logLevel   string

	logger  *slog.Logger
	cfg     *config.Config
	store   *docstore.Store
	repo    *history.Repo
	metrics *metrics.Metrics
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "docdb",
		Short: "Manage an embedded file-backed document store",
		Long: `docdb stores collections of JSON records as one file per collection under
a root directory, with secondary indexes and relations declared in
docdb.yaml.

Every write replaces the collection file atomically.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(a.logLevel)
			if err != nil {
				return err
			}
			a.logger = logger
			slog.SetDefault(logger)
			if cmd.Annotations[noStore] != "" || cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			return a.open(cmd)
		},
	}
	f := root.PersistentFlags()
	f.StringVarP(&a.configPath, "config", "c", "", "configuration file (default <root>/"+config.DefaultFile+")")
	f.StringVarP(&a.root, "root", "r", ".", "data directory")
	f.StringVar(&a.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	root.AddCommand(
		a.addCmd(), a.importCmd(), a.editCmd(), a.replaceCmd(),
		a.getCmd(), a.listCmd(), a.findCmd(),
		a.deleteCmd(), a.truncateCmd(),
		a.reindexCmd(), a.verifyCmd(), a.collectionsCmd(), a.historyCmd(),
		a.watchCmd(), a.initCmd(), a.versionCmd(),
	)
	return root
}

// loadConfig reads the configuration file; --root overrides its root.
func (a *app) loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path := a.configPath
	if path == "" {
		path = filepath.Join(a.root, config.DefaultFile)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	switch {
	case cmd.Flags().Changed("root"):
		cfg.Root = a.root
	case !filepath.IsAbs(cfg.Root):
		cfg.Root = filepath.Join(filepath.Dir(path), cfg.Root)
	}
	return cfg, path, nil
}

func (a *app) open(cmd *cobra.Command) error {
	cfg, _, err := a.loadConfig(cmd)
	if err != nil {
		return err
	}
	a.cfg = cfg
	opts, err := cfg.Options(a.logger)
	if err != nil {
		return err
	}
	if cfg.History.Enabled {
		if a.repo, err = history.Open(cfg.Root, cfg.History.AuthorName, cfg.History.AuthorEmail, a.logger); err != nil {
			return err
		}
		opts.Listeners = append(opts.Listeners, a.repo)
	}
	if cfg.Metrics.File != "" {
		a.metrics = metrics.New()
		opts.Listeners = append(opts.Listeners, a.metrics)
	}
	a.store, err = docstore.Open(opts)
	if err != nil {
		return err
	}
	a.logger.Debug("Opened store", "root", a.store.Root(), "format", a.store.Codec().Name())
	return nil
}

// close drains pending events and flushes metrics.
func (a *app) close() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	if a.metrics != nil {
		if e := a.metrics.WriteFile(a.cfg.Metrics.File); e != nil {
			err = errors.Join(err, fmt.Errorf("failed to write metrics: %w", e))
		}
	}
	return err
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

// readInput returns the content of arg: "-" reads stdin, a value starting
// with '{' or '[' is used verbatim and anything else is a file path.
func readInput(cmd *cobra.Command, arg string) ([]byte, error) {
	switch {
	case arg == "-":
		return io.ReadAll(cmd.InOrStdin())
	case len(arg) > 0 && (arg[0] == '{' || arg[0] == '['):
		return []byte(arg), nil
	default:
		return os.ReadFile(arg) //nolint:gosec // G304: user-specified input file
	}
}

// parseValue interprets s as JSON, falling back to a plain string.
func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}
