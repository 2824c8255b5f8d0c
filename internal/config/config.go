// Package config reads docdb.yaml and converts it to store options.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/maruel/docdb/internal/atomicfile"
	"github.com/maruel/docdb/internal/docstore"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the configuration file name looked up in the root.
const DefaultFile = "docdb.yaml"

// Config is the on-disk configuration of a store.
type Config struct {
	// Root is the data directory. Relative paths are resolved against the
	// working directory.
	Root string `yaml:"root"`
	// Format selects the collection codec: json, jsonl or bson.
	Format string `yaml:"format,omitempty"`
	// IndexDir defaults to docstore.DefaultIndexDir under Root.
	IndexDir string `yaml:"index_dir,omitempty"`
	// LockTimeout bounds lock waits, e.g. "2s".
	LockTimeout time.Duration `yaml:"lock_timeout,omitempty"`
	// IDs selects the id strategy: ksid, uuid or xid.
	IDs     string              `yaml:"ids,omitempty"`
	Cache   Cache               `yaml:"cache,omitempty"`
	Backup  Backup              `yaml:"backup,omitempty"`
	Indexes map[string][]string `yaml:"indexes,omitempty"`
	// Relations are declared at every open.
	Relations []Relation `yaml:"relations,omitempty"`
	// Schemas maps a collection to a JSON schema file validating its
	// records. Relative paths are resolved against the configuration file.
	Schemas map[string]string `yaml:"schemas,omitempty"`
	History History           `yaml:"history,omitempty"`
	Metrics Metrics           `yaml:"metrics,omitempty"`

	// dir is the directory of the file the configuration was loaded from.
	dir string
}

// Cache configures the read cache.
type Cache struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl,omitempty"`
}

// Backup configures backup files written before each overwrite.
type Backup struct {
	Enabled bool   `yaml:"enabled"`
	Suffix  string `yaml:"suffix,omitempty"`
	// Policy is "always" or "interval".
	Policy   string        `yaml:"policy,omitempty"`
	Interval time.Duration `yaml:"interval,omitempty"`
}

// Relation declares one relation.
type Relation struct {
	Name              string    `yaml:"name"`
	Type              string    `yaml:"type"`
	LocalCollection   string    `yaml:"local_collection"`
	LocalField        string    `yaml:"local_field,omitempty"`
	ForeignCollection string    `yaml:"foreign_collection"`
	ForeignField      string    `yaml:"foreign_field,omitempty"`
	Junction          *Junction `yaml:"junction,omitempty"`
	OnDelete          string    `yaml:"on_delete,omitempty"`
}

// Junction is the intermediary collection of an N:M relation.
type Junction struct {
	Collection string `yaml:"collection"`
	LocalKey   string `yaml:"local_key"`
	ForeignKey string `yaml:"foreign_key"`
}

// History configures the git commit log of every write.
type History struct {
	Enabled     bool   `yaml:"enabled"`
	AuthorName  string `yaml:"author_name,omitempty"`
	AuthorEmail string `yaml:"author_email,omitempty"`
}

// Metrics configures the Prometheus text file written when the store closes.
type Metrics struct {
	// File is a node_exporter textfile path; empty disables metrics.
	File string `yaml:"file,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{Root: ".", Format: "json", LockTimeout: 5 * time.Second}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Root == "" {
		return errors.New("root is required")
	}
	if _, err := docstore.NewCodec(c.Format); err != nil {
		return fmt.Errorf("format: %w", err)
	}
	if _, err := docstore.NewIDGenerator(c.IDs); err != nil {
		return fmt.Errorf("ids: %w", err)
	}
	if c.LockTimeout < 0 {
		return errors.New("lock_timeout must be non-negative")
	}
	if c.Cache.TTL < 0 {
		return errors.New("cache.ttl must be non-negative")
	}
	if c.Backup.Policy != "" {
		if err := atomicfile.Policy(c.Backup.Policy).Validate(); err != nil {
			return fmt.Errorf("backup: %w", err)
		}
	}
	for collection, file := range c.Schemas {
		if collection == "" || file == "" {
			return fmt.Errorf("schemas: collection %q needs a schema file", collection)
		}
	}
	for i := range c.Relations {
		r := c.Relations[i].relation()
		if err := r.Validate(); err != nil {
			return fmt.Errorf("relations[%d]: %w", i, err)
		}
	}
	return nil
}

func (r *Relation) relation() docstore.Relation {
	out := docstore.Relation{
		Name:              r.Name,
		Type:              docstore.RelationType(r.Type),
		LocalCollection:   r.LocalCollection,
		LocalField:        r.LocalField,
		ForeignCollection: r.ForeignCollection,
		ForeignField:      r.ForeignField,
		OnDelete:          docstore.OnDelete(r.OnDelete),
	}
	if r.Junction != nil {
		out.Junction = &docstore.Junction{
			Collection: r.Junction.Collection,
			LocalKey:   r.Junction.LocalKey,
			ForeignKey: r.Junction.ForeignKey,
		}
	}
	return out
}

// Options converts the configuration to store options.
func (c *Config) Options(logger *slog.Logger) (docstore.Options, error) {
	codec, err := docstore.NewCodec(c.Format)
	if err != nil {
		return docstore.Options{}, err
	}
	ids, err := docstore.NewIDGenerator(c.IDs)
	if err != nil {
		return docstore.Options{}, err
	}
	opts := docstore.Options{
		Root:        c.Root,
		IndexDir:    c.IndexDir,
		Codec:       codec,
		Indexes:     c.Indexes,
		LockTimeout: c.LockTimeout,
		IDs:         ids,
		Cache:       docstore.CacheOptions{Enabled: c.Cache.Enabled, TTL: c.Cache.TTL},
		Backup: docstore.BackupOptions{
			Enabled:  c.Backup.Enabled,
			Suffix:   c.Backup.Suffix,
			Policy:   atomicfile.Policy(c.Backup.Policy),
			Interval: c.Backup.Interval,
		},
		Logger: logger,
	}
	for i := range c.Relations {
		opts.Relations = append(opts.Relations, c.Relations[i].relation())
	}
	if len(c.Schemas) != 0 {
		v, err := c.validator()
		if err != nil {
			return docstore.Options{}, &docstore.Error{Code: docstore.CodeInvalidConfig, Op: "config", Msg: "schemas", Err: err}
		}
		opts.Validator = v
	}
	return opts, nil
}

func (c *Config) validator() (*docstore.SchemaValidator, error) {
	v := docstore.NewSchemaValidator()
	for collection, file := range c.Schemas {
		if !filepath.IsAbs(file) {
			file = filepath.Join(c.dir, file)
		}
		data, err := os.ReadFile(file) //nolint:gosec // G304: schema path comes from the configuration
		if err != nil {
			return nil, fmt.Errorf("failed to read schema of %s: %w", collection, err)
		}
		if err := v.LoadSchema(collection, data); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// Load reads the configuration at path. A missing file yields Default.
// Unknown keys are rejected.
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.dir = filepath.Dir(path)
	f, err := os.Open(path) //nolint:gosec // G304: user-specified configuration path
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		return cfg, nil
	}
	defer func() { _ = f.Close() }()
	d := yaml.NewDecoder(f)
	d.KnownFields(true)
	if err := d.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, &docstore.Error{Code: docstore.CodeInvalidConfig, Op: "config", Msg: "failed to parse " + path, Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, &docstore.Error{Code: docstore.CodeInvalidConfig, Op: "config", Msg: path, Err: err}
	}
	return cfg, nil
}

// Save writes cfg to path atomically.
func Save(path string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	w := atomicfile.Writer{Perm: 0o600}
	if err := w.Write(path, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
