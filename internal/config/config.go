// Package config loads the node configuration.
//
// Sources, lowest precedence first: built-in defaults, a YAML file, an
// optional .env file and STORESYNC_* environment variables. Values already
// present in the process environment win over the .env file. The merged
// result is validated against the embedded CUE schema.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/roach88/storesync/internal/consolidation"
	"github.com/roach88/storesync/internal/engine"
	"github.com/roach88/storesync/internal/replicator"
	"github.com/roach88/storesync/internal/transport"
)

//go:embed schema.cue
var schemaCUE string

// Config is the full node configuration.
type Config struct {
	StoreID       string              `yaml:"store_id" json:"store_id"`
	Database      string              `yaml:"database" json:"database"`
	Central       CentralConfig       `yaml:"central" json:"central"`
	Sync          SyncConfig          `yaml:"sync" json:"sync"`
	Replication   ReplicationConfig   `yaml:"replication" json:"replication"`
	Consolidation ConsolidationConfig `yaml:"consolidation" json:"consolidation"`
	Sealing       SealingConfig       `yaml:"sealing" json:"sealing"`
	Archive       ArchiveConfig       `yaml:"archive" json:"archive"`
}

// CentralConfig locates the central authority.
type CentralConfig struct {
	URL     string        `yaml:"url" json:"url"`
	Token   string        `yaml:"token" json:"token"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// SyncConfig tunes the synchronization engine.
type SyncConfig struct {
	Interval      time.Duration  `yaml:"interval" json:"interval"`
	ProbeInterval time.Duration  `yaml:"probe_interval" json:"probe_interval"`
	MaxRetries    int            `yaml:"max_retries" json:"max_retries"`
	Policy        string         `yaml:"policy" json:"policy"`
	WatchedTypes  []string       `yaml:"watched_types" json:"watched_types"`
	Priorities    map[string]int `yaml:"priorities" json:"priorities"`
	DownloadLimit int            `yaml:"download_limit" json:"download_limit"`
}

// ReplicationConfig tunes master-data replication.
type ReplicationConfig struct {
	Interval        time.Duration    `yaml:"interval" json:"interval"`
	PageSize        int              `yaml:"page_size" json:"page_size"`
	MaxPages        int              `yaml:"max_pages" json:"max_pages"`
	IncludeInactive bool             `yaml:"include_inactive" json:"include_inactive"`
	Concurrency     int              `yaml:"concurrency" json:"concurrency"`
	Categories      []CategoryConfig `yaml:"categories" json:"categories"`
}

// CategoryConfig maps one master-data category to a local entity type.
type CategoryConfig struct {
	Name            string   `yaml:"name" json:"name"`
	EntityType      string   `yaml:"entity_type" json:"entity_type"`
	ProtectedFields []string `yaml:"protected_fields" json:"protected_fields"`
}

// ConsolidationConfig selects the stores consolidated and how often.
type ConsolidationConfig struct {
	Interval    time.Duration `yaml:"interval" json:"interval"`
	Concurrency int           `yaml:"concurrency" json:"concurrency"`
	// LowStockThreshold is a decimal string, e.g. "5" or "2.5".
	LowStockThreshold string   `yaml:"low_stock_threshold" json:"low_stock_threshold"`
	StoreIDs          []string `yaml:"store_ids" json:"store_ids"`
}

// SealingConfig lists the fields sealed at rest, by entity type.
type SealingConfig struct {
	Passphrase string              `yaml:"passphrase" json:"passphrase"`
	Fields     map[string][]string `yaml:"fields" json:"fields"`
}

// ArchiveConfig enables the S3 snapshot archive when Bucket is set.
type ArchiveConfig struct {
	Bucket          string `yaml:"bucket" json:"bucket"`
	Region          string `yaml:"region" json:"region"`
	Endpoint        string `yaml:"endpoint" json:"endpoint"`
	Prefix          string `yaml:"prefix" json:"prefix"`
	AccessKeyID     string `yaml:"access_key_id" json:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" json:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style" json:"use_path_style"`
}

const DefaultReplicationInterval = time.Hour

// Default returns the built-in configuration. StoreID is left empty and
// must be supplied.
func Default() Config {
	cats := replicator.DefaultCategories()
	categories := make([]CategoryConfig, 0, len(cats))
	for _, c := range cats {
		categories = append(categories, CategoryConfig{
			Name:            c.Name,
			EntityType:      c.EntityType,
			ProtectedFields: append([]string{}, c.ProtectedFields...),
		})
	}

	return Config{
		Database: "storesync.db",
		Central: CentralConfig{
			URL:     "http://localhost:8000",
			Timeout: transport.DefaultTimeout,
		},
		Sync: SyncConfig{
			Interval:      engine.DefaultInterval,
			ProbeInterval: engine.DefaultProbeInterval,
			MaxRetries:    engine.DefaultMaxRetries,
			Policy:        string(engine.DefaultPolicy),
			WatchedTypes:  engine.DefaultWatchedTypes(),
			Priorities:    engine.DefaultPriorities(),
			DownloadLimit: engine.DefaultDownloadLimit,
		},
		Replication: ReplicationConfig{
			Interval:    DefaultReplicationInterval,
			PageSize:    replicator.DefaultPageSize,
			MaxPages:    replicator.DefaultMaxPages,
			Concurrency: replicator.DefaultConcurrency,
			Categories:  categories,
		},
		Consolidation: ConsolidationConfig{
			Interval:          consolidation.DefaultInterval,
			Concurrency:       consolidation.DefaultConcurrency,
			LowStockThreshold: fmt.Sprint(consolidation.DefaultLowStockThreshold),
			StoreIDs:          []string{},
		},
		Sealing: SealingConfig{
			Fields: map[string][]string{},
		},
	}
}

// Load reads path (may be empty) and applies environment overrides.
func Load(path string) (Config, error) {
	return LoadWithEnvFile(path, "")
}

// LoadWithEnvFile is Load with an additional .env file. A missing env file
// is ignored.
func LoadWithEnvFile(path, envFile string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	dotenv := map[string]string{}
	if envFile != "" {
		m, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			dotenv = m
		case errors.Is(err, os.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("failed to read env file: %w", err)
		}
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decodeFile merges the YAML file over cfg. Unknown keys are rejected.
func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// Validate checks cfg against the CUE schema and the cross-field rules.
func (c Config) Validate() error {
	c.normalize()

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	v := def.Unify(ctx.Encode(c))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if len(c.Sealing.Fields) > 0 && c.Sealing.Passphrase == "" {
		return errors.New("invalid config: sealing.passphrase is required when sealing.fields is set")
	}
	return nil
}

// normalize replaces nil collections, which encode as null, with empty ones.
func (c *Config) normalize() {
	if c.Sync.WatchedTypes == nil {
		c.Sync.WatchedTypes = []string{}
	}
	if c.Sync.Priorities == nil {
		c.Sync.Priorities = map[string]int{}
	}
	if c.Replication.Categories == nil {
		c.Replication.Categories = []CategoryConfig{}
	}
	for i := range c.Replication.Categories {
		if c.Replication.Categories[i].ProtectedFields == nil {
			c.Replication.Categories[i].ProtectedFields = []string{}
		}
	}
	if c.Consolidation.StoreIDs == nil {
		c.Consolidation.StoreIDs = []string{}
	}
	if c.Sealing.Fields == nil {
		c.Sealing.Fields = map[string][]string{}
	}
}

// Policy returns the parsed conflict policy.
func (c Config) Policy() (engine.Policy, error) {
	return engine.ParsePolicy(c.Sync.Policy)
}

// LowStockThreshold returns the parsed consolidation threshold.
func (c Config) LowStockThreshold() (decimal.Decimal, error) {
	return decimal.NewFromString(c.Consolidation.LowStockThreshold)
}

// ReplicatorCategories converts the configured categories.
func (c Config) ReplicatorCategories() []replicator.Category {
	out := make([]replicator.Category, 0, len(c.Replication.Categories))
	for _, cat := range c.Replication.Categories {
		out = append(out, replicator.Category{
			Name:            cat.Name,
			EntityType:      cat.EntityType,
			ProtectedFields: append([]string{}, cat.ProtectedFields...),
		})
	}
	return out
}
