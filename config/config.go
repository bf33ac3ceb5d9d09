// Package config loads moron configuration: the database to connect to,
// logging, eager fetch limits and the model and relation definitions the
// registry is built from.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/lykmapipo/moron/orm"
	"github.com/lykmapipo/moron/schema"
)

// Config is the root configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Eager    EagerConfig    `yaml:"eager"`
	Models   []ModelConfig  `yaml:"models"`
}

// DatabaseConfig selects the dialect and data source.
type DatabaseConfig struct {
	Dialect string `yaml:"dialect"` // mysql | postgres | sqlite
	DSN     string `yaml:"dsn"`
}

// LoggingConfig configures the CLI logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // json | console
}

// EagerConfig holds eager fetch limits.
type EagerConfig struct {
	MaxDepth    int `yaml:"max_depth"`
	Concurrency int `yaml:"concurrency"`
}

// ModelConfig declares one model.
type ModelConfig struct {
	Name       string            `yaml:"name"`
	Table      string            `yaml:"table,omitempty"`
	ID         string            `yaml:"id,omitempty"`
	IDStrategy string            `yaml:"id_strategy,omitempty"` // auto | uuid
	Fields     []string          `yaml:"fields"`
	Columns    map[string]string `yaml:"columns,omitempty"` // field → column overrides
	Timestamps TimestampsConfig  `yaml:"timestamps,omitempty"`
	Schema     string            `yaml:"schema,omitempty"` // CUE source
	Relations  []RelationConfig  `yaml:"relations,omitempty"`
}

// TimestampsConfig names the timestamp fields of a model.
type TimestampsConfig struct {
	Created string `yaml:"created,omitempty"`
	Updated string `yaml:"updated,omitempty"`
}

// RelationConfig declares one relation of a model.
type RelationConfig struct {
	Name    string      `yaml:"name"`
	Kind    string      `yaml:"kind"` // has_one | has_many | many_to_many
	Model   string      `yaml:"model"`
	Join    JoinConfig  `yaml:"join"`
	Through *JoinConfig `yaml:"through,omitempty"`
}

// JoinConfig holds a pair of "table.column" references.
type JoinConfig struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// Load reads the YAML file at path, expands environment variables, applies
// MORON_* overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse is Load for configuration already in memory.
func Parse(data []byte) (*Config, error) {
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// LoadDotEnv loads environment variables from the given .env files, or
// from ./.env when none are given. Variables already set are kept. A
// missing default file is not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		if _, err := os.Stat(".env"); errors.Is(err, os.ErrNotExist) {
			return nil
		}
		paths = []string{".env"}
	}
	if err := godotenv.Load(paths...); err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MORON_DATABASE_DIALECT"); v != "" {
		cfg.Database.Dialect = v
	}
	if v := os.Getenv("MORON_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}

	if v := os.Getenv("MORON_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MORON_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("MORON_EAGER_MAX_DEPTH"); v != "" {
		if n, err := cast.ToIntE(v); err == nil {
			cfg.Eager.MaxDepth = n
		}
	}
	if v := os.Getenv("MORON_EAGER_CONCURRENCY"); v != "" {
		if n, err := cast.ToIntE(v); err == nil {
			cfg.Eager.Concurrency = n
		}
	}
}

func setDefaults(cfg *Config) {
	if cfg.Database.Dialect == "" {
		cfg.Database.Dialect = "sqlite"
	}
	if cfg.Database.DSN == "" && cfg.Database.Dialect == "sqlite" {
		cfg.Database.DSN = "file:moron.db"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}

	if cfg.Eager.Concurrency < 1 {
		cfg.Eager.Concurrency = 1
	}

	for i := range cfg.Models {
		if cfg.Models[i].IDStrategy == "" {
			cfg.Models[i].IDStrategy = "auto"
		}
	}
}

func validate(cfg *Config) error {
	if _, err := orm.DialectByName(cfg.Database.Dialect); err != nil {
		return err //nolint:wrapcheck // already prefixed
	}
	if cfg.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level %q: must be debug, info, warn or error", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging.format %q: must be json or console", cfg.Logging.Format)
	}

	if cfg.Eager.MaxDepth < 0 {
		return fmt.Errorf("eager.max_depth must not be negative, got %d", cfg.Eager.MaxDepth)
	}

	seen := make(map[string]bool, len(cfg.Models))
	for i, m := range cfg.Models {
		if m.Name == "" {
			return fmt.Errorf("models[%d]: name is required", i)
		}
		if seen[m.Name] {
			return fmt.Errorf("models[%d]: duplicate model %q", i, m.Name)
		}
		seen[m.Name] = true

		switch m.IDStrategy {
		case "auto", "uuid":
		default:
			return fmt.Errorf("model %s: invalid id_strategy %q: must be auto or uuid", m.Name, m.IDStrategy)
		}
		for j, r := range m.Relations {
			if r.Name == "" {
				return fmt.Errorf("model %s: relations[%d]: name is required", m.Name, j)
			}
			if _, err := orm.ParseRelationKind(r.Kind); err != nil {
				return fmt.Errorf("model %s: relation %s: %w", m.Name, r.Name, err)
			}
			if r.Model == "" {
				return fmt.Errorf("model %s: relation %s: model is required", m.Name, r.Name)
			}
		}
	}
	return nil
}

// FetchOptions returns the eager fetch options described by cfg.
func (c *Config) FetchOptions() orm.FetchOptions {
	return orm.FetchOptions{MaxDepth: c.Eager.MaxDepth, Concurrency: c.Eager.Concurrency}
}

// BuildRegistry defines every configured model and builds the registry.
// Models with a schema share one CUE validator.
func BuildRegistry(cfg *Config) (*orm.Registry, error) {
	validator := schema.New()
	reg := orm.NewRegistry()

	for _, m := range cfg.Models {
		def, err := modelDef(m)
		if err != nil {
			return nil, err
		}
		if m.Schema != "" {
			if err := validator.Register(m.Name, m.Schema); err != nil {
				return nil, err //nolint:wrapcheck // pass through
			}
			def.Validator = validator
		}
		if _, err := reg.Define(def); err != nil {
			return nil, err //nolint:wrapcheck // pass through
		}
	}
	if err := reg.Build(); err != nil {
		return nil, err //nolint:wrapcheck // pass through
	}
	return reg, nil
}

func modelDef(m ModelConfig) (orm.ModelDef, error) {
	def := orm.ModelDef{
		Name:      m.Name,
		Table:     m.Table,
		ID:        m.ID,
		CreatedAt: m.Timestamps.Created,
		UpdatedAt: m.Timestamps.Updated,
	}
	if m.IDStrategy == "uuid" {
		def.IDStrategy = orm.IDStrategyUUID
	}
	id := m.ID
	if id == "" {
		id = "id"
	}
	if col, ok := m.Columns[id]; ok {
		def.Fields = append(def.Fields, orm.Field{Name: id, Column: col})
	}
	for _, name := range m.Fields {
		def.Fields = append(def.Fields, orm.Field{Name: name, Column: m.Columns[name]})
	}

	for _, r := range m.Relations {
		kind, err := orm.ParseRelationKind(r.Kind)
		if err != nil {
			return orm.ModelDef{}, fmt.Errorf("model %s: relation %s: %w", m.Name, r.Name, err)
		}
		rd := orm.RelationDef{
			Name:  r.Name,
			Kind:  kind,
			Model: r.Model,
			Join:  orm.Join{From: r.Join.From, To: r.Join.To},
		}
		if r.Through != nil {
			rd.Through = &orm.Through{From: r.Through.From, To: r.Through.To}
		}
		def.Relations = append(def.Relations, rd)
	}
	return def, nil
}
