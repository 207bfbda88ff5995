package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethpandaops/durationoor/pkg/durations"
	"github.com/ethpandaops/durationoor/pkg/split"
	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// EnvPrefix is the prefix of environment variables overriding config keys.
	EnvPrefix = "DURATIONOOR"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultLogFormat is the default log output format.
	DefaultLogFormat = "text"

	// DefaultReportPath is the default pytest-json-report output file.
	DefaultReportPath = "report.json"

	// DefaultS3Prefix is the default key prefix for remote duration files.
	DefaultS3Prefix = "test-durations"

	// DefaultS3Concurrency is the default number of parallel S3 downloads.
	DefaultS3Concurrency = 8

	// DefaultListen is the default API listen address.
	DefaultListen = ":8080"

	// DefaultSQLitePath is the default history database path.
	DefaultSQLitePath = "durationoor.db"

	redacted = "<redacted>"
)

// Config is the root configuration for durationoor.
type Config struct {
	Global  GlobalConfig  `yaml:"global" mapstructure:"global"`
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Report  ReportConfig  `yaml:"report" mapstructure:"report"`
	Split   SplitConfig   `yaml:"split" mapstructure:"split"`
	Remote  RemoteConfig  `yaml:"remote" mapstructure:"remote"`
	History HistoryConfig `yaml:"history" mapstructure:"history"`
	API     APIConfig     `yaml:"api" mapstructure:"api"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level" mapstructure:"log_level"`
	LogFormat string `yaml:"log_format" mapstructure:"log_format"`
}

// StoreConfig configures the duration store.
type StoreConfig struct {
	BaseDir string `yaml:"base_dir" mapstructure:"base_dir"`
	// NodeID overrides the node id read from NodeIndexEnv.
	NodeID       string `yaml:"node_id,omitempty" mapstructure:"node_id"`
	NodeIndexEnv string `yaml:"node_index_env" mapstructure:"node_index_env"`
	NodeTotalEnv string `yaml:"node_total_env" mapstructure:"node_total_env"`
	// Owner is an optional "UID:GID" applied to written files.
	Owner string `yaml:"owner,omitempty" mapstructure:"owner"`
}

// ReportConfig configures how test runner reports are consumed.
type ReportConfig struct {
	Path              string `yaml:"path" mapstructure:"path"`
	CompileOnLastNode bool   `yaml:"compile_on_last_node" mapstructure:"compile_on_last_node"`
}

// SplitConfig configures test splitting.
type SplitConfig struct {
	Strategy string `yaml:"strategy" mapstructure:"strategy"`
}

// RemoteConfig configures sharing of duration files between machines.
type RemoteConfig struct {
	S3 S3Config `yaml:"s3" mapstructure:"s3"`
}

// S3Config contains S3-compatible storage settings.
type S3Config struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string        `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string        `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string        `yaml:"bucket" mapstructure:"bucket"`
	AccessKeyID     string        `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool          `yaml:"force_path_style" mapstructure:"force_path_style"`
	Prefix          string        `yaml:"prefix" mapstructure:"prefix"`
	StorageClass    string        `yaml:"storage_class,omitempty" mapstructure:"storage_class"`
	ACL             string        `yaml:"acl,omitempty" mapstructure:"acl"`
	Concurrency     int           `yaml:"concurrency" mapstructure:"concurrency"`
	Timeout         time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// HistoryConfig configures the compilation history database.
type HistoryConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// Keep is the number of compilations retained; 0 keeps everything.
	Keep     int            `yaml:"keep" mapstructure:"keep"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver   string               `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig       `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// defaults lists every config key with its default value. Keys must be
// registered here for environment overrides to apply.
var defaults = map[string]any{
	"global.log_level":  DefaultLogLevel,
	"global.log_format": DefaultLogFormat,

	"store.base_dir":       durations.DefaultBaseDir,
	"store.node_id":        "",
	"store.node_index_env": durations.DefaultNodeIndexEnv,
	"store.node_total_env": durations.DefaultNodeTotalEnv,
	"store.owner":          "",

	"report.path":                 DefaultReportPath,
	"report.compile_on_last_node": true,

	"split.strategy": string(split.StrategyDuration),

	"remote.s3.enabled":           false,
	"remote.s3.endpoint_url":      "",
	"remote.s3.region":            "",
	"remote.s3.bucket":            "",
	"remote.s3.access_key_id":     "",
	"remote.s3.secret_access_key": "",
	"remote.s3.force_path_style":  false,
	"remote.s3.prefix":            DefaultS3Prefix,
	"remote.s3.storage_class":     "",
	"remote.s3.acl":               "",
	"remote.s3.concurrency":       DefaultS3Concurrency,
	"remote.s3.timeout":           "60s",

	"history.enabled":                    false,
	"history.keep":                       0,
	"history.database.driver":            "sqlite",
	"history.database.sqlite.path":       DefaultSQLitePath,
	"history.database.postgres.host":     "localhost",
	"history.database.postgres.port":     5432,
	"history.database.postgres.user":     "",
	"history.database.postgres.password": "",
	"history.database.postgres.database": "durationoor",
	"history.database.postgres.ssl_mode": "disable",

	"api.server.listen":                         DefaultListen,
	"api.server.cors_origins":                   []string{},
	"api.server.rate_limit.enabled":             false,
	"api.server.rate_limit.requests_per_minute": 600,
	"api.auth.enabled":                          false,
	"api.auth.token_hashes":                     []string{},
}

// Load reads the given YAML files in order, later files overriding earlier
// ones, and applies DURATIONOOR_* environment overrides. With no paths the
// configuration comes from defaults and the environment only.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	for _, path := range paths {
		f, err := os.Open(path) //nolint:gosec // user supplied config path
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		err = v.MergeConfig(f)
		_ = f.Close()

		if err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	var cfg Config

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		Result:           &cfg,
	})
	if err != nil {
		return nil, fmt.Errorf("creating config decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	return &cfg, nil
}

// ResolveNodeID returns the configured node id, or the one derived from the
// environment via lookup.
func (c *Config) ResolveNodeID(lookup func(string) (string, bool)) string {
	if c.Store.NodeID != "" {
		return c.Store.NodeID
	}

	return durations.NodeIDFromEnv(lookup, c.Store.NodeIndexEnv)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.Global.LogLevel); err != nil {
		return fmt.Errorf("global.log_level: %w", err)
	}

	switch c.Global.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("global.log_format: unknown format %q", c.Global.LogFormat)
	}

	if c.Store.BaseDir == "" {
		return fmt.Errorf("store.base_dir is required")
	}

	if c.Store.NodeID != "" {
		if err := durations.ValidateNodeID(c.Store.NodeID); err != nil {
			return fmt.Errorf("store.node_id: %w", err)
		}
	}

	if _, err := split.ParseStrategy(c.Split.Strategy); err != nil {
		return fmt.Errorf("split.strategy: %w", err)
	}

	if err := c.Remote.S3.validate(); err != nil {
		return fmt.Errorf("remote.s3: %w", err)
	}

	if c.History.Enabled {
		if c.History.Keep < 0 {
			return fmt.Errorf("history.keep must not be negative")
		}

		if err := c.History.Database.Validate(); err != nil {
			return fmt.Errorf("history.database: %w", err)
		}
	}

	return nil
}

func (s *S3Config) validate() error {
	if !s.Enabled {
		return nil
	}

	if s.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}

	if s.Concurrency < 0 {
		return fmt.Errorf("concurrency must not be negative")
	}

	if (s.AccessKeyID == "") != (s.SecretAccessKey == "") {
		return fmt.Errorf("access_key_id and secret_access_key must be set together")
	}

	return nil
}

// Validate checks the database settings.
func (d *DatabaseConfig) Validate() error {
	switch d.Driver {
	case "sqlite":
		if d.SQLite.Path == "" {
			return fmt.Errorf("sqlite.path is required")
		}
	case "postgres":
		if d.Postgres.Host == "" {
			return fmt.Errorf("postgres.host is required")
		}

		if d.Postgres.Database == "" {
			return fmt.Errorf("postgres.database is required")
		}
	default:
		return fmt.Errorf("unsupported driver %q", d.Driver)
	}

	return nil
}

// Render returns the configuration as YAML with secrets redacted.
func (c *Config) Render() ([]byte, error) {
	out := *c

	if out.Remote.S3.SecretAccessKey != "" {
		out.Remote.S3.SecretAccessKey = redacted
	}

	if out.History.Database.Postgres.Password != "" {
		out.History.Database.Postgres.Password = redacted
	}

	if len(out.API.Auth.TokenHashes) > 0 {
		hashes := make([]string, len(out.API.Auth.TokenHashes))
		for i := range hashes {
			hashes[i] = redacted
		}

		out.API.Auth.TokenHashes = hashes
	}

	data, err := yaml.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}

	return data, nil
}
