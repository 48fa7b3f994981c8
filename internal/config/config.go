// Package config loads topnote settings from defaults, an optional YAML
// file, TOPNOTE_ environment variables and command-line flags, in that
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/conorfennell/topnote/internal/policy"
	"github.com/conorfennell/topnote/internal/queue"
	"github.com/conorfennell/topnote/internal/refresh"
	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix is stripped from environment variables. A double underscore
// separates nested keys, so TOPNOTE_SERVER__ADDR sets server.addr.
const EnvPrefix = "TOPNOTE_"

// ErrInvalid is returned when the merged configuration fails validation.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all application configuration.
type Config struct {
	Database DatabaseConfig `koanf:"database"`
	Server   ServerConfig   `koanf:"server"`
	Log      LogConfig      `koanf:"log"`
	Policy   policy.Config  `koanf:"policy"`
	Selector SelectorConfig `koanf:"selector"`
	Refresh  RefreshConfig  `koanf:"refresh"`
	Import   ImportConfig   `koanf:"import"`
}

type DatabaseConfig struct {
	Path string `koanf:"path" validate:"required"`
}

type ServerConfig struct {
	Addr        string   `koanf:"addr" validate:"required,hostname_port"`
	CORSOrigins []string `koanf:"cors_origins" validate:"dive,required"`
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// SelectorConfig bounds the due-card timeline.
type SelectorConfig struct {
	MaxResults int `koanf:"max_results" validate:"gt=0"`
	FetchLimit int `koanf:"fetch_limit" validate:"gt=0,gtefield=MaxResults"`
}

type RefreshConfig struct {
	Window time.Duration `koanf:"window" validate:"gt=0"`
}

// ImportConfig controls where cloned git sources are kept.
type ImportConfig struct {
	ReposDir string `koanf:"repos_dir" validate:"required"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database: DatabaseConfig{Path: "topnote.db"},
		Server: ServerConfig{
			Addr:        "localhost:8080",
			CORSOrigins: []string{"http://localhost:5173"},
		},
		Log:      LogConfig{Level: "info", Format: "text"},
		Policy:   policy.DefaultConfig(),
		Selector: SelectorConfig{MaxResults: 20, FetchLimit: queue.DefaultFetchLimit},
		Refresh:  RefreshConfig{Window: refresh.DefaultWindow},
		Import:   ImportConfig{ReposDir: "repos"},
	}
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"db":         "database.path",
	"addr":       "server.addr",
	"log-level":  "log.level",
	"log-format": "log.format",
}

// RegisterFlags adds the flags understood by Load to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("config", "", "Path to a YAML configuration file")
	fs.String("db", d.Database.Path, "Path to the SQLite database file")
	fs.String("addr", d.Server.Addr, "Address for the HTTP server to listen on")
	fs.String("log-level", d.Log.Level, "Log level (debug, info, warn, error)")
	fs.String("log-format", d.Log.Format, "Log format (text, json)")
}

// Load merges the configuration layers and validates the result. path may
// be empty, in which case no file is read. Only flags set explicitly on fs
// override lower layers; fs may be nil.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValue), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if fs != nil {
		flags := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(flags, nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// PathFromEnv returns the config file named by TOPNOTE_CONFIG, if any.
func PathFromEnv() string {
	return os.Getenv(EnvPrefix + "CONFIG")
}

// Validate checks field constraints and the policy multipliers.
func (c *Config) Validate() error {
	var errs []error
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
		} else {
			errs = append(errs, err)
		}
	}
	if err := c.Policy.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// listKeys are the keys whose environment value is a comma-separated list.
var listKeys = map[string]bool{
	"server.cors_origins": true,
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func envValue(name, value string) (string, any) {
	key := envKey(name)
	if !listKeys[key] {
		return key, value
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return key, items
}
