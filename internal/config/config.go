// Package config provides logwayss configuration management.
//
// Values come from, in increasing precedence: built-in defaults, an optional
// config.yaml in the data directory, and LOGWAYSS_* environment variables
// (LOGWAYSS_LOG_LEVEL for log.level, LOGWAYSS_KDF_N for kdf.n, and so on).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/logwayss/logwayss/pkg/crypto"
	"github.com/logwayss/logwayss/pkg/rowstore"
)

const (
	// EnvPrefix prefixes every environment variable read by Load.
	EnvPrefix = "LOGWAYSS"

	// FileName is the optional config file inside the data directory.
	FileName = "config.yaml"

	// DefaultDirName is the data directory under the user's home.
	DefaultDirName = ".logwayss"
)

// Config holds all application configuration.
type Config struct {
	DataDir  string
	Log      LogConfig
	KDF      crypto.KDFParams
	Security SecurityConfig
	Storage  StorageConfig
	Query    QueryConfig
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string
	Format string
}

// SecurityConfig holds unlock and audit settings.
type SecurityConfig struct {
	Cooldown bool
	Audit    bool
}

// StorageConfig holds entry database settings.
type StorageConfig struct {
	Synchronous string
}

// QueryConfig holds query defaults for the CLI and MCP server.
type QueryConfig struct {
	DefaultLimit int
}

// Load reads configuration. dataDir overrides data_dir from the environment;
// when both are empty the data directory is ~/.logwayss.
func Load(dataDir string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if dataDir == "" {
		dataDir = v.GetString("data_dir")
	}
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("config: failed to get user home directory: %w", err)
		}
		dataDir = filepath.Join(home, DefaultDirName)
	}

	path := filepath.Join(dataDir, FileName)
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: failed to stat %s: %w", path, err)
	}

	cfg := &Config{
		DataDir: dataDir,
		Log: LogConfig{
			Level:  strings.ToLower(v.GetString("log.level")),
			Format: strings.ToLower(v.GetString("log.format")),
		},
		KDF: crypto.KDFParams{
			N:      v.GetInt("kdf.n"),
			R:      v.GetInt("kdf.r"),
			P:      v.GetInt("kdf.p"),
			KeyLen: v.GetInt("kdf.key_len"),
		},
		Security: SecurityConfig{
			Cooldown: v.GetBool("security.cooldown"),
			Audit:    v.GetBool("security.audit"),
		},
		Storage: StorageConfig{
			Synchronous: strings.ToUpper(v.GetString("storage.synchronous")),
		},
		Query: QueryConfig{
			DefaultLimit: v.GetInt("query.default_limit"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "")

	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "text")

	v.SetDefault("kdf.n", crypto.DefaultN)
	v.SetDefault("kdf.r", crypto.DefaultR)
	v.SetDefault("kdf.p", crypto.DefaultP)
	v.SetDefault("kdf.key_len", crypto.KeyLength)

	v.SetDefault("security.cooldown", true)
	v.SetDefault("security.audit", true)

	v.SetDefault("storage.synchronous", rowstore.SyncNormal)

	v.SetDefault("query.default_limit", 50)
}

// Validate checks that every value is usable.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid log.level %q (use debug, info, warn or error)", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: invalid log.format %q (use text or json)", c.Log.Format)
	}
	if err := c.KDF.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch c.Storage.Synchronous {
	case rowstore.SyncNormal, rowstore.SyncFull:
	default:
		return fmt.Errorf("config: invalid storage.synchronous %q (use NORMAL or FULL)", c.Storage.Synchronous)
	}
	if c.Query.DefaultLimit < 0 {
		return fmt.Errorf("config: query.default_limit must not be negative")
	}
	return nil
}
