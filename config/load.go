package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes every environment variable read by Load. Nested
// keys use a double underscore, e.g. INTAKE_AUTH__SIGNING_KEY.
const EnvPrefix = "INTAKE_"

// FlagConfigFile names the flag pointing at a config file
const FlagConfigFile = "config"

// Flags returns the flag set understood by Load
func Flags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String(FlagConfigFile, "", "path to a JSON or YAML config file")
	fs.String("server.addr", "", "HTTP listen address")
	fs.String("database.driver", "", "database driver: sqlite or postgres")
	fs.String("database.dsn", "", "database connection string")
	fs.String("auth.signing_key", "", "HMAC key used to sign tokens")
	fs.Duration("auth.token_ttl", 0, "token validity window")
	fs.String("auth.password_algorithm", "", "password hashing algorithm: bcrypt or argon2id")
	fs.String("storage.driver", "", "document storage: local or s3")
	fs.String("storage.dir", "", "directory for the local document store")
	fs.String("storage.s3.bucket", "", "bucket for the s3 document store")
	fs.String("storage.s3.endpoint", "", "endpoint for S3 compatible servers")
	fs.String("telemetry.endpoint", "", "OTLP/HTTP endpoint, tracing is off when empty")
	fs.String("log.level", "", "log level: debug, info, warn, error")
	return fs
}

// Load builds a Config from defaults, the config file, the environment
// and the flags in fs. fs must already be parsed, nil skips flags.
func Load(fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}

	path := os.Getenv(EnvPrefix + "CONFIG")
	if fs != nil {
		if v, err := fs.GetString(FlagConfigFile); err == nil && v != "" {
			path = v
		}
	}
	if path != "" {
		if err := loadFile(k, path); err != nil {
			return nil, err
		}
	}

	err := k.Load(env.ProviderWithValue(EnvPrefix, ".", func(key, value string) (string, interface{}) {
		key = strings.TrimPrefix(key, EnvPrefix)
		key = strings.ReplaceAll(strings.ToLower(key), "__", ".")
		if key == "auth.audience" {
			return key, strings.Split(value, ",")
		}
		return key, value
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("config env: %w", err)
	}

	if fs != nil {
		if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
			return nil, fmt.Errorf("config flags: %w", err)
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config decode: %w", err)
	}

	return cfg, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	var parser koanf.Parser
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		parser = json.Parser()
	case ".yaml", ".yml":
		parser = yaml.Parser()
	default:
		return fmt.Errorf("config file %s: unsupported format", path)
	}

	if err := k.Load(file.Provider(path), parser); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %s not found", path)
		}
		return fmt.Errorf("config file %s: %w", path, err)
	}
	return nil
}
