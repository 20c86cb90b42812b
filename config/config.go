// Package config loads the service settings. Sources are layered:
// built in defaults, an optional JSON or YAML file, INTAKE_ prefixed
// environment variables and finally command line flags.
package config

import (
	"time"
)

// Config holds runtime settings for the intake service.
type Config struct {
	Server    Server    `koanf:"server" json:"server"`
	Database  Database  `koanf:"database" json:"database"`
	Auth      Auth      `koanf:"auth" json:"auth"`
	Storage   Storage   `koanf:"storage" json:"storage"`
	Profile   Profile   `koanf:"profile" json:"profile"`
	Telemetry Telemetry `koanf:"telemetry" json:"telemetry"`
	Log       Log       `koanf:"log" json:"log"`
}

type Server struct {
	Addr            string        `koanf:"addr" json:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" json:"shutdown_timeout"`
	BodyLimit       int           `koanf:"body_limit" json:"body_limit"`
	RateLimit       RateLimit     `koanf:"rate_limit" json:"rate_limit"`
}

// RateLimit throttles register and login per client IP
type RateLimit struct {
	Every time.Duration `koanf:"every" json:"every"`
	Burst int           `koanf:"burst" json:"burst"`
}

type Database struct {
	Driver string `koanf:"driver" json:"driver"`
	DSN    string `koanf:"dsn" json:"dsn"`
}

type Auth struct {
	SigningKey        string        `koanf:"signing_key" json:"signing_key"`
	Issuer            string        `koanf:"issuer" json:"issuer"`
	Audience          []string      `koanf:"audience" json:"audience"`
	TokenTTL          time.Duration `koanf:"token_ttl" json:"token_ttl"`
	ContextKey        string        `koanf:"context_key" json:"context_key"`
	AuthScheme        string        `koanf:"auth_scheme" json:"auth_scheme"`
	PasswordAlgorithm string        `koanf:"password_algorithm" json:"password_algorithm"`
	BcryptCost        int           `koanf:"bcrypt_cost" json:"bcrypt_cost"`
	DeterministicIDs  bool          `koanf:"deterministic_ids" json:"deterministic_ids"`
}

type Storage struct {
	Driver      string `koanf:"driver" json:"driver"`
	Dir         string `koanf:"dir" json:"dir"`
	PublicPath  string `koanf:"public_path" json:"public_path"`
	MaxFiles    int    `koanf:"max_files" json:"max_files"`
	MaxFileSize int64  `koanf:"max_file_size" json:"max_file_size"`
	S3          S3     `koanf:"s3" json:"s3"`
}

type S3 struct {
	Bucket          string        `koanf:"bucket" json:"bucket"`
	Region          string        `koanf:"region" json:"region"`
	Endpoint        string        `koanf:"endpoint" json:"endpoint"`
	AccessKeyID     string        `koanf:"access_key_id" json:"access_key_id"`
	SecretAccessKey string        `koanf:"secret_access_key" json:"secret_access_key"`
	UsePathStyle    bool          `koanf:"use_path_style" json:"use_path_style"`
	PresignTTL      time.Duration `koanf:"presign_ttl" json:"presign_ttl"`
}

type Profile struct {
	PhoneRegion string `koanf:"phone_region" json:"phone_region"`
}

type Telemetry struct {
	Endpoint    string `koanf:"endpoint" json:"endpoint"`
	ServiceName string `koanf:"service_name" json:"service_name"`
	Insecure    bool   `koanf:"insecure" json:"insecure"`
}

type Log struct {
	Level string `koanf:"level" json:"level"`
}

// Defaults are development settings. The signing key has no default and
// must be provided.
func Defaults() map[string]any {
	return map[string]any{
		"server.addr":               ":8080",
		"server.read_timeout":       "15s",
		"server.write_timeout":      "30s",
		"server.shutdown_timeout":   "10s",
		"server.body_limit":         30 << 20,
		"server.rate_limit.every":   "6s",
		"server.rate_limit.burst":   10,
		"database.driver":           "sqlite",
		"database.dsn":              "file:intake.db?cache=shared",
		"auth.issuer":               "",
		"auth.token_ttl":            "24h",
		"auth.context_key":          "principal",
		"auth.auth_scheme":          "Bearer",
		"auth.password_algorithm":   "bcrypt",
		"auth.bcrypt_cost":          12,
		"auth.deterministic_ids":    false,
		"storage.driver":            "local",
		"storage.dir":               "uploads",
		"storage.public_path":       "/uploads",
		"storage.max_files":         5,
		"storage.max_file_size":     5 << 20,
		"storage.s3.region":         "us-east-1",
		"storage.s3.use_path_style": true,
		"storage.s3.presign_ttl":    "15m",
		"profile.phone_region":      "US",
		"telemetry.service_name":    "intake",
		"log.level":                 "info",
	}
}

// Redacted returns a copy safe to log
func (c Config) Redacted() Config {
	mask := func(v string) string {
		if v == "" {
			return ""
		}
		return "***"
	}
	c.Database.DSN = mask(c.Database.DSN)
	c.Auth.SigningKey = mask(c.Auth.SigningKey)
	c.Storage.S3.AccessKeyID = mask(c.Storage.S3.AccessKeyID)
	c.Storage.S3.SecretAccessKey = mask(c.Storage.S3.SecretAccessKey)
	return c
}

func (c *Config) GetSigningKey() string             { return c.Auth.SigningKey }
func (c *Config) GetTokenExpiration() time.Duration { return c.Auth.TokenTTL }
func (c *Config) GetIssuer() string                 { return c.Auth.Issuer }
func (c *Config) GetAudience() []string             { return c.Auth.Audience }
func (c *Config) GetContextKey() string             { return c.Auth.ContextKey }
func (c *Config) GetAuthScheme() string             { return c.Auth.AuthScheme }
func (c *Config) GetPasswordAlgorithm() string      { return c.Auth.PasswordAlgorithm }
func (c *Config) GetBcryptCost() int                { return c.Auth.BcryptCost }
func (c *Config) GetMaxUploadFiles() int            { return c.Storage.MaxFiles }
func (c *Config) GetMaxUploadSize() int64           { return c.Storage.MaxFileSize }
func (c *Config) GetDefaultPhoneRegion() string     { return c.Profile.PhoneRegion }
func (c *Config) GetDeterministicIDs() bool         { return c.Auth.DeterministicIDs }
