// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Playerid Contributors

// Package config loads playerid configuration from defaults, a YAML file,
// PLAYERID_* environment variables and command-line flags, in that order.
package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/pickiss/playerid/internal/logging"
)

// EnvPrefix prefixes every environment override, e.g. PLAYERID_DATABASE_URL.
const EnvPrefix = "PLAYERID_"

// MinSigningKeyBytes mirrors the access token signer's minimum key length.
const MinSigningKeyBytes = 32

// Config is the full playerid configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server" json:"server"`
	Database  DatabaseConfig  `koanf:"database" json:"database"`
	Tokens    TokensConfig    `koanf:"tokens" json:"tokens"`
	Providers ProvidersConfig `koanf:"providers" json:"providers"`
	Metrics   MetricsConfig   `koanf:"metrics" json:"metrics"`
	Log       LogConfig       `koanf:"log" json:"log"`
	Client    ClientConfig    `koanf:"client" json:"client"`
}

// ServerConfig configures the backend HTTP API.
type ServerConfig struct {
	Addr             string `koanf:"addr" json:"addr" jsonschema:"description=HTTP API listen address"`
	MinClientVersion string `koanf:"min_client_version" json:"min_client_version,omitempty" jsonschema:"description=Oldest client version accepted (semver); empty disables the check"`
	ShutdownTimeout  string `koanf:"shutdown_timeout" json:"shutdown_timeout" jsonschema:"description=Graceful shutdown budget (Go duration)"`
	PurgeInterval    string `koanf:"purge_interval" json:"purge_interval" jsonschema:"description=How often expired sessions are deleted (Go duration); 0 disables"`
}

// DatabaseConfig configures the PostgreSQL pool.
type DatabaseConfig struct {
	URL          string `koanf:"url" json:"url,omitempty" jsonschema:"description=PostgreSQL connection URL"`
	MaxConns     int32  `koanf:"max_conns" json:"max_conns" jsonschema:"minimum=1"`
	PingAttempts uint64 `koanf:"ping_attempts" json:"ping_attempts" jsonschema:"minimum=1"`
}

// TokensConfig configures access token signing.
type TokensConfig struct {
	SigningKey string `koanf:"signing_key" json:"signing_key,omitempty" jsonschema:"description=HMAC key for access tokens (at least 32 bytes)"`
	Issuer     string `koanf:"issuer" json:"issuer"`
	Audience   string `koanf:"audience" json:"audience"`
	TTL        string `koanf:"ttl" json:"ttl" jsonschema:"description=Access token lifetime (Go duration)"`
}

// ProvidersConfig configures the credential verifiers. A provider with no
// credentials configured is disabled.
type ProvidersConfig struct {
	Apple           AppleConfig           `koanf:"apple" json:"apple"`
	GooglePlayGames GooglePlayGamesConfig `koanf:"google_play_games" json:"google_play_games"`
}

// AppleConfig configures Sign in with Apple verification.
type AppleConfig struct {
	Issuer    string   `koanf:"issuer" json:"issuer,omitempty"`
	KeysURL   string   `koanf:"keys_url" json:"keys_url,omitempty"`
	BundleIDs []string `koanf:"bundle_ids" json:"bundle_ids,omitempty" jsonschema:"description=Accepted audiences; glob patterns allowed"`
}

// Enabled reports whether Apple sign-in is configured.
func (c AppleConfig) Enabled() bool { return len(c.BundleIDs) > 0 }

// GooglePlayGamesConfig configures Play Games server auth code exchange.
type GooglePlayGamesConfig struct {
	ClientID     string `koanf:"client_id" json:"client_id,omitempty"`
	ClientSecret string `koanf:"client_secret" json:"client_secret,omitempty"`
	TokenURL     string `koanf:"token_url" json:"token_url,omitempty"`
	APIBaseURL   string `koanf:"api_base_url" json:"api_base_url,omitempty"`
}

// Enabled reports whether Play Games sign-in is configured.
func (c GooglePlayGamesConfig) Enabled() bool { return c.ClientID != "" }

// MetricsConfig configures the observability server.
type MetricsConfig struct {
	Addr string `koanf:"addr" json:"addr" jsonschema:"description=Metrics and health listen address; empty disables"`
}

// LogConfig configures logging.
type LogConfig struct {
	Format string `koanf:"format" json:"format" jsonschema:"enum=json,enum=text"`
	Level  string `koanf:"level" json:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// ClientConfig configures the playerid client commands.
type ClientConfig struct {
	BaseURL   string `koanf:"base_url" json:"base_url"`
	PrefsPath string `koanf:"prefs_path" json:"prefs_path,omitempty" jsonschema:"description=Preference database path; defaults to the XDG data dir"`
	Timeout   string `koanf:"timeout" json:"timeout" jsonschema:"description=Request timeout (Go duration)"`
}

// defaults is flattened onto koanf before any other layer.
var defaults = map[string]any{
	"server.addr":             ":8080",
	"server.shutdown_timeout": "10s",
	"server.purge_interval":   "1h",
	"database.max_conns":      10,
	"database.ping_attempts":  5,
	"tokens.issuer":           "playerid",
	"tokens.audience":         "playerid-clients",
	"tokens.ttl":              "1h",
	"metrics.addr":            "127.0.0.1:9100",
	"log.format":              "json",
	"log.level":               "info",
	"client.base_url":         "http://localhost:8080",
	"client.timeout":          "15s",
}

// Keys lists every scalar key that can be overridden from the environment.
var Keys = []string{
	"server.addr",
	"server.min_client_version",
	"server.shutdown_timeout",
	"server.purge_interval",
	"database.url",
	"database.max_conns",
	"database.ping_attempts",
	"tokens.signing_key",
	"tokens.issuer",
	"tokens.audience",
	"tokens.ttl",
	"providers.apple.issuer",
	"providers.apple.keys_url",
	"providers.apple.bundle_ids",
	"providers.google_play_games.client_id",
	"providers.google_play_games.client_secret",
	"providers.google_play_games.token_url",
	"providers.google_play_games.api_base_url",
	"metrics.addr",
	"log.format",
	"log.level",
	"client.base_url",
	"client.prefs_path",
	"client.timeout",
}

// listKeys take comma-separated values from the environment.
var listKeys = map[string]bool{"providers.apple.bundle_ids": true}

// FlagKeys maps command-line flag names to config keys. Only flags the
// user set explicitly override lower layers.
var FlagKeys = map[string]string{
	"addr":               "server.addr",
	"min-client-version": "server.min_client_version",
	"database-url":       "database.url",
	"metrics-addr":       "metrics.addr",
	"log-format":         "log.format",
	"log-level":          "log.level",
	"server-url":         "client.base_url",
	"prefs":              "client.prefs_path",
}

// EnvName returns the environment variable that overrides key.
func EnvName(key string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Loader assembles a Config. Zero value uses os.LookupEnv.
type Loader struct {
	// Path is the YAML file. Empty skips the file layer.
	Path      string
	// Optional makes a missing file at Path acceptable.
	Optional  bool
	Flags     *pflag.FlagSet
	LookupEnv func(string) (string, bool)
}

// Load reads the layers and validates the merged result.
func (l Loader) Load() (*Config, error) {
	k := koanf.New(".")
	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("key", key).Wrap(err)
		}
	}

	if err := l.loadFile(k); err != nil {
		return nil, err
	}

	lookup := l.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	for _, key := range Keys {
		val, ok := lookup(EnvName(key))
		if !ok {
			continue
		}
		var v any = val
		if listKeys[key] {
			v = splitList(val)
		}
		if err := k.Set(key, v); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("env", EnvName(key)).Wrap(err)
		}
	}

	if l.Flags != nil {
		provider := posflag.ProviderWithFlag(l.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := FlagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(l.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("layer", "flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("layer", "unmarshal").Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (l Loader) loadFile(k *koanf.Koanf) error {
	if l.Path == "" {
		return nil
	}
	data, err := os.ReadFile(l.Path)
	if err != nil {
		if l.Optional && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return oops.Code("CONFIG_READ_FAILED").With("path", l.Path).Wrap(err)
	}
	if err := ValidateYAML(data); err != nil {
		return oops.Code("CONFIG_INVALID").With("path", l.Path).Wrap(err)
	}
	if err := k.Load(file.Provider(l.Path), yaml.Parser()); err != nil {
		return oops.Code("CONFIG_LOAD_FAILED").With("path", l.Path).Wrap(err)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks settings shared by every command.
func (c *Config) Validate() error {
	if !logging.ValidFormat(c.Log.Format) {
		return oops.Code("CONFIG_INVALID").With("key", "log.format").
			Errorf("log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return oops.Code("CONFIG_INVALID").With("key", "log.level").
			Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	for key, val := range map[string]string{
		"server.shutdown_timeout": c.Server.ShutdownTimeout,
		"server.purge_interval":   c.Server.PurgeInterval,
		"tokens.ttl":              c.Tokens.TTL,
		"client.timeout":          c.Client.Timeout,
	} {
		if _, err := parseDuration(key, val); err != nil {
			return err
		}
	}
	if c.Server.MinClientVersion != "" {
		if _, err := semver.NewVersion(c.Server.MinClientVersion); err != nil {
			return oops.Code("CONFIG_INVALID").With("key", "server.min_client_version").Wrap(err)
		}
	}
	return nil
}

// ValidateServer checks the settings the serve command needs on top of
// Validate.
func (c *Config) ValidateServer() error {
	if c.Server.Addr == "" {
		return oops.Code("CONFIG_INVALID").With("key", "server.addr").Errorf("server.addr is required")
	}
	if c.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").With("key", "database.url").
			Errorf("database.url is required (or set %s)", EnvName("database.url"))
	}
	if len(c.Tokens.SigningKey) < MinSigningKeyBytes {
		return oops.Code("CONFIG_INVALID").With("key", "tokens.signing_key").
			Errorf("tokens.signing_key must be at least %d bytes", MinSigningKeyBytes)
	}
	gpg := c.Providers.GooglePlayGames
	if gpg.Enabled() && gpg.ClientSecret == "" {
		return oops.Code("CONFIG_INVALID").With("key", "providers.google_play_games.client_secret").
			Errorf("google play games client_secret is required when client_id is set")
	}
	return nil
}

// TokenTTL returns the parsed access token lifetime.
func (c *Config) TokenTTL() time.Duration { return mustDuration(c.Tokens.TTL) }

// ShutdownTimeout returns the parsed graceful shutdown budget.
func (c *Config) ShutdownTimeout() time.Duration { return mustDuration(c.Server.ShutdownTimeout) }

// PurgeInterval returns the parsed session purge interval.
func (c *Config) PurgeInterval() time.Duration { return mustDuration(c.Server.PurgeInterval) }

// ClientTimeout returns the parsed client request timeout.
func (c *Config) ClientTimeout() time.Duration { return mustDuration(c.Client.Timeout) }

// LogLevel returns the parsed log level.
func (c *Config) LogLevel() slog.Level {
	level, _ := logging.ParseLevel(c.Log.Level) //nolint:errcheck // checked by Validate
	return level
}

func parseDuration(key, val string) (time.Duration, error) {
	if val == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, oops.Code("CONFIG_INVALID").With("key", key).Wrap(err)
	}
	if d < 0 {
		return 0, oops.Code("CONFIG_INVALID").With("key", key).Errorf("%s must not be negative", key)
	}
	return d, nil
}

// mustDuration parses a value already accepted by Validate.
func mustDuration(val string) time.Duration {
	d, _ := time.ParseDuration(val) //nolint:errcheck // checked by Validate
	return d
}
