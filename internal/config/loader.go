package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/okian/forcedeck/internal/domain/scoring"
)

// Environment variables read by Load.
const (
	EnvConfigFile = "FORCEDECK_CONFIG"
	EnvDotenvFile = "FORCEDECK_ENV_FILE"
	EnvPrefix     = "FORCEDECK_"

	defaultDotenv = ".env"
	tableIDSuffix = "_TABLE_ID"
)

// legacyEnv maps unprefixed variable names from existing .env files to keys.
var legacyEnv = map[string]string{ //nolint:gochecknoglobals // fixed lookup table
	"AUTH_URL":       "auth_url",
	"CLIENT_ID":      "client_id",
	"CLIENT_SECRET":  "client_secret",
	"TENANT_ID":      "tenant_id",
	"FORCEDECKS_URL": "forcedecks_url",
	"PROFILE_URL":    "profile_url",
	"DATABASE_URL":   "database_url",
}

// remoteFields are the fields checked by ValidateRemote.
var remoteFields = []string{ //nolint:gochecknoglobals // fixed field list
	"AuthURL", "ClientID", "ClientSecret", "ProfileURL", "ForceDecksURL", "TenantID",
}

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New(ctx))
//  2. file (YAML) if FORCEDECK_CONFIG is set
//  3. legacy unprefixed env (AUTH_URL, CLIENT_ID, ...)
//  4. env (prefix FORCEDECK_)
//  5. <PIPELINE>_TABLE_ID overrides the pipeline's table
//
// A .env file (FORCEDECK_ENV_FILE, default ".env") is read first; variables
// already in the environment win over it. A pipeline defined in the file
// replaces the built-in definition of the same name.
func Load(ctx context.Context) (*Config, error) {
	if err := loadDotenv(); err != nil {
		return nil, err
	}

	base := New(ctx)
	k := koanf.New(".")

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	legacy := env.Provider("", ".", func(s string) string {
		return legacyEnv[s]
	})
	if err := k.Load(legacy, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	// Map env keys like FORCEDECK_BATCH_PAUSE_MS -> batch_pause_ms (flat keys).
	prefixed := env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.ToLower(s)
		return strings.TrimPrefix(s, strings.ToLower(EnvPrefix))
	})
	if err := k.Load(prefixed, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	cfg := *base
	cfg.Pipelines = nil
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}
	if cfg.Pipelines == nil {
		cfg.Pipelines = make(map[string]Pipeline, len(base.Pipelines))
	}
	for name, p := range base.Pipelines {
		if _, ok := cfg.Pipelines[name]; !ok {
			cfg.Pipelines[name] = p
		}
	}
	for name, p := range cfg.Pipelines {
		if t := os.Getenv(strings.ToUpper(name) + tableIDSuffix); t != "" {
			p.Table = t
			cfg.Pipelines[name] = p
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadDotenv() error {
	path := os.Getenv(EnvDotenvFile)
	if path == "" {
		path = defaultDotenv
	}
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
}

// Validate checks everything except the remote credentials and endpoints.
func (c *Config) Validate() error {
	if err := validator.New().StructExcept(c, remoteFields...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// ValidateRemote checks the credentials and endpoints needed to reach the API.
func (c *Config) ValidateRemote() error {
	if err := validator.New().StructPartial(c, remoteFields...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// LoadStats reads population statistics from a YAML file of the form
//
//	mean: {METRIC: 1.0}
//	std:  {METRIC: 0.5}
func LoadStats(path string) (scoring.Stats, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return scoring.Stats{}, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}
	var s scoring.Stats
	if err := yamlv3.Unmarshal(raw, &s); err != nil {
		return scoring.Stats{}, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
	}
	if err := validator.New().Struct(s); err != nil {
		return scoring.Stats{}, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, path, err)
	}
	return s, nil
}
