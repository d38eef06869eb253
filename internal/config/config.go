// Package config loads the service configuration: built-in defaults, then an
// optional YAML file, then SAFEFRAME_* environment variables, then validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/chatabc/open-safe-frame/internal/engine"
	"github.com/chatabc/open-safe-frame/internal/registry"
)

const envPrefix = "SAFEFRAME_"

// Backend providers.
const (
	ProviderNone      = "none"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
	ProviderGRPC      = "grpc"
)

type Config struct {
	GRPCPort string `yaml:"grpc_port" validate:"required,numeric"`
	HTTPPort string `yaml:"http_port" validate:"required,numeric"`
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`

	DatabaseURL   string `yaml:"database_url"`
	ClickHouseDSN string `yaml:"clickhouse_dsn"`

	// Single-tenant auth, used when no database_url is set.
	StaticAPIKey   string `yaml:"static_api_key" validate:"omitempty,startswith=sfk_"`
	StaticTenantID string `yaml:"static_tenant_id"`
	Mode           string `yaml:"mode" validate:"oneof=enforce shadow"`
	FailOpen       bool   `yaml:"fail_open"`

	// OverrideSecretHash is a bcrypt hash of the override secret. OverrideSecret
	// is the plaintext alternative; it is hashed at startup and wiped.
	OverrideSecretHash string `yaml:"override_secret_hash" validate:"omitempty,startswith=$2"`
	OverrideSecret     string `yaml:"override_secret"`

	Backend BackendConfig `yaml:"backend"`

	AssessTimeout    time.Duration `yaml:"assess_timeout" validate:"gt=0"`
	AuthCacheTTL     time.Duration `yaml:"auth_cache_ttl" validate:"gte=0"`
	RegistryCacheTTL time.Duration `yaml:"registry_cache_ttl" validate:"gte=0"`
	SessionIdleTTL   time.Duration `yaml:"session_idle_ttl" validate:"gte=0"`
	HistoryLimit     int           `yaml:"history_limit" validate:"gte=0"`
	AuditBufferSize  int           `yaml:"audit_buffer_size" validate:"gte=0"`

	ToolProfiles []ToolProfileConfig `yaml:"tool_profiles" validate:"dive"`
}

type BackendConfig struct {
	Provider      string        `yaml:"provider" validate:"oneof=none openai anthropic ollama grpc"`
	Model         string        `yaml:"model"`
	BaseURL       string        `yaml:"base_url" validate:"omitempty,url"`
	APIKey        string        `yaml:"api_key"`
	Address       string        `yaml:"address" validate:"required_if=Provider grpc"`
	Timeout       time.Duration `yaml:"timeout" validate:"gt=0"`
	CacheTTL      time.Duration `yaml:"cache_ttl" validate:"gte=0"`
	CacheDir      string        `yaml:"cache_dir"`
	RatePerSecond float64       `yaml:"rate_per_second" validate:"gte=0"`
	Burst         int           `yaml:"burst" validate:"gte=0"`
	HistoryWindow int           `yaml:"history_window" validate:"gte=0"`
	// Expose serves the configured backend as AnalysisService on the gRPC port.
	Expose bool `yaml:"expose"`
}

// ToolProfileConfig declares families for a custom tool name.
type ToolProfileConfig struct {
	ToolName        string   `yaml:"tool_name" validate:"required"`
	Families        []string `yaml:"families" validate:"dive,oneof=delete email file purchase network shell read web"`
	Description     string   `yaml:"description"`
	RequiresConfirm bool     `yaml:"requires_confirm"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		GRPCPort:         "50051",
		HTTPPort:         "8080",
		LogLevel:         "info",
		StaticTenantID:   "default",
		Mode:             "enforce",
		FailOpen:         true,
		AssessTimeout:    engine.DefaultAssessTimeout,
		AuthCacheTTL:     30 * time.Second,
		RegistryCacheTTL: 60 * time.Second,
		SessionIdleTTL:   2 * time.Hour,
		HistoryLimit:     200,
		AuditBufferSize:  1000,
		Backend: BackendConfig{
			Provider:      ProviderNone,
			Timeout:       5 * time.Second,
			CacheTTL:      60 * time.Second,
			HistoryWindow: 10,
		},
	}
}

// Load builds the configuration. path may be empty.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints and returns every violation at once.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// Profiles converts the configured tool profiles.
func (c *Config) Profiles() []registry.ToolProfile {
	out := make([]registry.ToolProfile, 0, len(c.ToolProfiles))
	for _, p := range c.ToolProfiles {
		families := make([]engine.Family, 0, len(p.Families))
		for _, f := range p.Families {
			families = append(families, engine.Family(f))
		}
		out = append(out, registry.ToolProfile{
			ToolName:        p.ToolName,
			Families:        families,
			Description:     p.Description,
			RequiresConfirm: p.RequiresConfirm,
		})
	}
	return out
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"GRPC_PORT":            &c.GRPCPort,
		"HTTP_PORT":            &c.HTTPPort,
		"LOG_LEVEL":            &c.LogLevel,
		"DATABASE_URL":         &c.DatabaseURL,
		"CLICKHOUSE_DSN":       &c.ClickHouseDSN,
		"STATIC_API_KEY":       &c.StaticAPIKey,
		"STATIC_TENANT_ID":     &c.StaticTenantID,
		"MODE":                 &c.Mode,
		"OVERRIDE_SECRET_HASH": &c.OverrideSecretHash,
		"OVERRIDE_SECRET":      &c.OverrideSecret,
		"BACKEND_PROVIDER":     &c.Backend.Provider,
		"BACKEND_MODEL":        &c.Backend.Model,
		"BACKEND_BASE_URL":     &c.Backend.BaseURL,
		"BACKEND_API_KEY":      &c.Backend.APIKey,
		"BACKEND_ADDRESS":      &c.Backend.Address,
		"BACKEND_CACHE_DIR":    &c.Backend.CacheDir,
	}
	for name, dst := range strs {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"ASSESS_TIMEOUT":     &c.AssessTimeout,
		"AUTH_CACHE_TTL":     &c.AuthCacheTTL,
		"REGISTRY_CACHE_TTL": &c.RegistryCacheTTL,
		"SESSION_IDLE_TTL":   &c.SessionIdleTTL,
		"BACKEND_TIMEOUT":    &c.Backend.Timeout,
		"BACKEND_CACHE_TTL":  &c.Backend.CacheTTL,
	}
	for name, dst := range durations {
		v, ok := os.LookupEnv(envPrefix + name)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, name, err)
		}
		*dst = d
	}

	ints := map[string]*int{
		"HISTORY_LIMIT":          &c.HistoryLimit,
		"AUDIT_BUFFER_SIZE":      &c.AuditBufferSize,
		"BACKEND_BURST":          &c.Backend.Burst,
		"BACKEND_HISTORY_WINDOW": &c.Backend.HistoryWindow,
	}
	for name, dst := range ints {
		v, ok := os.LookupEnv(envPrefix + name)
		if !ok {
			continue
		}
		i, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, name, err)
		}
		*dst = i
	}

	if v, ok := os.LookupEnv(envPrefix + "FAIL_OPEN"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sFAIL_OPEN: %w", envPrefix, err)
		}
		c.FailOpen = b
	}
	if v, ok := os.LookupEnv(envPrefix + "BACKEND_RATE_PER_SECOND"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%sBACKEND_RATE_PER_SECOND: %w", envPrefix, err)
		}
		c.Backend.RatePerSecond = f
	}
	return nil
}
